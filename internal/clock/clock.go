// Package clock provides the time sources the ledger can run on. Every
// source reports unix seconds.
package clock

import (
	"context"
	"time"
)

// System reads the local wall clock.
type System struct{}

func (System) Now(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return time.Now().Unix(), nil
}

// Fixed always reports the same instant. The CLI uses it for --at.
type Fixed int64

func (f Fixed) Now(context.Context) (int64, error) {
	return int64(f), nil
}
