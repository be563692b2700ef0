// Package audit replays the ledger journal and cross-checks it against the
// store.
package audit

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"stakingLedger/internal/model"
	"stakingLedger/internal/storage"
)

// Config controls a single audit run.
type Config struct {
	// FromSeq, when > 0, replays events with seq >= FromSeq and ignores the
	// saved state.
	FromSeq    uint64
	StateStore StateStore
}

// InvariantChecker verifies a pool against its vault. *ledger.Engine
// implements it.
type InvariantChecker interface {
	CheckInvariants(ctx context.Context, poolID model.PoolID) error
}

// Finding is one inconsistency.
type Finding struct {
	Seq     uint64
	Pool    model.PoolID
	Message string
}

// Report summarizes an audit run.
type Report struct {
	Events   int
	Skipped  int
	LastSeq  uint64
	Pools    []*Accumulator
	Findings []Finding
}

func (r *Report) OK() bool {
	return len(r.Findings) == 0
}

// Auditor replays the journal into per-pool accumulators.
type Auditor struct {
	cfg     Config
	store   storage.Store
	checker InvariantChecker
	logger  *zap.Logger
}

func NewAuditor(cfg Config, store storage.Store, checker InvariantChecker, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{cfg: cfg, store: store, checker: checker, logger: logger}
}

// Run audits the journal at path. Store comparisons are only made when the
// replay starts from the beginning of the journal, since a partial replay
// does not know earlier balances.
func (a *Auditor) Run(ctx context.Context, path string) (*Report, error) {
	start, err := a.loadStart(ctx)
	if err != nil {
		return nil, err
	}

	var events []model.LedgerEvent
	err = storage.ReadJournal(path, func(event model.LedgerEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		events = append(events, event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Writers append after their commit, so file order can differ from
	// commit order. Sequence numbers are allocated inside the commit.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Seq < events[j].Seq
	})

	report := &Report{LastSeq: start}
	pools := make(map[model.PoolID]*Accumulator)
	expected := start + 1

	for _, event := range events {
		if event.Seq <= start {
			report.Skipped++
			continue
		}
		switch {
		case event.Seq < expected:
			report.Findings = append(report.Findings, Finding{
				Seq:     event.Seq,
				Pool:    event.Pool,
				Message: "duplicate sequence",
			})
		case event.Seq > expected:
			report.Findings = append(report.Findings, Finding{
				Seq:     event.Seq,
				Pool:    event.Pool,
				Message: fmt.Sprintf("sequence gap: expected %d", expected),
			})
		}
		expected = event.Seq + 1
		report.Events++
		report.LastSeq = event.Seq

		acc := pools[event.Pool]
		if acc == nil {
			acc = NewAccumulator(event.Pool)
			pools[event.Pool] = acc
		}
		if start > 0 {
			// Balances before start are unknown; only payout arithmetic
			// can be checked.
			if event.Kind == model.EventUnstake {
				if err := checkPayout(event); err != nil {
					report.Findings = append(report.Findings, Finding{Seq: event.Seq, Pool: event.Pool, Message: err.Error()})
				}
			}
			acc.Events++
			acc.LastSeq = event.Seq
			continue
		}
		if err := acc.Apply(event); err != nil {
			report.Findings = append(report.Findings, Finding{Seq: event.Seq, Pool: event.Pool, Message: err.Error()})
			a.logger.Warn("journal inconsistency", zap.Uint64("seq", event.Seq), zap.String("pool", event.Pool.Hex()), zap.Error(err))
		}
	}

	for _, acc := range pools {
		report.Pools = append(report.Pools, acc)
	}
	sort.Slice(report.Pools, func(i, j int) bool {
		return report.Pools[i].LastSeq < report.Pools[j].LastSeq
	})

	if start == 0 {
		if err := a.compare(ctx, report); err != nil {
			return nil, err
		}
	}

	if a.cfg.StateStore != nil && a.cfg.FromSeq == 0 {
		if err := a.cfg.StateStore.Save(ctx, report.LastSeq); err != nil {
			return nil, err
		}
	}

	a.logger.Info("audit complete",
		zap.Int("events", report.Events),
		zap.Int("skipped", report.Skipped),
		zap.Int("pools", len(report.Pools)),
		zap.Int("findings", len(report.Findings)),
		zap.Uint64("last_seq", report.LastSeq),
	)
	return report, nil
}

func (a *Auditor) compare(ctx context.Context, report *Report) error {
	for _, acc := range report.Pools {
		if sum := acc.Sum(); sum != acc.TotalStaked {
			report.Findings = append(report.Findings, Finding{
				Seq:     acc.LastSeq,
				Pool:    acc.Pool,
				Message: fmt.Sprintf("journal total_staked %d, per-user stakes %d", acc.TotalStaked, sum),
			})
		}
		if a.store == nil {
			continue
		}

		var (
			pool   model.Pool
			exists bool
		)
		err := a.store.View(ctx, func(tx storage.Tx) error {
			var err error
			pool, exists, err = tx.GetPool(ctx, acc.Pool)
			return err
		})
		if err != nil {
			return fmt.Errorf("load pool %s: %w", acc.Pool.Hex(), err)
		}

		switch {
		case exists != acc.Open:
			report.Findings = append(report.Findings, Finding{
				Seq:     acc.LastSeq,
				Pool:    acc.Pool,
				Message: fmt.Sprintf("store has pool=%t, journal open=%t", exists, acc.Open),
			})
		case exists && pool.TotalStaked != acc.TotalStaked:
			report.Findings = append(report.Findings, Finding{
				Seq:     acc.LastSeq,
				Pool:    acc.Pool,
				Message: fmt.Sprintf("store total_staked %d, journal %d", pool.TotalStaked, acc.TotalStaked),
			})
		}

		if exists && a.checker != nil {
			if err := a.checker.CheckInvariants(ctx, acc.Pool); err != nil {
				report.Findings = append(report.Findings, Finding{Seq: acc.LastSeq, Pool: acc.Pool, Message: err.Error()})
			}
		}
	}
	return nil
}

func (a *Auditor) loadStart(ctx context.Context) (uint64, error) {
	if a.cfg.FromSeq > 0 {
		return a.cfg.FromSeq - 1, nil
	}
	if a.cfg.StateStore == nil {
		return 0, nil
	}
	last, ok, err := a.cfg.StateStore.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last, nil
}
