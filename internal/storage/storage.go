package storage

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"stakingLedger/internal/model"
)

// ErrReadOnly is returned by writes attempted inside View.
var ErrReadOnly = errors.New("read-only transaction")

// Store persists pools, positions and custody accounts.
//
// Update runs fn inside a transaction: every write made through tx commits
// together, or none does when fn returns an error. Implementations serialize
// Update calls that touch the same pool.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Accounts is the part of a transaction the custody bank needs.
type Accounts interface {
	GetAccount(ctx context.Context, address common.Address) (model.Account, bool, error)
	PutAccount(ctx context.Context, account model.Account) error
	DeleteAccount(ctx context.Context, address common.Address) error
}

// Tx gives keyed access to ledger records within one transaction.
type Tx interface {
	Accounts

	GetPool(ctx context.Context, id model.PoolID) (model.Pool, bool, error)
	PutPool(ctx context.Context, pool model.Pool) error
	DeletePool(ctx context.Context, id model.PoolID) error

	GetPosition(ctx context.Context, pool model.PoolID, user common.Address) (model.UserPosition, bool, error)
	PutPosition(ctx context.Context, position model.UserPosition) error
	// Positions lists every position of a pool ordered by user address.
	Positions(ctx context.Context, pool model.PoolID) ([]model.UserPosition, error)

	// NextSeq allocates the next journal sequence number. The allocation
	// commits or rolls back with the transaction, so numbers follow commit
	// order and a failed operation leaves no hole.
	NextSeq(ctx context.Context) (uint64, error)
	// JournalSeq is the last allocated sequence number, 0 before the first.
	JournalSeq(ctx context.Context) (uint64, error)
}

// EventSink receives committed ledger events.
type EventSink interface {
	PutEventBatch(events []model.LedgerEvent) error
}
