package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"stakingLedger/internal/model"
)

var (
	testPool = common.HexToHash("0xaa")
	userA    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	userB    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestMemoryStoreCommit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.Update(ctx, func(tx Tx) error {
		if err := tx.PutPool(ctx, model.Pool{ID: testPool, TotalStaked: 800}); err != nil {
			return err
		}
		if err := tx.PutPosition(ctx, model.UserPosition{Pool: testPool, User: userB, Amount: 300}); err != nil {
			return err
		}
		return tx.PutPosition(ctx, model.UserPosition{Pool: testPool, User: userA, Amount: 500})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.View(ctx, func(tx Tx) error {
		pool, ok, err := tx.GetPool(ctx, testPool)
		if err != nil || !ok {
			t.Fatalf("get pool: ok=%v err=%v", ok, err)
		}
		if pool.TotalStaked != 800 {
			t.Fatalf("total mismatch: %d", pool.TotalStaked)
		}
		positions, err := tx.Positions(ctx, testPool)
		if err != nil {
			t.Fatalf("positions: %v", err)
		}
		if len(positions) != 2 || positions[0].User != userA || positions[1].User != userB {
			t.Fatalf("positions mismatch: %+v", positions)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestMemoryStoreRollback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	boom := errors.New("boom")

	err := store.Update(ctx, func(tx Tx) error {
		if err := tx.PutPool(ctx, model.Pool{ID: testPool}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = store.View(ctx, func(tx Tx) error {
		if _, ok, _ := tx.GetPool(ctx, testPool); ok {
			t.Fatalf("pool should not be committed")
		}
		return nil
	})
}

func TestMemoryStoreStagedReadsAndDeletes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Update(ctx, func(tx Tx) error {
		return tx.PutPosition(ctx, model.UserPosition{Pool: testPool, User: userA, Amount: 1})
	})

	err := store.Update(ctx, func(tx Tx) error {
		if err := tx.PutPosition(ctx, model.UserPosition{Pool: testPool, User: userB, Amount: 2}); err != nil {
			return err
		}
		positions, err := tx.Positions(ctx, testPool)
		if err != nil {
			return err
		}
		if len(positions) != 2 {
			t.Fatalf("staged position not visible: %+v", positions)
		}
		if err := tx.PutPool(ctx, model.Pool{ID: testPool}); err != nil {
			return err
		}
		if err := tx.DeletePool(ctx, testPool); err != nil {
			return err
		}
		if _, ok, _ := tx.GetPool(ctx, testPool); ok {
			t.Fatalf("deleted pool still visible")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestMemoryStoreViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	err := store.View(ctx, func(tx Tx) error {
		return tx.PutAccount(ctx, model.Account{Address: userA, Balance: 1})
	})
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestNextSeqCommitsWithTransaction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	errAbort := errors.New("abort")

	next := func(fail bool) (uint64, error) {
		var seq uint64
		err := store.Update(ctx, func(tx Tx) error {
			var err error
			if seq, err = tx.NextSeq(ctx); err != nil {
				return err
			}
			if fail {
				return errAbort
			}
			return nil
		})
		return seq, err
	}

	if seq, err := next(false); err != nil || seq != 1 {
		t.Fatalf("first seq: %d %v", seq, err)
	}
	if _, err := next(true); !errors.Is(err, errAbort) {
		t.Fatalf("expected abort, got %v", err)
	}
	if seq, err := next(false); err != nil || seq != 2 {
		t.Fatalf("rolled back allocation leaked: %d %v", seq, err)
	}

	err := store.View(ctx, func(tx Tx) error {
		if _, err := tx.NextSeq(ctx); !errors.Is(err, ErrReadOnly) {
			t.Fatalf("expected read-only error, got %v", err)
		}
		seq, err := tx.JournalSeq(ctx)
		if err != nil || seq != 2 {
			t.Fatalf("journal seq: %d %v", seq, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
