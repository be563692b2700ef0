package postgres

import (
	"context"
	"crypto/rand"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"stakingLedger/internal/clock"
	"stakingLedger/internal/custody"
	"stakingLedger/internal/ledger"
	"stakingLedger/internal/storage"
)

// testDSNEnv names a scratch database for the integration tests below.
const testDSNEnv = "STAKING_TEST_PG_DSN"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDSNEnv)
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return store
}

// randomAddress keeps runs against a shared database from colliding.
func randomAddress(t *testing.T) common.Address {
	t.Helper()
	var b [common.AddressLength]byte
	if _, err := rand.Read(b[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return common.BytesToAddress(b[:])
}

func newTestEngine(store storage.Store, bank *custody.Bank) *ledger.Engine {
	return ledger.NewEngine(ledger.Config{AllowClose: true}, store, bank, clock.Fixed(1_700_000_000), nil, nil)
}

func creditWallet(t *testing.T, store *Store, bank *custody.Bank, to common.Address, amount uint64) {
	t.Helper()
	ctx := context.Background()
	if err := store.Update(ctx, func(tx storage.Tx) error {
		return bank.Credit(ctx, tx, to, amount)
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}
}

func TestConcurrentStakesAcrossConnections(t *testing.T) {
	ctx := context.Background()
	first := openTestStore(t)
	second := openTestStore(t)
	bank := custody.NewBank(nil)
	engines := []*ledger.Engine{newTestEngine(first, bank), newTestEngine(second, bank)}

	admin, token := randomAddress(t), randomAddress(t)
	pool, err := engines[0].Initialize(ctx, admin, token, 5)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	const (
		workers = 8
		rounds  = 5
	)
	users := make([]common.Address, workers)
	for i := range users {
		users[i] = randomAddress(t)
		creditWallet(t, first, bank, users[i], rounds*10)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs = make(map[uint64]bool)
	)
	for i, user := range users {
		wg.Add(1)
		go func(engine *ledger.Engine, user common.Address) {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				receipt, err := engine.Stake(ctx, pool.ID, user, 10)
				if err != nil {
					t.Errorf("stake: %v", err)
					return
				}
				mu.Lock()
				if seqs[receipt.Seq] {
					t.Errorf("seq %d allocated twice", receipt.Seq)
				}
				seqs[receipt.Seq] = true
				mu.Unlock()
			}
		}(engines[i%len(engines)], user)
	}
	wg.Wait()

	got, err := engines[1].Pool(ctx, pool.ID)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if got.TotalStaked != workers*rounds*10 {
		t.Fatalf("lost update: total_staked %d, want %d", got.TotalStaked, workers*rounds*10)
	}
	if err := engines[1].CheckInvariants(ctx, pool.ID); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	if len(seqs) != workers*rounds {
		t.Fatalf("expected %d distinct seqs, got %d", workers*rounds, len(seqs))
	}
}

func TestCustodyFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	bank := custody.NewBank(nil)
	engine := newTestEngine(store, bank)

	pool, err := engine.Initialize(ctx, randomAddress(t), randomAddress(t), 5)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	user := randomAddress(t)
	creditWallet(t, store, bank, user, 30)
	if _, err := engine.Stake(ctx, pool.ID, user, 20); err != nil {
		t.Fatalf("stake: %v", err)
	}

	// The wallet holds 10, so the deposit fails after position and pool
	// rows were written inside the transaction.
	if _, err := engine.Stake(ctx, pool.ID, user, 25); err == nil {
		t.Fatalf("expected stake beyond wallet balance to fail")
	}

	got, err := engine.Pool(ctx, pool.ID)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if got.TotalStaked != 20 {
		t.Fatalf("pool not rolled back: %d", got.TotalStaked)
	}
	pos, ok, err := engine.Position(ctx, pool.ID, user)
	if err != nil || !ok || pos.Amount != 20 {
		t.Fatalf("position not rolled back: %+v ok=%v err=%v", pos, ok, err)
	}
	if err := store.View(ctx, func(tx storage.Tx) error {
		balance, err := bank.WalletBalance(ctx, tx, user)
		if err != nil {
			return err
		}
		if balance != 10 {
			t.Fatalf("wallet changed: %d", balance)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestCloseThenReinitialize(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	bank := custody.NewBank(nil)
	engine := newTestEngine(store, bank)

	admin, token := randomAddress(t), randomAddress(t)
	pool, err := engine.Initialize(ctx, admin, token, 5)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := engine.Initialize(ctx, admin, token, 5); !errors.Is(err, ledger.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	creditWallet(t, store, bank, admin, 100)
	if _, err := engine.FundRewards(ctx, pool.ID, admin, 100); err != nil {
		t.Fatalf("fund: %v", err)
	}

	receipt, err := engine.Close(ctx, pool.ID, admin)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if receipt.Payout != 100 {
		t.Fatalf("expected residual 100, got %d", receipt.Payout)
	}
	if _, err := engine.Pool(ctx, pool.ID); !errors.Is(err, ledger.ErrPoolNotFound) {
		t.Fatalf("expected deleted pool, got %v", err)
	}

	again, err := engine.Initialize(ctx, admin, token, 7)
	if err != nil {
		t.Fatalf("reinitialize: %v", err)
	}
	if again.ID != pool.ID || again.TotalStaked != 0 || again.AnnualRatePercent != 7 {
		t.Fatalf("unexpected pool after reinitialize: %+v", again)
	}
	if err := store.View(ctx, func(tx storage.Tx) error {
		balance, err := bank.Balance(ctx, tx, again.Vault)
		if err != nil {
			return err
		}
		if balance != 0 {
			t.Fatalf("reopened vault holds %d", balance)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}
