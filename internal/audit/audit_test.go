package audit

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"stakingLedger/internal/clock"
	"stakingLedger/internal/custody"
	"stakingLedger/internal/ledger"
	"stakingLedger/internal/model"
	"stakingLedger/internal/storage"
)

var (
	admin = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	token = common.HexToAddress("0x00000000000000000000000000000000000000a5")
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")
)

func setup(t *testing.T) (*ledger.Engine, storage.Store, string, model.Pool) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	store := storage.NewMemoryStore()
	bank := custody.NewBank(nil)
	engine := ledger.NewEngine(ledger.Config{AllowClose: true}, store, bank, clock.Fixed(1_000), storage.NewJsonlJournal(path), nil)

	if err := store.Update(ctx, func(tx storage.Tx) error {
		return bank.Credit(ctx, tx, alice, 1_000)
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	pool, err := engine.Initialize(ctx, admin, token, 5)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := engine.Stake(ctx, pool.ID, alice, 600); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, err := engine.Unstake(ctx, pool.ID, alice, 200); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	return engine, store, path, pool
}

func TestAuditCleanJournal(t *testing.T) {
	engine, store, path, pool := setup(t)
	state := &FileStateStore{Path: filepath.Join(t.TempDir(), "audit.json")}

	report, err := NewAuditor(Config{StateStore: state}, store, engine, nil).Run(context.Background(), path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.OK() {
		t.Fatalf("unexpected findings: %+v", report.Findings)
	}
	if report.Events != 3 || report.LastSeq != 3 {
		t.Fatalf("unexpected report: events=%d last=%d", report.Events, report.LastSeq)
	}
	if len(report.Pools) != 1 || report.Pools[0].Pool != pool.ID || report.Pools[0].TotalStaked != 400 {
		t.Fatalf("unexpected pools: %+v", report.Pools)
	}

	saved, ok, err := state.Load(context.Background())
	if err != nil || !ok || saved != 3 {
		t.Fatalf("state not saved: %d %v %v", saved, ok, err)
	}

	again, err := NewAuditor(Config{StateStore: state}, store, engine, nil).Run(context.Background(), path)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if again.Events != 0 || again.Skipped != 3 {
		t.Fatalf("expected all events skipped, got events=%d skipped=%d", again.Events, again.Skipped)
	}
}

func TestAuditDetectsDivergence(t *testing.T) {
	engine, store, path, pool := setup(t)
	journal := storage.NewJsonlJournal(path)
	if err := journal.PutEventBatch([]model.LedgerEvent{
		{Seq: 4, Kind: model.EventStake, Pool: pool.ID, User: alice, Amount: 50, TotalStaked: 450},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	report, err := NewAuditor(Config{}, store, engine, nil).Run(context.Background(), path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.OK() {
		t.Fatalf("expected a finding for store/journal divergence")
	}
}

func TestAuditDetectsBadPayoutAndGap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	pool := common.HexToHash("0x01")
	if err := storage.NewJsonlJournal(path).PutEventBatch([]model.LedgerEvent{
		{Seq: 1, Kind: model.EventInitialize, Pool: pool},
		{Seq: 2, Kind: model.EventStake, Pool: pool, User: alice, Amount: 10, TotalStaked: 10},
		{Seq: 4, Kind: model.EventUnstake, Pool: pool, User: alice, Amount: 10, Reward: 1, Payout: 10},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	report, err := NewAuditor(Config{}, nil, nil, nil).Run(context.Background(), path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Findings) != 2 {
		t.Fatalf("expected gap and payout findings, got %+v", report.Findings)
	}
}

func TestAuditFromSeq(t *testing.T) {
	_, store, path, _ := setup(t)
	report, err := NewAuditor(Config{FromSeq: 3}, store, nil, nil).Run(context.Background(), path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Events != 1 || report.Skipped != 2 || !report.OK() {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestAccumulatorRejectsCloseWithStake(t *testing.T) {
	acc := NewAccumulator(common.HexToHash("0x02"))
	if err := acc.Apply(model.LedgerEvent{Seq: 1, Kind: model.EventInitialize}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := acc.Apply(model.LedgerEvent{Seq: 2, Kind: model.EventStake, User: alice, Amount: 5, TotalStaked: 5}); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := acc.Apply(model.LedgerEvent{Seq: 3, Kind: model.EventClose}); err == nil {
		t.Fatalf("expected close with stake to fail")
	}
	if acc.Sum() != 5 {
		t.Fatalf("unexpected sum %d", acc.Sum())
	}
}

func TestAuditAfterConcurrentStakes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	store := storage.NewMemoryStore()
	bank := custody.NewBank(nil)
	engine := ledger.NewEngine(ledger.Config{}, store, bank, clock.Fixed(1_000), storage.NewJsonlJournal(path), nil)

	pool, err := engine.Initialize(ctx, admin, token, 5)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	const (
		workers = 32
		rounds  = 10
	)
	stakers := make([]common.Address, workers)
	for i := range stakers {
		stakers[i] = common.BytesToAddress([]byte{0x5a, byte(i + 1)})
		user := stakers[i]
		if err := store.Update(ctx, func(tx storage.Tx) error {
			return bank.Credit(ctx, tx, user, rounds)
		}); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers*rounds)
	for _, user := range stakers {
		wg.Add(1)
		go func(user common.Address) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if _, err := engine.Stake(ctx, pool.ID, user, 1); err != nil {
					errs <- err
				}
			}
		}(user)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("stake: %v", err)
	}

	report, err := NewAuditor(Config{}, store, engine, nil).Run(ctx, path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.OK() {
		t.Fatalf("unexpected findings (%d): %+v", len(report.Findings), report.Findings[0])
	}
	if report.Events != 1+workers*rounds || report.LastSeq != 1+workers*rounds {
		t.Fatalf("unexpected report: events=%d last=%d", report.Events, report.LastSeq)
	}
	if got := report.Pools[0].TotalStaked; got != workers*rounds {
		t.Fatalf("expected %d staked, got %d", workers*rounds, got)
	}
}

func TestAuditReplaysBySequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	pool := common.HexToHash("0x03")
	bob := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	if err := storage.NewJsonlJournal(path).PutEventBatch([]model.LedgerEvent{
		{Seq: 1, Kind: model.EventInitialize, Pool: pool},
		{Seq: 3, Kind: model.EventStake, Pool: pool, User: bob, Amount: 5, TotalStaked: 15},
		{Seq: 2, Kind: model.EventStake, Pool: pool, User: alice, Amount: 10, TotalStaked: 10},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	report, err := NewAuditor(Config{}, nil, nil, nil).Run(context.Background(), path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.OK() || report.LastSeq != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestAuditDetectsDuplicateSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	pool := common.HexToHash("0x04")
	if err := storage.NewJsonlJournal(path).PutEventBatch([]model.LedgerEvent{
		{Seq: 1, Kind: model.EventInitialize, Pool: pool},
		{Seq: 2, Kind: model.EventFund, Pool: pool, User: alice, Amount: 10},
		{Seq: 2, Kind: model.EventFund, Pool: pool, User: alice, Amount: 10},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	report, err := NewAuditor(Config{}, nil, nil, nil).Run(context.Background(), path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Findings) != 1 || report.Findings[0].Message != "duplicate sequence" {
		t.Fatalf("expected one duplicate finding, got %+v", report.Findings)
	}
}

func TestPayoutOverflowIsReported(t *testing.T) {
	// amount + reward wraps to the payout below.
	event := model.LedgerEvent{
		Seq:    3,
		Kind:   model.EventUnstake,
		User:   alice,
		Amount: 10,
		Reward: math.MaxUint64,
		Payout: 9,
	}
	if err := checkPayout(event); err == nil {
		t.Fatalf("expected wrapped payout to be rejected")
	}

	acc := NewAccumulator(common.HexToHash("0x05"))
	for _, e := range []model.LedgerEvent{
		{Seq: 1, Kind: model.EventInitialize},
		{Seq: 2, Kind: model.EventStake, User: alice, Amount: 10, TotalStaked: 10},
	} {
		if err := acc.Apply(e); err != nil {
			t.Fatalf("apply %d: %v", e.Seq, err)
		}
	}
	if err := acc.Apply(event); err == nil {
		t.Fatalf("expected accumulator to reject wrapped payout")
	}

	path := filepath.Join(t.TempDir(), "journal.jsonl")
	if err := storage.NewJsonlJournal(path).PutEventBatch([]model.LedgerEvent{event}); err != nil {
		t.Fatalf("append: %v", err)
	}
	report, err := NewAuditor(Config{FromSeq: 3}, nil, nil, nil).Run(context.Background(), path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Findings) != 1 {
		t.Fatalf("expected payout finding on partial replay, got %+v", report.Findings)
	}
}
