package storage

import (
	"path/filepath"
	"testing"

	"stakingLedger/internal/model"
)

func TestJsonlJournalAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.jsonl")
	journal := NewJsonlJournal(path)

	if err := journal.PutEventBatch([]model.LedgerEvent{
		{Seq: 1, Kind: model.EventInitialize, Pool: testPool},
		{Seq: 2, Kind: model.EventStake, Pool: testPool, User: userA, Amount: 500, TotalStaked: 500},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := journal.PutEventBatch([]model.LedgerEvent{
		{Seq: 3, Kind: model.EventUnstake, Pool: testPool, User: userA, Amount: 500, Payout: 500},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	var seqs []uint64
	if err := ReadJournal(path, func(e model.LedgerEvent) error {
		seqs = append(seqs, e.Seq)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[2] != 3 {
		t.Fatalf("unexpected events: %v", seqs)
	}
}

func TestLastSeq(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	seq, err := LastSeq(path)
	if err != nil {
		t.Fatalf("missing journal: %v", err)
	}
	if seq != 0 {
		t.Fatalf("expected 0 for missing journal, got %d", seq)
	}

	journal := NewJsonlJournal(path)
	if err := journal.PutEventBatch([]model.LedgerEvent{{Seq: 4}, {Seq: 9}, {Seq: 7}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	seq, err = LastSeq(path)
	if err != nil {
		t.Fatalf("last seq: %v", err)
	}
	if seq != 9 {
		t.Fatalf("expected 9, got %d", seq)
	}
}
