// Package leveldb stores ledger records in an embedded LevelDB database.
package leveldb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"stakingLedger/internal/storage"
)

var (
	writeOpt = opt.WriteOptions{Sync: true}
	readOpt  = opt.ReadOptions{}
	scanOpt  = opt.ReadOptions{DontFillCache: true}
)

// Store implements storage.Store on LevelDB. Transactions are staged in
// memory and flushed as a single batch.
type Store struct {
	mu sync.RWMutex
	db *leveldb.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("leveldb path is required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := storage.NewKVTx(reader{db: s.db}, true)
	if err := fn(tx); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	if err := tx.Pending(func(key, value []byte) error {
		if value == nil {
			batch.Delete(key)
		} else {
			batch.Put(key, value)
		}
		return nil
	}); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := s.db.Write(batch, &writeOpt); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(storage.NewKVTx(reader{db: s.db}, false))
}

type reader struct {
	db *leveldb.DB
}

func (r reader) Get(key []byte) ([]byte, bool, error) {
	val, err := r.db.Get(key, &readOpt)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

func (r reader) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	it := r.db.NewIterator(util.BytesPrefix(prefix), &scanOpt)
	defer it.Release()
	for it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}
