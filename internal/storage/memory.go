package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory. Update calls are serialized.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := NewKVTx(memoryReader{s.data}, true)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Pending(func(key, value []byte) error {
		if value == nil {
			delete(s.data, string(key))
		} else {
			s.data[string(key)] = value
		}
		return nil
	})
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(NewKVTx(memoryReader{s.data}, false))
}

func (s *MemoryStore) Close() error {
	return nil
}

type memoryReader struct {
	data map[string][]byte
}

func (r memoryReader) Get(key []byte) ([]byte, bool, error) {
	v, ok := r.data[string(key)]
	return v, ok, nil
}

func (r memoryReader) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	keys := make([]string, 0)
	for k := range r.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), r.data[k]); err != nil {
			return err
		}
	}
	return nil
}
