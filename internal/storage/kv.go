package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"stakingLedger/internal/model"
)

// Key prefixes shared by the key/value backends.
const (
	prefixPool     = "p/"
	prefixPosition = "u/"
	prefixAccount  = "a/"

	seqKey = "s/journal"
)

// KVReader is the committed state a KVTx reads through.
type KVReader interface {
	Get(key []byte) ([]byte, bool, error)
	// Iterate calls fn for every committed key with the prefix, in key order.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
}

// KVTx implements Tx on top of a key/value reader. Writes are staged in
// memory until the owning store flushes them.
type KVTx struct {
	reader   KVReader
	writable bool
	pending  map[string][]byte
}

// NewKVTx builds a transaction over reader.
func NewKVTx(reader KVReader, writable bool) *KVTx {
	return &KVTx{reader: reader, writable: writable, pending: make(map[string][]byte)}
}

// Pending visits staged writes in key order. A nil value is a delete.
func (t *KVTx) Pending(fn func(key, value []byte) error) error {
	keys := make([]string, 0, len(t.pending))
	for k := range t.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), t.pending[k]); err != nil {
			return err
		}
	}
	return nil
}

func poolKey(id model.PoolID) []byte {
	return append([]byte(prefixPool), id.Bytes()...)
}

func positionPrefix(pool model.PoolID) []byte {
	return append([]byte(prefixPosition), pool.Bytes()...)
}

func positionKey(pool model.PoolID, user common.Address) []byte {
	return append(positionPrefix(pool), user.Bytes()...)
}

func accountKey(address common.Address) []byte {
	return append([]byte(prefixAccount), address.Bytes()...)
}

func (t *KVTx) get(key []byte, out interface{}) (bool, error) {
	data, staged := t.pending[string(key)]
	if !staged {
		var (
			ok  bool
			err error
		)
		data, ok, err = t.reader.Get(key)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (t *KVTx) put(key []byte, value interface{}) error {
	if !t.writable {
		return ErrReadOnly
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	t.pending[string(key)] = data
	return nil
}

func (t *KVTx) del(key []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	t.pending[string(key)] = nil
	return nil
}

func (t *KVTx) GetPool(_ context.Context, id model.PoolID) (model.Pool, bool, error) {
	var pool model.Pool
	ok, err := t.get(poolKey(id), &pool)
	return pool, ok, err
}

func (t *KVTx) PutPool(_ context.Context, pool model.Pool) error {
	return t.put(poolKey(pool.ID), pool)
}

func (t *KVTx) DeletePool(_ context.Context, id model.PoolID) error {
	return t.del(poolKey(id))
}

func (t *KVTx) GetPosition(_ context.Context, pool model.PoolID, user common.Address) (model.UserPosition, bool, error) {
	var pos model.UserPosition
	ok, err := t.get(positionKey(pool, user), &pos)
	return pos, ok, err
}

func (t *KVTx) PutPosition(_ context.Context, position model.UserPosition) error {
	return t.put(positionKey(position.Pool, position.User), position)
}

func (t *KVTx) Positions(_ context.Context, pool model.PoolID) ([]model.UserPosition, error) {
	prefix := positionPrefix(pool)
	merged := make(map[string][]byte)
	if err := t.reader.Iterate(prefix, func(key, value []byte) error {
		merged[string(key)] = append([]byte(nil), value...)
		return nil
	}); err != nil {
		return nil, err
	}
	for k, v := range t.pending {
		if bytes.HasPrefix([]byte(k), prefix) {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k, v := range merged {
		if v != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]model.UserPosition, 0, len(keys))
	for _, k := range keys {
		var pos model.UserPosition
		if err := json.Unmarshal(merged[k], &pos); err != nil {
			return nil, fmt.Errorf("decode %q: %w", k, err)
		}
		out = append(out, pos)
	}
	return out, nil
}

func (t *KVTx) GetAccount(_ context.Context, address common.Address) (model.Account, bool, error) {
	var acct model.Account
	ok, err := t.get(accountKey(address), &acct)
	return acct, ok, err
}

func (t *KVTx) PutAccount(_ context.Context, account model.Account) error {
	return t.put(accountKey(account.Address), account)
}

func (t *KVTx) DeleteAccount(_ context.Context, address common.Address) error {
	return t.del(accountKey(address))
}

func (t *KVTx) JournalSeq(_ context.Context) (uint64, error) {
	var last uint64
	if _, err := t.get([]byte(seqKey), &last); err != nil {
		return 0, err
	}
	return last, nil
}

func (t *KVTx) NextSeq(ctx context.Context) (uint64, error) {
	last, err := t.JournalSeq(ctx)
	if err != nil {
		return 0, err
	}
	if err := t.put([]byte(seqKey), last+1); err != nil {
		return 0, err
	}
	return last + 1, nil
}
