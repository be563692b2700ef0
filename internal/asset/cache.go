package asset

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"stakingLedger/internal/model"
)

const DefaultCacheSize = 256

// MetaCache resolves token metadata through a Caller and keeps the most
// recently used entries.
type MetaCache struct {
	cache  *lru.Cache
	caller Caller
	logger *zap.Logger
}

func NewMetaCache(size int, caller Caller, logger *zap.Logger) (*MetaCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &MetaCache{cache: cache, caller: caller, logger: logger}, nil
}

// Set records metadata known without an RPC call, e.g. --decimals.
func (c *MetaCache) Set(token common.Address, meta model.AssetMeta) {
	c.cache.Add(token, meta)
}

// Get returns cached metadata or fetches it. Failed fetches are not cached.
func (c *MetaCache) Get(ctx context.Context, token common.Address) (model.AssetMeta, error) {
	if v, ok := c.cache.Get(token); ok {
		return v.(model.AssetMeta), nil
	}
	meta, err := FetchMeta(ctx, c.caller, token, c.logger)
	if err != nil {
		return meta, err
	}
	c.cache.Add(token, meta)
	return meta, nil
}

func (c *MetaCache) Len() int {
	return c.cache.Len()
}
