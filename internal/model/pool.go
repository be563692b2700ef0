package model

import "github.com/ethereum/go-ethereum/common"

// PoolID identifies a pool. It is derived from the asset and administrator.
type PoolID = common.Hash

// Pool is the aggregate ledger record for one asset/administrator pairing.
type Pool struct {
	ID                PoolID         `json:"id"`
	Administrator     common.Address `json:"administrator"`
	Asset             common.Address `json:"asset"`
	Vault             common.Address `json:"vault"`
	Authority         common.Address `json:"authority"`
	TotalStaked       uint64         `json:"total_staked"`
	AnnualRatePercent uint8          `json:"annual_rate_percent"`
	CreatedAt         int64          `json:"created_at"`
}
