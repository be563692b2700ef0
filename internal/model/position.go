package model

import "github.com/ethereum/go-ethereum/common"

// UserPosition tracks one depositor's principal and reward accrual in a pool.
type UserPosition struct {
	Pool            PoolID         `json:"pool"`
	User            common.Address `json:"user"`
	Amount          uint64         `json:"amount"`
	LastUpdate      int64          `json:"last_update"`
	UnclaimedReward uint64         `json:"unclaimed_reward"`
}
