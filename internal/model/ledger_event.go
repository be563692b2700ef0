package model

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger event kinds.
const (
	EventInitialize = "initialize"
	EventStake      = "stake"
	EventUnstake    = "unstake"
	EventFund       = "fund"
	EventClose      = "close"
)

// LedgerEvent is the journal representation of one committed operation.
type LedgerEvent struct {
	Seq         uint64         `json:"seq"`
	Kind        string         `json:"kind"`
	Pool        PoolID         `json:"pool"`
	User        common.Address `json:"user"`
	Amount      uint64         `json:"amount"`
	Reward      uint64         `json:"reward"`
	Payout      uint64         `json:"payout"`
	TotalStaked uint64         `json:"total_staked"`
	Timestamp   int64          `json:"timestamp"`
	RecordedAt  string         `json:"recorded_at"`
}

// MarshalJSON ensures LedgerEvent is encoded with stable field names.
func (e LedgerEvent) MarshalJSON() ([]byte, error) {
	type Alias LedgerEvent
	return json.Marshal(Alias(e))
}

// UnmarshalJSON decodes a LedgerEvent from JSON.
func (e *LedgerEvent) UnmarshalJSON(data []byte) error {
	type Alias LedgerEvent
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = LedgerEvent(a)
	return nil
}
