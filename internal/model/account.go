package model

import "github.com/ethereum/go-ethereum/common"

// Account is a custody balance. Vault accounts are owned by a pool authority;
// wallet accounts have a zero owner.
type Account struct {
	Address common.Address `json:"address"`
	Owner   common.Address `json:"owner"`
	Balance uint64         `json:"balance"`
	Vault   bool           `json:"vault"`
}
