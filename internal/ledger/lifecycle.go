package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"stakingLedger/internal/model"
)

// CheckClose validates that caller may close pool now.
func CheckClose(pool model.Pool, caller common.Address, allowClose bool) error {
	if !allowClose {
		return ErrCloseDisabled
	}
	if caller != pool.Administrator {
		return ErrUnauthorized
	}
	if pool.TotalStaked != 0 {
		return ErrPoolNotEmpty
	}
	return nil
}
