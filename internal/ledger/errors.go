package ledger

import (
	"errors"

	"stakingLedger/internal/reward"
)

// Error kinds reported by ledger operations. Custody failures are returned
// as *custody.TransferError.
var (
	ErrArithmeticOverflow  = reward.ErrOverflow
	ErrArithmeticUnderflow = errors.New("arithmetic underflow")
	ErrInsufficientStake   = errors.New("insufficient stake amount")
	ErrAlreadyExists       = errors.New("pool already exists")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrPoolNotEmpty        = errors.New("pool has outstanding stake")
	ErrPoolNotFound        = errors.New("pool not found")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidRate         = errors.New("annual rate must be between 0 and 100")
	ErrInsufficientReserve = errors.New("vault cannot cover payout")
	ErrCloseDisabled       = errors.New("pool close is disabled")
	ErrInvariantViolation  = errors.New("ledger invariant violated")
)
