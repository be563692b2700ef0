package custody

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrNotVault          = errors.New("account is not a vault")
	ErrAuthorityMismatch = errors.New("authority does not own vault")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceOverflow   = errors.New("balance overflow")
	ErrInvalidTransfer   = errors.New("invalid transfer")
)

// TransferError is returned for every failed custody operation.
type TransferError struct {
	Op      string
	Account common.Address
	Err     error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("custody %s %s: %v", e.Op, e.Account.Hex(), e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func transferErr(op string, account common.Address, err error) error {
	return &TransferError{Op: op, Account: account, Err: err}
}
