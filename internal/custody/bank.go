// Package custody holds asset balances for wallets and pool vaults.
//
// A vault account is owned by a pool authority. Outbound transfers from a
// vault are accepted only when the caller presents that authority, which
// the ledger derives from the pool itself; no private key is involved.
package custody

import (
	"context"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"stakingLedger/internal/storage"
)

// Bank moves balances between accounts held in a storage transaction, so
// that transfers commit or roll back together with ledger records.
type Bank struct {
	logger *zap.Logger
}

func NewBank(logger *zap.Logger) *Bank {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bank{logger: logger}
}

// OpenVault creates an empty vault owned by authority.
func (b *Bank) OpenVault(ctx context.Context, accts storage.Accounts, vault, authority common.Address) error {
	_, ok, err := accts.GetAccount(ctx, vault)
	if err != nil {
		return transferErr("open", vault, err)
	}
	if ok {
		return transferErr("open", vault, ErrAccountExists)
	}
	if err := accts.PutAccount(ctx, newVault(vault, authority)); err != nil {
		return transferErr("open", vault, err)
	}
	b.logger.Debug("vault opened", zap.String("vault", vault.Hex()), zap.String("authority", authority.Hex()))
	return nil
}

// Deposit moves amount from a wallet into a vault.
func (b *Bank) Deposit(ctx context.Context, accts storage.Accounts, vault, from common.Address, amount uint64) error {
	if amount == 0 || vault == from {
		return transferErr("deposit", vault, ErrInvalidTransfer)
	}
	dst, err := loadVault(ctx, accts, "deposit", vault)
	if err != nil {
		return err
	}
	src, ok, err := accts.GetAccount(ctx, from)
	if err != nil {
		return transferErr("deposit", from, err)
	}
	if !ok || src.Vault || src.Balance < amount {
		return transferErr("deposit", from, ErrInsufficientFunds)
	}

	sum, carry := bits.Add64(dst.Balance, amount, 0)
	if carry != 0 {
		return transferErr("deposit", vault, ErrBalanceOverflow)
	}
	src.Balance -= amount
	dst.Balance = sum

	if err := accts.PutAccount(ctx, src); err != nil {
		return transferErr("deposit", from, err)
	}
	if err := accts.PutAccount(ctx, dst); err != nil {
		return transferErr("deposit", vault, err)
	}
	b.logger.Debug("deposit", zap.String("vault", vault.Hex()), zap.String("from", from.Hex()), zap.Uint64("amount", amount))
	return nil
}

// Withdraw moves amount out of a vault to a wallet. authority must own the
// vault.
func (b *Bank) Withdraw(ctx context.Context, accts storage.Accounts, vault, to common.Address, amount uint64, authority common.Address) error {
	if amount == 0 || vault == to {
		return transferErr("withdraw", vault, ErrInvalidTransfer)
	}
	src, err := loadVault(ctx, accts, "withdraw", vault)
	if err != nil {
		return err
	}
	if src.Owner != authority {
		return transferErr("withdraw", vault, ErrAuthorityMismatch)
	}
	if src.Balance < amount {
		return transferErr("withdraw", vault, ErrInsufficientFunds)
	}
	dst, err := loadWallet(ctx, accts, "withdraw", to)
	if err != nil {
		return err
	}

	sum, carry := bits.Add64(dst.Balance, amount, 0)
	if carry != 0 {
		return transferErr("withdraw", to, ErrBalanceOverflow)
	}
	src.Balance -= amount
	dst.Balance = sum

	if err := accts.PutAccount(ctx, src); err != nil {
		return transferErr("withdraw", vault, err)
	}
	if err := accts.PutAccount(ctx, dst); err != nil {
		return transferErr("withdraw", to, err)
	}
	b.logger.Debug("withdraw", zap.String("vault", vault.Hex()), zap.String("to", to.Hex()), zap.Uint64("amount", amount))
	return nil
}

// Balance returns the vault balance.
func (b *Bank) Balance(ctx context.Context, accts storage.Accounts, vault common.Address) (uint64, error) {
	acct, err := loadVault(ctx, accts, "balance", vault)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// CloseAccount sends any remaining vault balance to destination and removes
// the vault.
func (b *Bank) CloseAccount(ctx context.Context, accts storage.Accounts, vault, authority, destination common.Address) error {
	acct, err := loadVault(ctx, accts, "close", vault)
	if err != nil {
		return err
	}
	if acct.Owner != authority {
		return transferErr("close", vault, ErrAuthorityMismatch)
	}
	if acct.Balance > 0 {
		if err := b.Withdraw(ctx, accts, vault, destination, acct.Balance, authority); err != nil {
			return err
		}
	}
	if err := accts.DeleteAccount(ctx, vault); err != nil {
		return transferErr("close", vault, err)
	}
	b.logger.Debug("vault closed", zap.String("vault", vault.Hex()), zap.String("destination", destination.Hex()))
	return nil
}

// Credit mints amount into a wallet. It is the entry point for funds that
// originate outside the ledger.
func (b *Bank) Credit(ctx context.Context, accts storage.Accounts, to common.Address, amount uint64) error {
	if amount == 0 {
		return transferErr("credit", to, ErrInvalidTransfer)
	}
	acct, err := loadWallet(ctx, accts, "credit", to)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(acct.Balance, amount, 0)
	if carry != 0 {
		return transferErr("credit", to, ErrBalanceOverflow)
	}
	acct.Balance = sum
	if err := accts.PutAccount(ctx, acct); err != nil {
		return transferErr("credit", to, err)
	}
	return nil
}

// WalletBalance returns a wallet balance; unknown wallets hold zero.
func (b *Bank) WalletBalance(ctx context.Context, accts storage.Accounts, address common.Address) (uint64, error) {
	acct, err := loadWallet(ctx, accts, "balance", address)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}
