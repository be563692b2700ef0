package custody

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"stakingLedger/internal/model"
	"stakingLedger/internal/storage"
)

func newVault(address, authority common.Address) model.Account {
	return model.Account{Address: address, Owner: authority, Vault: true}
}

func loadVault(ctx context.Context, accts storage.Accounts, op string, address common.Address) (model.Account, error) {
	acct, ok, err := accts.GetAccount(ctx, address)
	if err != nil {
		return model.Account{}, transferErr(op, address, err)
	}
	if !ok {
		return model.Account{}, transferErr(op, address, ErrAccountNotFound)
	}
	if !acct.Vault {
		return model.Account{}, transferErr(op, address, ErrNotVault)
	}
	return acct, nil
}

func loadWallet(ctx context.Context, accts storage.Accounts, op string, address common.Address) (model.Account, error) {
	acct, ok, err := accts.GetAccount(ctx, address)
	if err != nil {
		return model.Account{}, transferErr(op, address, err)
	}
	if !ok {
		return model.Account{Address: address}, nil
	}
	if acct.Vault {
		return model.Account{}, transferErr(op, address, ErrInvalidTransfer)
	}
	return acct, nil
}
