package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"stakingLedger/internal/model"
)

var (
	poolSeed      = []byte("staking_pool")
	vaultSeed     = []byte("token_vault")
	authoritySeed = []byte("pool_authority")
)

// DerivePoolID returns the pool key for an asset/administrator pairing.
func DerivePoolID(asset, administrator common.Address) model.PoolID {
	return crypto.Keccak256Hash(poolSeed, asset.Bytes(), administrator.Bytes())
}

// DeriveVault returns the custody account that holds a pool's deposits.
func DeriveVault(pool model.PoolID) common.Address {
	return common.BytesToAddress(crypto.Keccak256(vaultSeed, pool.Bytes()))
}

// DeriveAuthority returns the identity that owns a pool's vault. Only the
// ledger acting for the pool presents it to custody.
func DeriveAuthority(pool model.PoolID) common.Address {
	return common.BytesToAddress(crypto.Keccak256(authoritySeed, pool.Bytes()))
}
