package main

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"stakingLedger/internal/asset"
	"stakingLedger/internal/identity"
	"stakingLedger/internal/model"
	"stakingLedger/internal/storage"
)

// authorize returns the verified caller of the request built by build.
// With --key the request is signed locally; with --caller and --signature a
// signature produced elsewhere (see the sign command) is verified.
func authorize(cmd *cobra.Command, build func(caller common.Address) identity.Request) (common.Address, error) {
	key, _ := cmd.Flags().GetString("key")
	if key != "" {
		signer, err := identity.NewSigner(key)
		if err != nil {
			return common.Address{}, err
		}
		req := build(signer.Address())
		req.Nonce = uint64(time.Now().UnixNano())
		sig, err := signer.Sign(req)
		if err != nil {
			return common.Address{}, err
		}
		return identity.Recover(req, sig)
	}

	callerFlag, _ := cmd.Flags().GetString("caller")
	sigFlag, _ := cmd.Flags().GetString("signature")
	if callerFlag == "" || sigFlag == "" {
		return common.Address{}, fmt.Errorf("either --key or --caller with --signature is required")
	}
	caller, err := identity.ParseAddress(callerFlag)
	if err != nil {
		return common.Address{}, err
	}
	sig, err := hexutil.Decode(sigFlag)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature: %w", err)
	}
	nonce, _ := cmd.Flags().GetUint64("nonce")

	req := build(caller)
	req.Nonce = nonce
	if err := identity.Verify(req, sig, caller); err != nil {
		return common.Address{}, err
	}
	return caller, nil
}

func poolFlag(cmd *cobra.Command) (model.PoolID, error) {
	value, _ := cmd.Flags().GetString("pool")
	if value == "" {
		return model.PoolID{}, fmt.Errorf("--pool is required")
	}
	return identity.ParsePoolID(value)
}

// userFlag reads --user, falling back to the address of --key.
func userFlag(cmd *cobra.Command) (common.Address, error) {
	if value, _ := cmd.Flags().GetString("user"); value != "" {
		return identity.ParseAddress(value)
	}
	if key, _ := cmd.Flags().GetString("key"); key != "" {
		signer, err := identity.NewSigner(key)
		if err != nil {
			return common.Address{}, err
		}
		return signer.Address(), nil
	}
	return common.Address{}, nil
}

// amountFlag parses --amount using the decimals of the pool's asset.
func (rt *runtime) amountFlag(cmd *cobra.Command, poolID model.PoolID) (uint64, error) {
	text, _ := cmd.Flags().GetString("amount")
	if text == "" {
		return 0, fmt.Errorf("--amount is required")
	}
	pool, err := rt.engine.Pool(cmd.Context(), poolID)
	if err != nil {
		return 0, err
	}
	decimals := rt.decimals(cmd.Context(), pool.Asset)
	amount, ok := asset.ParseAmount(text, decimals)
	if !ok {
		return 0, fmt.Errorf("invalid amount %q for %d decimals", text, decimals)
	}
	return amount, nil
}

// credit funds every wallet in one transaction; either all are credited or
// none is.
func credit(cmd *cobra.Command, rt *runtime, to []common.Address, amount uint64) error {
	ctx := cmd.Context()
	return rt.store.Update(ctx, func(tx storage.Tx) error {
		for _, addr := range to {
			if err := rt.bank.Credit(ctx, tx, addr, amount); err != nil {
				return err
			}
		}
		return nil
	})
}

func recipientsFlag(cmd *cobra.Command) ([]common.Address, error) {
	raw, _ := cmd.Flags().GetStringSlice("to")
	to, err := identity.ParseAddresses(raw)
	if err != nil {
		return nil, err
	}
	if len(to) == 0 {
		return nil, fmt.Errorf("--to is required")
	}
	return to, nil
}

func newSignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a request offline for use with --caller and --signature",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, _ := cmd.Flags().GetString("key")
			signer, err := identity.NewSigner(key)
			if err != nil {
				return err
			}
			action, _ := cmd.Flags().GetString("action")
			pool, err := poolFlag(cmd)
			if err != nil {
				return err
			}
			amount, _ := cmd.Flags().GetUint64("amount")
			nonce, _ := cmd.Flags().GetUint64("nonce")

			sig, err := signer.Sign(identity.Request{Action: action, Pool: pool, Amount: amount, Nonce: nonce})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "caller    %s\nsignature %s\n", signer.Address().Hex(), hexutil.Encode(sig))
			return nil
		},
	}
	cmd.Flags().String("key", "", "hex secp256k1 private key")
	cmd.Flags().String("action", "", "initialize, stake, unstake, fund or close")
	cmd.Flags().String("pool", "", "pool id (32-byte hex)")
	cmd.Flags().Uint64("amount", 0, "amount in base units (rate for initialize)")
	cmd.Flags().Uint64("nonce", 0, "request nonce")
	return cmd
}
