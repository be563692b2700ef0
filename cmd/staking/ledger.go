package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"stakingLedger/internal/asset"
	"stakingLedger/internal/identity"
	"stakingLedger/internal/ledger"
	"stakingLedger/internal/model"
	"stakingLedger/internal/reward"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a pool for an asset with the caller as administrator",
		RunE:  runInit,
	}
	addCallerFlags(cmd)
	cmd.Flags().String("asset", "", "asset token address")
	cmd.Flags().Uint8("rate", 0, "annual rate in percent (0-100)")
	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	assetFlag, _ := cmd.Flags().GetString("asset")
	token, err := identity.ParseAddress(assetFlag)
	if err != nil {
		return err
	}
	rate, _ := cmd.Flags().GetUint8("rate")

	caller, err := authorize(cmd, func(admin common.Address) identity.Request {
		return identity.Request{Action: model.EventInitialize, Pool: ledger.DerivePoolID(token, admin), Amount: uint64(rate)}
	})
	if err != nil {
		return err
	}

	pool, err := rt.engine.Initialize(ctx, caller, token, rate)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), pool)
}

func newStakeCmd() *cobra.Command {
	return newAmountCmd("stake", "Stake asset units into a pool", model.EventStake,
		func(rt *runtime, cmd *cobra.Command, pool model.PoolID, caller common.Address, amount uint64) (ledger.Receipt, error) {
			return rt.engine.Stake(cmd.Context(), pool, caller, amount)
		})
}

func newUnstakeCmd() *cobra.Command {
	return newAmountCmd("unstake", "Withdraw principal and all accrued reward", model.EventUnstake,
		func(rt *runtime, cmd *cobra.Command, pool model.PoolID, caller common.Address, amount uint64) (ledger.Receipt, error) {
			return rt.engine.Unstake(cmd.Context(), pool, caller, amount)
		})
}

func newFundCmd() *cobra.Command {
	return newAmountCmd("fund", "Deposit reward reserve into a pool vault", model.EventFund,
		func(rt *runtime, cmd *cobra.Command, pool model.PoolID, caller common.Address, amount uint64) (ledger.Receipt, error) {
			return rt.engine.FundRewards(cmd.Context(), pool, caller, amount)
		})
}

type amountOp func(rt *runtime, cmd *cobra.Command, pool model.PoolID, caller common.Address, amount uint64) (ledger.Receipt, error)

func newAmountCmd(use, short, action string, op amountOp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			pool, err := poolFlag(cmd)
			if err != nil {
				return err
			}
			amount, err := rt.amountFlag(cmd, pool)
			if err != nil {
				return err
			}
			caller, err := authorize(cmd, func(common.Address) identity.Request {
				return identity.Request{Action: action, Pool: pool, Amount: amount}
			})
			if err != nil {
				return err
			}

			receipt, err := op(rt, cmd, pool, caller, amount)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), receipt)
		},
	}
	addCallerFlags(cmd)
	cmd.Flags().String("pool", "", "pool id (32-byte hex)")
	cmd.Flags().String("amount", "", "amount in asset units, e.g. 1.5")
	return cmd
}

func newCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close an empty pool and return the vault residual to the administrator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			pool, err := poolFlag(cmd)
			if err != nil {
				return err
			}
			caller, err := authorize(cmd, func(common.Address) identity.Request {
				return identity.Request{Action: model.EventClose, Pool: pool}
			})
			if err != nil {
				return err
			}
			receipt, err := rt.engine.Close(cmd.Context(), pool, caller)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), receipt)
		},
	}
	addCallerFlags(cmd)
	cmd.Flags().String("pool", "", "pool id (32-byte hex)")
	return cmd
}

func newFaucetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "faucet",
		Short: "Credit a wallet with asset units (development only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			to, err := recipientsFlag(cmd)
			if err != nil {
				return err
			}
			text, _ := cmd.Flags().GetString("amount")
			amount, ok := asset.ParseAmount(text, 0)
			if !ok || amount == 0 {
				return fmt.Errorf("invalid amount %q", text)
			}
			if err := credit(cmd, rt, to, amount); err != nil {
				return err
			}
			for _, addr := range to {
				fmt.Fprintf(cmd.OutOrStdout(), "credited %d to %s\n", amount, addr.Hex())
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("to", nil, "wallet addresses, comma separated or repeated")
	cmd.Flags().String("amount", "", "amount in base units")
	return cmd
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a pool and, with --user or --key, one position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			pool, err := poolFlag(cmd)
			if err != nil {
				return err
			}
			user, err := userFlag(cmd)
			if err != nil {
				return err
			}

			summary, err := rt.engine.Summary(ctx, pool, user)
			if err != nil {
				return err
			}
			decimals := rt.decimals(ctx, summary.Pool.Asset)
			return printSummary(cmd.OutOrStdout(), summary, user, decimals, rt.symbol(ctx, summary.Pool.Asset))
		},
	}
	addCallerFlags(cmd)
	cmd.Flags().String("pool", "", "pool id (32-byte hex)")
	cmd.Flags().String("user", "", "user address")
	return cmd
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a caller key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			signer, err := identity.GenerateSigner()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address %s\nkey     %s\n", signer.Address().Hex(), hexutil.Encode(signer.PrivateKey()))
			return nil
		},
	}
}

func printSummary(w io.Writer, s ledger.Summary, user common.Address, decimals uint8, symbol string) error {
	unit := ""
	if symbol != "" {
		unit = " " + symbol
	}
	apy := new(big.Rat).SetFrac64(int64(s.Pool.AnnualRatePercent), 1)

	lines := []string{
		fmt.Sprintf("pool            %s", s.Pool.ID.Hex()),
		fmt.Sprintf("asset           %s", s.Pool.Asset.Hex()),
		fmt.Sprintf("administrator   %s", s.Pool.Administrator.Hex()),
		fmt.Sprintf("vault           %s", s.Pool.Vault.Hex()),
		fmt.Sprintf("apy             %s%%", apy.FloatString(2)),
		fmt.Sprintf("total staked    %s%s", asset.FormatAmount(s.Pool.TotalStaked, decimals), unit),
		fmt.Sprintf("vault balance   %s%s", asset.FormatAmount(s.VaultBalance, decimals), unit),
	}
	if user != (common.Address{}) {
		lines = append(lines,
			fmt.Sprintf("user            %s", user.Hex()),
			fmt.Sprintf("staked          %s%s", asset.FormatAmount(s.Position.Amount, decimals), unit),
			fmt.Sprintf("available       %s%s", asset.FormatAmount(s.Available, decimals), unit),
			fmt.Sprintf("pending reward  %s%s", asset.FormatAmount(s.PendingReward, decimals), unit),
			fmt.Sprintf("per year        %s%s", asset.FormatAmount(yearlyReward(s), decimals), unit),
		)
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func yearlyReward(s ledger.Summary) uint64 {
	v, err := reward.Calculate(s.Position.Amount, 0, reward.SecondsPerYear, s.Pool.AnnualRatePercent)
	if err != nil {
		return 0
	}
	return v
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
