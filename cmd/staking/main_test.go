package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"stakingLedger/internal/custody"
	"stakingLedger/internal/identity"
	"stakingLedger/internal/ledger"
	"stakingLedger/internal/model"
	"stakingLedger/internal/storage"
)

const testKey = "289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032"

func callerCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addCallerFlags(cmd)
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd
}

func TestAuthorizeWithKey(t *testing.T) {
	signer, err := identity.NewSigner(testKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	cmd := callerCmd(t, "--key", testKey)
	caller, err := authorize(cmd, func(common.Address) identity.Request {
		return identity.Request{Action: model.EventStake, Amount: 10}
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if caller != signer.Address() {
		t.Fatalf("unexpected caller %s", caller.Hex())
	}
}

func TestAuthorizeWithSignature(t *testing.T) {
	signer, err := identity.NewSigner(testKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	pool := common.HexToHash("0x0abc")
	sig, err := signer.Sign(identity.Request{Action: model.EventUnstake, Pool: pool, Amount: 7, Nonce: 3})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	build := func(amount uint64) func(common.Address) identity.Request {
		return func(common.Address) identity.Request {
			return identity.Request{Action: model.EventUnstake, Pool: pool, Amount: amount}
		}
	}

	cmd := callerCmd(t, "--caller", signer.Address().Hex(), "--signature", hexutil.Encode(sig), "--nonce", "3")
	caller, err := authorize(cmd, build(7))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if caller != signer.Address() {
		t.Fatalf("unexpected caller %s", caller.Hex())
	}

	if _, err := authorize(cmd, build(8)); err == nil {
		t.Fatalf("expected mismatch for a different amount")
	}
}

func TestAuthorizeRequiresCredentials(t *testing.T) {
	if _, err := authorize(callerCmd(t), func(common.Address) identity.Request { return identity.Request{} }); err == nil {
		t.Fatalf("expected error without key or signature")
	}
}

func TestPrintSummary(t *testing.T) {
	user := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	summary := ledger.Summary{
		Pool:          model.Pool{AnnualRatePercent: 5, TotalStaked: 2_000_000_000},
		Position:      model.UserPosition{User: user, Amount: 1_000_000_000},
		Available:     500_000_000,
		PendingReward: 25_000_000,
		VaultBalance:  3_000_000_000,
	}
	var buf bytes.Buffer
	if err := printSummary(&buf, summary, user, 9, "STK"); err != nil {
		t.Fatalf("print: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"apy             5.00%",
		"total staked    2 STK",
		"staked          1 STK",
		"available       0.5 STK",
		"pending reward  0.025 STK",
		"per year        0.05 STK",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRedactDSN(t *testing.T) {
	if redactDSN("") != "" || redactDSN("postgres://user:pw@host/db") != "***" {
		t.Fatalf("unexpected redaction")
	}
}

func TestFaucetCreditsEveryRecipient(t *testing.T) {
	cmd := newFaucetCmd()
	if err := cmd.Flags().Parse([]string{
		"--to", "0x1000000000000000000000000000000000000001, ,0x1000000000000000000000000000000000000002",
		"--to", "0x1000000000000000000000000000000000000003",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	to, err := recipientsFlag(cmd)
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(to) != 3 || to[2] != common.HexToAddress("0x1000000000000000000000000000000000000003") {
		t.Fatalf("unexpected recipients: %v", to)
	}

	ctx := context.Background()
	cmd.SetContext(ctx)
	rt := &runtime{store: storage.NewMemoryStore(), bank: custody.NewBank(nil)}
	if err := credit(cmd, rt, to, 25); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err = rt.store.View(ctx, func(tx storage.Tx) error {
		for _, addr := range to {
			balance, err := rt.bank.WalletBalance(ctx, tx, addr)
			if err != nil {
				return err
			}
			if balance != 25 {
				t.Fatalf("wallet %s has %d", addr.Hex(), balance)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestFaucetRejectsBadRecipient(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"--to", "0x1000000000000000000000000000000000000001,not-an-address"},
	} {
		cmd := newFaucetCmd()
		if err := cmd.Flags().Parse(args); err != nil {
			t.Fatalf("parse flags: %v", err)
		}
		if _, err := recipientsFlag(cmd); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}
