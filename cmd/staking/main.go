package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "staking",
		Short:        "Fixed-rate staking ledger",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file path")
	flags.String("backend", "leveldb", "storage backend (memory, leveldb, postgres)")
	flags.String("data-dir", "./data/ledger", "leveldb directory")
	flags.String("pg-dsn", "", "Postgres DSN")
	flags.String("journal", "./data/journal.jsonl", "ledger event journal (JSONL), empty disables it")
	flags.String("clock", "system", "time source (system, chain, ntp)")
	flags.String("at", "", "fixed time for this command (unix seconds or RFC3339)")
	flags.String("rpc", "", "Ethereum RPC URL for the chain clock and token metadata")
	flags.String("ntp-server", "pool.ntp.org", "NTP server for the ntp clock")
	flags.Int("max-retries", 5, "maximum retry attempts for RPC reads")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.Bool("allow-close", true, "allow administrators to close empty pools")
	flags.Bool("forfeit-on-stake", false, "drop accrued reward when a position is topped up")
	flags.Int("decimals", -1, "asset decimals for amounts, -1 reads them from the token")
	flags.String("metrics-file", "", "write Prometheus metrics to this file after the command")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newInitCmd(),
		newStakeCmd(),
		newUnstakeCmd(),
		newFundCmd(),
		newCloseCmd(),
		newFaucetCmd(),
		newShowCmd(),
		newKeygenCmd(),
		newSignCmd(),
		newAuditCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func addCallerFlags(cmd *cobra.Command) {
	cmd.Flags().String("key", "", "hex secp256k1 private key of the caller")
	cmd.Flags().String("caller", "", "caller address when passing a pre-made signature")
	cmd.Flags().String("signature", "", "hex signature over the request, used with --caller and --nonce")
	cmd.Flags().Uint64("nonce", 0, "request nonce used with --signature")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
