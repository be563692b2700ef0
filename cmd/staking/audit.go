package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stakingLedger/internal/asset"
	"stakingLedger/internal/audit"
	"stakingLedger/internal/config"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Replay the journal and check it against the store",
		RunE:  runAudit,
	}
	cmd.Flags().String("state-file", "", "optional local state file for progress tracking")
	cmd.Flags().Uint64("from-seq", 0, "replay from this journal sequence, ignoring saved state")
	return cmd
}

func runAudit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadAudit(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.Journal == "" {
		return fmt.Errorf("journal path is required")
	}

	rt, err := openRuntime(ctx, cfg.Config)
	if err != nil {
		return err
	}
	defer rt.close()

	var stateStore audit.StateStore
	switch {
	case cfg.StateFile != "":
		stateStore = &audit.FileStateStore{Path: cfg.StateFile}
	case rt.pg != nil:
		stateStore = &audit.DBStateStore{Store: rt.pg, Name: "audit:" + cfg.Journal}
	}

	auditor := audit.NewAuditor(audit.Config{
		FromSeq:    cfg.FromSeq,
		StateStore: stateStore,
	}, rt.store, rt.engine, rt.logger.Named("audit"))

	rt.logger.Info("audit start",
		zap.String("journal", cfg.Journal),
		zap.String("backend", cfg.Backend),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Uint64("from_seq", cfg.FromSeq),
	)

	report, err := auditor.Run(ctx, cfg.Journal)
	if err != nil {
		return err
	}

	decimals := uint8(0)
	if cfg.Decimals >= 0 {
		decimals = uint8(cfg.Decimals)
	}
	out := cmd.OutOrStdout()
	for _, acc := range report.Pools {
		fmt.Fprintf(out, "pool %s events=%d open=%t staked=%s positions=%s funded=%s reward_paid=%s\n",
			acc.Pool.Hex(), acc.Events, acc.Open,
			asset.FormatAmount(acc.TotalStaked, decimals),
			asset.FormatAmount(acc.Sum(), decimals),
			asset.FormatAmount(acc.Funded, decimals),
			asset.FormatAmount(acc.RewardPaid, decimals),
		)
	}
	for _, f := range report.Findings {
		fmt.Fprintf(out, "seq %d pool %s: %s\n", f.Seq, f.Pool.Hex(), f.Message)
	}
	if !report.OK() {
		return fmt.Errorf("audit found %d inconsistencies", len(report.Findings))
	}
	fmt.Fprintf(out, "ok: %d events, last seq %d\n", report.Events, report.LastSeq)
	return nil
}
