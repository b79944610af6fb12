package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/draftgate/draftgate/audit"
)

var (
	auditLogPath     string
	auditExportSince time.Duration
	auditExportKind  string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute the hash chain and report the first break",
	Long: `Recompute the audit log's hash chain from the first entry.

Every entry binds its payload hash to the previous entry's chain hash,
so any alteration, gap, or reordering of historical entries is
detectable without external reference state. The chain is never
auto-repaired; a break is reported with its sequence number.`,
	Example: `  draftgate audit verify --log draftgate-audit.jsonl`,
	RunE:    runAuditVerify,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print audit entries as JSON lines",
	Example: `  draftgate audit export --log audit.jsonl
  draftgate audit export --since 24h --kind policy_decision`,
	RunE: runAuditExport,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditExportCmd)

	auditCmd.PersistentFlags().StringVar(&auditLogPath, "log", "", "Audit log path (default from config)")
	auditExportCmd.Flags().DurationVar(&auditExportSince, "since", 0, "Only entries newer than this age")
	auditExportCmd.Flags().StringVar(&auditExportKind, "kind", "", "Only entries of this kind")
}

func resolveLogPath() (string, error) {
	if auditLogPath != "" {
		return auditLogPath, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.AuditPath, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := resolveLogPath()
	if err != nil {
		return err
	}

	stats, err := audit.ReadStats(path)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	if err := audit.VerifyFile(path); err != nil {
		var broken *audit.BrokenChainError
		if errors.As(err, &broken) {
			return fmt.Errorf("chain broken at seq %d", broken.Seq)
		}
		return err
	}

	fmt.Printf("chain intact: %d entries, seq %d..%d\n", stats.Entries, stats.FirstSeq, stats.LastSeq)
	return nil
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	path, err := resolveLogPath()
	if err != nil {
		return err
	}

	var since time.Time
	if auditExportSince > 0 {
		since = time.Now().Add(-auditExportSince)
	}

	encoder := json.NewEncoder(os.Stdout)
	return audit.Replay(path, since, func(entry *audit.Entry) error {
		if auditExportKind != "" && string(entry.Kind) != auditExportKind {
			return nil
		}
		return encoder.Encode(entry)
	})
}
