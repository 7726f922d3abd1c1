package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/repogate/internal/audit"
	"github.com/ppiankov/repogate/internal/model"
)

var (
	auditFile      string
	auditFormat    string
	auditBackups   int
	auditRotated   bool
	auditTailN     int
	auditOperation string
	auditOutcome   string
	auditSince     time.Duration
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd, auditTailCmd, auditFindCmd)

	auditCmd.PersistentFlags().StringVar(&auditFile, "file", "", "Audit log path (default from config)")
	auditCmd.PersistentFlags().StringVarP(&auditFormat, "format", "f", "text", "Output format (text|json)")

	auditVerifyCmd.Flags().BoolVar(&auditRotated, "rotated", false, "Verify rotated backups and the live file as one chain")
	auditVerifyCmd.Flags().IntVar(&auditBackups, "backups", -1, "Number of backups to include (default from config)")

	auditTailCmd.Flags().IntVarP(&auditTailN, "lines", "n", 20, "Number of events to show")
	auditTailCmd.Flags().StringVar(&auditOperation, "operation", "", "Only show this operation")
	auditTailCmd.Flags().StringVar(&auditOutcome, "outcome", "", "Only show this outcome (allowed|denied|failed|succeeded)")
	auditTailCmd.Flags().DurationVar(&auditSince, "since", 0, "Only show events newer than this duration")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the hash-chained audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit log hash chain",
	Long:  "Exit code 0 if the chain is intact, 1 if any line was altered, removed or reordered.",
	Args:  cobra.NoArgs,
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent audit events",
	Args:  cobra.NoArgs,
	RunE:  runAuditTail,
}

var auditFindCmd = &cobra.Command{
	Use:   "find <correlation-id>",
	Short: "Show the audit event for one request",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditFind,
}

// auditTarget resolves the log path and backup count from flags, then
// from config.
func auditTarget() (string, int, error) {
	if auditFile != "" {
		backups := auditBackups
		if backups < 0 {
			backups = 0
		}
		return auditFile, backups, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", 0, err
	}
	ac := cfg.Audit()
	if ac.Path == "" {
		return "", 0, errors.New("no audit file configured; pass --file")
	}
	backups := auditBackups
	if backups < 0 {
		backups = ac.MaxBackups
	}
	return ac.Path, backups, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	out := outOf(cmd)
	path, backups, err := auditTarget()
	if err != nil {
		return err
	}

	var res audit.VerifyResult
	if auditRotated {
		res = audit.VerifyRotated(path, backups)
	} else {
		res = audit.Verify(path)
	}

	if auditFormat == "json" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	} else if res.Valid {
		fmt.Fprintf(out, "chain intact: %d lines in %d file(s)\n", res.Lines, res.Files)
	} else {
		fmt.Fprintf(out, "chain broken: %s (%s line %d)\n", res.Error, res.ErrorFile, res.ErrorLine)
	}
	if !res.Valid {
		return &exitError{code: 1}
	}
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	out := outOf(cmd)
	path, _, err := auditTarget()
	if err != nil {
		return err
	}

	f := audit.Filter{Operation: auditOperation}
	if auditOutcome != "" {
		o := model.Outcome(auditOutcome)
		if !o.Valid() {
			return fmt.Errorf("unknown outcome %q", auditOutcome)
		}
		f.Outcome = o
	}
	if auditSince > 0 {
		f.From = time.Now().Add(-auditSince)
	}

	res, err := audit.Tail(path, auditTailN, f)
	if err != nil {
		return err
	}
	return printResult(out, res)
}

func runAuditFind(cmd *cobra.Command, args []string) error {
	out := outOf(cmd)
	path, _, err := auditTarget()
	if err != nil {
		return err
	}
	e, ok, err := audit.Find(path, args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no audit event with correlation id %s", args[0])
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func printResult(out io.Writer, res *audit.Result) error {
	if auditFormat == "json" {
		s, err := audit.FormatJSON(res)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
		return nil
	}
	fmt.Fprint(out, audit.FormatTable(res))
	return nil
}
