package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/repogate/internal/clock"
	"github.com/ppiankov/repogate/internal/config"
	"github.com/ppiankov/repogate/internal/credential"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and credential readiness",
	Long: "Validates the configuration, parses the App private key and checks the\n" +
		"audit destinations. Key material and allowlist entries are never printed.\n" +
		"No request is sent to GitHub.",
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := outOf(cmd)

	cfg, err := loadConfig()
	checks := []checkResult{configCheck(err)}
	if err == nil {
		checks = append(checks, keyChecks(cfg)...)
		checks = append(checks, auditChecks(cfg)...)
		checks = append(checks, policyChecks(cfg)...)
	}

	hasFailures := false
	for _, c := range checks {
		mark := "✓"
		if !c.ok {
			mark = "✗"
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-20s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Fprintln(out, line)
	}

	if hasFailures {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Some checks failed.")
		return errors.New("doctor found issues")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "All checks passed.")
	return nil
}

func configCheck(err error) checkResult {
	if err != nil {
		return checkResult{label: "config", detail: err.Error(), fix: "see repogate serve --help"}
	}
	return checkResult{label: "config", ok: true, detail: "valid"}
}

func keyChecks(cfg *config.Config) []checkResult {
	id := cfg.Identity()
	var checks []checkResult

	signer, err := credential.NewSigner(id.AppID(), id.PrivateKeyPath(), clock.Real())
	if err != nil {
		checks = append(checks, checkResult{label: "app private key", detail: err.Error(), fix: "check private_key_path"})
		return checks
	}
	checks = append(checks, checkResult{
		label:  "app private key",
		ok:     true,
		detail: fmt.Sprintf("RSA %d-bit", signer.PublicKey().N.BitLen()),
	})

	if info, err := os.Stat(id.PrivateKeyPath()); err == nil {
		if info.Mode().Perm()&0o077 != 0 {
			checks = append(checks, checkResult{
				label:  "key permissions",
				detail: fmt.Sprintf("%#o (readable by group or others)", info.Mode().Perm()),
				fix:    "chmod 600 the key file",
			})
		} else {
			checks = append(checks, checkResult{label: "key permissions", ok: true, detail: fmt.Sprintf("%#o", info.Mode().Perm())})
		}
	}
	return checks
}

func auditChecks(cfg *config.Config) []checkResult {
	ac := cfg.Audit()
	if ac.Path == "" && ac.SQLitePath == "" {
		return []checkResult{{label: "audit sink", ok: true, detail: "stderr only"}}
	}
	var checks []checkResult
	if ac.Path != "" {
		checks = append(checks, dirCheck("audit log dir", ac.Path))
	}
	if ac.SQLitePath != "" {
		checks = append(checks, dirCheck("audit sqlite dir", ac.SQLitePath))
	}
	return checks
}

func dirCheck(label, path string) checkResult {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return checkResult{label: label, detail: "missing: " + dir, fix: "mkdir -p " + dir}
	}
	return checkResult{label: label, ok: true, detail: dir}
}

func policyChecks(cfg *config.Config) []checkResult {
	repos := cfg.Repos()
	detail := fmt.Sprintf("%d repositories", repos.Len())
	switch {
	case repos.Wildcard():
		detail = "any repository"
	case repos.Len() == 0:
		detail = "empty (repository operations denied)"
	}
	checks := []checkResult{
		{label: "repo allowlist", ok: true, detail: detail},
		{label: "operations", ok: true, detail: fmt.Sprintf("%d enabled", len(cfg.Operations()))},
	}
	if cfg.PROnly() {
		checks = append(checks, checkResult{label: "pr-only mode", ok: true, detail: "on"})
	}
	return checks
}
