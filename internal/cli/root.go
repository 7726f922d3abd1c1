package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/repogate/internal/config"
)

// ExitConfig is EX_CONFIG from sysexits.h.
const ExitConfig = 78

// configEnv names the variable consulted when --config is not given.
const configEnv = "REPOGATE_CONFIG"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "repogate",
	Short: "Policy-enforcing GitHub gateway for AI agents",
	Long: "Exposes a closed set of GitHub operations over MCP. Every request is screened\n" +
		"for credential-like input, checked against repository and branch policy,\n" +
		"executed with a short-lived installation token, and audited exactly once.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config YAML (default $"+configEnv+")")
}

// setupError marks failures that mean the deployment is misconfigured.
type setupError struct{ err error }

func (e *setupError) Error() string { return e.err.Error() }
func (e *setupError) Unwrap() error { return e.err }

// exitError carries a specific exit code without extra output.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return exitCode(rootCmd.Execute())
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var ce *config.Error
	var se *setupError
	if errors.As(err, &ce) || errors.As(err, &se) {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return ExitConfig
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	return config.Load(path, os.Getenv)
}
