package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/repogate/internal/audit"
	"github.com/ppiankov/repogate/internal/config"
	"github.com/ppiankov/repogate/internal/dispatch"
	"github.com/ppiankov/repogate/internal/operation"
	"github.com/ppiankov/repogate/internal/scenario"
)

var (
	checkScenario string
	checkInputs   string
	checkFormat   string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkScenario, "scenario", "", "Glob pattern for scenario YAML files")
	checkCmd.Flags().StringVar(&checkInputs, "inputs", "{}", "Operation inputs as a JSON object")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
}

var checkCmd = &cobra.Command{
	Use:   "check [operation]",
	Short: "Evaluate requests against policy without contacting GitHub",
	Long: "With an operation argument, runs one request through the credential\n" +
		"guard, input schema and policy, and prints the decision envelope.\n\n" +
		"With --scenario, loads scenario YAML files matching a glob pattern and\n" +
		"reports pass/fail for every case. Exit code 1 if any case fails.\n" +
		"Use in CI to gate configuration changes.",
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

// offlineExecutor refuses to run anything; check never reaches it.
type offlineExecutor struct{}

func (offlineExecutor) Execute(context.Context, string, map[string]any) (map[string]any, error) {
	return nil, errors.New("execution disabled in check mode")
}

type discardAuditor struct{}

func (discardAuditor) Record(context.Context, audit.Event) error { return nil }

func newOfflineDispatcher(cfg *config.Config) (*dispatch.Dispatcher, error) {
	validator, err := operation.NewValidator()
	if err != nil {
		return nil, err
	}
	return dispatch.New(dispatch.Options{
		Config:    cfg,
		Guard:     newGuard(cfg),
		Validator: validator,
		Executor:  offlineExecutor{},
		Audit:     discardAuditor{},
	})
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := outOf(cmd)
	if (checkScenario == "") == (len(args) == 0) {
		return errors.New("give either an operation or --scenario")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := newOfflineDispatcher(cfg)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if len(args) == 1 {
		return checkOne(ctx, out, d, args[0])
	}

	matches, err := filepath.Glob(checkScenario)
	if err != nil {
		return fmt.Errorf("invalid glob pattern: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no scenario files match pattern: %s", checkScenario)
	}

	var results []*scenario.RunResult
	for _, path := range matches {
		r, err := scenario.LoadAndRun(ctx, path, d)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		results = append(results, r)
	}

	switch checkFormat {
	case "json":
		s, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
	default:
		fmt.Fprint(out, scenario.FormatText(results))
	}

	for _, r := range results {
		if r.Failed > 0 {
			return &exitError{code: 1}
		}
	}
	return nil
}

func checkOne(ctx context.Context, out io.Writer, d *dispatch.Dispatcher, op string) error {
	req := dispatch.Request{Operation: op}
	if err := json.Unmarshal([]byte(checkInputs), &req.Inputs); err != nil || req.Inputs == nil {
		req.DecodeErr = errors.New("inputs must be a JSON object")
	}
	env := d.Check(ctx, req)
	fmt.Fprintln(out, string(env.JSON()))
	if !env.OK {
		return &exitError{code: 1}
	}
	return nil
}

func outOf(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}
