package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/repogate/internal/mcp"
)

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
}

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Print the capabilities document agents see",
	Long: "Prints the enabled operations, limits and policy summary exposed at\n" +
		mcp.CapabilitiesURI + ". Allowlist entries and branch patterns are\n" +
		"reported as counts only.",
	Args: cobra.NoArgs,
	RunE: runCapabilities,
}

func runCapabilities(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(mcp.BuildCapabilities(cfg), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(outOf(cmd), string(out))
	return nil
}
