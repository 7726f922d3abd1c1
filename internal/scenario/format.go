package scenario

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders run results one scenario per line, with a line
// per failing case and a closing tally.
func FormatText(results []*RunResult) string {
	var b strings.Builder

	var cases, passed, failed int
	for _, r := range results {
		cases += r.Total
		passed += r.Passed

		status := "ok  "
		if r.Failed > 0 {
			status = "FAIL"
			failed++
		}
		fmt.Fprintf(&b, "%s %s %d/%d", status, r.Name, r.Passed, r.Total)
		if r.File != "" {
			fmt.Fprintf(&b, " [%s]", r.File)
		}
		b.WriteByte('\n')

		for _, c := range r.Cases {
			if c.Passed {
				continue
			}
			fmt.Fprintf(&b, "     #%d %s: %s", c.Index, c.Operation, c.Mismatch)
			if c.Kind != "" {
				fmt.Fprintf(&b, " (%s)", c.Kind)
			}
			b.WriteByte('\n')
		}
	}

	fmt.Fprintf(&b, "%d scenarios, %d cases, %d passed", len(results), cases, passed)
	if failed > 0 {
		fmt.Fprintf(&b, ", %d scenarios failing", failed)
	}
	b.WriteByte('\n')
	return b.String()
}

// FormatJSON renders run results as indented JSON.
func FormatJSON(results []*RunResult) (string, error) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("scenario: encode results: %w", err)
	}
	return string(data), nil
}
