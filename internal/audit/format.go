package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/repogate/internal/model"
)

const separator = "──────────────────────────────────────────────────────────────────────────"

// FormatTable renders a Result as a text table, one row per event.
func FormatTable(res *Result) string {
	if len(res.Events) == 0 {
		return "No audit events found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-19s %-36s %-10s %-30s %-20s %s\n", "TIME", "CORRELATION", "OUTCOME", "OPERATION", "TARGET", "REASON")
	b.WriteString(separator + "\n")
	for _, e := range res.Events {
		fmt.Fprintf(&b, "%-19s %-36s %-10s %-30s %-20s %s\n",
			formatTime(e.Timestamp),
			e.CorrelationID,
			strings.ToUpper(string(e.Outcome)),
			truncate(e.Operation, 30),
			truncate(e.Target, 20),
			e.Reason)
	}
	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(res.Summary))
	return b.String()
}

// FormatJSON renders a Result as indented JSON.
func FormatJSON(res *Result) (string, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("audit: marshal result: %w", err)
	}
	return string(data), nil
}

func formatTime(ts string) string {
	t, err := time.Parse(model.TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatSummary(s Summary) string {
	var parts []string
	for _, c := range []struct {
		n     int
		label string
	}{
		{s.Succeeded, "succeeded"},
		{s.Failed, "failed"},
		{s.Denied, "denied"},
		{s.Allowed, "allowed"},
	} {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.label))
		}
	}
	return fmt.Sprintf("Summary: %d events | %s\n", s.Total, strings.Join(parts, ", "))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
