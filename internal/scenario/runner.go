// Package scenario runs YAML policy assertions through the dry-run path
// of the dispatcher, so CI can gate configuration changes.
package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/repogate/internal/dispatch"
)

// Checker evaluates a request without executing it.
type Checker interface {
	Check(ctx context.Context, req dispatch.Request) dispatch.Envelope
}

// Run evaluates all cases in a scenario. Cases are independent.
func Run(ctx context.Context, s *Scenario, c Checker) *RunResult {
	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Cases),
	}

	for i, tc := range s.Cases {
		env := c.Check(ctx, dispatch.Request{Operation: tc.Operation, Inputs: tc.Inputs})

		cr := CaseResult{
			Index:     i + 1,
			Operation: tc.Operation,
			Expected:  strings.ToLower(tc.Expect),
			Actual:    "allowed",
		}
		if env.Error != nil {
			cr.Actual = "denied"
			cr.Kind = string(env.Error.Kind)
			cr.Reason = env.Error.Message
		}

		switch {
		case cr.Actual != cr.Expected:
			cr.Mismatch = fmt.Sprintf("expected %s, got %s", cr.Expected, cr.Actual)
		case tc.Kind != "" && !strings.EqualFold(tc.Kind, cr.Kind):
			cr.Mismatch = fmt.Sprintf("expected kind %s, got %s", tc.Kind, cr.Kind)
		case tc.Reason != "" && !strings.Contains(cr.Reason, tc.Reason):
			cr.Mismatch = fmt.Sprintf("reason %q does not contain %q", cr.Reason, tc.Reason)
		default:
			cr.Passed = true
		}

		if cr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}

	return result
}

// Load parses a scenario file. Inputs are normalized to the shapes a
// JSON decoder produces so they validate like tool arguments.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	for i := range s.Cases {
		in, err := normalize(s.Cases[i].Inputs)
		if err != nil {
			return nil, fmt.Errorf("scenario %s case %d: %w", path, i+1, err)
		}
		s.Cases[i].Inputs = in
	}
	return &s, nil
}

// LoadAndRun loads a scenario file and runs it.
func LoadAndRun(ctx context.Context, path string, c Checker) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	result := Run(ctx, s, c)
	result.File = path
	return result, nil
}

func normalize(in map[string]any) (map[string]any, error) {
	if in == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("inputs are not JSON-compatible: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
