package policy

import "github.com/ppiankov/repogate/internal/safeerr"

// Verdict tags a Decision.
type Verdict int

const (
	Allowed Verdict = iota
	Denied
	DeniedWithGuidance
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	case DeniedWithGuidance:
		return "denied_with_guidance"
	}
	return "unknown"
}

// Decision is the result of Decide. Reason and Guidance are fixed
// strings and never contain input values.
type Decision struct {
	Verdict  Verdict
	Reason   string
	Guidance string
	Kind     safeerr.Kind
	// PolicyID names the step that produced the decision.
	PolicyID string
}

// Allowed reports whether the operation may execute.
func (d Decision) Allowed() bool { return d.Verdict == Allowed }

// Err converts a denial into a caller-safe error. It returns nil for
// an allowed decision.
func (d Decision) Err() *safeerr.Error {
	if d.Allowed() {
		return nil
	}
	e := safeerr.New(d.Kind, d.Reason)
	if d.Guidance != "" {
		e = e.WithGuidance(d.Guidance)
	}
	return e
}

func allow() Decision {
	return Decision{Verdict: Allowed, PolicyID: "allow"}
}

func deny(id string, kind safeerr.Kind, reason string) Decision {
	return Decision{Verdict: Denied, Reason: reason, Kind: kind, PolicyID: id}
}

func denyWithGuidance(id string, kind safeerr.Kind, reason, guidance string) Decision {
	return Decision{Verdict: DeniedWithGuidance, Reason: reason, Guidance: guidance, Kind: kind, PolicyID: id}
}
