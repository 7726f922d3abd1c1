package audit

import (
	"errors"

	"github.com/ppiankov/repogate/internal/model"
)

// Event is one line in the hash-chained JSONL audit log. Field order is
// fixed by the struct so json.Marshal output, and therefore the chain
// hash, is reproducible.
type Event struct {
	Timestamp     string        `json:"timestamp"`
	CorrelationID string        `json:"correlationId"`
	Operation     string        `json:"operation"`
	Target        string        `json:"target"`
	Outcome       model.Outcome `json:"outcome"`
	Reason        string        `json:"reason,omitempty"`
	DurationMs    int64         `json:"durationMs"`
	PrevHash      string        `json:"prevHash"`
}

// Validate checks the fields every sink relies on.
func (e Event) Validate() error {
	if e.CorrelationID == "" {
		return errors.New("audit: event has no correlation id")
	}
	if !e.Outcome.Valid() {
		return errors.New("audit: event has an unknown outcome")
	}
	if (e.Outcome == model.Denied || e.Outcome == model.Failed) && e.Reason == "" {
		return errors.New("audit: denied and failed events need a reason")
	}
	if e.DurationMs < 0 {
		return errors.New("audit: negative duration")
	}
	return nil
}
