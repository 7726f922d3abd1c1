package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/repogate/internal/model"
)

// Filter selects events when scanning a log. Zero fields match all.
type Filter struct {
	CorrelationID string
	Operation     string
	Target        string
	Outcome       model.Outcome
	From          time.Time
	To            time.Time
}

func (f Filter) match(e Event) bool {
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.Target != "" && e.Target != f.Target {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		ts, err := time.Parse(model.TimestampFormat, e.Timestamp)
		if err != nil {
			return false
		}
		if !f.From.IsZero() && ts.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && ts.After(f.To) {
			return false
		}
	}
	return true
}

// Summary counts events per outcome.
type Summary struct {
	Total          int    `json:"total"`
	Allowed        int    `json:"allowed"`
	Denied         int    `json:"denied"`
	Failed         int    `json:"failed"`
	Succeeded      int    `json:"succeeded"`
	FirstTimestamp string `json:"firstTimestamp,omitempty"`
	LastTimestamp  string `json:"lastTimestamp,omitempty"`
}

func (s *Summary) add(e Event) {
	s.Total++
	switch e.Outcome {
	case model.Allowed:
		s.Allowed++
	case model.Denied:
		s.Denied++
	case model.Failed:
		s.Failed++
	case model.Succeeded:
		s.Succeeded++
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}

// Result holds the events selected by a query.
type Result struct {
	Events  []Event `json:"events"`
	Summary Summary `json:"summary"`
}

// Query reads path and returns events matching f. Malformed lines are
// skipped; use Verify to detect them.
func Query(path string, f Filter) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer file.Close()

	res := &Result{}
	sc := newScanner(file)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if !f.match(e) {
			continue
		}
		res.Events = append(res.Events, e)
		res.Summary.add(e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}
	return res, nil
}

// Find returns the event recorded for correlationID.
func Find(path, correlationID string) (Event, bool, error) {
	res, err := Query(path, Filter{CorrelationID: correlationID})
	if err != nil || len(res.Events) == 0 {
		return Event{}, false, err
	}
	return res.Events[len(res.Events)-1], true, nil
}

// Tail returns the last n events matching f.
func Tail(path string, n int, f Filter) (*Result, error) {
	res, err := Query(path, f)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(res.Events) > n {
		res.Events = res.Events[len(res.Events)-n:]
		var s Summary
		for _, e := range res.Events {
			s.add(e)
		}
		res.Summary = s
	}
	return res, nil
}
