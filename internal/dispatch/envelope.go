package dispatch

import (
	"encoding/json"

	"github.com/ppiankov/repogate/internal/safeerr"
)

// Envelope is the only shape ever returned to a caller.
type Envelope struct {
	OK            bool       `json:"ok"`
	CorrelationID string     `json:"correlationId"`
	Data          any        `json:"data,omitempty"`
	Error         *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries redacted, caller-safe failure details.
type ErrorBody struct {
	Kind     safeerr.Kind `json:"kind"`
	Message  string       `json:"message"`
	Guidance string       `json:"guidance,omitempty"`
}

// JSON renders the envelope. Envelope values only hold JSON-decoded
// data, so encoding cannot fail in practice; a failure still yields a
// valid error envelope.
func (e Envelope) JSON() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		b, _ = json.Marshal(Envelope{
			CorrelationID: e.CorrelationID,
			Error:         &ErrorBody{Kind: safeerr.Internal, Message: "response could not be encoded"},
		})
	}
	return b
}
