// Package dispatch drives one operation request from receipt to a
// single terminal outcome, audit event and response envelope.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/repogate/internal/audit"
	"github.com/ppiankov/repogate/internal/clock"
	"github.com/ppiankov/repogate/internal/config"
	"github.com/ppiankov/repogate/internal/model"
	"github.com/ppiankov/repogate/internal/operation"
	"github.com/ppiankov/repogate/internal/policy"
	"github.com/ppiankov/repogate/internal/redact"
	"github.com/ppiankov/repogate/internal/safeerr"
	"github.com/ppiankov/repogate/internal/telemetry"
)

// State is a step of the per-request state machine.
type State string

const (
	StateReceived   State = "received"
	StateValidating State = "validating"
	StateDeciding   State = "deciding"
	StateDenied     State = "denied"
	StateExecuting  State = "executing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	// StateAllowed ends a dry run that passed every check.
	StateAllowed State = "allowed"
)

// Executor performs an allowed operation against the remote API.
type Executor interface {
	Execute(ctx context.Context, op string, inputs map[string]any) (map[string]any, error)
}

// Validator checks inputs against the operation's input schema.
type Validator interface {
	Validate(op string, inputs map[string]any) error
}

// Auditor records terminal events.
type Auditor interface {
	Record(ctx context.Context, e audit.Event) error
}

// Options configures a Dispatcher. Config, Guard, Executor and Audit
// are required.
type Options struct {
	Config    *config.Config
	Guard     *redact.Guard
	Validator Validator
	Executor  Executor
	Audit     Auditor
	Telemetry *telemetry.Provider
	Clock     clock.Clock
	Logger    *slog.Logger
	// NewID returns correlation ids. Defaults to random UUIDs.
	NewID func() string
}

// Request is an inbound operation request.
type Request struct {
	Operation string
	Inputs    map[string]any
	// DecodeErr is set by transports when the arguments were not a JSON
	// object. The request is still denied and audited.
	DecodeErr error
}

// MsgMalformedArguments is returned when DecodeErr is set.
const MsgMalformedArguments = "invalid input: arguments must be a JSON object"

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	cfg       *config.Config
	guard     *redact.Guard
	validator Validator
	exec      Executor
	audit     Auditor
	tel       *telemetry.Provider
	clock     clock.Clock
	log       *slog.Logger
	newID     func() string
}

// New validates opts and builds a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	switch {
	case opts.Config == nil:
		return nil, errors.New("dispatch: config is required")
	case opts.Guard == nil:
		return nil, errors.New("dispatch: guard is required")
	case opts.Executor == nil:
		return nil, errors.New("dispatch: executor is required")
	case opts.Audit == nil:
		return nil, errors.New("dispatch: audit is required")
	}
	d := &Dispatcher{
		cfg:       opts.Config,
		guard:     opts.Guard,
		validator: opts.Validator,
		exec:      opts.Executor,
		audit:     opts.Audit,
		tel:       opts.Telemetry,
		clock:     opts.Clock,
		log:       opts.Logger,
		newID:     opts.NewID,
	}
	if d.clock == nil {
		d.clock = clock.Real()
	}
	if d.log == nil {
		d.log = slog.New(slog.DiscardHandler)
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}
	return d, nil
}

// attempt is the state of one request. done latches the first
// terminal transition.
type attempt struct {
	id     string
	op     string
	opRule string
	target string
	start  time.Time
	state  State
	span   *telemetry.Span
	dryRun bool
	done   bool
	env    Envelope
}

// Dispatch runs req to a terminal state. Caller cancellation does not
// interrupt an attempt; the configured request deadline does.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Envelope {
	return d.handle(ctx, req, false)
}

// Check runs the guard, schema and policy stages for req without
// executing it. The decision is audited as allowed or denied.
func (d *Dispatcher) Check(ctx context.Context, req Request) Envelope {
	return d.handle(ctx, req, true)
}

func (d *Dispatcher) handle(ctx context.Context, req Request, dryRun bool) (env Envelope) {
	a := &attempt{
		id:     d.newID(),
		op:     req.Operation,
		target: model.UnknownTarget,
		start:  d.clock.Now(),
		state:  StateReceived,
		dryRun: dryRun,
	}
	// A credential-shaped operation name never reaches logs, spans or audit.
	if rule, hit := d.guard.ScanName(req.Operation); hit {
		a.op = redact.Placeholder
		a.opRule = rule
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Limits().MaxRequestDuration)
	defer cancel()
	if d.tel != nil {
		ctx, a.span = d.tel.StartDispatch(ctx, a.op, a.id)
	}

	defer func() {
		if p := recover(); p != nil {
			d.log.Error("dispatch panic",
				"correlationId", a.id,
				"operation", a.op,
				"state", string(a.state),
				"panic", fmt.Sprint(p),
			)
			env = d.finish(ctx, a, model.Failed, nil, safeerr.New(safeerr.Internal, MsgInternal))
		}
	}()

	return d.run(ctx, a, req)
}

func (d *Dispatcher) run(ctx context.Context, a *attempt, req Request) Envelope {
	inputs, serr := d.preflight(a, req)
	if serr != nil {
		return d.finish(ctx, a, model.Denied, nil, serr)
	}
	if a.dryRun {
		return d.finish(ctx, a, model.Allowed, map[string]any{
			"decision":  string(model.Allowed),
			"operation": a.op,
			"target":    a.target,
		}, nil)
	}

	d.transition(a, StateExecuting)
	data, err := d.exec.Execute(ctx, req.Operation, inputs)
	if err != nil {
		serr := classify(ctx, err)
		d.log.Warn("operation failed",
			"correlationId", a.id,
			"operation", a.op,
			"kind", string(serr.Kind),
			"error", err,
		)
		return d.finish(ctx, a, model.Failed, nil, serr)
	}
	return d.finish(ctx, a, model.Succeeded, data, nil)
}

// preflight runs the synchronous validating and deciding stages. A
// non-nil error means the request is denied.
func (d *Dispatcher) preflight(a *attempt, req Request) (map[string]any, *safeerr.Error) {
	inputs := req.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	d.transition(a, StateValidating)
	if req.DecodeErr != nil {
		return nil, safeerr.Wrap(safeerr.UserInput, MsgMalformedArguments, req.DecodeErr)
	}
	rule, hit := a.opRule, a.opRule != ""
	if !hit {
		var f redact.Finding
		f, hit = d.guard.ScanInputs(inputs)
		rule = f.Rule
	}
	if hit {
		// Target and field path come from the rejected input; log neither.
		d.log.Warn("credential-like input rejected",
			"correlationId", a.id,
			"operation", a.op,
			"rule", rule,
		)
		return nil, safeerr.New(safeerr.UserInput, redact.DenialReason)
	}

	spec, known := operation.Lookup(req.Operation)
	if known {
		if t, ok := spec.Target(inputs); ok {
			a.target = t
		}
	}
	if known && d.validator != nil {
		if err := d.validator.Validate(req.Operation, inputs); err != nil {
			return nil, safeerr.Wrap(safeerr.UserInput, err.Error(), err)
		}
	}

	d.transition(a, StateDeciding)
	dec := policy.Decide(req.Operation, a.target, inputs, d.cfg)
	if !dec.Allowed() {
		d.log.Info("policy denied",
			"correlationId", a.id,
			"operation", a.op,
			"policy", dec.PolicyID,
		)
		return nil, dec.Err()
	}
	return inputs, nil
}

func (d *Dispatcher) transition(a *attempt, s State) {
	a.state = s
	if a.span != nil {
		a.span.Event(string(s))
	}
	d.log.Debug("dispatch state", "correlationId", a.id, "operation", a.op, "state", string(s))
}

// finish performs the single terminal transition. Later calls return
// the first envelope unchanged.
func (d *Dispatcher) finish(ctx context.Context, a *attempt, outcome model.Outcome, data map[string]any, serr *safeerr.Error) Envelope {
	if a.done {
		return a.env
	}
	a.done = true

	state := StateSucceeded
	switch outcome {
	case model.Denied:
		state = StateDenied
	case model.Failed:
		state = StateFailed
	case model.Allowed:
		state = StateAllowed
	}
	d.transition(a, state)

	env := Envelope{OK: serr == nil, CorrelationID: a.id}
	var reason, kind string
	if serr == nil {
		if data != nil {
			env.Data = d.guard.RedactValue(data)
		}
	} else {
		reason = serr.Message
		kind = string(serr.Kind)
		env.Error = &ErrorBody{
			Kind:     serr.Kind,
			Message:  d.guard.RedactMessage(serr.Message),
			Guidance: d.guard.RedactMessage(serr.Guidance),
		}
	}
	a.env = env

	if a.dryRun {
		reason = dryRunReason(reason)
	}

	elapsed := d.clock.Now().Sub(a.start)
	if elapsed < 0 {
		elapsed = 0
	}
	ev := audit.Event{
		CorrelationID: a.id,
		Operation:     a.op,
		Target:        a.target,
		Outcome:       outcome,
		Reason:        reason,
		DurationMs:    elapsed.Milliseconds(),
	}
	// The deadline may already have passed; the record must still land.
	if err := d.audit.Record(context.WithoutCancel(ctx), ev); err != nil {
		d.log.Error("audit record failed", "correlationId", a.id, "operation", a.op, "error", err)
	}

	if a.span != nil {
		a.span.End(ctx, string(outcome), kind)
	}
	d.log.Info("dispatch complete",
		"correlationId", a.id,
		"operation", a.op,
		"target", a.target,
		"outcome", string(outcome),
		"durationMs", elapsed.Milliseconds(),
	)
	return env
}

func dryRunReason(reason string) string {
	if reason == "" {
		return "dry run"
	}
	return "dry run: " + reason
}
