package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/repogate/internal/credential"
	"github.com/ppiankov/repogate/internal/executor"
	"github.com/ppiankov/repogate/internal/github"
	"github.com/ppiankov/repogate/internal/safeerr"
)

// Caller-facing messages for remote failures.
const (
	MsgTimeout      = "timeout"
	MsgRejected     = "GitHub App credential was rejected"
	MsgForbidden    = "GitHub App is not authorized for this repository or operation"
	MsgNotFound     = "resource not found or not visible to the GitHub App"
	MsgConflict     = "GitHub reported a conflict"
	MsgValidation   = "GitHub rejected the request as invalid"
	MsgRateLimited  = "GitHub rate limit exceeded"
	MsgRemoteFailed = "GitHub request failed"
	MsgInternal     = "internal error"
)

// classify maps an execution error onto the caller taxonomy. Errors
// from a multi-step operation are prefixed with the failing stage.
func classify(ctx context.Context, err error) *safeerr.Error {
	base := classifyCause(ctx, err)
	if op, stage, ok := executor.StageOf(err); ok {
		return &safeerr.Error{
			Kind:     base.Kind,
			Message:  fmt.Sprintf("%s failed at %s: %s", op, stage, base.Message),
			Guidance: base.Guidance,
			Cause:    err,
		}
	}
	return base
}

func classifyCause(ctx context.Context, err error) *safeerr.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), github.IsTimeout(err), ctx.Err() != nil:
		return safeerr.Wrap(safeerr.Timeout, MsgTimeout, err)
	}
	if se, ok := safeerr.As(err); ok {
		return se
	}
	switch {
	case errors.Is(err, credential.ErrRejected):
		return safeerr.Wrap(safeerr.Forbidden, MsgRejected, err)
	case github.IsUnauthorized(err), github.IsForbidden(err):
		return safeerr.Wrap(safeerr.Forbidden, MsgForbidden, err)
	case github.IsNotFound(err):
		return safeerr.Wrap(safeerr.NotFound, MsgNotFound, err)
	case github.IsConflict(err):
		return safeerr.Wrap(safeerr.UserInput, MsgConflict, err)
	case github.IsValidation(err):
		return safeerr.Wrap(safeerr.UserInput, MsgValidation, err)
	case github.IsRateLimited(err):
		return safeerr.Wrap(safeerr.Internal, MsgRateLimited, err)
	case github.IsServerError(err):
		return safeerr.Wrap(safeerr.Internal, MsgRemoteFailed, err)
	}
	return safeerr.Wrap(safeerr.Internal, MsgInternal, err)
}
