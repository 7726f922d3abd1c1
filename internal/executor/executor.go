// Package executor maps each catalog operation onto GitHub REST and
// GraphQL calls. Handlers receive inputs that have already passed the
// guard, schema validation and policy; they return a data object or an
// error the dispatcher classifies.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ppiankov/repogate/internal/config"
	"github.com/ppiankov/repogate/internal/github"
	"github.com/ppiankov/repogate/internal/operation"
	"github.com/ppiankov/repogate/internal/safeerr"
)

// API is the remote surface handlers call. *github.Client satisfies it.
type API interface {
	Do(ctx context.Context, method, path string, in, out any) error
	GraphQL(ctx context.Context, query string, variables map[string]any, out any) error
}

// Invalidator drops a cached credential after the remote rejects it.
type Invalidator interface {
	Invalidate()
}

// Handler runs one operation.
type Handler func(ctx context.Context, x *Exec, in args) (map[string]any, error)

// Exec carries what handlers need for one call.
type Exec struct {
	API    API
	Limits config.Limits
}

// Options configures a Registry.
type Options struct {
	API         API
	Limits      config.Limits
	Invalidator Invalidator
	Logger      *slog.Logger
}

// Registry dispatches operation names to handlers.
type Registry struct {
	exec     *Exec
	invalid  Invalidator
	log      *slog.Logger
	handlers map[string]Handler
}

// NewRegistry binds a handler to every catalog operation.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		exec:    &Exec{API: opts.API, Limits: opts.Limits},
		invalid: opts.Invalidator,
		log:     opts.Logger,
		handlers: map[string]Handler{
			operation.GetRepository:    getRepository,
			operation.ListBranches:     listBranches,
			operation.GetFile:          getFile,
			operation.ListPullRequests: listPullRequests,
			operation.ListIssues:       listIssues,
			operation.GetIssue:         getIssue,
			operation.CreateBranch:     createBranch,
			operation.CommitChanges:    commitChanges,
			operation.OpenPullRequest:  openPullRequest,
			operation.CommentOnIssue:   commentOnIssue,
			operation.CreateIssue:      createIssue,
			operation.UpdateIssue:      updateIssue,

			operation.GetProjectByNumber:   getProjectByNumber,
			operation.ListProjectFields:    listProjectFields,
			operation.ListProjectItems:     listProjectItems,
			operation.GetProjectItem:       getProjectItem,
			operation.AddIssueToProject:    addIssueToProject,
			operation.SetProjectItemStatus: setProjectItemField,
		},
	}
}

// Has reports whether op has a handler.
func (r *Registry) Has(op string) bool {
	_, ok := r.handlers[op]
	return ok
}

// Execute runs op. A 401 from the remote invalidates the cached
// credential so the next call refreshes it.
func (r *Registry) Execute(ctx context.Context, op string, inputs map[string]any) (map[string]any, error) {
	h, ok := r.handlers[op]
	if !ok {
		return nil, safeerr.New(safeerr.Forbidden, "unsupported operation")
	}
	data, err := h(ctx, r.exec, args(inputs))
	if err != nil && github.IsUnauthorized(err) && r.invalid != nil {
		r.log.Warn("remote rejected credential, invalidating cache", "operation", op)
		r.invalid.Invalidate()
	}
	return data, err
}

// StageError records which step of a multi-step operation failed.
type StageError struct {
	Operation string
	Stage     string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed at %s: %v", e.Operation, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the operation and stage carried by err, if any.
func StageOf(err error) (op, stage string, ok bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Operation, se.Stage, true
	}
	return "", "", false
}

func stage(op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Operation: op, Stage: name, Err: err}
}

// args reads validated inputs. Schema validation has already enforced
// presence and type, so accessors fall back to zero values.
type args map[string]any

func (a args) str(key string) string {
	s, _ := operation.String(a, key)
	return s
}

func (a args) optStr(key string) (string, bool) {
	return operation.String(a, key)
}

func (a args) int(key string) int {
	n, _ := operation.Int(a, key)
	return n
}

func (a args) optInt(key string) (int, bool) {
	return operation.Int(a, key)
}

func (a args) optBool(key string) (bool, bool) {
	return operation.Bool(a, key)
}

func (a args) optStrings(key string) ([]string, bool) {
	raw, ok := a[key]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}
