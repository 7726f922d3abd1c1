// Package policy decides whether an operation may run. Decide is pure:
// it reads only its arguments, performs no I/O, and returns the same
// decision for the same inputs.
package policy

import (
	"github.com/ppiankov/repogate/internal/config"
	"github.com/ppiankov/repogate/internal/model"
	"github.com/ppiankov/repogate/internal/operation"
	"github.com/ppiankov/repogate/internal/safeerr"
)

// Denial reasons and guidance.
const (
	ReasonUnsupported     = "unsupported operation"
	ReasonNotAllowlisted  = "target not allowlisted"
	ReasonProtectedCommit = "direct commits to protected branch are not allowed"
	ReasonProtectedCreate = "creating a protected branch is not allowed"

	GuidanceProtectedCommit = "create_branch -> commit_changes -> open_pull_request"
	GuidanceProtectedCreate = "choose a non-protected branch name and open a pull request into the protected branch"
)

// Decide evaluates one request.
//
// Evaluation order (must not be changed):
//  1. Operation allowlist
//  2. Scope allowlist for the operation's class
//  3. Protected destination branch
//  4. Size and shape limits
//
// The first failing step short-circuits.
func Decide(op, target string, inputs map[string]any, cfg *config.Config) Decision {
	// Step 1: operation allowlist
	spec, ok := operation.Lookup(op)
	if !ok || cfg == nil || !cfg.OperationAllowed(op) {
		return deny("operation.allowlist", safeerr.Forbidden, ReasonUnsupported)
	}

	// Step 2: scope allowlist
	if !scopeAllowed(spec.Scope, target, cfg) {
		return deny("scope.allowlist", safeerr.Forbidden, ReasonNotAllowlisted)
	}

	// Step 3: protected branch
	if spec.BranchField != "" {
		branch, _ := operation.String(inputs, spec.BranchField)
		if IsProtected(branch, cfg.ProtectedBranches(), cfg.PROnly()) {
			if op == operation.CreateBranch {
				return denyWithGuidance("branch.protected", safeerr.Forbidden, ReasonProtectedCreate, GuidanceProtectedCreate)
			}
			return denyWithGuidance("branch.protected", safeerr.Forbidden, ReasonProtectedCommit, GuidanceProtectedCommit)
		}
	}

	// Step 4: limits
	if d, denied := checkLimits(op, inputs, cfg.Limits()); denied {
		return d
	}
	return allow()
}

func scopeAllowed(scope model.Scope, target string, cfg *config.Config) bool {
	if target == "" || target == model.UnknownTarget {
		return false
	}
	switch scope {
	case model.ScopeRepo:
		if _, _, err := model.ParseRepoTarget(target); err != nil {
			return false
		}
		return cfg.Repos().Contains(target)
	case model.ScopeProject:
		if _, _, err := model.ParseProjectTarget(target); err != nil {
			return false
		}
		return cfg.Projects().Contains(target)
	}
	return false
}
