// Package operation is the closed catalog of dispatchable operations:
// their names, scope class, write flag, destination-branch field, and
// input JSON Schema. Nothing outside this catalog can be dispatched.
package operation

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/ppiankov/repogate/internal/model"
)

// Repository-scoped operations.
const (
	GetRepository    = "get_repository"
	ListBranches     = "list_branches"
	GetFile          = "get_file"
	ListPullRequests = "list_pull_requests"
	ListIssues       = "list_issues"
	GetIssue         = "get_issue"
	CreateBranch     = "create_branch"
	CommitChanges    = "commit_changes"
	OpenPullRequest  = "open_pull_request"
	CommentOnIssue   = "comment_on_issue"
	CreateIssue      = "create_issue"
	UpdateIssue      = "update_issue"
)

// Project-scoped operations.
const (
	GetProjectByNumber   = "get_project_v2_by_number"
	ListProjectFields    = "list_project_v2_fields"
	ListProjectItems     = "list_project_v2_items"
	GetProjectItem       = "get_project_v2_item"
	AddIssueToProject    = "add_issue_to_project_v2"
	SetProjectItemStatus = "set_project_v2_item_field_value"
)

// Spec describes one operation.
type Spec struct {
	Name        string
	Description string
	Scope       model.Scope
	Write       bool
	// BranchField names the input holding the destination branch for
	// writes subject to protected-branch rules. Empty when none.
	BranchField string
	Schema      json.RawMessage
}

var catalog = buildCatalog()

func buildCatalog() map[string]Spec {
	specs := []Spec{
		{
			Name:        GetRepository,
			Description: "Read repository metadata (full name, default branch, visibility, URL).",
			Scope:       model.ScopeRepo,
			Schema:      schema(repoProps(), nil),
		},
		{
			Name:        ListBranches,
			Description: "List branch names and the default branch of a repository.",
			Scope:       model.ScopeRepo,
			Schema:      schema(repoProps(), nil),
		},
		{
			Name:        GetFile,
			Description: "Read a single UTF-8 text file at an optional ref (size-limited).",
			Scope:       model.ScopeRepo,
			Schema: schema(repoProps(
				prop{"path", requiredString()},
				prop{"ref", optionalString()},
			), []string{"ref"}),
		},
		{
			Name:        ListPullRequests,
			Description: "List pull requests (number and URL).",
			Scope:       model.ScopeRepo,
			Schema:      schema(repoProps(prop{"state", stateEnum("open", "closed", "all")}), []string{"state"}),
		},
		{
			Name:        ListIssues,
			Description: "List issues, excluding pull requests (number and URL).",
			Scope:       model.ScopeRepo,
			Schema:      schema(repoProps(prop{"state", stateEnum("open", "closed", "all")}), []string{"state"}),
		},
		{
			Name:        GetIssue,
			Description: "Fetch one issue by number. Pull requests are rejected.",
			Scope:       model.ScopeRepo,
			Schema:      schema(repoProps(prop{"number", positiveInt()}), nil),
		},
		{
			Name:        CreateBranch,
			Description: "Create a branch from a base branch name or commit SHA.",
			Scope:       model.ScopeRepo,
			Write:       true,
			BranchField: "branch",
			Schema: schema(repoProps(
				prop{"base", requiredString()},
				prop{"branch", requiredString()},
			), nil),
		},
		{
			Name:        CommitChanges,
			Description: "Create one commit on a non-protected branch from a set of file upserts and deletes.",
			Scope:       model.ScopeRepo,
			Write:       true,
			BranchField: "branch",
			Schema: schema(repoProps(
				prop{"branch", requiredString()},
				prop{"message", requiredString()},
				prop{"changes", changesSchema()},
			), nil),
		},
		{
			Name:        OpenPullRequest,
			Description: "Open a pull request from a head branch into a base branch.",
			Scope:       model.ScopeRepo,
			Write:       true,
			Schema: schema(repoProps(
				prop{"title", requiredString()},
				prop{"head", requiredString()},
				prop{"base", requiredString()},
				prop{"body", optionalString()},
				prop{"draft", map[string]any{"type": "boolean"}},
			), []string{"body", "draft"}),
		},
		{
			Name:        CommentOnIssue,
			Description: "Comment on an issue or pull request.",
			Scope:       model.ScopeRepo,
			Write:       true,
			Schema: schema(repoProps(
				prop{"issue_number", positiveInt()},
				prop{"body", requiredString()},
			), nil),
		},
		{
			Name:        CreateIssue,
			Description: "Create an issue with optional labels, assignees and milestone.",
			Scope:       model.ScopeRepo,
			Write:       true,
			Schema: schema(repoProps(
				prop{"title", requiredString()},
				prop{"body", optionalString()},
				prop{"labels", stringArray()},
				prop{"assignees", stringArray()},
				prop{"milestone", positiveInt()},
			), []string{"labels", "assignees", "milestone"}),
		},
		{
			Name:        UpdateIssue,
			Description: "Update an issue's title, body, labels, assignees, milestone or state.",
			Scope:       model.ScopeRepo,
			Write:       true,
			Schema: schema(repoProps(
				prop{"number", positiveInt()},
				prop{"title", requiredString()},
				prop{"body", optionalString()},
				prop{"labels", stringArray()},
				prop{"assignees", stringArray()},
				prop{"milestone", positiveInt()},
				prop{"state", stateEnum("open", "closed")},
			), []string{"title", "body", "labels", "assignees", "milestone", "state"}),
		},
		{
			Name:        GetProjectByNumber,
			Description: "Resolve a Projects v2 board by owner login and number.",
			Scope:       model.ScopeProject,
			Schema:      schema(projectProps(), nil),
		},
		{
			Name:        ListProjectFields,
			Description: "List Projects v2 fields and single-select options.",
			Scope:       model.ScopeProject,
			Schema:      schema(projectProps(prop{"project_id", requiredString()}), nil),
		},
		{
			Name:        ListProjectItems,
			Description: "List Projects v2 items with pagination and optional status filter.",
			Scope:       model.ScopeProject,
			Schema: schema(projectProps(
				prop{"project_id", requiredString()},
				prop{"page_size", map[string]any{"type": "integer", "minimum": 1, "maximum": MaxPageSize}},
				prop{"after_cursor", optionalString()},
				prop{"status_option_id", optionalString()},
			), []string{"page_size", "after_cursor", "status_option_id"}),
		},
		{
			Name:        GetProjectItem,
			Description: "Get one Projects v2 item and its linked issue.",
			Scope:       model.ScopeProject,
			Schema: schema(projectProps(
				prop{"project_id", requiredString()},
				prop{"item_id", requiredString()},
			), nil),
		},
		{
			Name:        AddIssueToProject,
			Description: "Add an issue (by node id) to a Projects v2 board.",
			Scope:       model.ScopeProject,
			Write:       true,
			Schema: schema(projectProps(
				prop{"project_id", requiredString()},
				prop{"issue_node_id", requiredString()},
			), nil),
		},
		{
			Name:        SetProjectItemStatus,
			Description: "Set a Projects v2 item's single-select field, such as its status.",
			Scope:       model.ScopeProject,
			Write:       true,
			Schema: schema(projectProps(
				prop{"project_id", requiredString()},
				prop{"item_id", requiredString()},
				prop{"field_id", requiredString()},
				prop{"single_select_option_id", requiredString()},
			), nil),
		},
	}

	m := make(map[string]Spec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return m
}

// Page sizes for list_project_v2_items.
const (
	DefaultPageSize = 20
	MaxPageSize     = 50
)

// Lookup returns the spec for name.
func Lookup(name string) (Spec, bool) {
	s, ok := catalog[name]
	return s, ok
}

// Names returns every operation name, sorted.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for n := range catalog {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns every spec sorted by name.
func All() []Spec {
	names := Names()
	out := make([]Spec, 0, len(names))
	for _, n := range names {
		out = append(out, catalog[n])
	}
	return out
}

// Target derives the policy target from inputs: "owner/repo" for
// repository operations, "owner_login/project_number" for project ones.
func (s Spec) Target(inputs map[string]any) (string, bool) {
	switch s.Scope {
	case model.ScopeRepo:
		owner, ok1 := String(inputs, "owner")
		repo, ok2 := String(inputs, "repo")
		if !ok1 || !ok2 || owner == "" || repo == "" {
			return model.UnknownTarget, false
		}
		return model.RepoTarget(owner, repo), true
	case model.ScopeProject:
		owner, ok1 := String(inputs, "owner_login")
		number, ok2 := Int(inputs, "project_number")
		if !ok1 || !ok2 || owner == "" || number < 1 {
			return model.UnknownTarget, false
		}
		return model.ProjectTarget(owner, number), true
	}
	return model.UnknownTarget, false
}

// String reads a string input.
func String(inputs map[string]any, key string) (string, bool) {
	v, ok := inputs[key].(string)
	return v, ok
}

// Int reads an integral input decoded from JSON (float64) or set
// directly as an int.
func Int(inputs map[string]any, key string) (int, bool) {
	switch v := inputs[key].(type) {
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt32 || v < math.MinInt32 {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

// Bool reads a boolean input.
func Bool(inputs map[string]any, key string) (bool, bool) {
	v, ok := inputs[key].(bool)
	return v, ok
}
