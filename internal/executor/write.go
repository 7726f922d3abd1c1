package executor

import (
	"context"
	"errors"
	"net/http"

	"github.com/ppiankov/repogate/internal/github"
	"github.com/ppiankov/repogate/internal/operation"
	"github.com/ppiankov/repogate/internal/safeerr"
)

type gitRef struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

func refPath(owner, repo, branch string) string {
	return github.RepoPath(owner, repo, "/git/ref/heads/", github.EscapePath(branch))
}

func createBranch(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	owner, repo := in.str("owner"), in.str("repo")
	base, branch := in.str("base"), in.str("branch")

	// base is a branch name when it resolves, otherwise a commit SHA.
	sha := base
	var ref gitRef
	err := x.API.Do(ctx, http.MethodGet, refPath(owner, repo, base), nil, &ref)
	switch {
	case err == nil:
		sha = ref.Object.SHA
	case github.IsNotFound(err):
	default:
		return nil, stage(operation.CreateBranch, "resolve_base", err)
	}

	body := map[string]any{"ref": "refs/heads/" + branch, "sha": sha}
	var created gitRef
	err = x.API.Do(ctx, http.MethodPost, github.RepoPath(owner, repo, "/git/refs"), body, &created)
	if err != nil {
		if alreadyExists(err) {
			return nil, safeerr.Wrap(safeerr.UserInput, "branch already exists", err)
		}
		return nil, stage(operation.CreateBranch, "create_ref", err)
	}
	return map[string]any{
		"branch": branch,
		"ref":    created.Ref,
		"sha":    created.Object.SHA,
	}, nil
}

func alreadyExists(err error) bool {
	var apiErr *github.APIError
	if !github.IsValidation(err) || !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.HasMessage("reference already exists")
}

func openPullRequest(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	body := map[string]any{
		"title": in.str("title"),
		"head":  in.str("head"),
		"base":  in.str("base"),
	}
	if s, ok := in.optStr("body"); ok {
		body["body"] = s
	}
	if d, ok := in.optBool("draft"); ok {
		body["draft"] = d
	}
	var pr numbered
	if err := x.API.Do(ctx, http.MethodPost, github.RepoPath(in.str("owner"), in.str("repo"), "/pulls"), body, &pr); err != nil {
		return nil, err
	}
	return map[string]any{"number": pr.Number, "url": pr.HTMLURL}, nil
}

func commentOnIssue(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	var c struct {
		ID      int64  `json:"id"`
		HTMLURL string `json:"html_url"`
	}
	body := map[string]any{"body": in.str("body")}
	if err := x.API.Do(ctx, http.MethodPost, issuePath(in, "issue_number")+"/comments", body, &c); err != nil {
		return nil, err
	}
	return map[string]any{"id": c.ID, "url": c.HTMLURL}, nil
}

// issueFields copies the optional issue attributes present in inputs.
func issueFields(in args, body map[string]any) {
	for _, k := range []string{"title", "body", "state"} {
		if s, ok := in.optStr(k); ok {
			body[k] = s
		}
	}
	for _, k := range []string{"labels", "assignees"} {
		if v, ok := in.optStrings(k); ok {
			body[k] = v
		}
	}
	if m, ok := in.optInt("milestone"); ok {
		body["milestone"] = m
	}
}

func createIssue(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	body := map[string]any{}
	issueFields(in, body)
	var is issue
	if err := x.API.Do(ctx, http.MethodPost, github.RepoPath(in.str("owner"), in.str("repo"), "/issues"), body, &is); err != nil {
		return nil, err
	}
	return map[string]any{"number": is.Number, "node_id": is.NodeID, "url": is.HTMLURL}, nil
}

func updateIssue(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	body := map[string]any{}
	issueFields(in, body)
	if len(body) == 0 {
		return nil, safeerr.New(safeerr.UserInput, "update_issue needs at least one field to change")
	}
	var is issue
	if err := x.API.Do(ctx, http.MethodPatch, issuePath(in, "number"), body, &is); err != nil {
		return nil, err
	}
	return map[string]any{"number": is.Number, "state": is.State, "url": is.HTMLURL}, nil
}
