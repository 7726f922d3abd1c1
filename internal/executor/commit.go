package executor

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/ppiankov/repogate/internal/github"
	"github.com/ppiankov/repogate/internal/operation"
	"github.com/ppiankov/repogate/internal/policy"
	"github.com/ppiankov/repogate/internal/safeerr"
)

// Stages of commit_changes, in order.
const (
	StageGetRef       = "get_ref"
	StageGetCommit    = "get_commit"
	StageCreateBlob   = "create_blob"
	StageCreateTree   = "create_tree"
	StageCreateCommit = "create_commit"
	StageUpdateRef    = "update_ref"
)

type treeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	// SHA is null for deletions.
	SHA *string `json:"sha"`
}

type shaOnly struct {
	SHA string `json:"sha"`
}

// commitChanges builds one commit from upserts and deletes on top of
// the branch head and fast-forwards the branch. Remote objects created
// before a failing stage are left in place; they are unreachable until
// a ref points at them.
func commitChanges(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	const op = operation.CommitChanges
	owner, repo, branch := in.str("owner"), in.str("repo"), in.str("branch")

	changes, _ := in["changes"].([]any)
	if len(changes) == 0 {
		return nil, safeerr.New(safeerr.UserInput, "changes must be a non-empty array")
	}

	var head gitRef
	if err := x.API.Do(ctx, http.MethodGet, refPath(owner, repo, branch), nil, &head); err != nil {
		return nil, stage(op, StageGetRef, err)
	}

	var parent struct {
		SHA  string  `json:"sha"`
		Tree shaOnly `json:"tree"`
	}
	if err := x.API.Do(ctx, http.MethodGet, github.RepoPath(owner, repo, "/git/commits/", head.Object.SHA), nil, &parent); err != nil {
		return nil, stage(op, StageGetCommit, err)
	}

	entries := make([]treeEntry, 0, len(changes))
	for _, raw := range changes {
		change, _ := raw.(map[string]any)
		path, _ := operation.String(change, "path")
		entry := treeEntry{Path: path, Mode: "100644", Type: "blob"}

		if action, _ := operation.String(change, "action"); action == "upsert" {
			content, err := policy.DecodeContent(change)
			if err != nil {
				return nil, safeerr.Wrap(safeerr.UserInput, err.Error(), err)
			}
			var blob shaOnly
			body := map[string]any{
				"content":  base64.StdEncoding.EncodeToString(content),
				"encoding": "base64",
			}
			if err := x.API.Do(ctx, http.MethodPost, github.RepoPath(owner, repo, "/git/blobs"), body, &blob); err != nil {
				return nil, stage(op, StageCreateBlob, err)
			}
			entry.SHA = &blob.SHA
		}
		entries = append(entries, entry)
	}

	var tree shaOnly
	treeBody := map[string]any{"base_tree": parent.Tree.SHA, "tree": entries}
	if err := x.API.Do(ctx, http.MethodPost, github.RepoPath(owner, repo, "/git/trees"), treeBody, &tree); err != nil {
		return nil, stage(op, StageCreateTree, err)
	}

	var commit struct {
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
	}
	commitBody := map[string]any{
		"message": in.str("message"),
		"tree":    tree.SHA,
		"parents": []string{head.Object.SHA},
	}
	if err := x.API.Do(ctx, http.MethodPost, github.RepoPath(owner, repo, "/git/commits"), commitBody, &commit); err != nil {
		return nil, stage(op, StageCreateCommit, err)
	}

	refBody := map[string]any{"sha": commit.SHA, "force": false}
	updatePath := github.RepoPath(owner, repo, "/git/refs/heads/", github.EscapePath(branch))
	if err := x.API.Do(ctx, http.MethodPatch, updatePath, refBody, nil); err != nil {
		return nil, stage(op, StageUpdateRef, err)
	}

	return map[string]any{
		"branch":     branch,
		"commit_sha": commit.SHA,
		"parent_sha": head.Object.SHA,
		"files":      len(entries),
		"url":        commit.HTMLURL,
	}, nil
}
