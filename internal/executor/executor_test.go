package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/repogate/internal/config"
	"github.com/ppiankov/repogate/internal/github"
	"github.com/ppiankov/repogate/internal/operation"
	"github.com/ppiankov/repogate/internal/safeerr"
)

type staticTokens string

func (s staticTokens) BearerCredential(context.Context) (string, error) { return string(s), nil }

type countingInvalidator struct{ n atomic.Int32 }

func (c *countingInvalidator) Invalidate() { c.n.Add(1) }

type fixture struct {
	mux *http.ServeMux
	reg *Registry
	inv *countingInvalidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)

	client, err := github.NewClient(github.Config{
		BaseURL:     srv.URL,
		Tokens:      staticTokens("ghs_test"),
		HTTPClient:  srv.Client(),
		MaxAttempts: 1,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)

	inv := &countingInvalidator{}
	return &fixture{
		mux: mux,
		inv: inv,
		reg: NewRegistry(Options{API: client, Limits: config.DefaultLimits(), Invalidator: inv}),
	}
}

func (f *fixture) json(pattern string, status int, body any) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, body)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var m map[string]any
	assert.NoError(t, json.NewDecoder(r.Body).Decode(&m))
	return m
}

func repoInputs(extra map[string]any) map[string]any {
	in := map[string]any{"owner": "acme", "repo": "widgets"}
	for k, v := range extra {
		in[k] = v
	}
	return in
}

func TestExecuteUnknownOperation(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Execute(context.Background(), "delete_repository", nil)
	assert.Equal(t, safeerr.Forbidden, safeerr.KindOf(err))
	assert.False(t, f.reg.Has("delete_repository"))
}

func TestEveryCatalogOperationHasHandler(t *testing.T) {
	f := newFixture(t)
	for _, name := range operation.Names() {
		assert.True(t, f.reg.Has(name), name)
	}
}

func TestGetRepository(t *testing.T) {
	f := newFixture(t)
	f.json("GET /repos/acme/widgets", 200, map[string]any{
		"full_name": "acme/widgets", "default_branch": "main", "private": true,
		"html_url": "https://github.com/acme/widgets", "owner": map[string]any{"id": 99},
	})

	data, err := f.reg.Execute(context.Background(), operation.GetRepository, repoInputs(nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"full_name": "acme/widgets", "default_branch": "main", "private": true,
		"url": "https://github.com/acme/widgets",
	}, data)
}

func TestListBranches(t *testing.T) {
	f := newFixture(t)
	f.json("GET /repos/acme/widgets", 200, map[string]any{"default_branch": "main"})
	f.mux.HandleFunc("GET /repos/acme/widgets/branches", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		writeJSON(w, 200, []map[string]any{{"name": "main"}, {"name": "feature/x"}})
	})

	data, err := f.reg.Execute(context.Background(), operation.ListBranches, repoInputs(nil))
	require.NoError(t, err)
	assert.Equal(t, "main", data["default_branch"])
	assert.Equal(t, []string{"main", "feature/x"}, data["branches"])
}

func fileEntry(content []byte) map[string]any {
	enc := base64.StdEncoding.EncodeToString(content)
	// The contents API wraps base64 at 60 columns.
	if len(enc) > 8 {
		enc = enc[:8] + "\n" + enc[8:]
	}
	return map[string]any{
		"type": "file", "encoding": "base64", "size": len(content),
		"path": "docs/README.md", "sha": "abc", "content": enc,
	}
}

func TestGetFile(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("GET /repos/acme/widgets/contents/docs/README.md", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "feature/x", r.URL.Query().Get("ref"))
		writeJSON(w, 200, fileEntry([]byte("hello, world\n")))
	})

	data, err := f.reg.Execute(context.Background(), operation.GetFile,
		repoInputs(map[string]any{"path": "docs/README.md", "ref": "feature/x"}))
	require.NoError(t, err)
	assert.Equal(t, "hello, world\n", data["content"])
	assert.Equal(t, 13, data["size"])
}

func TestGetFileRejections(t *testing.T) {
	cases := []struct {
		name string
		body any
		want string
	}{
		{"directory", []map[string]any{{"type": "file"}}, "path is a directory, not a file"},
		{"symlink", map[string]any{"type": "symlink"}, "path is not a file"},
		{"too large", map[string]any{"type": "file", "size": 200000, "encoding": "base64"}, "file exceeds 102400 bytes"},
		{"not inline", map[string]any{"type": "file", "size": 10, "encoding": "none"}, "file content is not available inline"},
		{"binary", fileEntry([]byte{0xff, 0xfe, 0x00, 0x01}), "file is not valid UTF-8 text"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.json("GET /repos/acme/widgets/contents/x", 200, tt.body)
			_, err := f.reg.Execute(context.Background(), operation.GetFile, repoInputs(map[string]any{"path": "x"}))
			se, ok := safeerr.As(err)
			require.True(t, ok, "expected classified error, got %v", err)
			assert.Equal(t, safeerr.UserInput, se.Kind)
			assert.Equal(t, tt.want, se.Message)
		})
	}
}

func TestListIssuesSkipsPullRequests(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("GET /repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "closed", r.URL.Query().Get("state"))
		writeJSON(w, 200, []map[string]any{
			{"number": 1, "html_url": "u1"},
			{"number": 2, "html_url": "u2", "pull_request": map[string]any{"url": "x"}},
			{"number": 3, "html_url": "u3", "pull_request": nil},
		})
	})

	data, err := f.reg.Execute(context.Background(), operation.ListIssues, repoInputs(map[string]any{"state": "closed"}))
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"number": 1, "url": "u1"},
		map[string]any{"number": 3, "url": "u3"},
	}, data["issues"])
}

func TestListPullRequestsDefaultsToOpen(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("GET /repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		assert.Equal(t, "30", r.URL.Query().Get("per_page"))
		writeJSON(w, 200, []map[string]any{{"number": 7, "html_url": "u7"}})
	})
	data, err := f.reg.Execute(context.Background(), operation.ListPullRequests, repoInputs(nil))
	require.NoError(t, err)
	assert.Len(t, data["pull_requests"], 1)
}

func TestGetIssueRejectsPullRequest(t *testing.T) {
	f := newFixture(t)
	f.json("GET /repos/acme/widgets/issues/5", 200, map[string]any{"number": 5, "pull_request": map[string]any{}})
	_, err := f.reg.Execute(context.Background(), operation.GetIssue, repoInputs(map[string]any{"number": float64(5)}))
	assert.Equal(t, safeerr.UserInput, safeerr.KindOf(err))
}

func TestGetIssue(t *testing.T) {
	f := newFixture(t)
	f.json("GET /repos/acme/widgets/issues/4", 200, map[string]any{
		"number": 4, "node_id": "I_4", "title": "Bug", "state": "open", "html_url": "u4",
		"labels": []map[string]any{{"name": "bug"}}, "assignees": []map[string]any{{"login": "octo"}},
	})
	data, err := f.reg.Execute(context.Background(), operation.GetIssue, repoInputs(map[string]any{"number": float64(4)}))
	require.NoError(t, err)
	assert.Equal(t, "I_4", data["node_id"])
	assert.Equal(t, []string{"bug"}, data["labels"])
	assert.Equal(t, []string{"octo"}, data["assignees"])
}

func TestCreateBranchResolvesBaseBranch(t *testing.T) {
	f := newFixture(t)
	f.json("GET /repos/acme/widgets/git/ref/heads/main", 200, map[string]any{"ref": "refs/heads/main", "object": map[string]any{"sha": "base-sha"}})
	f.mux.HandleFunc("POST /repos/acme/widgets/git/refs", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "refs/heads/feature/x", body["ref"])
		assert.Equal(t, "base-sha", body["sha"])
		writeJSON(w, 201, map[string]any{"ref": "refs/heads/feature/x", "object": map[string]any{"sha": "base-sha"}})
	})

	data, err := f.reg.Execute(context.Background(), operation.CreateBranch,
		repoInputs(map[string]any{"base": "main", "branch": "feature/x"}))
	require.NoError(t, err)
	assert.Equal(t, "base-sha", data["sha"])
}

func TestCreateBranchFromSHA(t *testing.T) {
	f := newFixture(t)
	f.json("GET /repos/acme/widgets/git/ref/heads/0a1b2c3d", 404, map[string]any{"message": "Not Found"})
	var got any
	f.mux.HandleFunc("POST /repos/acme/widgets/git/refs", func(w http.ResponseWriter, r *http.Request) {
		got = decodeBody(t, r)["sha"]
		writeJSON(w, 201, map[string]any{"ref": "refs/heads/b"})
	})
	_, err := f.reg.Execute(context.Background(), operation.CreateBranch,
		repoInputs(map[string]any{"base": "0a1b2c3d", "branch": "b"}))
	require.NoError(t, err)
	assert.Equal(t, "0a1b2c3d", got)
}

func TestCreateBranchAlreadyExists(t *testing.T) {
	f := newFixture(t)
	f.json("GET /repos/acme/widgets/git/ref/heads/main", 200, map[string]any{"object": map[string]any{"sha": "s"}})
	f.json("POST /repos/acme/widgets/git/refs", 422, map[string]any{"message": "Reference already exists"})

	_, err := f.reg.Execute(context.Background(), operation.CreateBranch,
		repoInputs(map[string]any{"base": "main", "branch": "b"}))
	se, ok := safeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, safeerr.UserInput, se.Kind)
	assert.Equal(t, "branch already exists", se.Message)
}

func commitInputs() map[string]any {
	return repoInputs(map[string]any{
		"branch":  "feature/x",
		"message": "update docs",
		"changes": []any{
			map[string]any{"path": "a.txt", "action": "upsert", "content": "hi"},
			map[string]any{"path": "b.bin", "action": "upsert", "content": base64.StdEncoding.EncodeToString([]byte("yo")), "encoding": "base64"},
			map[string]any{"path": "old.txt", "action": "delete"},
		},
	})
}

func TestCommitChanges(t *testing.T) {
	f := newFixture(t)
	f.json("GET /repos/acme/widgets/git/ref/heads/feature/x", 200, map[string]any{"object": map[string]any{"sha": "head"}})
	f.json("GET /repos/acme/widgets/git/commits/head", 200, map[string]any{"sha": "head", "tree": map[string]any{"sha": "tree0"}})

	var blobs []string
	f.mux.HandleFunc("POST /repos/acme/widgets/git/blobs", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "base64", body["encoding"])
		raw, _ := base64.StdEncoding.DecodeString(body["content"].(string))
		blobs = append(blobs, string(raw))
		writeJSON(w, 201, map[string]any{"sha": "blob-" + string(raw)})
	})

	var tree map[string]any
	f.mux.HandleFunc("POST /repos/acme/widgets/git/trees", func(w http.ResponseWriter, r *http.Request) {
		tree = decodeBody(t, r)
		writeJSON(w, 201, map[string]any{"sha": "tree1"})
	})

	f.mux.HandleFunc("POST /repos/acme/widgets/git/commits", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "tree1", body["tree"])
		assert.Equal(t, []any{"head"}, body["parents"])
		writeJSON(w, 201, map[string]any{"sha": "commit1", "html_url": "cu"})
	})

	var ref map[string]any
	f.mux.HandleFunc("PATCH /repos/acme/widgets/git/refs/heads/feature/x", func(w http.ResponseWriter, r *http.Request) {
		ref = decodeBody(t, r)
		writeJSON(w, 200, map[string]any{})
	})

	data, err := f.reg.Execute(context.Background(), operation.CommitChanges, commitInputs())
	require.NoError(t, err)
	assert.Equal(t, "commit1", data["commit_sha"])
	assert.Equal(t, 3, data["files"])

	assert.Equal(t, []string{"hi", "yo"}, blobs)
	assert.Equal(t, "tree0", tree["base_tree"])
	entries := tree["tree"].([]any)
	require.Len(t, entries, 3)
	del := entries[2].(map[string]any)
	assert.Equal(t, "old.txt", del["path"])
	v, present := del["sha"]
	assert.True(t, present)
	assert.Nil(t, v, "deletions carry sha null")

	assert.Equal(t, "commit1", ref["sha"])
	assert.Equal(t, false, ref["force"])
}

func TestCommitChangesReportsStage(t *testing.T) {
	f := newFixture(t)
	f.json("GET /repos/acme/widgets/git/ref/heads/feature/x", 200, map[string]any{"object": map[string]any{"sha": "head"}})
	f.json("GET /repos/acme/widgets/git/commits/head", 200, map[string]any{"tree": map[string]any{"sha": "tree0"}})
	f.json("POST /repos/acme/widgets/git/blobs", 201, map[string]any{"sha": "b"})
	f.json("POST /repos/acme/widgets/git/trees", 500, map[string]any{"message": "boom"})

	_, err := f.reg.Execute(context.Background(), operation.CommitChanges, commitInputs())
	require.Error(t, err)
	op, st, ok := StageOf(err)
	require.True(t, ok)
	assert.Equal(t, operation.CommitChanges, op)
	assert.Equal(t, StageCreateTree, st)
	assert.True(t, github.IsServerError(err))
}

func TestCommitChangesMissingBranch(t *testing.T) {
	f := newFixture(t)
	f.json("GET /repos/acme/widgets/git/ref/heads/feature/x", 404, map[string]any{"message": "Not Found"})
	_, err := f.reg.Execute(context.Background(), operation.CommitChanges, commitInputs())
	_, st, _ := StageOf(err)
	assert.Equal(t, StageGetRef, st)
	assert.True(t, github.IsNotFound(err))
}

func TestOpenPullRequest(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("POST /repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, true, body["draft"])
		assert.NotContains(t, body, "body")
		writeJSON(w, 201, map[string]any{"number": 12, "html_url": "pu"})
	})
	data, err := f.reg.Execute(context.Background(), operation.OpenPullRequest,
		repoInputs(map[string]any{"title": "t", "head": "feature/x", "base": "main", "draft": true}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"number": 12, "url": "pu"}, data)
}

func TestCommentOnIssue(t *testing.T) {
	f := newFixture(t)
	f.json("POST /repos/acme/widgets/issues/3/comments", 201, map[string]any{"id": 77, "html_url": "cu"})
	data, err := f.reg.Execute(context.Background(), operation.CommentOnIssue,
		repoInputs(map[string]any{"issue_number": float64(3), "body": "thanks"}))
	require.NoError(t, err)
	assert.Equal(t, int64(77), data["id"])
}

func TestCreateIssueSendsOptionalFields(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("POST /repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "t", body["title"])
		assert.Equal(t, []any{"bug"}, body["labels"])
		assert.Equal(t, float64(2), body["milestone"])
		assert.NotContains(t, body, "assignees")
		writeJSON(w, 201, map[string]any{"number": 9, "node_id": "I_9", "html_url": "iu"})
	})
	data, err := f.reg.Execute(context.Background(), operation.CreateIssue,
		repoInputs(map[string]any{"title": "t", "labels": []any{"bug"}, "milestone": float64(2)}))
	require.NoError(t, err)
	assert.Equal(t, "I_9", data["node_id"])
}

func TestUpdateIssue(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("PATCH /repos/acme/widgets/issues/4", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, map[string]any{"state": "closed"}, decodeBody(t, r))
		writeJSON(w, 200, map[string]any{"number": 4, "state": "closed", "html_url": "iu"})
	})
	data, err := f.reg.Execute(context.Background(), operation.UpdateIssue,
		repoInputs(map[string]any{"number": float64(4), "state": "closed"}))
	require.NoError(t, err)
	assert.Equal(t, "closed", data["state"])

	_, err = f.reg.Execute(context.Background(), operation.UpdateIssue, repoInputs(map[string]any{"number": float64(4)}))
	assert.Equal(t, safeerr.UserInput, safeerr.KindOf(err))
}

func TestUnauthorizedInvalidatesCredential(t *testing.T) {
	f := newFixture(t)
	f.json("GET /repos/acme/widgets", 401, map[string]any{"message": "Bad credentials"})
	_, err := f.reg.Execute(context.Background(), operation.GetRepository, repoInputs(nil))
	require.Error(t, err)
	assert.Equal(t, int32(1), f.inv.n.Load())
}

// graphql routes queries by a distinguishing substring.
func (f *fixture) graphql(t *testing.T, routes map[string]any) {
	f.mux.HandleFunc("POST /graphql", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		for key, resp := range routes {
			if strings.Contains(req.Query, key) {
				if fn, ok := resp.(func(map[string]any) any); ok {
					resp = fn(req.Variables)
				}
				writeJSON(w, 200, resp)
				return
			}
		}
		t.Errorf("unexpected query: %s", req.Query)
		writeJSON(w, 200, map[string]any{"errors": []any{map[string]any{"message": "unexpected"}}})
	})
}

func projectInputs(extra map[string]any) map[string]any {
	in := map[string]any{"owner_login": "acme", "project_number": float64(3), "project_id": "PVT_3"}
	for k, v := range extra {
		in[k] = v
	}
	return in
}

var ownedProject = map[string]any{"data": map[string]any{"node": map[string]any{
	"id": "PVT_3", "number": 3, "owner": map[string]any{"login": "Acme"},
}}}

func TestGetProjectByNumber(t *testing.T) {
	f := newFixture(t)
	f.graphql(t, map[string]any{"repositoryOwner": func(vars map[string]any) any {
		assert.Equal(t, "acme", vars["login"])
		assert.Equal(t, float64(3), vars["number"])
		return map[string]any{"data": map[string]any{"repositoryOwner": map[string]any{
			"projectV2": map[string]any{"id": "PVT_3", "number": 3, "title": "Roadmap"},
		}}}
	}})
	data, err := f.reg.Execute(context.Background(), operation.GetProjectByNumber,
		map[string]any{"owner_login": "acme", "project_number": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, "PVT_3", data["project_id"])
}

func TestGetProjectByNumberMissing(t *testing.T) {
	f := newFixture(t)
	f.graphql(t, map[string]any{"repositoryOwner": map[string]any{"data": map[string]any{"repositoryOwner": map[string]any{"projectV2": nil}}}})
	_, err := f.reg.Execute(context.Background(), operation.GetProjectByNumber,
		map[string]any{"owner_login": "acme", "project_number": float64(3)})
	assert.Equal(t, safeerr.NotFound, safeerr.KindOf(err))
}

func TestProjectIDMustBelongToTarget(t *testing.T) {
	f := newFixture(t)
	f.graphql(t, map[string]any{"owner {": map[string]any{"data": map[string]any{"node": map[string]any{
		"id": "PVT_9", "number": 9, "owner": map[string]any{"login": "other"},
	}}}})
	_, err := f.reg.Execute(context.Background(), operation.ListProjectFields, projectInputs(nil))
	se, ok := safeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, safeerr.Forbidden, se.Kind)
}

func TestListProjectFields(t *testing.T) {
	f := newFixture(t)
	f.graphql(t, map[string]any{
		"owner {": ownedProject,
		"fields(": map[string]any{"data": map[string]any{"node": map[string]any{"fields": map[string]any{"nodes": []any{
			map[string]any{"id": "F1", "name": "Title", "dataType": "TITLE"},
			map[string]any{"id": "F2", "name": "Status", "dataType": "SINGLE_SELECT", "options": []any{map[string]any{"id": "o1", "name": "Todo"}}},
			map[string]any{},
		}}}}},
	})
	data, err := f.reg.Execute(context.Background(), operation.ListProjectFields, projectInputs(nil))
	require.NoError(t, err)
	fields := data["fields"].([]any)
	require.Len(t, fields, 2)
	assert.Contains(t, fields[1], "options")
}

func TestListProjectItemsFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	item := func(id, option string) any {
		return map[string]any{
			"id": id, "type": "ISSUE",
			"content": map[string]any{"id": "I_" + id, "number": 1, "title": "t", "url": "u"},
			"fieldValues": map[string]any{"nodes": []any{
				map[string]any{"name": "x", "optionId": option, "field": map[string]any{"id": "F2", "name": "Status"}},
			}},
		}
	}
	f.graphql(t, map[string]any{
		"owner {": ownedProject,
		"items(": func(vars map[string]any) any {
			assert.Equal(t, float64(operation.DefaultPageSize), vars["first"])
			assert.Equal(t, "cur", vars["after"])
			return map[string]any{"data": map[string]any{"node": map[string]any{"items": map[string]any{
				"pageInfo": map[string]any{"hasNextPage": true, "endCursor": "next"},
				"nodes":    []any{item("A", "todo"), item("B", "done")},
			}}}}
		},
	})
	data, err := f.reg.Execute(context.Background(), operation.ListProjectItems,
		projectInputs(map[string]any{"after_cursor": "cur", "status_option_id": "done"}))
	require.NoError(t, err)
	items := data["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "B", items[0].(map[string]any)["item_id"])
	assert.Equal(t, map[string]any{"has_next_page": true, "end_cursor": "next"}, data["page_info"])
}

func TestGetProjectItemFromOtherProject(t *testing.T) {
	f := newFixture(t)
	f.graphql(t, map[string]any{
		"owner {":       ownedProject,
		"ProjectV2Item": map[string]any{"data": map[string]any{"node": map[string]any{"id": "ITEM", "project": map[string]any{"id": "PVT_other"}}}},
	})
	_, err := f.reg.Execute(context.Background(), operation.GetProjectItem, projectInputs(map[string]any{"item_id": "ITEM"}))
	assert.Equal(t, safeerr.Forbidden, safeerr.KindOf(err))
}

func TestSetProjectItemField(t *testing.T) {
	f := newFixture(t)
	f.graphql(t, map[string]any{
		"owner {": ownedProject,
		"updateProjectV2ItemFieldValue": func(vars map[string]any) any {
			assert.Equal(t, "PVT_3", vars["project"])
			assert.Equal(t, "opt", vars["option"])
			return map[string]any{"data": map[string]any{"updateProjectV2ItemFieldValue": map[string]any{"projectV2Item": map[string]any{"id": "ITEM"}}}}
		},
	})
	data, err := f.reg.Execute(context.Background(), operation.SetProjectItemStatus,
		projectInputs(map[string]any{"item_id": "ITEM", "field_id": "F2", "single_select_option_id": "opt"}))
	require.NoError(t, err)
	assert.Equal(t, "ITEM", data["item_id"])
}

func TestAddIssueToProjectGraphQLNotFound(t *testing.T) {
	f := newFixture(t)
	f.graphql(t, map[string]any{
		"owner {": ownedProject,
		"addProjectV2ItemById": map[string]any{"errors": []any{map[string]any{"type": "NOT_FOUND", "message": "Could not resolve to a node"}}},
	})
	_, err := f.reg.Execute(context.Background(), operation.AddIssueToProject, projectInputs(map[string]any{"issue_node_id": "I_x"}))
	require.Error(t, err)
	assert.True(t, github.IsNotFound(err))
	_, st, _ := StageOf(err)
	assert.Equal(t, "add_item", st)
}
