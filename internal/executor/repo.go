package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/repogate/internal/github"
	"github.com/ppiankov/repogate/internal/safeerr"
)

type repository struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
	HTMLURL       string `json:"html_url"`
}

func fetchRepository(ctx context.Context, x *Exec, owner, repo string) (repository, error) {
	var r repository
	err := x.API.Do(ctx, http.MethodGet, github.RepoPath(owner, repo), nil, &r)
	return r, err
}

func getRepository(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	r, err := fetchRepository(ctx, x, in.str("owner"), in.str("repo"))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"full_name":      r.FullName,
		"default_branch": r.DefaultBranch,
		"private":        r.Private,
		"url":            r.HTMLURL,
	}, nil
}

func listBranches(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	owner, repo := in.str("owner"), in.str("repo")
	r, err := fetchRepository(ctx, x, owner, repo)
	if err != nil {
		return nil, err
	}
	var branches []struct {
		Name string `json:"name"`
	}
	if err := x.API.Do(ctx, http.MethodGet, github.RepoPath(owner, repo, "/branches?per_page=100"), nil, &branches); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(branches))
	for _, b := range branches {
		names = append(names, b.Name)
	}
	return map[string]any{
		"default_branch": r.DefaultBranch,
		"branches":       names,
	}, nil
}

type contentEntry struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Size     int    `json:"size"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
}

func getFile(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	path := github.RepoPath(in.str("owner"), in.str("repo"), "/contents/", github.EscapePath(in.str("path")))
	if ref, ok := in.optStr("ref"); ok && ref != "" {
		path += "?ref=" + url.QueryEscape(ref)
	}

	var raw json.RawMessage
	if err := x.API.Do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
		return nil, safeerr.New(safeerr.UserInput, "path is a directory, not a file")
	}
	var entry contentEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	if entry.Type != "file" {
		return nil, safeerr.New(safeerr.UserInput, "path is not a file")
	}

	limit := x.Limits.GetFileMaxBytes
	tooLarge := safeerr.New(safeerr.UserInput, "file exceeds "+strconv.Itoa(limit)+" bytes")
	if entry.Size > limit {
		return nil, tooLarge
	}
	if entry.Encoding != "base64" {
		return nil, safeerr.New(safeerr.UserInput, "file content is not available inline")
	}
	decoded, err := base64.StdEncoding.DecodeString(stripNewlines(entry.Content))
	if err != nil {
		return nil, safeerr.Wrap(safeerr.Internal, "file content could not be decoded", err)
	}
	if len(decoded) > limit {
		return nil, tooLarge
	}
	if !utf8.Valid(decoded) {
		return nil, safeerr.New(safeerr.UserInput, "file is not valid UTF-8 text")
	}
	return map[string]any{
		"path":    entry.Path,
		"sha":     entry.SHA,
		"size":    len(decoded),
		"content": string(decoded),
	}, nil
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

type numbered struct {
	Number      int             `json:"number"`
	HTMLURL     string          `json:"html_url"`
	PullRequest json.RawMessage `json:"pull_request,omitempty"`
}

func (n numbered) isPullRequest() bool {
	return len(n.PullRequest) > 0 && string(n.PullRequest) != "null"
}

func listQuery(in args) string {
	state := "open"
	if s, ok := in.optStr("state"); ok && s != "" {
		state = s
	}
	return "?state=" + url.QueryEscape(state) + "&per_page=30"
}

func listPullRequests(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	var prs []numbered
	path := github.RepoPath(in.str("owner"), in.str("repo"), "/pulls", listQuery(in))
	if err := x.API.Do(ctx, http.MethodGet, path, nil, &prs); err != nil {
		return nil, err
	}
	out := make([]any, 0, len(prs))
	for _, pr := range prs {
		out = append(out, map[string]any{"number": pr.Number, "url": pr.HTMLURL})
	}
	return map[string]any{"pull_requests": out}, nil
}

func listIssues(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	var issues []numbered
	path := github.RepoPath(in.str("owner"), in.str("repo"), "/issues", listQuery(in))
	if err := x.API.Do(ctx, http.MethodGet, path, nil, &issues); err != nil {
		return nil, err
	}
	out := make([]any, 0, len(issues))
	for _, is := range issues {
		if is.isPullRequest() {
			continue
		}
		out = append(out, map[string]any{"number": is.Number, "url": is.HTMLURL})
	}
	return map[string]any{"issues": out}, nil
}

type issue struct {
	numbered
	NodeID string `json:"node_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
}

func (is issue) data() map[string]any {
	labels := make([]string, 0, len(is.Labels))
	for _, l := range is.Labels {
		labels = append(labels, l.Name)
	}
	assignees := make([]string, 0, len(is.Assignees))
	for _, a := range is.Assignees {
		assignees = append(assignees, a.Login)
	}
	return map[string]any{
		"number":    is.Number,
		"node_id":   is.NodeID,
		"title":     is.Title,
		"body":      is.Body,
		"state":     is.State,
		"labels":    labels,
		"assignees": assignees,
		"url":       is.HTMLURL,
	}
}

func issuePath(in args, key string) string {
	return github.RepoPath(in.str("owner"), in.str("repo"), "/issues/", strconv.Itoa(in.int(key)))
}

func getIssue(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	var is issue
	if err := x.API.Do(ctx, http.MethodGet, issuePath(in, "number"), nil, &is); err != nil {
		return nil, err
	}
	if is.isPullRequest() {
		return nil, safeerr.New(safeerr.UserInput, "number refers to a pull request, not an issue")
	}
	return is.data(), nil
}
