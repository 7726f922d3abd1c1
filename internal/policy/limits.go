package policy

import (
	"encoding/base64"
	"strconv"
	"unicode/utf8"

	"github.com/ppiankov/repogate/internal/config"
	"github.com/ppiankov/repogate/internal/operation"
	"github.com/ppiankov/repogate/internal/safeerr"
)

func limitDenial(id, reason string) (Decision, bool) {
	return deny("limits."+id, safeerr.UserInput, reason), true
}

func checkLimits(op string, inputs map[string]any, l config.Limits) (Decision, bool) {
	switch op {
	case operation.CommitChanges:
		return checkCommit(inputs, l)
	case operation.CreateIssue, operation.UpdateIssue:
		if s, ok := operation.String(inputs, "title"); ok && len(s) > l.IssueTitleMaxBytes {
			return limitDenial("issue_title", "issue title exceeds "+strconv.Itoa(l.IssueTitleMaxBytes)+" bytes")
		}
		if s, ok := operation.String(inputs, "body"); ok && len(s) > l.IssueBodyMaxBytes {
			return limitDenial("issue_body", "issue body exceeds "+strconv.Itoa(l.IssueBodyMaxBytes)+" bytes")
		}
	case operation.CommentOnIssue:
		if s, ok := operation.String(inputs, "body"); ok && len(s) > l.CommentMaxBytes {
			return limitDenial("comment_body", "comment body exceeds "+strconv.Itoa(l.CommentMaxBytes)+" bytes")
		}
	}
	return Decision{}, false
}

func checkCommit(inputs map[string]any, l config.Limits) (Decision, bool) {
	changes, ok := inputs["changes"].([]any)
	if !ok || len(changes) == 0 {
		return limitDenial("commit_shape", "changes must be a non-empty array")
	}
	if len(changes) > l.CommitMaxFiles {
		return limitDenial("commit_files", "too many files in commit (max "+strconv.Itoa(l.CommitMaxFiles)+")")
	}

	total := 0
	for _, c := range changes {
		change, ok := c.(map[string]any)
		if !ok {
			return limitDenial("commit_shape", "each change must be an object")
		}
		action, _ := operation.String(change, "action")
		if action == "delete" {
			continue
		}
		if action != "upsert" {
			return limitDenial("commit_shape", "change action must be upsert or delete")
		}
		if _, ok := operation.String(change, "content"); !ok {
			return limitDenial("commit_shape", "upsert requires content")
		}
		raw, err := DecodeContent(change)
		if err != nil {
			return limitDenial("commit_encoding", err.Error())
		}
		if len(raw) > l.CommitMaxFileBytes {
			return limitDenial("commit_file_bytes", "file content exceeds "+strconv.Itoa(l.CommitMaxFileBytes)+" bytes")
		}
		total += len(raw)
		if total > l.CommitMaxTotalBytes {
			return limitDenial("commit_total_bytes", "total commit content exceeds "+strconv.Itoa(l.CommitMaxTotalBytes)+" bytes")
		}
		if !utf8.Valid(raw) {
			return limitDenial("commit_encoding", "binary file content is not supported")
		}
	}
	return Decision{}, false
}

// ContentError reports an undecodable change.
type ContentError struct{ msg string }

func (e *ContentError) Error() string { return e.msg }

// DecodeContent returns the bytes of an upsert change, honouring its
// encoding (utf-8 when absent).
func DecodeContent(change map[string]any) ([]byte, error) {
	content, _ := operation.String(change, "content")
	encoding, ok := operation.String(change, "encoding")
	if !ok || encoding == "" {
		encoding = "utf-8"
	}
	switch encoding {
	case "utf-8":
		return []byte(content), nil
	case "base64":
		raw, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, &ContentError{msg: "invalid base64 content"}
		}
		return raw, nil
	}
	return nil, &ContentError{msg: "unsupported encoding"}
}
