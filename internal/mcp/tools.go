package mcp

import (
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/repogate/internal/config"
	"github.com/ppiankov/repogate/internal/operation"
)

func toolFor(spec operation.Spec) *mcpsdk.Tool {
	desc := spec.Description
	if spec.Write {
		desc += " Write operation; subject to allowlist and protected-branch policy."
	}
	return &mcpsdk.Tool{
		Name:        spec.Name,
		Description: desc,
		InputSchema: spec.Schema,
		Annotations: &mcpsdk.ToolAnnotations{
			ReadOnlyHint:    !spec.Write,
			DestructiveHint: boolPtr(false),
			OpenWorldHint:   boolPtr(true),
		},
	}
}

var checkSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"operation": {"type": "string", "minLength": 1},
		"inputs": {"type": "object"}
	},
	"required": ["operation"],
	"additionalProperties": false
}`)

func checkTool() *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        CheckTool,
		Description: "Check whether an operation would be allowed by policy without executing it (dry run).",
		InputSchema: checkSchema,
		Annotations: &mcpsdk.ToolAnnotations{ReadOnlyHint: true},
	}
}

// Capabilities is the document served at CapabilitiesURI. It carries
// counts rather than allowlist entries or patterns.
type Capabilities struct {
	Operations               []OperationInfo `json:"operations"`
	Limits                   LimitsInfo      `json:"limits"`
	PROnly                   bool            `json:"prOnly"`
	ProtectedBranchCount     int             `json:"protectedBranchPatterns"`
	RepoAllowlistCount       int             `json:"repoAllowlistEntries"`
	RepoAllowlistWildcard    bool            `json:"repoAllowlistWildcard"`
	ProjectAllowlistCount    int             `json:"projectAllowlistEntries"`
	ProjectAllowlistWildcard bool            `json:"projectAllowlistWildcard"`
}

// OperationInfo describes one enabled operation.
type OperationInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Scope       string `json:"scope"`
	Write       bool   `json:"write"`
}

// LimitsInfo is the caller-relevant subset of config.Limits.
type LimitsInfo struct {
	MaxRequestDurationMs int64 `json:"maxRequestDurationMs"`
	CommitMaxFiles       int   `json:"commitMaxFiles"`
	CommitMaxFileBytes   int   `json:"commitMaxFileBytes"`
	CommitMaxTotalBytes  int   `json:"commitMaxTotalBytes"`
	GetFileMaxBytes      int   `json:"getFileMaxBytes"`
	IssueTitleMaxBytes   int   `json:"issueTitleMaxBytes"`
	IssueBodyMaxBytes    int   `json:"issueBodyMaxBytes"`
	CommentMaxBytes      int   `json:"commentMaxBytes"`
}

// BuildCapabilities describes the operations enabled in cfg.
func BuildCapabilities(cfg *config.Config) Capabilities {
	names := cfg.Operations()
	l := cfg.Limits()
	c := Capabilities{
		Operations: make([]OperationInfo, 0, len(names)),
		Limits: LimitsInfo{
			MaxRequestDurationMs: l.MaxRequestDuration.Milliseconds(),
			CommitMaxFiles:       l.CommitMaxFiles,
			CommitMaxFileBytes:   l.CommitMaxFileBytes,
			CommitMaxTotalBytes:  l.CommitMaxTotalBytes,
			GetFileMaxBytes:      l.GetFileMaxBytes,
			IssueTitleMaxBytes:   l.IssueTitleMaxBytes,
			IssueBodyMaxBytes:    l.IssueBodyMaxBytes,
			CommentMaxBytes:      l.CommentMaxBytes,
		},
		PROnly:                   cfg.PROnly(),
		ProtectedBranchCount:     len(cfg.ProtectedBranches()),
		RepoAllowlistCount:       cfg.Repos().Len(),
		RepoAllowlistWildcard:    cfg.Repos().Wildcard(),
		ProjectAllowlistCount:    cfg.Projects().Len(),
		ProjectAllowlistWildcard: cfg.Projects().Wildcard(),
	}
	for _, n := range names {
		spec, ok := operation.Lookup(n)
		if !ok {
			continue
		}
		c.Operations = append(c.Operations, OperationInfo{
			Name:        spec.Name,
			Description: spec.Description,
			Scope:       string(spec.Scope),
			Write:       spec.Write,
		})
	}
	return c
}

func boolPtr(b bool) *bool { return &b }
