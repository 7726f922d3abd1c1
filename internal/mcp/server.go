package mcp

import (
	"context"
	"errors"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/repogate/internal/dispatch"
	"github.com/ppiankov/repogate/internal/operation"
)

// Resource URIs.
const (
	CapabilitiesURI = "repogate://capabilities"
	StatusURI       = "repogate://server-status"
)

// CheckTool evaluates an operation request without executing it.
const CheckTool = "repogate_check"

// Dispatcher runs operation requests.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Envelope
	Check(ctx context.Context, req dispatch.Request) dispatch.Envelope
}

// Config holds MCP server configuration.
type Config struct {
	Version string
	// Operations are the enabled operation names; each becomes a tool.
	Operations   []string
	Dispatcher   Dispatcher
	Capabilities Capabilities
	// Status reports live server state for the status resource.
	Status func() any
	Logger *slog.Logger
}

// Server exposes the operation catalog as MCP tools.
type Server struct {
	mcpServer    *mcpsdk.Server
	dispatcher   Dispatcher
	capabilities Capabilities
	status       func() any
	log          *slog.Logger
}

// New creates an MCP server with one tool per enabled operation.
func New(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("mcp: dispatcher is required")
	}
	s := &Server{
		dispatcher:   cfg.Dispatcher,
		capabilities: cfg.Capabilities,
		status:       cfg.Status,
		log:          cfg.Logger,
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.status == nil {
		s.status = func() any { return map[string]any{} }
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "repogate",
			Version: version,
		},
		nil,
	)

	for _, name := range cfg.Operations {
		spec, ok := operation.Lookup(name)
		if !ok {
			return nil, errors.New("mcp: unknown operation " + name)
		}
		s.mcpServer.AddTool(toolFor(spec), s.operationHandler(spec.Name))
	}
	s.mcpServer.AddTool(checkTool(), s.handleCheck)
	s.registerResources()
	return s, nil
}

// Run serves on stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Connect serves a single session over t.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcpsdk.Resource{
		URI:         CapabilitiesURI,
		Name:        "capabilities",
		Description: "Enabled operations and the write policy applied to them.",
		MIMEType:    "application/json",
	}, s.handleCapabilities)

	s.mcpServer.AddResource(&mcpsdk.Resource{
		URI:         StatusURI,
		Name:        "server-status",
		Description: "Credential cache state and audit counters.",
		MIMEType:    "application/json",
	}, s.handleStatus)
}
