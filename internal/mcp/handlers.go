package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/repogate/internal/dispatch"
)

var errNotObject = errors.New("arguments are not a JSON object")

// decodeArguments accepts an absent or null argument list as empty.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	if raw[0] != '{' {
		return nil, errNotObject
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func arguments(req *mcpsdk.CallToolRequest) json.RawMessage {
	if req == nil || req.Params == nil {
		return nil
	}
	return req.Params.Arguments
}

func (s *Server) operationHandler(op string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		inputs, err := decodeArguments(arguments(req))
		env := s.dispatcher.Dispatch(ctx, dispatch.Request{Operation: op, Inputs: inputs, DecodeErr: err})
		return result(env), nil
	}
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	args, err := decodeArguments(arguments(req))
	var r dispatch.Request
	if err != nil {
		r.DecodeErr = err
	} else {
		r.Operation, _ = args["operation"].(string)
		switch in := args["inputs"].(type) {
		case map[string]any:
			r.Inputs = in
		case nil:
		default:
			r.DecodeErr = errNotObject
		}
	}
	return result(s.dispatcher.Check(ctx, r)), nil
}

// result wraps an envelope. Failures are tool errors, not protocol
// errors, so the caller always sees the correlation id.
func result(env dispatch.Envelope) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(env.JSON())}},
		IsError: !env.OK,
	}
}

func (s *Server) handleCapabilities(_ context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	return jsonResource(req.Params.URI, s.capabilities)
}

func (s *Server) handleStatus(_ context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	return jsonResource(req.Params.URI, s.status())
}

func jsonResource(uri string, v any) (*mcpsdk.ReadResourceResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcpsdk.ReadResourceResult{
		Contents: []*mcpsdk.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		}},
	}, nil
}
