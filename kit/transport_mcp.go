package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPRequest is what a tool's decode step hands back: the typed payload for
// the endpoint plus an optional context decorator (trace IDs, source scoping)
// applied before the endpoint runs.
type MCPRequest struct {
	Payload any
	WithCtx func(context.Context) context.Context
}

// toolFailure reports err inside the tool result. A failed harvest or trends
// call must not surface as a protocol error and tear down the session.
func toolFailure(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

// RegisterMCPTool exposes an Endpoint as an MCP tool on srv. decode turns the
// raw call into an MCPRequest; the endpoint's response is marshaled into a
// single JSON text content block.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(*mcp.CallToolRequest) (*MCPRequest, error)) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req, err := decode(call)
		if err != nil {
			return toolFailure(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		if req.WithCtx != nil {
			ctx = req.WithCtx(ctx)
		}

		resp, err := endpoint(ctx, req.Payload)
		if err != nil {
			return toolFailure(err), nil
		}

		body, err := json.Marshal(resp)
		if err != nil {
			return toolFailure(fmt.Errorf("encode response: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
		}, nil
	})
}
