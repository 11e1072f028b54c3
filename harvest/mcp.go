// CLAUDE:SUMMARY Registers harvest_run, trends_related, and suggest_complete MCP tools via kit.RegisterMCPTool.
package harvest

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/yangqingmang/find-demand-sub000/kit"
	"github.com/yangqingmang/find-demand-sub000/telemetry"
	"github.com/yangqingmang/find-demand-sub000/trends"
)

// RegisterMCP registers all harvesting tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerHarvestRun(srv)
	svc.registerTrendsRelated(srv)
	svc.registerSuggestComplete(srv)
}

// toolMetrics tags the call context for the MCP transport and counts
// calls and failures per tool.
func (svc *Service) toolMetrics(tool string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			ctx = kit.WithTransport(ctx, "mcp")
			ctx = kit.WithRequestID(ctx, svc.newID())
			svc.sink.IncrementCounter(telemetry.CounterToolCalls)
			resp, err := next(ctx, req)
			if err != nil {
				svc.sink.IncrementCounter(telemetry.CounterToolFailures)
				svc.sink.LogEvent("warn", "tool failed", map[string]any{"tool": tool, "error": err.Error()})
			}
			return resp, err
		}
	}
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (svc *Service) registerHarvestRun(srv *mcp.Server) {
	type req struct {
		Seeds   []string `json:"seeds"`
		Sources []string `json:"sources"`
	}

	tool := &mcp.Tool{
		Name:        "harvest_run",
		Description: "Harvest keyword demand signals for the given seed keywords across all sources",
		InputSchema: inputSchema(map[string]any{
			"seeds": map[string]any{
				"type": "array", "items": map[string]any{"type": "string"},
				"description": "Seed keywords to expand",
			},
			"sources": map[string]any{
				"type": "array", "items": map[string]any{"type": "string"},
				"description": "Restrict the run to these source names (optional)",
			},
		}, []string{"seeds"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.HarvestSources(ctx, p.Seeds, p.Sources)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPRequest, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPRequest{Payload: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(svc.toolMetrics("harvest_run"))(endpoint), decode)
}

func (svc *Service) registerTrendsRelated(srv *mcp.Server) {
	type req struct {
		Keyword string `json:"keyword"`
		Geo     string `json:"geo"`
		Time    string `json:"time"`
	}

	tool := &mcp.Tool{
		Name:        "trends_related",
		Description: "Fetch top and rising related queries for a keyword from the trends upstream",
		InputSchema: inputSchema(map[string]any{
			"keyword": map[string]any{"type": "string", "description": "Keyword to look up"},
			"geo":     map[string]any{"type": "string", "description": "Geo filter, e.g. US (optional)"},
			"time":    map[string]any{"type": "string", "description": "Window expression, e.g. 'today 12-m' (optional)"},
		}, []string{"keyword"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.trends.RelatedQueries(ctx, trends.ExploreRequest{
			Keywords: []string{p.Keyword},
			Geo:      p.Geo,
			Time:     p.Time,
		})
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPRequest, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPRequest{Payload: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(svc.toolMetrics("trends_related"))(endpoint), decode)
}

func (svc *Service) registerSuggestComplete(srv *mcp.Server) {
	type req struct {
		Keyword string `json:"keyword"`
	}

	tool := &mcp.Tool{
		Name:        "suggest_complete",
		Description: "Fetch autocomplete topic suggestions for a keyword",
		InputSchema: inputSchema(map[string]any{
			"keyword": map[string]any{"type": "string", "description": "Keyword to complete"},
		}, []string{"keyword"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.trends.Autocomplete(ctx, p.Keyword)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPRequest, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPRequest{Payload: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(svc.toolMetrics("suggest_complete"))(endpoint), decode)
}
