package platewatch

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/plates/kit"
)

// RegisterMCP registers the platewatch tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	eps := s.buildEndpoints()

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "platewatch_status",
		Description: "Poller phase, session state, counters and the last accepted snapshot.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, eps.status, kit.DecodeJSON[struct{}]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "platewatch_dispatches",
		Description: "Recent records sent downstream, newest first, with how make and model were obtained.",
		InputSchema: inputSchema(map[string]any{
			"plate": map[string]any{"type": "string", "description": "Restrict to one plate"},
			"limit": map[string]any{"type": "integer", "description": "Max results (default 20)"},
		}, nil),
	}, eps.dispatches, kit.DecodeJSON[DispatchesRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "platewatch_snapshots",
		Description: "Recent accepted snapshots, newest first, without their rows.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max results (default 20)"},
		}, nil),
	}, eps.snapshots, kit.DecodeJSON[SnapshotsRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "platewatch_snapshot",
		Description: "One stored snapshot with all its rows.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Snapshot ID"},
		}, []string{"id"}),
	}, eps.snapshot, kit.DecodeJSON[SnapshotRequest]())
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
