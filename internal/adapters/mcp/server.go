// Package mcpadapter exposes agent toolsets to MCP clients.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/finance-agent-router/internal/core/tool"
)

const serverName = "finance-agent-router"

// NewServer registers every tool of every toolset, named
// "<namespace>_<tool>" so agents with identical tool names can coexist.
func NewServer(version string, toolsets []*tool.ToolSet) (*server.MCPServer, error) {
	srv := server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	seen := make(map[string]struct{})
	for _, set := range toolsets {
		if set == nil {
			continue
		}
		for _, name := range set.Names() {
			t, _ := set.Get(name)
			exposed := exposedName(set.Namespace(), name)
			if _, dup := seen[exposed]; dup {
				return nil, fmt.Errorf("mcp tool %s registered twice", exposed)
			}
			seen[exposed] = struct{}{}

			entry, err := toMCPTool(exposed, t)
			if err != nil {
				return nil, err
			}
			srv.AddTool(entry, callHandler(exposed, t))
		}
	}
	slog.Info("mcp_tools_registered", "count", len(seen))
	return srv, nil
}

func exposedName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "_" + name
}

func toMCPTool(name string, t *tool.Tool) (mcp.Tool, error) {
	params, err := json.Marshal(t.Schema().Function.Parameters)
	if err != nil {
		return mcp.Tool{}, fmt.Errorf("encode %s schema: %w", name, err)
	}
	return mcp.NewToolWithRawSchema(name, t.Description(), params), nil
}

// callHandler reports tool failures as error results so the client model can
// read them, the same way planners see them as observations.
func callHandler(name string, t *tool.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		out, err := t.Execute(ctx, args)
		if err != nil {
			slog.Warn("mcp_tool_failed", "tool", name, "error", err.Error())
			return mcp.NewToolResultError(fmt.Sprintf("Error during tool call: %v", err)), nil
		}
		payload, err := json.Marshal(out)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}
