// Command mcp serves the agent toolsets of one project over MCP stdio.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/finance-agent-router/internal/adapters/mcp"
	"github.com/kirillkom/finance-agent-router/internal/bootstrap"
	"github.com/kirillkom/finance-agent-router/internal/config"
	"github.com/kirillkom/finance-agent-router/internal/observability/logging"
)

var version = "dev"

func main() {
	cfg := config.Load()
	// stdout carries the protocol, so logs go to stderr.
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel))

	if strings.TrimSpace(cfg.MCPProjectID) == "" {
		slog.Error("mcp_project_required", "env", "MCP_PROJECT_ID")
		os.Exit(2)
	}

	toolsets, err := bootstrap.Toolsets(cfg, cfg.MCPProjectID)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}

	srv, err := mcpadapter.NewServer(version, toolsets)
	if err != nil {
		slog.Error("mcp_server_failed", "error", err.Error())
		os.Exit(1)
	}
	if err := server.ServeStdio(srv); err != nil {
		slog.Error("mcp_serve_failed", "error", err.Error())
		os.Exit(1)
	}
}
