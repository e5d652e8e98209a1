package mcpadapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/finance-agent-router/internal/core/tool"
)

func monthTool(t *testing.T, fail bool) *tool.Tool {
	t.Helper()
	built, err := tool.New("balance", "Closing balance for a month.").
		Param(tool.String("month", "Month as YYYY-MM.")).
		Build(func(_ context.Context, _ any, args map[string]any) (any, error) {
			if fail {
				return nil, errors.New("ledger offline")
			}
			return map[string]any{"month": args["month"], "balance": 125.5}, nil
		})
	if err != nil {
		t.Fatalf("build tool: %v", err)
	}
	return built
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) != 1 {
		t.Fatalf("expected one content item, got %d", len(result.Content))
	}
	switch c := result.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	default:
		t.Fatalf("unexpected content %T", c)
		return ""
	}
}

func TestNewServerRejectsDuplicateNames(t *testing.T) {
	a := tool.NewToolSet("stripe")
	if err := a.Register(monthTool(t, false)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := NewServer("test", []*tool.ToolSet{a, nil}); err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if _, err := NewServer("test", []*tool.ToolSet{a, a}); err == nil {
		t.Fatalf("expected duplicate tool error")
	}
}

func TestCallHandlerReturnsJSON(t *testing.T) {
	handler := callHandler("stripe_balance", monthTool(t, false))

	req := mcp.CallToolRequest{}
	req.Params.Name = "stripe_balance"
	req.Params.Arguments = map[string]any{"month": "2025-06"}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result %s", resultText(t, result))
	}
	if text := resultText(t, result); !strings.Contains(text, `"balance":125.5`) || !strings.Contains(text, `"month":"2025-06"`) {
		t.Fatalf("unexpected payload %s", text)
	}
}

func TestCallHandlerSurfacesFailures(t *testing.T) {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"month": "2025-06"}

	result, err := callHandler("stripe_balance", monthTool(t, true))(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !result.IsError || !strings.Contains(resultText(t, result), "ledger offline") {
		t.Fatalf("expected error result, got %+v", result)
	}

	missing := mcp.CallToolRequest{}
	result, err = callHandler("stripe_balance", monthTool(t, false))(context.Background(), missing)
	if err != nil || !result.IsError {
		t.Fatalf("missing required argument must be an error result, got %+v %v", result, err)
	}
}

func TestExposedName(t *testing.T) {
	if got := exposedName("xero", "perform_search"); got != "xero_perform_search" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := exposedName("", "perform_search"); got != "perform_search" {
		t.Fatalf("unexpected name %q", got)
	}
}
