package queryagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/finance-agent-router/internal/core/aggregation"
	"github.com/kirillkom/finance-agent-router/internal/core/tool"
)

const (
	SearchToolName = "perform_search"
	PlanToolName   = "query_database"
)

const searchToolDescription = "Run a safe search against one of the available indices and summarise " +
	"the hits with a local pipeline of operations. The body is always restricted to the current project."

const bodyDescription = `A search request body for the chosen index.
Rules:
- Allowed top-level keys: query, from, _source, sort, aggs, size.
- Always include a query object, match_all when nothing narrower applies.
- Put every filter, including the project_id term filter, in bool.filter.
- Prefer aggregations over raw hits. When returning hits set "size": 10 explicitly.
- Allowed aggregation types: terms, avg, sum, min, max, date_histogram.
- Use the .keyword sub-field for terms aggregations and sort on text fields.
- Date math (now, now-7d/d, now-1M/M, now/M) only on date fields; numeric timestamps need numeric ranges.
- Never use script_score, scripted_metric, runtime_mappings, profile, rescore or highlight.
- Output only the JSON object, no comments.`

const pipelineDescription = `Operations applied in order to the search results.
Rules:
- Each item is an object whose "operation" key names the operation.
- Do not end with a large list of documents: prefer counts, sums, averages or filters.
- When documents are returned keep them to at most 10.`

func pipelineItemSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"enum":        aggregation.Operations(),
				"description": "Operation to apply (filter, sort, limit, project, sum, avg, ...).",
			},
			"field": map[string]any{
				"type":        "string",
				"description": "Field the operation reads, when it needs one.",
			},
			"group_by": map[string]any{
				"type":        "string",
				"description": "Optional top-level field to group by. Avoid *_id fields unless needed.",
			},
			"conditions": map[string]any{
				"type":        "object",
				"description": "Field to {op: value} map, only for filter. Ops: eq, gt, gte, lt, lte.",
			},
			"order": map[string]any{
				"type":        "string",
				"enum":        []string{"asc", "desc"},
				"description": "Sort order, only for sort.",
			},
			"n": map[string]any{
				"type":        "integer",
				"description": "Row count for first_n, limit and skip.",
			},
			"fields": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Fields to keep, only for project.",
			},
			"percentile": map[string]any{
				"type":        "number",
				"description": "Required for percentile, between 0 and 100.",
			},
		},
		"required": []string{"operation"},
	}
}

func (a *Agent) searchTool(projectID string) (*tool.Tool, error) {
	return tool.New(SearchToolName, searchToolDescription).
		Param(tool.String("index", "The index to query.").WithEnum(a.IndexNames()...)).
		Param(tool.Object("body", bodyDescription)).
		Param(tool.Array("pipeline", tool.TypeObject, pipelineDescription).
			WithSchema(map[string]any{"items": pipelineItemSchema()})).
		Build(func(ctx context.Context, _ any, args map[string]any) (any, error) {
			index, _ := args["index"].(string)
			body, _ := args["body"].(map[string]any)
			pipeline, err := aggregation.ParsePipeline(args["pipeline"])
			if err != nil {
				return nil, err
			}
			return a.PerformSearch(ctx, projectID, index, body, pipeline)
		})
}

func (a *Agent) planTool(projectID string) (*tool.Tool, error) {
	return tool.New(PlanToolName, "Answer a data question about "+a.name+" records by letting the query agent design and run a search.").
		Param(tool.String("user_message", "The question to answer, phrased as a self-contained request.")).
		Build(func(ctx context.Context, _ any, args map[string]any) (any, error) {
			message, _ := args["user_message"].(string)
			if strings.TrimSpace(message) == "" {
				return nil, fmt.Errorf("user_message is required")
			}
			return a.HandleRequest(ctx, projectID, message)
		})
}

// SearchSchema is the perform_search tool schema, as shown to the model.
func (a *Agent) SearchSchema() tool.Schema {
	t, err := a.searchTool("")
	if err != nil {
		return tool.Schema{}
	}
	return t.Schema()
}

// ToolsetFactory builds the per-request toolset of this agent. Agents
// without indices get an empty set, which sends planners straight to
// their fallback.
func (a *Agent) ToolsetFactory() tool.Factory {
	return func(scope tool.Scope) (*tool.ToolSet, error) {
		set := tool.NewToolSet(a.name)
		if len(a.indices) == 0 {
			return set, nil
		}
		search, err := a.searchTool(scope.ProjectID)
		if err != nil {
			return nil, err
		}
		plan, err := a.planTool(scope.ProjectID)
		if err != nil {
			return nil, err
		}
		if err := set.Register(search); err != nil {
			return nil, err
		}
		if err := set.Register(plan); err != nil {
			return nil, err
		}
		return set, nil
	}
}
