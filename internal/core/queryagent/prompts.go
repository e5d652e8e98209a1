package queryagent

import (
	"fmt"
	"strings"

	"github.com/kirillkom/finance-agent-router/internal/core/aggregation"
)

var operationNotes = map[string]string{
	aggregation.OpCount:       "count documents per group (group_by optional)",
	aggregation.OpSum:         "sum of field per group",
	aggregation.OpAvg:         "mean of field per group",
	aggregation.OpMin:         "smallest field value per group",
	aggregation.OpMax:         "largest field value per group",
	aggregation.OpMedian:      "median of field per group",
	aggregation.OpMode:        "most frequent field value per group",
	aggregation.OpStddev:      "population standard deviation of field per group",
	aggregation.OpVariance:    "population variance of field per group",
	aggregation.OpUniqueCount: "number of distinct field values per group",
	aggregation.OpPercentile:  "percentile (0-100) of field per group",
	aggregation.OpSort:        "sort documents by field, order asc|desc",
	aggregation.OpFirstN:      "keep the first n documents (default 1)",
	aggregation.OpFilter:      "keep documents matching conditions {field: {eq|gt|gte|lt|lte: value}}",
	aggregation.OpProject:     "keep only the listed fields",
	aggregation.OpSkip:        "drop the first n documents",
	aggregation.OpLimit:       "keep at most n documents",
}

func buildPlanSystemPrompt(indexMetadataJSON, toolSchemaJSON string) string {
	return fmt.Sprintf(`You design database queries for financial analytics. You never answer from memory.
Every request is answered with exactly one call to the %s tool, which runs a safe search
and then a local summarisation pipeline over the results. You design both the search body
and the pipeline.

Indices you may query (name, description, main fields):
%s

Tool schema:
%s`, SearchToolName, indexMetadataJSON, toolSchemaJSON)
}

func buildPlanUserPrompt(projectID, now, request string) string {
	ops := aggregation.Operations()
	lines := make([]string, 0, len(ops))
	for _, op := range ops {
		lines = append(lines, fmt.Sprintf("- %s: %s", op, operationNotes[op]))
	}

	return fmt.Sprintf(`Pipeline operations (they run locally, do not call them yourself):
%s

Constraints:
- The body must carry a term filter on project_id with value %q inside query.bool.filter.
- Prefer aggregations to raw documents; never design a query returning an unbounded hit set.
- When the query returns hits set "size": 10.
- Never use script_score, scripted_metric, runtime_mappings, profile, rescore or highlight.
- Use the .keyword sub-field for terms aggregations and sort on text fields.
- Current date and time for date math: %s

Reply with one JSON object and nothing else:
{"thought": "<= 200 characters",
 "action": {"tool": "%s", "input": {"index": "...", "body": {...}, "pipeline": [{"operation": "..."}]}},
 "explanation": "markdown explanation of how the query and pipeline answer the request"}
No extra top-level keys, no code fences.

Request:
%s`, strings.Join(lines, "\n"), projectID, now, SearchToolName, request)
}
