package offload

import (
	"context"
	"fmt"
	"strings"

	"github.com/chande-dhanush/Sakura/tool"
)

// NewRetrieveTool exposes a store to the planner as the retrieve_offloaded
// tool, so content replaced by an offload handle can be queried back in a
// later iteration.
func NewRetrieveTool(store Store) tool.Tool {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"handle": map[string]any{
				"type":        "string",
				"description": "Offload handle from a previous tool result, e.g. offload:1234",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "Keywords to rank chunks by; empty returns the leading chunks",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of chunks to return (default 3)",
			},
		},
		"required": []string{"handle"},
	}

	return tool.NewFunctionTool("retrieve_offloaded",
		"Retrieve chunks of a previously offloaded tool result by its handle.",
		params,
		func(ctx context.Context, args map[string]any) (string, error) {
			handle, _ := args["handle"].(string)
			query, _ := args["query"].(string)
			limit := 3
			if n, ok := args["limit"].(float64); ok && n > 0 {
				limit = int(n)
			}

			chunks, err := store.Query(ctx, handle, query, limit)
			if err != nil {
				return "", fmt.Errorf("retrieve offloaded: %w", err)
			}

			parts := make([]string, 0, len(chunks))
			for _, c := range chunks {
				parts = append(parts, fmt.Sprintf("[chunk %d]\n%s", c.Seq, c.Text))
			}
			return strings.Join(parts, "\n\n"), nil
		})
}
