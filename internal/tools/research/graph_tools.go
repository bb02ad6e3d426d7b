package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"winterfox/internal/store"
	"winterfox/internal/tools"
)

// ReadGraphNodeTool returns a tool exposing full node details to a
// worker, including evidence and children.
func ReadGraphNodeTool(s *store.Store) *tools.Tool {
	return &tools.Tool{
		Name:        "read_graph_node",
		Description: "Read a research direction from the knowledge graph by ID, including its evidence, sources, and children",
		Category:    tools.CategoryGraph,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			id, _ := args["node_id"].(string)
			if id == "" {
				return "", fmt.Errorf("node_id is required")
			}
			node, err := s.GetNode(id)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Sprintf("No node found with ID %s", id), nil
				}
				return "", err
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "# %s\n\n", node.Claim)
			fmt.Fprintf(&sb, "- ID: %s\n- Status: %s\n- Confidence: %.2f\n- Importance: %.2f\n- Depth: %d\n",
				node.ID, node.Status, node.Confidence, node.Importance, node.Depth)
			if node.Description != "" {
				fmt.Fprintf(&sb, "\n%s\n", node.Description)
			}
			if len(node.Tags) > 0 {
				fmt.Fprintf(&sb, "\nTags: %s\n", strings.Join(node.Tags, ", "))
			}
			if len(node.Evidence) > 0 {
				sb.WriteString("\n## Evidence\n")
				for _, e := range node.Evidence {
					fmt.Fprintf(&sb, "- %s (source: %s)\n", e.Text, e.Source)
				}
			}
			if len(node.Children) > 0 {
				sb.WriteString("\n## Children\n")
				for _, childID := range node.Children {
					child, err := s.GetNode(childID)
					if err != nil {
						continue
					}
					fmt.Fprintf(&sb, "- %s: %s (conf %.2f, %s)\n", child.ID, child.Claim, child.Confidence, child.Status)
				}
			}
			return sb.String(), nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"node_id"},
			Properties: map[string]tools.Property{
				"node_id": {
					Type:        "string",
					Description: "The ID of the graph node to read",
				},
			},
		},
	}
}

// SearchGraphTool returns a tool for full-text search over node claims.
func SearchGraphTool(s *store.Store, workspaceID string) *tools.Tool {
	return &tools.Tool{
		Name:        "search_graph",
		Description: "Full-text search over research direction claims in the knowledge graph",
		Category:    tools.CategoryGraph,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			limit := 10
			if v, ok := args["limit"].(float64); ok && v > 0 {
				limit = int(v)
			}

			nodes, err := s.SearchByText(workspaceID, query, limit)
			if err != nil {
				return "", err
			}
			if len(nodes) == 0 {
				return fmt.Sprintf("No graph nodes match %q", query), nil
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "Found %d matching nodes:\n\n", len(nodes))
			for _, n := range nodes {
				fmt.Fprintf(&sb, "- [%s] %s (conf %.2f, %s)\n", n.ID, n.Claim, n.Confidence, n.Status)
			}
			return sb.String(), nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"query"},
			Properties: map[string]tools.Property{
				"query": {
					Type:        "string",
					Description: "Search terms to match against node claims",
				},
				"limit": {
					Type:        "integer",
					Description: "Maximum number of results (default: 10)",
					Default:     10,
				},
			},
		},
	}
}
