package mcp

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aeo-labs/nous/internal/config"
	"github.com/aeo-labs/nous/internal/errors"
	"github.com/aeo-labs/nous/internal/index"
	"github.com/aeo-labs/nous/internal/state"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db  *sql.DB
	cfg *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config) *Handlers {
	return &Handlers{db: db, cfg: cfg}
}

// Request types for each tool

// RecallRequest represents the arguments for recall.
type RecallRequest struct {
	Lens    string `json:"lens,omitempty"`
	Project string `json:"project,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// SearchRequest represents the arguments for search.
type SearchRequest struct {
	Query   string `json:"query"`
	Lens    string `json:"lens,omitempty"`
	Project string `json:"project,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// InventoryRequest represents the arguments for inventory.
type InventoryRequest struct{}

// Handler implementations

// HandleRecall handles the recall tool call.
func (h *Handlers) HandleRecall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecallRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	h.syncProject(input.Project)

	result, err := index.Recall(h.db, index.RecallInput{
		Lens:    input.Lens,
		Project: input.Project,
		Limit:   input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSearch handles the search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	h.syncProject(input.Project)

	result, err := index.Search(h.db, index.SearchInput{
		Query:   input.Query,
		Lens:    input.Lens,
		Project: input.Project,
		Limit:   input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleInventory handles the inventory tool call.
func (h *Handlers) HandleInventory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := index.Inventory(h.db)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// syncProject refreshes the mirror from a project's canonical stores before
// a query. Best-effort: a project whose stores are unreadable still gets
// whatever the mirror already holds.
func (h *Handlers) syncProject(project string) {
	if project == "" {
		return
	}
	_, _ = index.Sync(h.db, state.Open(project, nil))
}

// successResult wraps data in a JSON tool result.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}

// errorResult converts an error into an MCP error result.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if nousErr, ok := err.(*errors.NousError); ok {
		errorObj := map[string]any{
			"code":    nousErr.Code,
			"message": nousErr.Message,
			"status":  nousErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if nousErr.Code != errors.ErrInternal && nousErr.Details != nil {
			errorObj["details"] = nousErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}
