package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	env *ops.Env
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(env *ops.Env) *Handlers {
	return &Handlers{env: env}
}

// Request types for each tool

// AppendRequest represents the arguments for memory_append.
type AppendRequest struct {
	InChannel  string            `json:"in_channel"`
	OutChannel string            `json:"out_channel,omitempty"`
	ActorID    string            `json:"actor_id,omitempty"`
	ID         string            `json:"id,omitempty"`
	CreatedAt  string            `json:"created_at,omitempty"`
	Parents    []string          `json:"parents,omitempty"`
	Children   []string          `json:"children,omitempty"`
	Input      string            `json:"input,omitempty"`
	Output     string            `json:"output,omitempty"`
	Detailed   []json.RawMessage `json:"detailed,omitempty"`
	Compacted  []string          `json:"compacted,omitempty"`
}

// FetchRequest represents the arguments for memory_fetch.
type FetchRequest struct {
	ID            string `json:"id"`
	IncludeDetail *bool  `json:"include_detail,omitempty"`
}

// ScanRequest represents the arguments for memory_scan.
type ScanRequest struct {
	Channel string `json:"channel"`
	Limit   int    `json:"limit,omitempty"`
}

// SearchRequest represents the arguments for memory_search.
type SearchRequest struct {
	InChannel     string `json:"in_channel"`
	ActorID       string `json:"actor_id,omitempty"`
	Keyword       string `json:"keyword,omitempty"`
	PerRouteLimit int    `json:"per_route_limit,omitempty"`
	Output        string `json:"output,omitempty"`
}

// NeighborhoodRequest represents the arguments for memory_neighborhood.
type NeighborhoodRequest struct {
	ID    string `json:"id"`
	Depth int    `json:"depth,omitempty"`
}

// ExportRequest represents the arguments for memory_export.
type ExportRequest struct {
	Channel string `json:"channel,omitempty"`
	Path    string `json:"path,omitempty"`
}

// CompactRequest represents the arguments for memory_compact.
type CompactRequest struct {
	ID    string   `json:"id"`
	Lines []string `json:"lines"`
}

// PreferencesRequest represents the arguments for preferences_resolve.
type PreferencesRequest struct {
	InChannel string `json:"in_channel"`
	ActorID   string `json:"actor_id,omitempty"`
}

// RouteSkillsRequest represents the arguments for skills_route.
type RouteSkillsRequest struct {
	InChannel  string `json:"in_channel"`
	OutChannel string `json:"out_channel,omitempty"`
}

// Handler implementations

// HandleAppend handles the memory_append tool call.
func (h *Handlers) HandleAppend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AppendRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	var createdAt time.Time
	if s := strings.TrimSpace(input.CreatedAt); s != "" {
		createdAt, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return errorResult(errors.NewInvalidRequest(fmt.Sprintf("created_at: %v", err))), nil
		}
	}

	result, err := ops.Append(ctx, h.env, ops.AppendInput{
		ID:         input.ID,
		CreatedAt:  createdAt,
		InChannel:  input.InChannel,
		OutChannel: input.OutChannel,
		ActorID:    input.ActorID,
		Parents:    input.Parents,
		Children:   input.Children,
		Input:      input.Input,
		Output:     input.Output,
		Detailed:   input.Detailed,
		Compacted:  input.Compacted,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFetch handles the memory_fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Fetch(ctx, h.env, ops.FetchInput{
		ID:            input.ID,
		IncludeDetail: input.IncludeDetail,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleScan handles the memory_scan tool call.
func (h *Handlers) HandleScan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ScanRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Scan(ctx, h.env, ops.ScanInput{
		Channel: input.Channel,
		Limit:   input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSearch handles the memory_search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Search(ctx, h.env, ops.SearchInput{
		InChannel:     input.InChannel,
		ActorID:       input.ActorID,
		Keyword:       input.Keyword,
		PerRouteLimit: input.PerRouteLimit,
		Output:        input.Output,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleNeighborhood handles the memory_neighborhood tool call.
func (h *Handlers) HandleNeighborhood(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NeighborhoodRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Neighborhood(ctx, h.env, ops.NeighborhoodInput{
		ID:    input.ID,
		Depth: input.Depth,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExport handles the memory_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.env, ops.ExportInput{
		Channel: input.Channel,
		Path:    input.Path,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleCompact handles the memory_compact tool call.
func (h *Handlers) HandleCompact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CompactRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.AppendCompacted(ctx, h.env, ops.AppendCompactedInput{
		ID:    input.ID,
		Lines: input.Lines,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePreferences handles the preferences_resolve tool call.
func (h *Handlers) HandlePreferences(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PreferencesRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Preferences(h.env, ops.PreferencesInput{
		InChannel: input.InChannel,
		ActorID:   input.ActorID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRouteSkills handles the skills_route tool call.
func (h *Handlers) HandleRouteSkills(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RouteSkillsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.RouteSkills(h.env, ops.RouteSkillsInput{
		InChannel:  input.InChannel,
		OutChannel: input.OutChannel,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if kErr, ok := errors.As(err); ok {
		message := kErr.Message
		// Keep wrapper context such as "items[2]: ".
		if full := err.Error(); full != kErr.Error() {
			message = strings.Replace(full, kErr.Error(), kErr.Message, 1)
		}
		errorObj := map[string]any{
			"code":    kErr.Code,
			"message": message,
			"status":  kErr.Status,
		}
		if kErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if kErr.Details != nil {
			errorObj["details"] = kErr.Details
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

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
