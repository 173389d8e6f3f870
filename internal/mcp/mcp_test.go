package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/kapy/internal/config"
	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/logging"
	"github.com/hpungsan/kapy/internal/ops"
	"github.com/hpungsan/kapy/internal/skills"
	"github.com/hpungsan/kapy/internal/store"
)

// testSetup creates a store in a temp base dir and an Env over it.
func testSetup(t *testing.T) *ops.Env {
	t.Helper()

	base := t.TempDir()
	cfg := config.DefaultConfig()
	s, err := store.Open(cfg, filepath.Join(base, cfg.MemoriesDir), logging.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return ops.NewEnv(s, cfg, base, logging.Nop())
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func mustAppend(t *testing.T, h *Handlers, args map[string]any) string {
	t.Helper()
	result, err := h.HandleAppend(context.Background(), makeRequest(args))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	out := parseOutput(t, result)
	return out["id"].(string)
}

func TestHandleAppend(t *testing.T) {
	h := NewHandlers(testSetup(t))
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name: "append valid record",
			args: map[string]any{
				"in_channel": "telegram/chat/42",
				"actor_id":   "u1",
				"input":      "hi",
				"output":     "hello",
				"detailed":   []any{[]any{map[string]any{"role": "assistant"}}},
			},
		},
		{
			name:      "missing in_channel",
			args:      map[string]any{"input": "hi"},
			wantError: true,
			errorCode: "INVALID_CHANNEL",
		},
		{
			name:      "bad created_at",
			args:      map[string]any{"in_channel": "a", "created_at": "yesterday"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "detailed batch not an array",
			args:      map[string]any{"in_channel": "a", "detailed": []any{"text"}},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "wrong argument type",
			args:      map[string]any{"in_channel": 42},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleAppend(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if tt.wantError {
				if !result.IsError {
					t.Errorf("expected error result, got success")
				}
				if tt.errorCode != "" {
					assertErrorCode(t, result, tt.errorCode)
				}
			} else if result.IsError {
				t.Errorf("expected success, got error: %v", extractErrorMessage(result))
			}
		})
	}
}

func TestHandleAppend_SuppliedIDAndCreatedAt(t *testing.T) {
	h := NewHandlers(testSetup(t))

	id := mustAppend(t, h, map[string]any{
		"in_channel": "a",
		"id":         "AZxS4r6O",
	})
	if id != "AZxS4r6O" {
		t.Errorf("id = %q, want AZxS4r6O", id)
	}

	result, _ := h.HandleAppend(context.Background(), makeRequest(map[string]any{
		"in_channel": "a",
		"id":         "AZxS4r6O",
	}))
	assertErrorCode(t, result, "CONFLICT")
}

func TestHandleFetch(t *testing.T) {
	h := NewHandlers(testSetup(t))
	id := mustAppend(t, h, map[string]any{"in_channel": "a/b", "input": "hello"})

	result, err := h.HandleFetch(context.Background(), makeRequest(map[string]any{"id": id}))
	if err != nil {
		t.Fatal(err)
	}
	out := parseOutput(t, result)
	if out["input"] != "hello" {
		t.Errorf("input = %v", out["input"])
	}
	if out["effective_out"] != "a/b" {
		t.Errorf("effective_out = %v", out["effective_out"])
	}

	result, _ = h.HandleFetch(context.Background(), makeRequest(map[string]any{"id": "AZxS4r6O"}))
	assertErrorCode(t, result, "NOT_FOUND")
}

func TestHandleScanAndSearch(t *testing.T) {
	env := testSetup(t)
	env.Config.AllowUnsafePaths = true
	h := NewHandlers(env)
	id := mustAppend(t, h, map[string]any{"in_channel": "telegram/chat/1", "actor_id": "u1", "input": "pizza"})
	mustAppend(t, h, map[string]any{"in_channel": "telegram/chat/12"})

	result, err := h.HandleScan(context.Background(), makeRequest(map[string]any{"channel": "telegram/chat/1"}))
	if err != nil {
		t.Fatal(err)
	}
	items := parseOutput(t, result)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}

	out := filepath.Join(t.TempDir(), "s.tsv")
	result, err = h.HandleSearch(context.Background(), makeRequest(map[string]any{
		"in_channel": "telegram/chat/1",
		"actor_id":   "u1",
		"keyword":    "piz+a",
		"output":     out,
	}))
	if err != nil {
		t.Fatal(err)
	}
	sum := parseOutput(t, result)
	if sum["output"] != out {
		t.Errorf("output = %v, want %s", sum["output"], out)
	}
	results := sum["results"].([]any)
	if len(results) != 1 || results[0].(map[string]any)["id"] != id {
		t.Errorf("results = %v", results)
	}

	result, _ = h.HandleSearch(context.Background(), makeRequest(map[string]any{
		"in_channel": "telegram/chat/1",
		"output":     out,
	}))
	assertErrorCode(t, result, "DESTINATION_CONFLICT")
}

func TestHandleNeighborhoodAndCompact(t *testing.T) {
	h := NewHandlers(testSetup(t))
	parent := mustAppend(t, h, map[string]any{"in_channel": "a"})
	child := mustAppend(t, h, map[string]any{"in_channel": "a", "parents": []any{parent}})

	result, err := h.HandleNeighborhood(context.Background(), makeRequest(map[string]any{"id": parent, "depth": 1}))
	if err != nil {
		t.Fatal(err)
	}
	records := parseOutput(t, result)["records"].([]any)
	if len(records) != 2 || records[1].(map[string]any)["id"] != child {
		t.Errorf("records = %v", records)
	}

	result, err = h.HandleCompact(context.Background(), makeRequest(map[string]any{"id": child, "lines": []any{"sum"}}))
	if err != nil {
		t.Fatal(err)
	}
	compacted := parseOutput(t, result)["compacted"].([]any)
	if len(compacted) != 1 || compacted[0] != "sum" {
		t.Errorf("compacted = %v", compacted)
	}
}

func TestHandleExport(t *testing.T) {
	env := testSetup(t)
	h := NewHandlers(env)
	mustAppend(t, h, map[string]any{"in_channel": "a"})

	result, err := h.HandleExport(context.Background(), makeRequest(map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	out := parseOutput(t, result)
	if out["count"].(float64) != 1 {
		t.Errorf("count = %v", out["count"])
	}
	if !strings.HasPrefix(out["path"].(string), env.ExportsDir()) {
		t.Errorf("path = %v", out["path"])
	}

	result, _ = h.HandleExport(context.Background(), makeRequest(map[string]any{"path": "/etc/passwd.jsonl"}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandlePreferencesAndSkills(t *testing.T) {
	env := testSetup(t)
	env.Skills = skills.StaticRegistry{
		"context/telegram":  {Body: "ctx"},
		"messager/telegram": {Body: "msg"},
	}
	h := NewHandlers(env)

	result, err := h.HandlePreferences(context.Background(), makeRequest(map[string]any{"in_channel": "telegram/chat/1"}))
	if err != nil {
		t.Fatal(err)
	}
	docs := parseOutput(t, result)["documents"].([]any)
	if len(docs) != 1 {
		t.Errorf("documents = %d, want the builtin default only", len(docs))
	}

	result, err = h.HandleRouteSkills(context.Background(), makeRequest(map[string]any{"in_channel": "telegram/chat/1"}))
	if err != nil {
		t.Fatal(err)
	}
	out := parseOutput(t, result)
	if out["context_skill"] != "context/telegram" || out["messager_skill"] != "messager/telegram" {
		t.Errorf("skills = %v, %v", out["context_skill"], out["messager_skill"])
	}

	result, _ = h.HandleRouteSkills(context.Background(), makeRequest(map[string]any{
		"in_channel":  "telegram/chat/1",
		"out_channel": "slack/x",
	}))
	assertErrorCode(t, result, "UNKNOWN_SKILL")
}

func TestServerRegistration(t *testing.T) {
	s := NewServer(testSetup(t), "test")
	tools := s.ListTools()

	expectedTools := []string{
		"memory_append",
		"memory_fetch",
		"memory_scan",
		"memory_search",
		"memory_neighborhood",
		"memory_export",
		"memory_compact",
		"preferences_resolve",
		"skills_route",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}
	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledToolsAndTypes(t *testing.T) {
	env := testSetup(t)
	env.Config.DisabledTools = []string{"memory_export", "memory_export", "nope"}
	env.Config.DisabledTypes = []string{"skills"}

	tools := NewServer(env, "test").ListTools()

	if len(tools) != 7 {
		t.Errorf("registered tool count = %d, want 7", len(tools))
	}
	for _, name := range []string{"memory_export", "skills_route"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	env := testSetup(t)
	env.Config.DisabledTools = AllToolNames()

	if tools := NewServer(env, "test").ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabled(t *testing.T) {
	if got := ValidateDisabledTools([]string{"memory_scan", "fake_tool"}); len(got) != 1 || got[0] != "fake_tool" {
		t.Errorf("ValidateDisabledTools() = %v", got)
	}
	if got := ValidateDisabledTypes([]string{"memory", "archive"}); len(got) != 1 || got[0] != "archive" {
		t.Errorf("ValidateDisabledTypes() = %v", got)
	}
	if len(ExpandTypesToTools([]string{"memory"})) != 7 {
		t.Errorf("memory type should cover 7 tools")
	}
	if GetTypeForTool("preferences_resolve") != "preferences" {
		t.Errorf("GetTypeForTool() wrong")
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("open /tmp/secret.db: permission denied")))
	errObj := errorObject(t, r)

	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if strings.Contains(errObj["message"].(string), "secret") {
		t.Fatal("expected INTERNAL message to be generic")
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	r := errorResult(fmt.Errorf("parents[2]: %w", errors.NewNotFound("AZxS4r6O")))
	errObj := errorObject(t, r)

	if errObj["code"] != string(errors.ErrNotFound) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if msg := errObj["message"].(string); !strings.HasPrefix(msg, "parents[2]: record not found") {
		t.Errorf("message = %q", msg)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
}

func TestErrorResult_PlainError(t *testing.T) {
	errObj := errorObject(t, errorResult(fmt.Errorf("boom")))
	if errObj["code"] != "INTERNAL" || errObj["message"] != "an internal error occurred" {
		t.Errorf("errObj = %v", errObj)
	}
}

// Helper functions

func errorObject(t *testing.T, r *mcp.CallToolResult) map[string]any {
	t.Helper()
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	return payload["error"].(map[string]any)
}

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()
	if result == nil || !result.IsError {
		t.Errorf("expected error result with code %s", expectedCode)
		return
	}
	errObj := errorObject(t, result)
	if code, _ := errObj["code"].(string); code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}
	return text.Text
}
