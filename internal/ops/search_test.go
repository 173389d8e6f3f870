package ops

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/search"
)

func TestSearch_DefaultOutputInExportsDir(t *testing.T) {
	env := newTestEnv(t)
	id := appendRecord(t, env, AppendInput{InChannel: "telegram/chat/42", ActorID: "u1", Input: "remind me"})

	sum, err := Search(context.Background(), env, SearchInput{
		InChannel: "telegram/chat/42",
		ActorID:   "u1",
		Keyword:   "remind",
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	want := filepath.Join(env.ExportsDir(), "search-telegram-chat-42-2026-02-20T103000.000.tsv")
	if sum.Output != want {
		t.Errorf("Output = %q, want %q", sum.Output, want)
	}
	if len(sum.Results) != 1 || sum.Results[0].ID != id {
		t.Fatalf("Results = %+v", sum.Results)
	}
	wantRoutes := []search.Route{search.RouteChannel, search.RouteActor, search.RouteKeyword}
	if strings.Join(routeNames(sum.Results[0].Routes), ",") != strings.Join(routeNames(wantRoutes), ",") {
		t.Errorf("Routes = %v, want %v", sum.Results[0].Routes, wantRoutes)
	}

	data, err := os.ReadFile(sum.Output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), search.Header+"\n") {
		t.Errorf("output missing header:\n%s", data)
	}
}

func routeNames(rs []search.Route) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

func TestSearch_SecondRunSamePathConflicts(t *testing.T) {
	env := newTestEnv(t)
	appendRecord(t, env, AppendInput{InChannel: "a"})
	out := filepath.Join(env.ExportsDir(), "fixed.tsv")

	if _, err := Search(context.Background(), env, SearchInput{InChannel: "a", Output: out}); err != nil {
		t.Fatalf("first Search failed: %v", err)
	}
	_, err := Search(context.Background(), env, SearchInput{InChannel: "a", Output: out})
	if !errors.Is(err, errors.ErrDestinationConflict) {
		t.Errorf("err = %v, want DESTINATION_CONFLICT", err)
	}
}

func TestSearch_PathPolicy(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		output string
	}{
		{"outside exports", filepath.Join(t.TempDir(), "x.tsv")},
		{"wrong extension", filepath.Join(env.ExportsDir(), "x.jsonl")},
		{"traversal", filepath.Join(env.ExportsDir(), "..", "x.tsv")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Search(context.Background(), env, SearchInput{InChannel: "a", Output: tc.output})
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("err = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestSearch_UsesConfiguredLimit(t *testing.T) {
	env := newTestEnv(t)
	env.Config.PerRouteLimit = 2
	for i := 0; i < 5; i++ {
		appendRecord(t, env, AppendInput{InChannel: "a"})
	}

	sum, err := Search(context.Background(), env, SearchInput{InChannel: "a"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(sum.Results) != 2 {
		t.Errorf("Results = %d, want 2", len(sum.Results))
	}
}

func TestSearch_InvalidChannelBeforeIO(t *testing.T) {
	env := newTestEnv(t)
	_, err := Search(context.Background(), env, SearchInput{InChannel: "bad//chan"})
	if !errors.Is(err, errors.ErrInvalidChannel) {
		t.Errorf("err = %v, want INVALID_CHANNEL", err)
	}
	if _, statErr := os.Stat(env.ExportsDir()); !os.IsNotExist(statErr) {
		t.Error("exports dir should not be created on validation failure")
	}
}

func TestPreview_WritesNothing(t *testing.T) {
	env := newTestEnv(t)
	id := appendRecord(t, env, AppendInput{InChannel: "a/b", Input: "hello"})

	sum, err := Preview(context.Background(), env, SearchInput{InChannel: "a/b", Keyword: "hel+o"})
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if sum.Output != "" {
		t.Errorf("Output = %q, want empty", sum.Output)
	}
	if len(sum.Results) != 1 || sum.Results[0].ID != id {
		t.Fatalf("Results = %+v", sum.Results)
	}
	if _, err := os.Stat(env.ExportsDir()); !os.IsNotExist(err) {
		t.Errorf("exports dir should not be created, stat err = %v", err)
	}
}
