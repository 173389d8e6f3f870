package ops

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/record"
)

func TestAppendAndFetch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out, err := Append(ctx, env, AppendInput{
		InChannel:  " telegram/chat/42 ",
		OutChannel: "slack/team/1",
		ActorID:    "u1",
		Input:      "hi",
		Output:     "hello",
		Detailed:   []json.RawMessage{json.RawMessage(`[{"role":"tool"}]`)},
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if !record.IsValidID(out.ID) {
		t.Errorf("ID = %q is not a valid id", out.ID)
	}
	if out.InChannel != "telegram/chat/42" {
		t.Errorf("InChannel = %q", out.InChannel)
	}
	if out.EffectiveOut != "slack/team/1" {
		t.Errorf("EffectiveOut = %q", out.EffectiveOut)
	}
	ts, _ := record.TimeFromID(out.ID)
	if !out.CreatedAt.Equal(ts) {
		t.Errorf("CreatedAt = %v, want %v", out.CreatedAt, ts)
	}

	got, err := Fetch(ctx, env, FetchInput{ID: out.ID})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got.Input != "hi" || got.Output != "hello" {
		t.Errorf("Input/Output = %q/%q", got.Input, got.Output)
	}
	if len(got.Detailed) != 1 {
		t.Errorf("Detailed = %d batches, want 1", len(got.Detailed))
	}
	if got.Actor != "u1" {
		t.Errorf("Actor = %q, want u1", got.Actor)
	}

	brief, err := Fetch(ctx, env, FetchInput{ID: out.ID, IncludeDetail: boolPtr(false)})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if brief.Input != "" || brief.Detailed != nil {
		t.Errorf("detail should be omitted, got input %q", brief.Input)
	}
}

func TestAppend_OutChannelSameAsInIsDropped(t *testing.T) {
	env := newTestEnv(t)
	out, err := Append(context.Background(), env, AppendInput{InChannel: "a/b", OutChannel: "a/b"})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	got, err := Fetch(context.Background(), env, FetchInput{ID: out.ID})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got.OutChannel != "" {
		t.Errorf("OutChannel = %q, want empty", got.OutChannel)
	}
	if got.EffectiveOut != "a/b" {
		t.Errorf("EffectiveOut = %q, want a/b", got.EffectiveOut)
	}
}

func TestAppend_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		input AppendInput
		code  errors.ErrorCode
	}{
		{"missing channel", AppendInput{}, errors.ErrInvalidChannel},
		{"empty segment", AppendInput{InChannel: "a//b"}, errors.ErrInvalidChannel},
		{"bad out channel", AppendInput{InChannel: "a", OutChannel: "/x"}, errors.ErrInvalidChannel},
		{"unknown parent", AppendInput{InChannel: "a", Parents: []string{"AZxS4r6O"}}, errors.ErrInvalidRequest},
		{"bad id", AppendInput{InChannel: "a", ID: "short"}, errors.ErrInvalidRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Append(context.Background(), env, tc.input)
			if !errors.Is(err, tc.code) {
				t.Errorf("err = %v, want %s", err, tc.code)
			}
		})
	}
}

func TestFetch_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		id   string
		code errors.ErrorCode
	}{
		{"empty", "", errors.ErrInvalidRequest},
		{"malformed", "not-an-id!", errors.ErrInvalidRequest},
		{"missing", "AZxS4r6O", errors.ErrNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Fetch(context.Background(), env, FetchInput{ID: tc.id})
			if !errors.Is(err, tc.code) {
				t.Errorf("err = %v, want %s", err, tc.code)
			}
		})
	}
}
