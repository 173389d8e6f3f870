package ops

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hpungsan/kapy/internal/channel"
	"github.com/hpungsan/kapy/internal/record"
)

// AppendInput contains parameters for the Append operation.
type AppendInput struct {
	ID         string            `json:"id,omitempty"`         // optional; generated when empty
	CreatedAt  time.Time         `json:"created_at,omitempty"` // optional; must match ID when both given
	InChannel  string            `json:"in_channel"`           // required
	OutChannel string            `json:"out_channel,omitempty"`
	ActorID    string            `json:"actor_id,omitempty"`
	Parents    []string          `json:"parents,omitempty"`
	Children   []string          `json:"children,omitempty"`
	Input      string            `json:"input"`
	Output     string            `json:"output"`
	Detailed   []json.RawMessage `json:"detailed,omitempty"`
	Compacted  []string          `json:"compacted,omitempty"`
}

// AppendOutput contains the result of the Append operation.
type AppendOutput struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	InChannel    string    `json:"in_channel"`
	EffectiveOut string    `json:"effective_out"`
}

// Append stores a completed exchange as a new record.
func Append(ctx context.Context, env *Env, input AppendInput) (*AppendOutput, error) {
	in, err := channel.Parse(input.InChannel)
	if err != nil {
		return nil, err
	}
	out, err := channel.ParseOptional(input.OutChannel)
	if err != nil {
		return nil, err
	}

	rec := &record.Record{
		ID:        strings.TrimSpace(input.ID),
		CreatedAt: input.CreatedAt,
		InChannel: in.String(),
		ActorID:   strings.TrimSpace(input.ActorID),
		Parents:   input.Parents,
		Children:  input.Children,
		Input:     input.Input,
		Output:    input.Output,
		Detailed:  input.Detailed,
		Compacted: input.Compacted,
	}
	if out != nil {
		rec.OutChannel = out.String()
	}

	id, err := env.Store.Append(ctx, rec)
	if err != nil {
		return nil, err
	}
	createdAt, _ := record.TimeFromID(id)

	return &AppendOutput{
		ID:           id,
		CreatedAt:    createdAt,
		InChannel:    in.String(),
		EffectiveOut: channel.EffectiveOut(in, out).String(),
	}, nil
}
