package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/record"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	ID            string
	IncludeDetail *bool // default: true (nil means default)
}

// FetchOutput contains the result of the Fetch operation.
type FetchOutput struct {
	record.Record        // embedded (copy, not pointer)
	Actor         string `json:"actor,omitempty"`
	EffectiveOut  string `json:"effective_out"`
}

// Fetch retrieves a record by id.
func Fetch(ctx context.Context, env *Env, input FetchInput) (*FetchOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	if !record.IsValidID(id) {
		return nil, errors.NewInvalidRequest("invalid record id: " + id)
	}

	r, err := env.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	output := &FetchOutput{
		Record:       *r,
		Actor:        r.Actor(),
		EffectiveOut: r.EffectiveOut(),
	}

	includeDetail := true
	if input.IncludeDetail != nil {
		includeDetail = *input.IncludeDetail
	}
	if !includeDetail {
		output.Input = ""
		output.Output = ""
		output.Detailed = nil
	}
	return output, nil
}
