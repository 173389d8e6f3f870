package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/record"
)

// AppendCompactedInput contains parameters for the AppendCompacted operation.
type AppendCompactedInput struct {
	ID    string   // required
	Lines []string // required, at most 100
}

// AppendCompactedOutput contains the record's full compacted summary.
type AppendCompactedOutput struct {
	ID        string   `json:"id"`
	Compacted []string `json:"compacted"`
}

// AppendCompacted appends summary lines to a record's compacted sidecar.
// Blank lines are dropped.
func AppendCompacted(ctx context.Context, env *Env, input AppendCompactedInput) (*AppendCompactedOutput, error) {
	id := strings.TrimSpace(input.ID)
	if !record.IsValidID(id) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid record id: %q", input.ID))
	}

	lines := make([]string, 0, len(input.Lines))
	for _, l := range input.Lines {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return nil, errors.NewInvalidRequest("at least one non-empty line is required")
	}
	if len(lines) > MaxCompactLines {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("at most %d lines per call", MaxCompactLines))
	}

	all, err := env.Store.AppendCompacted(ctx, id, lines)
	if err != nil {
		return nil, err
	}
	return &AppendCompactedOutput{ID: id, Compacted: all}, nil
}
