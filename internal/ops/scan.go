package ops

import (
	"context"
	"fmt"

	"github.com/hpungsan/kapy/internal/channel"
	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/record"
	"github.com/hpungsan/kapy/internal/store"
)

// ScanInput contains parameters for the Scan operation.
type ScanInput struct {
	Channel string // required prefix
	Limit   int    // default: 20, max: 100
}

// ScanItem is a record without its detailed log.
type ScanItem struct {
	record.Core
	Actor     string   `json:"actor,omitempty"`
	Compacted []string `json:"compacted"`
}

// ScanOutput contains the result of the Scan operation.
type ScanOutput struct {
	Channel     string             `json:"channel"`
	Items       []ScanItem         `json:"items"`
	Diagnostics []store.Diagnostic `json:"diagnostics,omitempty"`
}

// Scan lists the most recent records at or below a channel, oldest first.
func Scan(ctx context.Context, env *Env, input ScanInput) (*ScanOutput, error) {
	prefix, err := channel.Parse(input.Channel)
	if err != nil {
		return nil, err
	}

	limit := input.Limit
	if limit == 0 {
		limit = DefaultScanLimit
	}
	if limit < 0 || limit > MaxScanLimit {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("limit must be between 1 and %d", MaxScanLimit))
	}

	res, err := env.Store.ScanByPrefix(ctx, prefix, limit)
	if err != nil {
		return nil, err
	}

	items := make([]ScanItem, 0, len(res.Records))
	for _, r := range res.Records {
		items = append(items, ScanItem{
			Core:      r.Core(),
			Actor:     r.Actor(),
			Compacted: r.Compacted,
		})
	}
	return &ScanOutput{
		Channel:     prefix.String(),
		Items:       items,
		Diagnostics: res.Diagnostics,
	}, nil
}
