// Package store persists memory records and serves index-free scans over them.
package store

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/hpungsan/kapy/internal/channel"
	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/record"
)

// maxClaimAttempts bounds retries when a generated id is already taken.
const maxClaimAttempts = 64

// Predicate selects records during ScanByPredicate. It sees a copy.
type Predicate func(*record.Record) bool

// Diagnostic describes an entry a scan skipped.
type Diagnostic struct {
	ID    string `json:"id,omitempty"`
	Path  string `json:"path"`
	Cause string `json:"cause"`
}

// ScanResult is the outcome of a scan: matching records in ascending id
// order plus diagnostics for skipped entries.
type ScanResult struct {
	Records     []*record.Record `json:"records"`
	Diagnostics []Diagnostic     `json:"diagnostics,omitempty"`
}

// Store is an append-only record store.
type Store interface {
	// Append stores rec and returns its id. An empty ID is assigned.
	Append(ctx context.Context, rec *record.Record) (string, error)

	// Get returns a copy of the record, or NOT_FOUND.
	Get(ctx context.Context, id string) (*record.Record, error)

	// Detail returns the raw detailed log lines of a record.
	Detail(ctx context.Context, id string) ([]string, error)

	// AppendCompacted appends summary lines and returns the full list.
	AppendCompacted(ctx context.Context, id string, lines []string) ([]string, error)

	// ScanByPrefix returns records whose in_channel is prefix or below it,
	// capped to the most recent limit (0 = unlimited).
	ScanByPrefix(ctx context.Context, prefix channel.Channel, limit int) (*ScanResult, error)

	// ScanByPredicate is ScanByPrefix(scope) filtered by pred. A zero scope
	// covers every record.
	ScanByPredicate(ctx context.Context, pred Predicate, scope channel.Channel, limit int) (*ScanResult, error)

	Close() error
}

// ValidateLimit rejects negative limits.
func ValidateLimit(limit int) error {
	if limit < 0 {
		return errors.NewInvalidRequest(fmt.Sprintf("limit must be >= 0, got %d", limit))
	}
	return nil
}

// collector gathers matches newest-first and stops at limit.
type collector struct {
	limit   int
	records []*record.Record
	diags   []Diagnostic
	logger  *zap.Logger
}

func newCollector(limit int, logger *zap.Logger) *collector {
	return &collector{limit: limit, logger: logger}
}

func (c *collector) full() bool {
	return c.limit > 0 && len(c.records) >= c.limit
}

func (c *collector) add(r *record.Record) {
	c.records = append(c.records, r)
}

func (c *collector) skip(id, path string, err error) {
	c.logger.Warn("skipping unreadable record",
		zap.String("id", id),
		zap.String("path", path),
		zap.Error(err),
	)
	c.diags = append(c.diags, Diagnostic{ID: id, Path: path, Cause: err.Error()})
}

// result sorts ascending by id and keeps the newest limit records.
func (c *collector) result() *ScanResult {
	recs := c.records
	slices.SortFunc(recs, func(a, b *record.Record) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	if c.limit > 0 && len(recs) > c.limit {
		recs = recs[len(recs)-c.limit:]
	}
	if recs == nil {
		recs = []*record.Record{}
	}
	return &ScanResult{Records: recs, Diagnostics: c.diags}
}

// checkParents verifies that every parent exists and is older than id.
func checkParents(ctx context.Context, s Store, id string, parents []string) error {
	for _, p := range parents {
		if p >= id {
			return errors.NewInvalidRequest(fmt.Sprintf("parent %s must be older than record %s", p, id))
		}
		if _, err := s.Get(ctx, p); err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				return errors.NewInvalidRequest(fmt.Sprintf("unknown parent record: %s", p))
			}
			return err
		}
	}
	return nil
}

// prepare normalizes rec and settles created_at against a supplied id.
// Returns a working copy; the caller's record is left untouched.
func prepare(rec *record.Record, writer string) (*record.Record, error) {
	if rec == nil {
		return nil, errors.NewInvalidRequest("record is required")
	}
	r := rec.Clone()
	if err := r.Normalize(); err != nil {
		return nil, err
	}
	if r.Writer == "" {
		r.Writer = writer
	}

	if r.ID != "" {
		ts, _ := record.TimeFromID(r.ID)
		if r.CreatedAt.IsZero() {
			r.CreatedAt = ts
		} else if r.CreatedAt.UnixMilli() != ts.UnixMilli() {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("created_at %s does not match id %s", r.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"), r.ID))
		}
	}
	return r, nil
}

func cancelled(ctx context.Context, op string) error {
	if ctx.Err() != nil {
		return errors.NewCancelled(op)
	}
	return nil
}
