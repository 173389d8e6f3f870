package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/kapy/internal/channel"
	"github.com/hpungsan/kapy/internal/db"
	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/logging"
	"github.com/hpungsan/kapy/internal/record"
)

// SQLiteStore keeps records in one table keyed by id. The primary key is
// the id claim; scans walk it in descending order.
type SQLiteStore struct {
	db     *sql.DB
	gen    *record.Generator
	logger *zap.Logger
}

// NewSQLite wraps an initialized database (see db.Init).
func NewSQLite(database *sql.DB, gen *record.Generator, logger *zap.Logger) *SQLiteStore {
	if gen == nil {
		gen = record.NewGenerator(record.NewWriterSalt())
	}
	return &SQLiteStore{db: database, gen: gen, logger: logging.OrNop(logger)}
}

// Append stores rec and returns its id.
func (s *SQLiteStore) Append(ctx context.Context, rec *record.Record) (string, error) {
	r, err := prepare(rec, s.gen.Salt())
	if err != nil {
		return "", err
	}
	if err := cancelled(ctx, "append"); err != nil {
		return "", err
	}

	if r.ID != "" {
		if err := checkParents(ctx, s, r.ID, r.Parents); err != nil {
			return "", err
		}
		if err := s.insert(ctx, r); err != nil {
			if err == db.ErrUniqueConstraint {
				return "", errors.NewConflict(fmt.Sprintf("record already exists: %s", r.ID))
			}
			return "", err
		}
		ms, _ := record.DecodeID(r.ID)
		s.gen.Observe(ms)
		return r.ID, nil
	}

	id, ms := s.gen.Next()
	if err := checkParents(ctx, s, id, r.Parents); err != nil {
		return "", err
	}
	for attempt := 1; ; attempt++ {
		r.ID = id
		r.CreatedAt = time.UnixMilli(ms).UTC()
		err := s.insert(ctx, r)
		if err == nil {
			return id, nil
		}
		if err != db.ErrUniqueConstraint {
			return "", err
		}
		if attempt >= maxClaimAttempts {
			return "", errors.NewConflict("could not claim a free record id")
		}
		s.logger.Debug("record id taken, advancing", zap.String("id", id))
		id, ms = s.gen.Collided(ms)
	}
}

func (s *SQLiteStore) insert(ctx context.Context, r *record.Record) error {
	core, err := r.CoreJSON()
	if err != nil {
		return errors.NewInternal(err)
	}
	lines, err := r.DetailLines()
	if err != nil {
		return errors.NewInternal(err)
	}
	compacted, err := json.Marshal(r.Compacted)
	if err != nil {
		return errors.NewInternal(err)
	}
	return db.Insert(ctx, s.db, &db.Row{
		ID:            r.ID,
		CreatedAt:     r.CreatedAt.UnixMilli(),
		InChannel:     r.InChannel,
		Writer:        r.Writer,
		CoreJSON:      string(core),
		Detailed:      string(record.JoinLines(lines)),
		CompactedJSON: string(compacted),
	})
}

// Get returns a copy of the record with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*record.Record, error) {
	if !record.IsValidID(id) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid record id: %q", id))
	}
	row, err := db.GetByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return decodeRow(row)
}

// Detail returns the detailed log lines of a record.
func (s *SQLiteStore) Detail(ctx context.Context, id string) ([]string, error) {
	if !record.IsValidID(id) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid record id: %q", id))
	}
	row, err := db.GetByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	lines := record.SplitLines([]byte(row.Detailed))
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

// AppendCompacted appends summary lines to the record's compacted list.
func (s *SQLiteStore) AppendCompacted(ctx context.Context, id string, lines []string) ([]string, error) {
	if !record.IsValidID(id) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid record id: %q", id))
	}
	return db.AppendCompacted(ctx, s.db, id, lines)
}

// ScanByPrefix returns records under prefix, newest limit, ascending.
func (s *SQLiteStore) ScanByPrefix(ctx context.Context, prefix channel.Channel, limit int) (*ScanResult, error) {
	if prefix.IsZero() {
		return nil, errors.NewInvalidChannel("", "prefix is required")
	}
	return s.scan(ctx, nil, prefix, limit)
}

// ScanByPredicate returns records under scope accepted by pred.
func (s *SQLiteStore) ScanByPredicate(ctx context.Context, pred Predicate, scope channel.Channel, limit int) (*ScanResult, error) {
	if pred == nil {
		return nil, errors.NewInvalidRequest("predicate is required")
	}
	return s.scan(ctx, pred, scope, limit)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) scan(ctx context.Context, pred Predicate, scope channel.Channel, limit int) (*ScanResult, error) {
	if err := ValidateLimit(limit); err != nil {
		return nil, err
	}
	c := newCollector(limit, s.logger)
	where := func(id string) string { return "records:" + id }

	err := db.ScanDesc(ctx, s.db, func(row *db.Row) bool {
		if ctx.Err() != nil {
			return true
		}
		if !scope.IsZero() {
			in, err := channel.Parse(row.InChannel)
			if err != nil {
				c.skip(row.ID, where(row.ID), err)
				return false
			}
			if !in.HasPrefix(scope) {
				return false
			}
		}
		rec, err := decodeRow(row)
		if err != nil {
			c.skip(row.ID, where(row.ID), err)
			return false
		}
		if pred != nil && !pred(rec.Clone()) {
			return false
		}
		c.add(rec)
		return c.full()
	}, func(id string, err error) {
		c.skip(id, where(id), err)
	})
	if ctx.Err() != nil {
		return nil, errors.NewCancelled("scan")
	}
	if err != nil {
		return nil, err
	}
	return c.result(), nil
}

// decodeRow rebuilds a record from its stored columns.
func decodeRow(row *db.Row) (*record.Record, error) {
	loc := "records:" + row.ID
	core, err := record.ParseCore([]byte(row.CoreJSON))
	if err != nil {
		return nil, errors.NewCorruptRecord(loc, err)
	}
	if core.ID != row.ID {
		return nil, errors.NewCorruptRecord(loc, fmt.Errorf("core id %q does not match row", core.ID))
	}
	var compacted []string
	if row.CompactedJSON != "" {
		if err := json.Unmarshal([]byte(row.CompactedJSON), &compacted); err != nil {
			return nil, errors.NewCorruptRecord(loc, err)
		}
	}
	rec, err := record.FromParts(core, record.SplitLines([]byte(row.Detailed)), compacted)
	if err != nil {
		return nil, errors.NewCorruptRecord(loc, err)
	}
	return rec, nil
}
