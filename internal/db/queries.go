package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/hpungsan/kapy/internal/errors"
)

// ErrUniqueConstraint is returned when an insert violates the primary key.
var ErrUniqueConstraint = &errors.KapyError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// Row is one stored record as raw column values.
type Row struct {
	ID            string
	CreatedAt     int64
	InChannel     string
	Writer        string
	CoreJSON      string
	Detailed      string
	CompactedJSON string
}

// Insert stores a new record row. A duplicate id returns ErrUniqueConstraint.
func Insert(ctx context.Context, db *sql.DB, r *Row) error {
	compacted := r.CompactedJSON
	if compacted == "" {
		compacted = "[]"
	}

	query := `
		INSERT INTO records (
			id, created_at, in_channel, writer, core_json, detailed, compacted_json
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		r.ID, r.CreatedAt, r.InChannel, toNullString(r.Writer),
		r.CoreJSON, r.Detailed, compacted,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE/PRIMARY KEY violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// GetByID retrieves a record row by id.
func GetByID(ctx context.Context, db *sql.DB, id string) (*Row, error) {
	query := `
		SELECT id, created_at, in_channel, writer, core_json, detailed, compacted_json
		FROM records
		WHERE id = ?
	`

	row := db.QueryRowContext(ctx, query, id)
	r, err := scanRow(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// ScanDesc walks rows newest-first (descending id) and calls fn for each.
// fn returns stop=true to end the walk early. Rows whose columns cannot be
// read are handed to onBad and skipped.
func ScanDesc(ctx context.Context, db *sql.DB, fn func(*Row) (stop bool), onBad func(id string, err error)) error {
	query := `
		SELECT id, created_at, in_channel, writer, core_json, detailed, compacted_json
		FROM records
		ORDER BY id DESC
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			if onBad != nil {
				onBad("", err)
			}
			continue
		}
		if fn(r) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewInternal(err)
	}
	return nil
}

// AppendCompacted appends lines to a record's compacted_json list in one
// transaction and returns the full list.
func AppendCompacted(ctx context.Context, db *sql.DB, id string, lines []string) ([]string, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT compacted_json FROM records WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	var current []string
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return nil, errors.NewCorruptRecord("records.compacted_json:"+id, err)
		}
	}
	current = append(current, lines...)

	data, err := json.Marshal(current)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE records SET compacted_json = ? WHERE id = ?`, string(data), id); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return current, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRow scans a single row into a Row struct.
func scanRow(s rowScanner) (*Row, error) {
	var (
		r         Row
		writer    sql.NullString
		compacted sql.NullString
	)
	err := s.Scan(&r.ID, &r.CreatedAt, &r.InChannel, &writer, &r.CoreJSON, &r.Detailed, &compacted)
	if err != nil {
		return nil, err
	}
	r.Writer = writer.String
	r.CompactedJSON = compacted.String
	return &r, nil
}

// toNullString converts an empty string to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
