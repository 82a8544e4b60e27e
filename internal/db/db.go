// Package db is the sqlite catalog of frames written to the staging
// directory.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
	path string
}

// NewDB opens (or creates) the catalog at path and applies all pending
// migrations. ":memory:" gives a private in-memory catalog.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the location the catalog was opened from.
func (db *DB) Path() string { return db.path }

// FrameRecord is one staged frame.
type FrameRecord struct {
	RunID      string     `json:"run_id"`
	FrameID    string     `json:"frame_id"`
	Sequence   uint64     `json:"sequence"`
	Path       string     `json:"path"`
	CapturedAt time.Time  `json:"captured_at"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Injected   int        `json:"injected"`
	SizeBytes  int64      `json:"size_bytes"`
	PrunedAt   *time.Time `json:"pruned_at,omitempty"`
}

// RecordFrame inserts r, replacing any earlier row for the same frame.
func (db *DB) RecordFrame(ctx context.Context, r FrameRecord) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO frames (
			run_id, frame_id, sequence, path, captured_at,
			width, height, injected, size_bytes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.FrameID, int64(r.Sequence), r.Path, r.CapturedAt.UTC().Format(time.RFC3339Nano),
		r.Width, r.Height, r.Injected, r.SizeBytes,
	)
	if err != nil {
		return fmt.Errorf("record frame %s: %w", r.FrameID, err)
	}
	return nil
}

// MarkPruned stamps every row staged at path as removed from disk.
func (db *DB) MarkPruned(ctx context.Context, path string, at time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE frames SET pruned_at = ? WHERE path = ? AND pruned_at IS NULL`,
		at.UTC().Format(time.RFC3339Nano), path,
	)
	if err != nil {
		return 0, fmt.Errorf("mark pruned %s: %w", path, err)
	}
	return res.RowsAffected()
}

// ListFrames returns the newest frames first. An empty runID lists all
// runs; limit <= 0 means no limit.
func (db *DB) ListFrames(ctx context.Context, runID string, limit int) ([]FrameRecord, error) {
	query := `SELECT run_id, frame_id, sequence, path, captured_at,
		width, height, injected, size_bytes, pruned_at
		FROM frames`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY captured_at DESC, sequence DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var (
			r        FrameRecord
			seq      int64
			captured string
			pruned   sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.FrameID, &seq, &r.Path, &captured,
			&r.Width, &r.Height, &r.Injected, &r.SizeBytes, &pruned); err != nil {
			return nil, err
		}
		r.Sequence = uint64(seq)
		if r.CapturedAt, err = time.Parse(time.RFC3339Nano, captured); err != nil {
			return nil, fmt.Errorf("frame %s: bad captured_at %q: %w", r.FrameID, captured, err)
		}
		if pruned.Valid {
			t, err := time.Parse(time.RFC3339Nano, pruned.String)
			if err == nil {
				r.PrunedAt = &t
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountFrames returns the number of catalogued frames still on disk.
func (db *DB) CountFrames(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames WHERE pruned_at IS NULL`).Scan(&n)
	return n, err
}
