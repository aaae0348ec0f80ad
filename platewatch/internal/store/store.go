// Package store keeps the snapshot and dispatch history of a platewatch
// instance in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/hazyhaar/plates/dbopen"
	"github.com/hazyhaar/plates/platewatch/detection"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id          TEXT PRIMARY KEY,
	captured_at TEXT NOT NULL,
	columns     TEXT NOT NULL,
	row_count   INTEGER NOT NULL,
	detections  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_captured ON snapshots(captured_at);

CREATE TABLE IF NOT EXISTS dispatches (
	id           TEXT PRIMARY KEY,
	snapshot_id  TEXT,
	at           TEXT NOT NULL,
	plate        TEXT NOT NULL,
	source       TEXT NOT NULL,
	record       TEXT NOT NULL,
	enrichment   TEXT NOT NULL,
	delivered    INTEGER NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	recognize_ns INTEGER NOT NULL DEFAULT 0,
	deliver_ns   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_dispatches_at ON dispatches(at);
CREATE INDEX IF NOT EXISTS idx_dispatches_plate ON dispatches(plate);
`

// ErrNotFound is returned when a snapshot does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already open database and applies the schema.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// SaveSnapshot stores an accepted snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap detection.Snapshot) error {
	cols, err := json.Marshal(snap.Schema)
	if err != nil {
		return fmt.Errorf("store: marshal schema: %w", err)
	}
	dets, err := json.Marshal(snap.Detections)
	if err != nil {
		return fmt.Errorf("store: marshal detections: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.db,
		`INSERT INTO snapshots (id, captured_at, columns, row_count, detections) VALUES (?, ?, ?, ?, ?)`,
		snap.ID, formatTime(snap.CapturedAt), string(cols), snap.Len(), string(dets))
	if err != nil {
		return fmt.Errorf("store: insert snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// SnapshotSummary describes a stored snapshot without its rows.
type SnapshotSummary struct {
	ID         string    `json:"id"`
	CapturedAt time.Time `json:"captured_at"`
	Rows       int       `json:"rows"`
}

// RecentSnapshots returns up to n snapshots, newest first.
func (s *Store) RecentSnapshots(ctx context.Context, n int) ([]SnapshotSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, captured_at, row_count FROM snapshots ORDER BY captured_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: query snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotSummary
	for rows.Next() {
		var (
			sum SnapshotSummary
			at  string
		)
		if err := rows.Scan(&sum.ID, &at, &sum.Rows); err != nil {
			return nil, fmt.Errorf("store: scan snapshot: %w", err)
		}
		sum.CapturedAt = parseTime(at)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// GetSnapshot loads a stored snapshot with its rows.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*detection.Snapshot, error) {
	var (
		snap       detection.Snapshot
		at         string
		cols, dets string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, captured_at, columns, detections FROM snapshots WHERE id = ?`, id).
		Scan(&snap.ID, &at, &cols, &dets)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get snapshot %s: %w", id, err)
	}
	snap.CapturedAt = parseTime(at)
	if err := json.Unmarshal([]byte(cols), &snap.Schema); err != nil {
		return nil, fmt.Errorf("store: decode schema: %w", err)
	}
	if err := json.Unmarshal([]byte(dets), &snap.Detections); err != nil {
		return nil, fmt.Errorf("store: decode detections: %w", err)
	}
	return &snap, nil
}

// RecordDispatch stores one dispatch.
func (s *Store) RecordDispatch(ctx context.Context, d detection.Dispatch) error {
	src, err := json.Marshal(d.Source)
	if err != nil {
		return fmt.Errorf("store: marshal source: %w", err)
	}
	rec, err := json.Marshal(d.Record)
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}
	delivered := 0
	if d.Delivered {
		delivered = 1
	}
	_, err = dbopen.Exec(ctx, s.db,
		`INSERT INTO dispatches (id, snapshot_id, at, plate, source, record, enrichment, delivered, error, recognize_ns, deliver_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SnapshotID, formatTime(d.At), d.Record.Plate, string(src), string(rec),
		string(d.Enrichment), delivered, d.Error, int64(d.Recognize), int64(d.Deliver))
	if err != nil {
		return fmt.Errorf("store: insert dispatch %s: %w", d.ID, err)
	}
	return nil
}

// RecentDispatches returns up to n dispatches, newest first. A non-empty
// plate restricts the result to that plate.
func (s *Store) RecentDispatches(ctx context.Context, plate string, n int) ([]detection.Dispatch, error) {
	q := `SELECT id, snapshot_id, at, source, record, enrichment, delivered, error, recognize_ns, deliver_ns FROM dispatches`
	args := []any{}
	if plate != "" {
		q += ` WHERE plate = ?`
		args = append(args, plate)
	}
	q += ` ORDER BY at DESC, id DESC LIMIT ?`
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query dispatches: %w", err)
	}
	defer rows.Close()

	var out []detection.Dispatch
	for rows.Next() {
		var (
			d                  detection.Dispatch
			snapID             sql.NullString
			at, src, rec, enr  string
			delivered          int
			recognize, deliver int64
		)
		if err := rows.Scan(&d.ID, &snapID, &at, &src, &rec, &enr, &delivered, &d.Error, &recognize, &deliver); err != nil {
			return nil, fmt.Errorf("store: scan dispatch: %w", err)
		}
		if err := json.Unmarshal([]byte(src), &d.Source); err != nil {
			return nil, fmt.Errorf("store: decode source: %w", err)
		}
		if err := json.Unmarshal([]byte(rec), &d.Record); err != nil {
			return nil, fmt.Errorf("store: decode record: %w", err)
		}
		d.SnapshotID = snapID.String
		d.At = parseTime(at)
		d.Enrichment = detection.Enrichment(enr)
		d.Delivered = delivered == 1
		d.Recognize = time.Duration(recognize)
		d.Deliver = time.Duration(deliver)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Stats are aggregate counters over the whole history.
type Stats struct {
	Snapshots  int `json:"snapshots"`
	Dispatches int `json:"dispatches"`
	Delivered  int `json:"delivered"`
}

// Stats counts stored rows.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM snapshots),
		(SELECT COUNT(*) FROM dispatches),
		(SELECT COUNT(*) FROM dispatches WHERE delivered = 1)`).
		Scan(&st.Snapshots, &st.Dispatches, &st.Delivered)
	if err != nil {
		return st, fmt.Errorf("store: stats: %w", err)
	}
	return st, nil
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime uses a fixed-width layout so text ordering matches time ordering.
func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
