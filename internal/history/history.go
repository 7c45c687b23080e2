// Package history persists scan summaries in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/terrain-visibility/core"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for an unknown scan ID.
var ErrNotFound = errors.New("scan not found")

// DefaultListLimit applies when List is called with a non-positive limit.
const DefaultListLimit = 50

const schema = `
	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		mode TEXT NOT NULL,
		rays INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		status TEXT NOT NULL,
		visible_fraction REAL NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS scans_created_at ON scans(created_at);
`

// Summary is the stored digest of one scan or profile.
type Summary struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	Mode            string    `json:"mode"`
	Rays            int       `json:"rays"`
	Failed          int       `json:"failed"`
	Status          string    `json:"status"`
	VisibleFraction float64   `json:"visible_fraction"`
	CreatedAt       time.Time `json:"created_at"`
}

// FromScan summarises a scan result.
func FromScan(res core.ScanResult, at time.Time) Summary {
	return Summary{
		ID:              res.ID,
		Kind:            "scan",
		Mode:            res.Mode.String(),
		Rays:            len(res.Rays),
		Failed:          res.Failed,
		Status:          res.Status.String(),
		VisibleFraction: res.VisibleFraction(),
		CreatedAt:       at.UTC(),
	}
}

// FromProfile summarises a profile as a single-ray terrain query.
func FromProfile(id string, p core.Profile, at time.Time) Summary {
	frac := 0.0
	if p.Length > 0 && len(p.Segments) > 0 {
		var total float64
		for _, s := range p.Segments {
			total += s.Length()
		}
		if total > 0 {
			frac = p.VisibleLength() / total
		}
	}
	return Summary{
		ID:              id,
		Kind:            "profile",
		Mode:            core.ModeTerrainProfile.String(),
		Rays:            1,
		Status:          core.ScanComplete.String(),
		VisibleFraction: frac,
		CreatedAt:       at.UTC(),
	}
}

// Store is a SQLite-backed summary store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Record inserts or replaces a summary.
func (s *Store) Record(ctx context.Context, sum Summary) error {
	if sum.ID == "" {
		return fmt.Errorf("%w: summary without id", core.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO scans (id, kind, mode, rays, failed, status, visible_fraction, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.Kind, sum.Mode, sum.Rays, sum.Failed, sum.Status, sum.VisibleFraction,
		sum.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert scan %s: %w", sum.ID, err)
	}
	return nil
}

// Get returns the summary with the given ID.
func (s *Store) Get(ctx context.Context, id string) (Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, mode, rays, failed, status, visible_fraction, created_at
		FROM scans WHERE id = ?`, id)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Summary{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sum, err
}

// List returns up to limit summaries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, mode, rays, failed, status, visible_fraction, created_at
		FROM scans ORDER BY created_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(r rowScanner) (Summary, error) {
	var (
		sum     Summary
		created string
	)
	if err := r.Scan(&sum.ID, &sum.Kind, &sum.Mode, &sum.Rays, &sum.Failed, &sum.Status, &sum.VisibleFraction, &created); err != nil {
		return Summary{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Summary{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	sum.CreatedAt = t
	return sum, nil
}
