// Package history records every finished restoration in sqlite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stevecastle/retouch/restore"
)

// Entry is one finished restoration.
type Entry struct {
	ID       int64          `json:"id"`
	Source   string         `json:"source"`
	Output   string         `json:"output"`
	Params   restore.Params `json:"params"`
	Width    int            `json:"width"`
	Height   int            `json:"height"`
	Duration time.Duration  `json:"-"`
	// DurationMS mirrors Duration for JSON clients.
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store reads and writes the restorations table.
type Store struct {
	db *sql.DB
}

// New prepares the restorations table in db.
func New(db *sql.DB) (*Store, error) {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS restorations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		output TEXT NOT NULL,
		params TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("create restorations table: %w", err)
	}
	return &Store{db: db}, nil
}

// Record stores e and returns its id. A zero CreatedAt is set to now.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	params, err := json.Marshal(e.Params)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO restorations (source, output, params, width, height, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Source, e.Output, string(params), e.Width, e.Height,
		e.Duration.Milliseconds(), e.CreatedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("record restoration: %w", err)
	}
	return res.LastInsertId()
}

// List returns up to limit entries, newest first. limit <= 0 means 100.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, output, params, width, height, duration_ms, created_at
		FROM restorations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var params string
		var created int64
		if err := rows.Scan(&e.ID, &e.Source, &e.Output, &params, &e.Width, &e.Height, &e.DurationMS, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
			return nil, fmt.Errorf("restoration %d: %w", e.ID, err)
		}
		e.Duration = time.Duration(e.DurationMS) * time.Millisecond
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear deletes every entry and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM restorations`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
