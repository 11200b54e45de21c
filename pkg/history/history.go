// Pattern run history
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package history records pattern runs in a SQLite database so past
// runs stay listable across restarts.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
	OutcomeFault     = "fault"
)

// Run is one pattern run, finished or still going.
type Run struct {
	ID         int64  `json:"id"`
	Pattern    string `json:"pattern"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	StepsTotal uint   `json:"steps_total"`
	StepsDone  uint   `json:"steps_done"`
}

// Store persists pattern runs.
type Store struct {
	db *sql.DB
}

// Open opens (and initializes) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS pattern_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pattern TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER,
	outcome TEXT,
	steps_total INTEGER NOT NULL,
	steps_done INTEGER NOT NULL DEFAULT 0
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordStart inserts a new run and returns its id.
func (s *Store) RecordStart(pattern string, stepsTotal uint) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO pattern_runs (pattern, started_at, steps_total) VALUES (?, ?, ?)`,
		pattern, time.Now().Unix(), stepsTotal,
	)
	if err != nil {
		return 0, fmt.Errorf("record run start: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record run start: %w", err)
	}
	return id, nil
}

// RecordEnd finishes a run with its outcome and final step count.
func (s *Store) RecordEnd(id int64, outcome string, stepsDone uint) error {
	_, err := s.db.Exec(
		`UPDATE pattern_runs SET finished_at = ?, outcome = ?, steps_done = ? WHERE id = ?`,
		time.Now().Unix(), outcome, stepsDone, id,
	)
	if err != nil {
		return fmt.Errorf("record run end: %w", err)
	}
	return nil
}

// List returns the most recent runs, newest first.
func (s *Store) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
SELECT id, pattern, started_at, finished_at, outcome, steps_total, steps_done
FROM pattern_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullInt64
		var outcome sql.NullString
		if err := rows.Scan(&r.ID, &r.Pattern, &r.StartedAt, &finished, &outcome, &r.StepsTotal, &r.StepsDone); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.FinishedAt = finished.Int64
		r.Outcome = outcome.String
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}
