// SPDX-License-Identifier: Apache-2.0
// Package litl persists the lab-in-the-loop record: historical assay
// measurements fed to the agents as evidence, plus every completed run so
// verdicts can be audited and replayed.
package litl

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/helixbio/triage/pkg/core"
)

// AssayRecord is one historical wet-lab measurement for a compound.
type AssayRecord struct {
	ID         int64     `json:"id"`
	Compound   string    `json:"compound"`
	Assay      string    `json:"assay"`
	Measure    string    `json:"measure"`
	Value      float64   `json:"value"`
	Units      string    `json:"units,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RunRecord is one completed agent run, leaf or coordinator, as stored.
type RunRecord struct {
	RunID          string    `json:"run_id"`
	Compound       string    `json:"compound"`
	Agent          string    `json:"agent"`
	Score          float64   `json:"score"`
	Confidence     float64   `json:"confidence"`
	Degraded       bool      `json:"degraded"`
	Reasoning      string    `json:"reasoning"`
	TrajectoryJSON string    `json:"trajectory_json,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store is the SQLite-backed lab-in-the-loop record.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at path and ensures schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing database handle and ensures schema.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// AddAssay stores one assay measurement.
func (s *Store) AddAssay(ctx context.Context, rec AssayRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assay_records (compound, assay, measure, value, units, notes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Compound,
		rec.Assay,
		rec.Measure,
		rec.Value,
		rec.Units,
		rec.Notes,
		rec.RecordedAt.UTC(),
	)
	return err
}

// AssaysByCompound returns assay history for a compound, newest first.
// Assay filters to one assay name when non-empty.
func (s *Store) AssaysByCompound(ctx context.Context, compound, assay string, limit int) ([]AssayRecord, error) {
	query := `
		SELECT id, compound, assay, measure, value, units, notes, recorded_at
		FROM assay_records
		WHERE compound = ?
	`
	args := []any{compound}
	if assay != "" {
		query += " AND assay = ?"
		args = append(args, assay)
	}
	query += " ORDER BY recorded_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AssayRecord
	for rows.Next() {
		var rec AssayRecord
		var recorded sql.NullTime
		if err := rows.Scan(
			&rec.ID,
			&rec.Compound,
			&rec.Assay,
			&rec.Measure,
			&rec.Value,
			&rec.Units,
			&rec.Notes,
			&recorded,
		); err != nil {
			return nil, err
		}
		if recorded.Valid {
			rec.RecordedAt = recorded.Time
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// AssaysByType returns every measurement for one assay across all compounds,
// newest first. The reasoning tools use this as the reference table for
// analog-based inference.
func (s *Store) AssaysByType(ctx context.Context, assay string, limit int) ([]AssayRecord, error) {
	query := `
		SELECT id, compound, assay, measure, value, units, notes, recorded_at
		FROM assay_records
		WHERE assay = ?
		ORDER BY recorded_at DESC, id DESC
	`
	args := []any{assay}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AssayRecord
	for rows.Next() {
		var rec AssayRecord
		var recorded sql.NullTime
		if err := rows.Scan(
			&rec.ID,
			&rec.Compound,
			&rec.Assay,
			&rec.Measure,
			&rec.Value,
			&rec.Units,
			&rec.Notes,
			&recorded,
		); err != nil {
			return nil, err
		}
		if recorded.Valid {
			rec.RecordedAt = recorded.Time
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// RecordLeafRun stores one leaf result with its full trajectory.
func (s *Store) RecordLeafRun(ctx context.Context, runID, compound string, res *core.LeafResult) error {
	if res == nil {
		return errors.New("nil leaf result")
	}
	trajJSON := ""
	if res.Trajectory != nil {
		raw, err := json.Marshal(res.Trajectory)
		if err != nil {
			return err
		}
		trajJSON = string(raw)
	}
	return s.insertRun(ctx, RunRecord{
		RunID:          runID,
		Compound:       compound,
		Agent:          res.Agent,
		Score:          res.Score,
		Confidence:     res.Confidence,
		Degraded:       res.Degraded,
		Reasoning:      res.Reasoning,
		TrajectoryJSON: trajJSON,
	})
}

// RecordVerdict stores the coordinator's composite result.
func (s *Store) RecordVerdict(ctx context.Context, runID string, res *core.CompositeResult) error {
	if res == nil {
		return errors.New("nil composite result")
	}
	return s.insertRun(ctx, RunRecord{
		RunID:      runID,
		Compound:   res.Compound,
		Agent:      "coordinator",
		Score:      res.PriorityScore,
		Confidence: res.Confidence,
		Reasoning:  res.Reasoning,
	})
}

func (s *Store) insertRun(ctx context.Context, rec RunRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_runs (run_id, compound, agent, score, confidence, degraded, reasoning, trajectory_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RunID,
		rec.Compound,
		rec.Agent,
		rec.Score,
		rec.Confidence,
		rec.Degraded,
		rec.Reasoning,
		rec.TrajectoryJSON,
		rec.CreatedAt.UTC(),
	)
	return err
}

// RunsByCompound returns recorded runs for a compound, newest first.
func (s *Store) RunsByCompound(ctx context.Context, compound string, limit int) ([]RunRecord, error) {
	query := `
		SELECT run_id, compound, agent, score, confidence, degraded, reasoning, trajectory_json, created_at
		FROM agent_runs
		WHERE compound = ?
		ORDER BY created_at DESC, rowid DESC
	`
	args := []any{compound}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var created sql.NullTime
		if err := rows.Scan(
			&rec.RunID,
			&rec.Compound,
			&rec.Agent,
			&rec.Score,
			&rec.Confidence,
			&rec.Degraded,
			&rec.Reasoning,
			&rec.TrajectoryJSON,
			&created,
		); err != nil {
			return nil, err
		}
		if created.Valid {
			rec.CreatedAt = created.Time
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Compounds returns the distinct compound names present in the assay record,
// alphabetically.
func (s *Store) Compounds(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT compound FROM assay_records ORDER BY compound
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS assay_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			compound TEXT NOT NULL,
			assay TEXT NOT NULL,
			measure TEXT NOT NULL,
			value REAL NOT NULL,
			units TEXT,
			notes TEXT,
			recorded_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_assay_compound ON assay_records(compound);
		CREATE INDEX IF NOT EXISTS idx_assay_name ON assay_records(assay);

		CREATE TABLE IF NOT EXISTS agent_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			compound TEXT NOT NULL,
			agent TEXT NOT NULL,
			score REAL NOT NULL,
			confidence REAL NOT NULL,
			degraded BOOLEAN NOT NULL DEFAULT 0,
			reasoning TEXT,
			trajectory_json TEXT,
			created_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_runs_compound ON agent_runs(compound);
		CREATE INDEX IF NOT EXISTS idx_runs_run ON agent_runs(run_id);
	`)
	return err
}
