// Package store persists scheduling runs and their result tables.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/hydroflex/core/model"
)

// RunRecord is the persisted summary of one scheduling run.
type RunRecord struct {
	ID          string                 `json:"id"`
	Scenario    string                 `json:"scenario"`
	Started     time.Time              `json:"started"`
	Duration    time.Duration          `json:"duration"`
	Err         string                 `json:"error,omitempty"`
	Diagnostics model.Diagnostics      `json:"diagnostics"`
	Final       *model.SubHorizonState `json:"final,omitempty"`
}

// RunQuery filters stored runs. Zero fields match everything.
type RunQuery struct {
	Scenario string
	Start    time.Time
	End      time.Time
}

// SQLiteStore persists runs to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS schedule_runs (
        id TEXT PRIMARY KEY,
        scenario TEXT,
        started INTEGER,
        duration_ms INTEGER,
        error TEXT,
        diagnostics TEXT,
        final_state TEXT
    );
    CREATE TABLE IF NOT EXISTS schedule_results (
        run_id TEXT NOT NULL,
        sim_idx INTEGER,
        t INTEGER,
        ts INTEGER,
        tbl TEXT NOT NULL,
        entity TEXT NOT NULL,
        value REAL,
        PRIMARY KEY(run_id, tbl, entity, t)
    );`

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Batch runs save concurrently; SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// SaveRun writes the run summary and its result rows in one transaction.
// Saving the same run ID again replaces the previous content.
func (s *SQLiteStore) SaveRun(ctx context.Context, run RunRecord, rows []model.ResultRow) (err error) {
	diag, err := json.Marshal(run.Diagnostics)
	if err != nil {
		return err
	}
	var final []byte
	if run.Final != nil {
		if final, err = json.Marshal(run.Final); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM schedule_results WHERE run_id = ?`, run.ID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO schedule_runs (id, scenario, started, duration_ms, error, diagnostics, final_state)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Scenario, run.Started.Unix(), run.Duration.Milliseconds(), run.Err, string(diag), string(final)); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO schedule_results (run_id, sim_idx, t, ts, tbl, entity, value) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, r := range rows {
		if _, err = stmt.ExecContext(ctx, run.ID, r.SimIdx, r.T, r.Timestamp.Unix(), r.Table, r.Entity, r.Value); err != nil {
			return fmt.Errorf("insert %s/%s t=%d: %w", r.Table, r.Entity, r.T, err)
		}
	}
	return tx.Commit()
}

// Runs returns the runs matching q ordered by start time.
func (s *SQLiteStore) Runs(ctx context.Context, q RunQuery) ([]RunRecord, error) {
	var args []any
	query := `SELECT id, scenario, started, duration_ms, error, diagnostics, final_state FROM schedule_runs WHERE 1=1`
	if q.Scenario != "" {
		query += ` AND scenario = ?`
		args = append(args, q.Scenario)
	}
	if !q.Start.IsZero() {
		query += ` AND started >= ?`
		args = append(args, q.Start.Unix())
	}
	if !q.End.IsZero() {
		query += ` AND started <= ?`
		args = append(args, q.End.Unix())
	}
	query += ` ORDER BY started, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []RunRecord
	for rows.Next() {
		var (
			r             RunRecord
			started, dur  int64
			diag, finalJS string
		)
		if err := rows.Scan(&r.ID, &r.Scenario, &started, &dur, &r.Err, &diag, &finalJS); err != nil {
			return nil, err
		}
		r.Started = time.Unix(started, 0).UTC()
		r.Duration = time.Duration(dur) * time.Millisecond
		if err := json.Unmarshal([]byte(diag), &r.Diagnostics); err != nil {
			return nil, fmt.Errorf("unmarshal diagnostics: %w", err)
		}
		if finalJS != "" {
			var st model.SubHorizonState
			if err := json.Unmarshal([]byte(finalJS), &st); err != nil {
				return nil, fmt.Errorf("unmarshal final state: %w", err)
			}
			r.Final = &st
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Results returns the rows of a run. An empty table returns every table.
func (s *SQLiteStore) Results(ctx context.Context, runID, table string) ([]model.ResultRow, error) {
	args := []any{runID}
	query := `SELECT sim_idx, t, ts, tbl, entity, value FROM schedule_results WHERE run_id = ?`
	if table != "" {
		query += ` AND tbl = ?`
		args = append(args, table)
	}
	query += ` ORDER BY tbl, t, entity`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.ResultRow
	for rows.Next() {
		var (
			r  model.ResultRow
			ts int64
		)
		if err := rows.Scan(&r.SimIdx, &r.T, &ts, &r.Table, &r.Entity, &r.Value); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(ts, 0).UTC()
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
