// Package store persists healing reports to SQLite so runs can be inspected
// after the fact with `mend report`.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mend/internal/logging"
	"mend/internal/types"
)

// Store is a SQLite-backed report archive. Safe for concurrent use; SQLite
// serializes writers and WAL keeps readers unblocked.
type Store struct {
	db *sql.DB
}

// RunSummary is one row of `mend report --list`.
type RunSummary struct {
	RunID          string
	OverallSuccess bool
	Artifacts      int
	Started        time.Time
	Finished       time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	overall_success INTEGER NOT NULL,
	rounds_run      INTEGER NOT NULL,
	started         TIMESTAMP NOT NULL,
	finished        TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
	run_id        TEXT NOT NULL REFERENCES runs(run_id),
	artifact_id   TEXT NOT NULL,
	final_status  TEXT NOT NULL,
	rounds_taken  INTEGER NOT NULL,
	infra_failure INTEGER NOT NULL,
	remaining     TEXT NOT NULL,
	unresolved    TEXT NOT NULL,
	PRIMARY KEY (run_id, artifact_id)
);

CREATE TABLE IF NOT EXISTS attempts (
	run_id          TEXT NOT NULL,
	artifact_id     TEXT NOT NULL,
	round           INTEGER NOT NULL,
	version_before  INTEGER NOT NULL,
	version_after   INTEGER NOT NULL,
	fixes_applied   TEXT NOT NULL,
	diags_after     TEXT NOT NULL,
	classification  TEXT NOT NULL,
	discarded_stale INTEGER NOT NULL,
	PRIMARY KEY (run_id, artifact_id, round),
	FOREIGN KEY (run_id, artifact_id) REFERENCES results(run_id, artifact_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started DESC);
`

// Open opens (and if needed creates) the report database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize store schema: %w", err)
	}

	logging.Store("report store open at %s", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveReport persists a full run report in one transaction.
func (s *Store) SaveReport(report types.HealingReport) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO runs (run_id, overall_success, rounds_run, started, finished) VALUES (?, ?, ?, ?, ?)`,
		report.RunID, report.OverallSuccess, report.RoundsRun, report.Started, report.Finished,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", report.RunID, err)
	}

	for _, r := range report.Results {
		remaining, err := json.Marshal(r.RemainingDiagnostics)
		if err != nil {
			return err
		}
		unresolved, err := json.Marshal(r.Unresolved)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO results (run_id, artifact_id, final_status, rounds_taken, infra_failure, remaining, unresolved)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			report.RunID, r.ArtifactID, string(r.FinalStatus), r.RoundsTaken, r.InfraFailure, string(remaining), string(unresolved),
		); err != nil {
			return fmt.Errorf("insert result %s/%s: %w", report.RunID, r.ArtifactID, err)
		}

		for _, a := range r.Attempts {
			fixes, err := json.Marshal(a.FixesApplied)
			if err != nil {
				return err
			}
			diags, err := json.Marshal(a.DiagnosticsAfter)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(
				`INSERT INTO attempts (run_id, artifact_id, round, version_before, version_after, fixes_applied, diags_after, classification, discarded_stale)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				report.RunID, r.ArtifactID, a.Round, a.VersionBefore, a.VersionAfter,
				string(fixes), string(diags), string(a.Classification), a.DiscardedStale,
			); err != nil {
				return fmt.Errorf("insert attempt %s/%s round %d: %w", report.RunID, r.ArtifactID, a.Round, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Store("saved report %s (%d artifacts)", report.RunID, len(report.Results))
	return nil
}

// ListRuns returns run summaries, newest first.
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT r.run_id, r.overall_success, r.started, r.finished,
		        (SELECT COUNT(*) FROM results WHERE results.run_id = r.run_id)
		 FROM runs r ORDER BY r.started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		if err := rows.Scan(&rs.RunID, &rs.OverallSuccess, &rs.Started, &rs.Finished, &rs.Artifacts); err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// GetReport reconstructs a full report from the database. The run ID may be
// "latest" to select the most recent run.
func (s *Store) GetReport(runID string) (types.HealingReport, error) {
	if runID == "latest" {
		row := s.db.QueryRow(`SELECT run_id FROM runs ORDER BY started DESC LIMIT 1`)
		if err := row.Scan(&runID); err != nil {
			if err == sql.ErrNoRows {
				return types.HealingReport{}, fmt.Errorf("no runs recorded")
			}
			return types.HealingReport{}, err
		}
	}

	var report types.HealingReport
	row := s.db.QueryRow(
		`SELECT run_id, overall_success, rounds_run, started, finished FROM runs WHERE run_id = ?`, runID)
	if err := row.Scan(&report.RunID, &report.OverallSuccess, &report.RoundsRun, &report.Started, &report.Finished); err != nil {
		if err == sql.ErrNoRows {
			return types.HealingReport{}, fmt.Errorf("run %s not found", runID)
		}
		return types.HealingReport{}, err
	}

	rows, err := s.db.Query(
		`SELECT artifact_id, final_status, rounds_taken, infra_failure, remaining, unresolved
		 FROM results WHERE run_id = ? ORDER BY artifact_id`, runID)
	if err != nil {
		return types.HealingReport{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var r types.HealingResult
		var status, remaining, unresolved string
		if err := rows.Scan(&r.ArtifactID, &status, &r.RoundsTaken, &r.InfraFailure, &remaining, &unresolved); err != nil {
			return types.HealingReport{}, err
		}
		r.FinalStatus = types.FinalStatus(status)
		if err := json.Unmarshal([]byte(remaining), &r.RemainingDiagnostics); err != nil {
			return types.HealingReport{}, fmt.Errorf("decode remaining diagnostics for %s: %w", r.ArtifactID, err)
		}
		if err := json.Unmarshal([]byte(unresolved), &r.Unresolved); err != nil {
			return types.HealingReport{}, fmt.Errorf("decode unresolved fixes for %s: %w", r.ArtifactID, err)
		}

		attempts, err := s.loadAttempts(runID, r.ArtifactID)
		if err != nil {
			return types.HealingReport{}, err
		}
		r.Attempts = attempts
		report.Results = append(report.Results, r)
	}
	return report, rows.Err()
}

func (s *Store) loadAttempts(runID, artifactID string) ([]types.HealingAttempt, error) {
	rows, err := s.db.Query(
		`SELECT round, version_before, version_after, fixes_applied, diags_after, classification, discarded_stale
		 FROM attempts WHERE run_id = ? AND artifact_id = ? ORDER BY round`, runID, artifactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.HealingAttempt
	for rows.Next() {
		var a types.HealingAttempt
		var fixes, diags, class string
		if err := rows.Scan(&a.Round, &a.VersionBefore, &a.VersionAfter, &fixes, &diags, &class, &a.DiscardedStale); err != nil {
			return nil, err
		}
		a.Classification = types.Classification(class)
		if err := json.Unmarshal([]byte(fixes), &a.FixesApplied); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(diags), &a.DiagnosticsAfter); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
