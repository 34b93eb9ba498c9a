package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abacus-exp/abacus/internal/schemas"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    experiment_id INTEGER PRIMARY KEY,
    name TEXT UNIQUE NOT NULL,
    platform TEXT NOT NULL,
    status TEXT NOT NULL,
    definition TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);

CREATE TABLE IF NOT EXISTS metrics (
    metric_id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    parameter_type TEXT NOT NULL,
    higher_is_better INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS analyses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id INTEGER NOT NULL,
    metric_assignment_id INTEGER NOT NULL,
    analysis_strategy TEXT NOT NULL,
    analysis_datetime INTEGER NOT NULL,
    participant_stats TEXT NOT NULL,
    metric_estimates TEXT,
    FOREIGN KEY (experiment_id) REFERENCES experiments(experiment_id)
);

CREATE INDEX IF NOT EXISTS idx_analyses_experiment ON analyses(experiment_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_analyses_dedup ON analyses(experiment_id, metric_assignment_id, analysis_strategy, analysis_datetime);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSnapshot upserts the experiment and its metrics and records the
// snapshot's analyses. Re-importing an analysis for the same assignment,
// strategy and date replaces it.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *schemas.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertExperiment(ctx, tx, &snap.Experiment); err != nil {
		return err
	}

	for _, m := range snap.Metrics {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO metrics (metric_id, name, description, parameter_type, higher_is_better)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(metric_id) DO UPDATE SET
			   name = excluded.name,
			   description = excluded.description,
			   parameter_type = excluded.parameter_type,
			   higher_is_better = excluded.higher_is_better`,
			m.MetricID, m.Name, m.Description, string(m.ParameterType), m.HigherIsBetter,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert metric %d: %w", m.MetricID, err)
		}
	}

	for _, a := range snap.Analyses {
		participantStats, err := json.Marshal(a.ParticipantStats)
		if err != nil {
			return fmt.Errorf("failed to marshal participant stats: %w", err)
		}

		var estimates sql.NullString
		if a.MetricEstimates != nil {
			data, err := json.Marshal(a.MetricEstimates)
			if err != nil {
				return fmt.Errorf("failed to marshal metric estimates: %w", err)
			}
			estimates = nullableString(data)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO analyses
			   (experiment_id, metric_assignment_id, analysis_strategy, analysis_datetime, participant_stats, metric_estimates)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			snap.Experiment.ExperimentID, a.MetricAssignmentID, string(a.AnalysisStrategy),
			a.AnalysisDatetime.Unix(), string(participantStats), estimates,
		)
		if err != nil {
			return fmt.Errorf("failed to insert analysis: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	slog.Debug("saved snapshot",
		"experiment_id", snap.Experiment.ExperimentID,
		"metrics", len(snap.Metrics),
		"analyses", len(snap.Analyses),
	)
	return nil
}

func upsertExperiment(ctx context.Context, tx *sql.Tx, e *schemas.Experiment) error {
	definition, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal experiment: %w", err)
	}

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO experiments (experiment_id, name, platform, status, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(experiment_id) DO UPDATE SET
		   name = excluded.name,
		   platform = excluded.platform,
		   status = excluded.status,
		   definition = excluded.definition,
		   updated_at = excluded.updated_at`,
		e.ExperimentID, e.Name, string(e.Platform), string(e.Status), string(definition), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert experiment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id int64) (*schemas.Experiment, error) {
	return s.getExperiment(ctx, `SELECT definition FROM experiments WHERE experiment_id = ?`, id)
}

func (s *SQLiteStore) GetExperimentByName(ctx context.Context, name string) (*schemas.Experiment, error) {
	return s.getExperiment(ctx, `SELECT definition FROM experiments WHERE name = ?`, name)
}

func (s *SQLiteStore) getExperiment(ctx context.Context, query string, arg interface{}) (*schemas.Experiment, error) {
	var definition string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&definition)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}

	var e schemas.Experiment
	if err := json.Unmarshal([]byte(definition), &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal experiment: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*schemas.Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition FROM experiments ORDER BY created_at DESC, experiment_id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*schemas.Experiment
	for rows.Next() {
		var definition string
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		var e schemas.Experiment
		if err := json.Unmarshal([]byte(definition), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal experiment: %w", err)
		}
		experiments = append(experiments, &e)
	}

	return experiments, rows.Err()
}

// ConcludeExperiment marks a running experiment completed, ending it now if
// its scheduled end is still ahead.
func (s *SQLiteStore) ConcludeExperiment(ctx context.Context, id int64, deployedVariationID *int64, endReason, conclusionURL string) (*schemas.Experiment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var definition string
	err = tx.QueryRowContext(ctx, `SELECT definition FROM experiments WHERE experiment_id = ?`, id).Scan(&definition)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}

	var e schemas.Experiment
	if err := json.Unmarshal([]byte(definition), &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal experiment: %w", err)
	}

	now := time.Now().UTC()
	e.Status = schemas.StatusCompleted
	if e.EndDatetime.After(now) {
		e.EndDatetime = now
	}
	e.DeployedVariationID = deployedVariationID
	e.EndReason = endReason
	e.ConclusionURL = conclusionURL

	if err := upsertExperiment(ctx, tx, &e); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit conclusion: %w", err)
	}
	return &e, nil
}

// DeleteExperiment removes an experiment and its analyses together.
func (s *SQLiteStore) DeleteExperiment(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM experiments WHERE experiment_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM analyses WHERE experiment_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete analyses: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deletion: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMetric(ctx context.Context, id int64) (*schemas.Metric, error) {
	var m schemas.Metric
	var description sql.NullString
	var parameterType string
	err := s.db.QueryRowContext(ctx,
		`SELECT metric_id, name, description, parameter_type, higher_is_better FROM metrics WHERE metric_id = ?`, id,
	).Scan(&m.MetricID, &m.Name, &description, &parameterType, &m.HigherIsBetter)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metric: %w", err)
	}
	m.Description = description.String
	m.ParameterType = schemas.MetricParameterType(parameterType)
	return &m, nil
}

// ListAnalyses returns every stored analysis of an experiment, oldest first.
func (s *SQLiteStore) ListAnalyses(ctx context.Context, experimentID int64) ([]schemas.Analysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric_assignment_id, analysis_strategy, analysis_datetime, participant_stats, metric_estimates
		 FROM analyses WHERE experiment_id = ? ORDER BY analysis_datetime ASC, id ASC`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	var analyses []schemas.Analysis
	for rows.Next() {
		var a schemas.Analysis
		var strategy, participantStats string
		var analysisDatetime int64
		var estimates sql.NullString
		if err := rows.Scan(&a.MetricAssignmentID, &strategy, &analysisDatetime, &participantStats, &estimates); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		a.AnalysisStrategy = schemas.AnalysisStrategy(strategy)
		a.AnalysisDatetime = time.Unix(analysisDatetime, 0).UTC()

		if err := json.Unmarshal([]byte(participantStats), &a.ParticipantStats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participant stats: %w", err)
		}
		if estimates.Valid {
			a.MetricEstimates = &schemas.MetricEstimates{}
			if err := json.Unmarshal([]byte(estimates.String), a.MetricEstimates); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metric estimates: %w", err)
			}
		}
		analyses = append(analyses, a)
	}

	return analyses, rows.Err()
}

// GetSnapshot loads an experiment together with the metrics it is assigned
// and all of its analyses.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, experimentID int64) (*schemas.Snapshot, error) {
	e, err := s.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	snap := &schemas.Snapshot{Experiment: *e}
	seen := make(map[int64]bool)
	for _, ma := range e.MetricAssignments {
		if seen[ma.MetricID] {
			continue
		}
		seen[ma.MetricID] = true
		m, err := s.GetMetric(ctx, ma.MetricID)
		if err != nil {
			return nil, fmt.Errorf("failed to get metric %d: %w", ma.MetricID, err)
		}
		snap.Metrics = append(snap.Metrics, *m)
	}

	snap.Analyses, err = s.ListAnalyses(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// CountExperiments is used by the server's health endpoint.
func (s *SQLiteStore) CountExperiments(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count experiments: %w", err)
	}
	return n, nil
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
