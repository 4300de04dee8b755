package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"economy-forecaster/internal/backtest"
	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/events"
	"economy-forecaster/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes. Calendar dates are
// stored as YYYY-MM-DD text; instants as UTC DATETIME.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Raw market observations
	CREATE TABLE IF NOT EXISTS observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id TEXT NOT NULL,
		realm TEXT NOT NULL,
		category TEXT NOT NULL,
		observed_at DATETIME NOT NULL,
		price REAL NOT NULL,
		volume REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(entity_id, realm, observed_at)
	);

	-- Event calendar
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		event_type TEXT NOT NULL,
		scope TEXT NOT NULL,
		severity TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		announced_at DATETIME,
		recurring INTEGER DEFAULT 0,
		notes TEXT
	);

	CREATE TABLE IF NOT EXISTS event_impacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id INTEGER NOT NULL,
		category TEXT NOT NULL,
		direction TEXT NOT NULL,
		magnitude REAL NOT NULL,
		lag_days INTEGER DEFAULT 0,
		duration_days INTEGER,
		notes TEXT,
		FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE,
		UNIQUE(event_id, category)
	);

	-- Backtest provenance
	CREATE TABLE IF NOT EXISTS backtest_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		config TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		error TEXT,
		n_folds INTEGER DEFAULT 0,
		n_skipped_folds INTEGER DEFAULT 0,
		n_predictions INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS backtest_folds (
		run_id TEXT NOT NULL,
		horizon INTEGER NOT NULL,
		fold_index INTEGER NOT NULL,
		train_start TEXT NOT NULL,
		train_end TEXT NOT NULL,
		test_date TEXT NOT NULL,
		n_predictions INTEGER NOT NULL,
		n_skipped_series INTEGER NOT NULL,
		n_failures INTEGER NOT NULL,
		skipped INTEGER DEFAULT 0,
		skip_reason TEXT,
		PRIMARY KEY (run_id, horizon, fold_index),
		FOREIGN KEY (run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS backtest_predictions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		fold_index INTEGER NOT NULL,
		horizon INTEGER NOT NULL,
		entity_id TEXT NOT NULL,
		realm TEXT NOT NULL,
		category TEXT NOT NULL,
		model TEXT NOT NULL,
		train_end TEXT NOT NULL,
		test_date TEXT NOT NULL,
		actual REAL,
		predicted REAL NOT NULL,
		last_known REAL,
		event_active INTEGER DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS backtest_metrics (
		run_id TEXT NOT NULL,
		model TEXT NOT NULL,
		horizon INTEGER NOT NULL,
		n_predictions INTEGER NOT NULL,
		n_evaluated INTEGER NOT NULL,
		mae REAL,
		rmse REAL,
		mape REAL,
		directional_accuracy REAL,
		mean_actual REAL,
		mean_predicted REAL,
		PRIMARY KEY (run_id, model, horizon),
		FOREIGN KEY (run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS baseline_errors (
		run_id TEXT NOT NULL,
		horizon INTEGER NOT NULL,
		mae REAL,
		PRIMARY KEY (run_id, horizon),
		FOREIGN KEY (run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
	);

	-- Drift monitoring
	CREATE TABLE IF NOT EXISTS drift_checks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		as_of DATETIME NOT NULL,
		horizon INTEGER NOT NULL,
		live_mae REAL,
		baseline_mae REAL,
		ratio REAL,
		level TEXT NOT NULL,
		multiplier REAL NOT NULL,
		retrain_recommended INTEGER DEFAULT 0,
		n_live INTEGER NOT NULL,
		checked_at DATETIME NOT NULL,
		UNIQUE(as_of, horizon)
	);

	-- Outputs
	CREATE TABLE IF NOT EXISTS forecasts (
		id TEXT PRIMARY KEY,
		run_id TEXT,
		entity_id TEXT NOT NULL,
		realm TEXT NOT NULL,
		category TEXT NOT NULL,
		horizon INTEGER NOT NULL,
		target_date TEXT NOT NULL,
		point REAL NOT NULL,
		ci_lower REAL NOT NULL,
		ci_upper REAL NOT NULL,
		confidence_pct REAL NOT NULL,
		multiplier REAL NOT NULL,
		model_name TEXT NOT NULL,
		generated_at DATETIME NOT NULL,
		inputs_as_of DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recommendations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		forecast_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		realm TEXT NOT NULL,
		category TEXT NOT NULL,
		horizon INTEGER NOT NULL,
		action TEXT NOT NULL,
		score REAL NOT NULL,
		rank INTEGER NOT NULL,
		roi REAL NOT NULL,
		components TEXT NOT NULL,
		reasoning TEXT,
		generated_at DATETIME NOT NULL,
		inputs_as_of DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS model_artifacts (
		name TEXT NOT NULL,
		horizon INTEGER NOT NULL,
		run_id TEXT,
		data BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (name, horizon)
	);

	-- Sync status table for offline mode
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_observations_observed_at ON observations(observed_at);
	CREATE INDEX IF NOT EXISTS idx_observations_series ON observations(entity_id, realm);
	CREATE INDEX IF NOT EXISTS idx_predictions_run ON backtest_predictions(run_id, horizon);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON backtest_runs(status, finished_at);
	CREATE INDEX IF NOT EXISTS idx_drift_as_of ON drift_checks(as_of);
	CREATE INDEX IF NOT EXISTS idx_forecasts_run ON forecasts(run_id);
	CREATE INDEX IF NOT EXISTS idx_forecasts_target ON forecasts(target_date);
	CREATE INDEX IF NOT EXISTS idx_recommendations_run ON recommendations(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Observations Methods
// ============================================================================

// SaveObservations inserts observations, ignoring exact duplicates of
// (entity, realm, observed_at). It returns the number of new rows.
func (s *SQLiteStore) SaveObservations(ctx context.Context, obs []models.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO observations (entity_id, realm, category, observed_at, price, volume)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, o := range obs {
		res, err := stmt.ExecContext(ctx, o.EntityID, o.Realm, string(o.Category), o.ObservedAt.UTC(), o.Price, nullFloat(o.Volume))
		if err != nil {
			return 0, fmt.Errorf("failed to insert observation %s: %w", o.SeriesKey(), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

// GetObservations retrieves observations with from <= observed_at <= to,
// ordered by time. A zero bound is open.
func (s *SQLiteStore) GetObservations(ctx context.Context, from, to time.Time) ([]models.Observation, error) {
	query := "SELECT entity_id, realm, category, observed_at, price, volume FROM observations WHERE 1=1"
	args := []interface{}{}
	if !from.IsZero() {
		query += " AND observed_at >= ?"
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += " AND observed_at <= ?"
		args = append(args, to.UTC())
	}
	query += " ORDER BY observed_at ASC, entity_id ASC, realm ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var out []models.Observation
	for rows.Next() {
		var o models.Observation
		var category string
		var volume sql.NullFloat64
		if err := rows.Scan(&o.EntityID, &o.Realm, &category, &o.ObservedAt, &o.Price, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.Category = models.Category(category)
		o.Volume = floatPtr(volume)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating observations: %w", err)
	}
	return out, nil
}

// ObservationsFreshness returns the timestamp of the most recent observation.
func (s *SQLiteStore) ObservationsFreshness(ctx context.Context) (time.Time, error) {
	var latest time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT observed_at FROM observations ORDER BY observed_at DESC LIMIT 1
	`).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get observations freshness: %w", err)
	}
	return latest, nil
}

// ============================================================================
// Events Methods
// ============================================================================

// SaveEvents replaces the stored calendar with the registry's contents.
func (s *SQLiteStore) SaveEvents(ctx context.Context, reg *events.Registry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM event_impacts"); err != nil {
		return fmt.Errorf("failed to clear impacts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM events"); err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}

	for _, e := range reg.Events() {
		var end, announced interface{}
		if e.EndDate != nil {
			end = e.EndDate.Format(models.DateLayout)
		}
		if e.AnnouncedAt != nil {
			announced = e.AnnouncedAt.UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, slug, name, event_type, scope, severity, start_date, end_date, announced_at, recurring, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.Slug, e.Name, string(e.Type), string(e.Scope), e.Severity.String(),
			e.StartDate.Format(models.DateLayout), end, announced, boolInt(e.Recurring), e.Notes)
		if err != nil {
			return fmt.Errorf("failed to insert event %s: %w", e.Slug, err)
		}
	}

	for _, imp := range reg.Impacts() {
		var duration interface{}
		if imp.DurationDays != nil {
			duration = *imp.DurationDays
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO event_impacts (event_id, category, direction, magnitude, lag_days, duration_days, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, imp.EventID, string(imp.Category), string(imp.Direction), imp.Magnitude, imp.LagDays, duration, imp.Notes)
		if err != nil {
			return fmt.Errorf("failed to insert impact %s/%s: %w", imp.EventSlug, imp.Category, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadRegistry rebuilds a validated registry from the stored calendar.
func (s *SQLiteStore) LoadRegistry(ctx context.Context) (*events.Registry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, name, event_type, scope, severity, start_date, end_date, announced_at, recurring, notes
		FROM events ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var evs []models.Event
	for rows.Next() {
		var e models.Event
		var eventType, scope, severity, start string
		var end, notes sql.NullString
		var announced sql.NullTime
		var recurring int
		if err := rows.Scan(&e.ID, &e.Slug, &e.Name, &eventType, &scope, &severity, &start, &end, &announced, &recurring, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = models.EventType(eventType)
		e.Scope = models.EventScope(scope)
		if e.Severity, err = models.ParseSeverity(severity); err != nil {
			return nil, apperrors.NewDataError("event", e.Slug, "bad severity", err)
		}
		if e.StartDate, err = models.ParseDate(start, time.UTC); err != nil {
			return nil, apperrors.NewDataError("event", e.Slug, "bad start_date", err)
		}
		if end.Valid {
			d, err := models.ParseDate(end.String, time.UTC)
			if err != nil {
				return nil, apperrors.NewDataError("event", e.Slug, "bad end_date", err)
			}
			e.EndDate = &d
		}
		if announced.Valid {
			at := announced.Time
			e.AnnouncedAt = &at
		}
		e.Recurring = recurring != 0
		e.Notes = notes.String
		evs = append(evs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	impRows, err := s.db.QueryContext(ctx, `
		SELECT event_id, category, direction, magnitude, lag_days, duration_days, notes
		FROM event_impacts ORDER BY event_id, category
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query impacts: %w", err)
	}
	defer impRows.Close()

	var impacts []models.EventImpact
	for impRows.Next() {
		var imp models.EventImpact
		var category, direction string
		var duration sql.NullInt64
		var notes sql.NullString
		if err := impRows.Scan(&imp.EventID, &category, &direction, &imp.Magnitude, &imp.LagDays, &duration, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan impact: %w", err)
		}
		imp.Category = models.Category(category)
		imp.Direction = models.ImpactDirection(direction)
		if duration.Valid {
			imp.DurationDays = models.Int(int(duration.Int64))
		}
		imp.Notes = notes.String
		impacts = append(impacts, imp)
	}
	if err := impRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating impacts: %w", err)
	}

	return events.NewRegistry(evs, impacts)
}

// ============================================================================
// Backtest Methods
// ============================================================================

// SaveBacktestRun persists a run with its folds, predictions, metrics and
// per-horizon baseline errors. Saving the same run ID again replaces it.
func (s *SQLiteStore) SaveBacktestRun(ctx context.Context, run *backtest.Run) error {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to encode run config: %w", err)
	}
	var runErr interface{}
	if run.Err != nil {
		runErr = run.Err.Error()
	}
	var finished interface{}
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC()
	}
	skipped := 0
	for _, f := range run.Folds {
		if f.Skipped {
			skipped++
		}
	}
	preds := run.Predictions()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"backtest_folds", "backtest_predictions", "backtest_metrics", "baseline_errors"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", run.ID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_runs (id, status, config, started_at, finished_at, error, n_folds, n_skipped_folds, n_predictions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, string(run.Status), string(cfg), run.StartedAt.UTC(), finished, runErr, len(run.Folds), skipped, len(preds))
	if err != nil {
		return fmt.Errorf("failed to save backtest run: %w", err)
	}

	foldStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_folds (run_id, horizon, fold_index, train_start, train_end, test_date, n_predictions, n_skipped_series, n_failures, skipped, skip_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer foldStmt.Close()
	for _, f := range run.Folds {
		_, err := foldStmt.ExecContext(ctx, run.ID, f.Fold.HorizonDays, f.Fold.Index,
			f.Fold.TrainStart.Format(models.DateLayout), f.Fold.TrainEnd.Format(models.DateLayout), f.Fold.TestDate.Format(models.DateLayout),
			len(f.Predictions), len(f.SkippedSeries), len(f.Failures), boolInt(f.Skipped), f.SkipReason)
		if err != nil {
			return fmt.Errorf("failed to insert fold %d: %w", f.Fold.Index, err)
		}
	}

	predStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_predictions (run_id, fold_index, horizon, entity_id, realm, category, model, train_end, test_date, actual, predicted, last_known, event_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer predStmt.Close()
	for _, p := range preds {
		_, err := predStmt.ExecContext(ctx, run.ID, p.FoldIndex, p.Horizon, p.EntityID, p.Realm, p.Category, p.Model,
			p.TrainEnd.Format(models.DateLayout), p.TestDate.Format(models.DateLayout),
			nullFloat(p.Actual), p.Predicted, nullFloat(p.LastKnown), boolInt(p.EventActive))
		if err != nil {
			return fmt.Errorf("failed to insert prediction: %w", err)
		}
	}

	for _, m := range run.Metrics {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO backtest_metrics (run_id, model, horizon, n_predictions, n_evaluated, mae, rmse, mape, directional_accuracy, mean_actual, mean_predicted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, m.Model, m.Horizon, m.NPredictions, m.NEvaluated, nullFloat(m.MAE), nullFloat(m.RMSE), nullFloat(m.MAPE),
			nullFloat(m.DirectionalAccuracy), nullFloat(m.MeanActual), nullFloat(m.MeanPredicted))
		if err != nil {
			return fmt.Errorf("failed to insert metrics %s h=%d: %w", m.Model, m.Horizon, err)
		}
	}

	for h, mae := range run.BaselineErrors {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO baseline_errors (run_id, horizon, mae) VALUES (?, ?, ?)
		`, run.ID, h, nullFloat(mae)); err != nil {
			return fmt.Errorf("failed to insert baseline error h=%d: %w", h, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const runColumns = "id, status, config, started_at, finished_at, error, n_folds, n_skipped_folds, n_predictions"

func scanRun(scanner interface{ Scan(...interface{}) error }) (*RunRecord, error) {
	var r RunRecord
	var status, cfg string
	var finished sql.NullTime
	var runErr sql.NullString
	if err := scanner.Scan(&r.ID, &status, &cfg, &r.StartedAt, &finished, &runErr, &r.Folds, &r.SkippedFolds, &r.Predictions); err != nil {
		return nil, err
	}
	r.Status = backtest.RunStatus(status)
	if err := json.Unmarshal([]byte(cfg), &r.Config); err != nil {
		return nil, fmt.Errorf("failed to decode run config: %w", err)
	}
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	r.Error = runErr.String
	return &r, nil
}

// GetBacktestRun retrieves a run summary with its metrics and baselines.
func (s *SQLiteStore) GetBacktestRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM backtest_runs WHERE id = ?", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewDataError("backtest_run", id, "not found", apperrors.ErrDataNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backtest run: %w", err)
	}

	if r.Metrics, err = s.runMetrics(ctx, id); err != nil {
		return nil, err
	}
	if r.BaselineErrors, err = s.baselineErrors(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

// ListBacktestRuns returns run summaries, most recent first.
func (s *SQLiteStore) ListBacktestRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := "SELECT " + runColumns + " FROM backtest_runs ORDER BY started_at DESC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backtest runs: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) runMetrics(ctx context.Context, runID string) ([]backtest.Metrics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, horizon, n_predictions, n_evaluated, mae, rmse, mape, directional_accuracy, mean_actual, mean_predicted
		FROM backtest_metrics WHERE run_id = ? ORDER BY horizon, model
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var out []backtest.Metrics
	for rows.Next() {
		var m backtest.Metrics
		var mae, rmse, mape, da, meanA, meanP sql.NullFloat64
		if err := rows.Scan(&m.Model, &m.Horizon, &m.NPredictions, &m.NEvaluated, &mae, &rmse, &mape, &da, &meanA, &meanP); err != nil {
			return nil, fmt.Errorf("failed to scan metrics: %w", err)
		}
		m.MAE, m.RMSE, m.MAPE = floatPtr(mae), floatPtr(rmse), floatPtr(mape)
		m.DirectionalAccuracy, m.MeanActual, m.MeanPredicted = floatPtr(da), floatPtr(meanA), floatPtr(meanP)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) baselineErrors(ctx context.Context, runID string) (map[int]*float64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT horizon, mae FROM baseline_errors WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query baseline errors: %w", err)
	}
	defer rows.Close()

	out := make(map[int]*float64)
	for rows.Next() {
		var h int
		var mae sql.NullFloat64
		if err := rows.Scan(&h, &mae); err != nil {
			return nil, fmt.Errorf("failed to scan baseline error: %w", err)
		}
		out[h] = floatPtr(mae)
	}
	return out, rows.Err()
}

// GetBacktestPredictions returns a run's predictions ordered by horizon,
// fold and series.
func (s *SQLiteStore) GetBacktestPredictions(ctx context.Context, runID string) ([]backtest.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fold_index, horizon, entity_id, realm, category, model, train_end, test_date, actual, predicted, last_known, event_active
		FROM backtest_predictions WHERE run_id = ?
		ORDER BY horizon, fold_index, entity_id, realm, model
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var out []backtest.Prediction
	for rows.Next() {
		var p backtest.Prediction
		var trainEnd, testDate string
		var actual, lastKnown sql.NullFloat64
		var active int
		if err := rows.Scan(&p.FoldIndex, &p.Horizon, &p.EntityID, &p.Realm, &p.Category, &p.Model, &trainEnd, &testDate, &actual, &p.Predicted, &lastKnown, &active); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		p.TrainEnd, _ = models.ParseDate(trainEnd, time.UTC)
		p.TestDate, _ = models.ParseDate(testDate, time.UTC)
		p.Actual, p.LastKnown = floatPtr(actual), floatPtr(lastKnown)
		p.EventActive = active != 0
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}
	return out, nil
}

// LatestBaselines returns the per-horizon baseline errors of the most
// recently finished AGGREGATED run.
func (s *SQLiteStore) LatestBaselines(ctx context.Context) (string, map[int]*float64, error) {
	var runID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM backtest_runs WHERE status = ?
		ORDER BY finished_at DESC, started_at DESC LIMIT 1
	`, string(backtest.StatusAggregated)).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, apperrors.NewBaselineUnavailable(0, "no aggregated backtest run")
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to find latest run: %w", err)
	}
	baselines, err := s.baselineErrors(ctx, runID)
	if err != nil {
		return "", nil, err
	}
	return runID, baselines, nil
}

// ============================================================================
// Drift Methods
// ============================================================================

// SaveDriftChecks stores drift results. A repeated (as_of, horizon) check
// replaces the earlier one.
func (s *SQLiteStore) SaveDriftChecks(ctx context.Context, checks []models.DriftCheckResult) error {
	if len(checks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO drift_checks (as_of, horizon, live_mae, baseline_mae, ratio, level, multiplier, retrain_recommended, n_live, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range checks {
		_, err := stmt.ExecContext(ctx, c.AsOf.UTC(), c.Horizon, nullFloat(c.LiveMAE), nullFloat(c.BaselineMAE), nullFloat(c.Ratio),
			c.Level.String(), c.UncertaintyMultiplier, boolInt(c.RetrainRecommended), c.NLive, c.CheckedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert drift check h=%d: %w", c.Horizon, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetDriftChecks retrieves drift checks whose as_of falls in r.
func (s *SQLiteStore) GetDriftChecks(ctx context.Context, r DateRange) ([]models.DriftCheckResult, error) {
	query := "SELECT as_of, horizon, live_mae, baseline_mae, ratio, level, multiplier, retrain_recommended, n_live, checked_at FROM drift_checks WHERE 1=1"
	args := []interface{}{}
	if !r.Start.IsZero() {
		query += " AND as_of >= ?"
		args = append(args, r.Start.UTC())
	}
	if !r.End.IsZero() {
		query += " AND as_of <= ?"
		args = append(args, r.End.UTC())
	}
	query += " ORDER BY as_of ASC, horizon ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query drift checks: %w", err)
	}
	defer rows.Close()

	var out []models.DriftCheckResult
	for rows.Next() {
		var c models.DriftCheckResult
		var live, base, ratio sql.NullFloat64
		var level string
		var retrain int
		if err := rows.Scan(&c.AsOf, &c.Horizon, &live, &base, &ratio, &level, &c.UncertaintyMultiplier, &retrain, &c.NLive, &c.CheckedAt); err != nil {
			return nil, fmt.Errorf("failed to scan drift check: %w", err)
		}
		c.LiveMAE, c.BaselineMAE, c.Ratio = floatPtr(live), floatPtr(base), floatPtr(ratio)
		if c.Level, err = models.ParseDriftLevel(level); err != nil {
			return nil, apperrors.NewDataError("drift_check", level, "bad level", err)
		}
		c.RetrainRecommended = retrain != 0
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating drift checks: %w", err)
	}
	return out, nil
}

// ============================================================================
// Forecast & Recommendation Methods
// ============================================================================

// SaveForecasts stores forecasts keyed by their ID.
func (s *SQLiteStore) SaveForecasts(ctx context.Context, forecasts []models.ForecastOutput) error {
	if len(forecasts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO forecasts (id, run_id, entity_id, realm, category, horizon, target_date, point, ci_lower, ci_upper, confidence_pct, multiplier, model_name, generated_at, inputs_as_of)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, f := range forecasts {
		_, err := stmt.ExecContext(ctx, f.ID, f.RunID, f.EntityID, f.Realm, string(f.Category), f.Horizon,
			f.TargetDate.Format(models.DateLayout), f.Point, f.CILower, f.CIUpper, f.ConfidencePct, f.MultiplierApplied,
			f.ModelName, f.GeneratedAt.UTC(), f.InputsAsOf.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert forecast %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetForecasts retrieves forecasts ordered by target date, entity and horizon.
func (s *SQLiteStore) GetForecasts(ctx context.Context, filter ForecastFilter) ([]models.ForecastOutput, error) {
	query := `SELECT id, run_id, entity_id, realm, category, horizon, target_date, point, ci_lower, ci_upper,
		confidence_pct, multiplier, model_name, generated_at, inputs_as_of FROM forecasts WHERE 1=1`
	args := []interface{}{}

	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, filter.EntityID)
	}
	if filter.Realm != "" {
		query += " AND realm = ?"
		args = append(args, filter.Realm)
	}
	if filter.Horizon > 0 {
		query += " AND horizon = ?"
		args = append(args, filter.Horizon)
	}
	if !filter.TargetFrom.IsZero() {
		query += " AND target_date >= ?"
		args = append(args, filter.TargetFrom.Format(models.DateLayout))
	}
	if !filter.TargetTo.IsZero() {
		query += " AND target_date <= ?"
		args = append(args, filter.TargetTo.Format(models.DateLayout))
	}

	query += " ORDER BY target_date ASC, entity_id ASC, realm ASC, horizon ASC, generated_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecasts: %w", err)
	}
	defer rows.Close()

	var out []models.ForecastOutput
	for rows.Next() {
		var f models.ForecastOutput
		var runID sql.NullString
		var category, target string
		if err := rows.Scan(&f.ID, &runID, &f.EntityID, &f.Realm, &category, &f.Horizon, &target, &f.Point, &f.CILower, &f.CIUpper,
			&f.ConfidencePct, &f.MultiplierApplied, &f.ModelName, &f.GeneratedAt, &f.InputsAsOf); err != nil {
			return nil, fmt.Errorf("failed to scan forecast: %w", err)
		}
		f.RunID = runID.String
		f.Category = models.Category(category)
		if f.TargetDate, err = models.ParseDate(target, time.UTC); err != nil {
			return nil, apperrors.NewDataError("forecast", f.ID, "bad target_date", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating forecasts: %w", err)
	}
	return out, nil
}

// SaveRecommendations appends ranked recommendations for a run.
func (s *SQLiteStore) SaveRecommendations(ctx context.Context, runID string, recs []models.RecommendationOutput) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO recommendations (run_id, forecast_id, entity_id, realm, category, horizon, action, score, rank, roi, components, reasoning, generated_at, inputs_as_of, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		components, err := json.Marshal(r.Components)
		if err != nil {
			return fmt.Errorf("failed to encode components: %w", err)
		}
		_, err = stmt.ExecContext(ctx, runID, r.ForecastID, r.EntityID, r.Realm, string(r.Category), r.Horizon, string(r.Action),
			r.Score, r.Rank, r.ROI, string(components), r.Reasoning, r.GeneratedAt.UTC(), r.InputsAsOf.UTC(), r.ExpiresAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert recommendation %s: %w", r.EntityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRecommendations retrieves recommendations ordered by category and rank.
func (s *SQLiteStore) GetRecommendations(ctx context.Context, filter RecommendationFilter) ([]models.RecommendationOutput, error) {
	query := `SELECT forecast_id, entity_id, realm, category, horizon, action, score, rank, roi, components, reasoning,
		generated_at, inputs_as_of, expires_at FROM recommendations WHERE 1=1`
	args := []interface{}{}

	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, string(filter.Category))
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, string(filter.Action))
	}

	query += " ORDER BY category ASC, rank ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()

	var out []models.RecommendationOutput
	for rows.Next() {
		var r models.RecommendationOutput
		var category, action, components string
		var reasoning sql.NullString
		if err := rows.Scan(&r.ForecastID, &r.EntityID, &r.Realm, &category, &r.Horizon, &action, &r.Score, &r.Rank, &r.ROI,
			&components, &reasoning, &r.GeneratedAt, &r.InputsAsOf, &r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		r.Category = models.Category(category)
		r.Action = models.Action(action)
		r.Reasoning = reasoning.String
		if err := json.Unmarshal([]byte(components), &r.Components); err != nil {
			return nil, fmt.Errorf("failed to decode components: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recommendations: %w", err)
	}
	return out, nil
}

// ============================================================================
// Model Artifact Methods
// ============================================================================

// SaveModelArtifact stores or replaces the artifact for (name, horizon).
func (s *SQLiteStore) SaveModelArtifact(ctx context.Context, a *ModelArtifact) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO model_artifacts (name, horizon, run_id, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.Name, a.Horizon, a.RunID, a.Data, created.UTC())
	if err != nil {
		return fmt.Errorf("failed to save model artifact: %w", err)
	}
	return nil
}

// GetModelArtifact retrieves the artifact for (name, horizon).
func (s *SQLiteStore) GetModelArtifact(ctx context.Context, name string, horizon int) (*ModelArtifact, error) {
	a := &ModelArtifact{Name: name, Horizon: horizon}
	var runID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, data, created_at FROM model_artifacts WHERE name = ? AND horizon = ?
	`, name, horizon).Scan(&runID, &a.Data, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewDataError("model_artifact", fmt.Sprintf("%s/h%d", name, horizon), "not found", apperrors.ErrDataNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model artifact: %w", err)
	}
	a.RunID = runID.String
	return a, nil
}

// ============================================================================
// Sync Methods
// ============================================================================

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, t.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
