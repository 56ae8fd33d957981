// Package persistence archives runs and their samples in SQLite.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/san-kum/cellode/internal/config"
	"github.com/san-kum/cellode/internal/dynamo"
)

// DB wraps a SQLite connection holding the run archive.
type DB struct {
	conn *sqlx.DB
}

// Run is one archived run.
type Run struct {
	ID            int64   `db:"id"`
	Name          string  `db:"name"`
	Model         string  `db:"model"`
	Integrator    string  `db:"integrator"`
	Created       string  `db:"created"`
	Dt            float64 `db:"dt"`
	Duration      float64 `db:"duration"`
	Cells         int     `db:"cells"`
	Steps         int     `db:"steps"`
	FailedUpdates int     `db:"failed_updates"`
	MetricsJSON   string  `db:"metrics_json"`
}

// Metrics decodes the stored metrics.
func (r Run) Metrics() (map[string]float64, error) {
	m := make(map[string]float64)
	if r.MetricsJSON == "" {
		return m, nil
	}
	err := json.Unmarshal([]byte(r.MetricsJSON), &m)
	return m, err
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		model TEXT NOT NULL,
		integrator TEXT NOT NULL,
		created TEXT NOT NULL,
		dt REAL NOT NULL,
		duration REAL NOT NULL,
		cells INTEGER NOT NULL,
		steps INTEGER NOT NULL,
		failed_updates INTEGER NOT NULL,
		metrics_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS samples (
		run_id INTEGER NOT NULL REFERENCES runs(id),
		time REAL NOT NULL,
		cell INTEGER NOT NULL,
		kind TEXT NOT NULL,
		substrate TEXT NOT NULL,
		value REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_samples_run ON samples(run_id, cell, substrate);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun stores a run and all its samples in one transaction and returns
// the new run id.
func (db *DB) SaveRun(name string, cfg *config.Config, result *dynamo.Result) (int64, error) {
	metricsJSON, err := json.Marshal(result.Metrics)
	if err != nil {
		return 0, err
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	model := cfg.Intracellular.Model
	if cfg.Intracellular.ModelFile != "" {
		model = cfg.Intracellular.ModelFile
	}

	res, err := tx.Exec(`INSERT INTO runs
		(name, model, integrator, created, dt, duration, cells, steps, failed_updates, metrics_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		name, model, cfg.Intracellular.Integrator, time.Now().UTC().Format(time.RFC3339Nano),
		cfg.Run.Dt, cfg.Run.Duration, cfg.Cells.Count, result.Steps, result.FailedUpdates, string(metricsJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Preparex(`INSERT INTO samples
		(run_id, time, cell, kind, substrate, value)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, r := range result.Records {
		if _, err := stmt.Exec(runID, r.Time, r.Cell, r.Kind, r.Substrate, r.Value); err != nil {
			return 0, fmt.Errorf("insert sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	slog.Debug("run archived", "run", runID, "samples", len(result.Records))
	return runID, nil
}

// Runs lists archived runs, newest first.
func (db *DB) Runs() ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs,
		`SELECT id, name, model, integrator, created, dt, duration, cells, steps, failed_updates, metrics_json
		FROM runs ORDER BY id DESC`)
	return runs, err
}

// Samples returns the time series of one cell and substrate of a run.
func (db *DB) Samples(runID int64, cell int, substrate string) ([]dynamo.Record, error) {
	var records []dynamo.Record
	err := db.conn.Select(&records,
		`SELECT time, cell, kind, substrate, value FROM samples
		WHERE run_id = ? AND cell = ? AND substrate = ?
		ORDER BY time`,
		runID, cell, substrate,
	)
	return records, err
}
