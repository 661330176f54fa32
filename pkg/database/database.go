package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/samogod/bookrnn/pkg/config"
)

var DebugLog func(string, ...interface{})

type DB struct {
	conn    *sql.DB
	enabled bool
}

const (
	StatusRunning = "RUNNING"
	StatusDone    = "DONE"
	StatusFailed  = "FAILED"
)

type RunRecord struct {
	ID         string
	Mode       string
	Level      string
	Backend    string
	Status     string
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

type SampleRecord struct {
	RunID     string
	Iteration int
	Diversity float64
	Prob      float64
	Text      string
	CreatedAt time.Time
}

const DBName = "bookrnn_track"

func New(cfg *config.Database) (*DB, error) {
	db := &DB{
		enabled: cfg.Enabled,
	}

	if !cfg.Enabled {
		if DebugLog != nil {
			DebugLog("database tracking disabled")
		}
		return db, nil
	}

	postgresConnStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=postgres sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password)

	postgresConn, err := sql.Open("postgres", postgresConnStr)
	if err != nil {
		return db, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer postgresConn.Close()

	if err := postgresConn.Ping(); err != nil {
		return db, fmt.Errorf("failed to ping postgres: %w", err)
	}

	var exists bool
	err = postgresConn.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", DBName).Scan(&exists)
	if err != nil {
		return db, fmt.Errorf("failed to check database existence: %w", err)
	}

	if !exists {
		_, err = postgresConn.Exec(fmt.Sprintf("CREATE DATABASE %s", DBName))
		if err != nil {
			return db, fmt.Errorf("failed to create database: %w", err)
		}
		fmt.Printf("[INF] Database '%s' created successfully.\n", DBName)
	}

	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, DBName)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return db, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return db, fmt.Errorf("failed to ping database: %w", err)
	}

	db.conn = conn
	if DebugLog != nil {
		DebugLog("database connection active")
	}

	if err := db.initSchema(); err != nil {
		return db, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// NewWithConn wraps an open connection and creates the schema on it.
func NewWithConn(conn *sql.DB) (*DB, error) {
	db := &DB{conn: conn, enabled: true}
	if err := db.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func (db *DB) initSchema() error {
	if !db.enabled || db.conn == nil {
		return nil
	}

	_, err := db.conn.Exec(schema)
	return err
}

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id VARCHAR(36) PRIMARY KEY,
		mode VARCHAR(16) NOT NULL,
		level VARCHAR(16) NOT NULL,
		backend VARCHAR(32) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'RUNNING',
		started_at TIMESTAMP NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS samples (
		id SERIAL PRIMARY KEY,
		run_id VARCHAR(36) NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		iteration INTEGER NOT NULL,
		diversity DOUBLE PRECISION NOT NULL,
		prob DOUBLE PRECISION NOT NULL,
		text TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_samples_run ON samples(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`

func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *DB) IsEnabled() bool {
	return db.enabled && db.conn != nil
}

func (db *DB) StartRun(id, mode, level, backend string) error {
	if !db.IsEnabled() {
		return nil
	}

	if DebugLog != nil {
		DebugLog("recording run %s (%s, %s) in database", id, mode, level)
	}
	_, err := db.conn.Exec(`
		INSERT INTO runs (id, mode, level, backend, status, started_at)
		VALUES ($1, $2, $3, $4, 'RUNNING', NOW())
	`, id, mode, level, backend)
	return err
}

func (db *DB) FinishRun(id, status string) error {
	if !db.IsEnabled() {
		return nil
	}

	if DebugLog != nil {
		DebugLog("marking run %s as %s in database", id, status)
	}
	_, err := db.conn.Exec(`
		UPDATE runs
		SET status = $2, finished_at = NOW()
		WHERE id = $1
	`, id, status)
	return err
}

// TrackSamples stores samples for a run in one transaction.
func (db *DB) TrackSamples(runID string, samples []SampleRecord) error {
	if !db.IsEnabled() || len(samples) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range samples {
		if DebugLog != nil {
			DebugLog("inserting sample for run %s iteration %d diversity %.1f", runID, s.Iteration, s.Diversity)
		}
		_, err := tx.Exec(`
			INSERT INTO samples (run_id, iteration, diversity, prob, text, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
		`, runID, s.Iteration, s.Diversity, s.Prob, s.Text)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (db *DB) QuerySamples(runID string) ([]SampleRecord, error) {
	if !db.IsEnabled() {
		return nil, fmt.Errorf("database is not enabled")
	}

	rows, err := db.conn.Query(`
		SELECT run_id, iteration, diversity, prob, text, created_at
		FROM samples
		WHERE run_id = $1
		ORDER BY iteration, diversity
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SampleRecord
	for rows.Next() {
		var r SampleRecord
		if err := rows.Scan(&r.RunID, &r.Iteration, &r.Diversity, &r.Prob, &r.Text, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

func (db *DB) QueryRuns(status string) ([]RunRecord, error) {
	if !db.IsEnabled() {
		return nil, fmt.Errorf("database is not enabled")
	}

	query := `
		SELECT id, mode, level, backend, status, started_at, finished_at
		FROM runs
	`
	var args []interface{}

	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}

	query += " ORDER BY started_at DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Mode, &r.Level, &r.Backend, &r.Status, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}
