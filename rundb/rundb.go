// Package rundb keeps a small SQLite registry of training runs: their
// configuration, outcome and where their Parquet artifacts live. The
// viewer lists runs from here before querying the artifacts themselves.
package rundb

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a run id is not registered.
var ErrNotFound = errors.New("run not found")

// Run is one training run's registry record. ConvergedEpisode is 0 and
// ConvergedSeconds is 0 when the run never met the convergence criterion.
type Run struct {
	ID        string
	StartedAt time.Time

	Rows     int
	Cols     int
	Agents   int
	Episodes int

	ConvergedEpisode int
	ConvergedSeconds float64
	FinalEpsilon     float64

	ArtifactDir string
}

// DB wraps the SQLite connection with single-writer semantics.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
}

// Open opens (creating if needed) the registry at dbPath.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports a single writer.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		rows INTEGER NOT NULL,
		cols INTEGER NOT NULL,
		agents INTEGER NOT NULL,
		episodes INTEGER NOT NULL,
		converged_episode INTEGER NOT NULL DEFAULT 0,
		converged_seconds REAL NOT NULL DEFAULT 0,
		final_epsilon REAL NOT NULL DEFAULT 0,
		artifact_dir TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

// Insert registers a finished run.
func (db *DB) Insert(r Run) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO runs
			(id, started_at, rows, cols, agents, episodes,
			 converged_episode, converged_seconds, final_epsilon, artifact_dir)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC(), r.Rows, r.Cols, r.Agents, r.Episodes,
		r.ConvergedEpisode, r.ConvergedSeconds, r.FinalEpsilon, r.ArtifactDir,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// Get returns one run by id.
func (db *DB) Get(id string) (Run, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	row := db.conn.QueryRow(`
		SELECT id, started_at, rows, cols, agents, episodes,
		       converged_episode, converged_seconds, final_epsilon, artifact_dir
		FROM runs WHERE id = ?`, id)

	var r Run
	err := row.Scan(&r.ID, &r.StartedAt, &r.Rows, &r.Cols, &r.Agents, &r.Episodes,
		&r.ConvergedEpisode, &r.ConvergedSeconds, &r.FinalEpsilon, &r.ArtifactDir)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// List returns all runs, newest first.
func (db *DB) List() ([]Run, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(`
		SELECT id, started_at, rows, cols, agents, episodes,
		       converged_episode, converged_seconds, final_epsilon, artifact_dir
		FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.Rows, &r.Cols, &r.Agents, &r.Episodes,
			&r.ConvergedEpisode, &r.ConvergedSeconds, &r.FinalEpsilon, &r.ArtifactDir); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
