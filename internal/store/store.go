package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/exambench/internal/model"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type dialect struct {
	driver string
	blob   string
	float  string
	bigint string
}

var (
	sqliteDialect   = dialect{driver: "sqlite", blob: "BLOB", float: "REAL", bigint: "INTEGER"}
	postgresDialect = dialect{driver: "pgx", blob: "BYTEA", float: "DOUBLE PRECISION", bigint: "BIGINT"}
)

// Store persists benchmark runs and their attempts.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// New opens the run database. A postgres:// or postgresql:// DSN selects
// PostgreSQL; anything else is treated as a SQLite file path.
func New(dsn string) (*Store, error) {
	d := sqliteDialect
	source := dsn
	if IsPostgres(dsn) {
		d = postgresDialect
	} else {
		source = dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open(d.driver, source)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dsn == ":memory:" {
		// Each pooled connection would see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, dialect: d}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// IsPostgres reports whether dsn addresses a PostgreSQL server.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	d := s.dialect
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL,
		profile_name TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		dataset_hash TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL DEFAULT '',
		total INTEGER NOT NULL DEFAULT 0,
		passed INTEGER NOT NULL DEFAULT 0,
		accuracy %s NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		payload %s NOT NULL
	)`, d.float, d.blob),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		position INTEGER NOT NULL,
		question_id TEXT NOT NULL,
		passed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		latency_ms %s NOT NULL DEFAULT 0,
		payload %s NOT NULL
	)`, d.bigint, d.blob),
		`CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts (run_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs (started_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders into the $n form PostgreSQL expects.
func (s *Store) rebind(query string) string {
	if s.dialect.driver != postgresDialect.driver {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// SaveRun upserts a run together with all of its attempts.
func (s *Store) SaveRun(run *model.BenchmarkRun) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.upsertRun(tx, run); err != nil {
		return err
	}
	for i := range run.Attempts {
		if err := s.upsertAttempt(tx, run.ID, i, run.Attempts[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveAttempt upserts a single attempt at the given position of a run.
// The run row must already exist.
func (s *Store) SaveAttempt(runID string, position int, a model.Attempt) error {
	return s.upsertAttempt(s.db, runID, position, a)
}

func (s *Store) upsertRun(ex execer, run *model.BenchmarkRun) error {
	header := *run
	header.Attempts = nil
	payload, err := pack(header)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	var completed string
	if run.CompletedAt != nil {
		completed = formatTime(*run.CompletedAt)
	}
	_, err = ex.Exec(s.rebind(
		`INSERT INTO runs (id, profile_id, profile_name, model, dataset_hash, status, started_at, completed_at, total, passed, accuracy, error, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   profile_id = excluded.profile_id,
		   profile_name = excluded.profile_name,
		   model = excluded.model,
		   dataset_hash = excluded.dataset_hash,
		   status = excluded.status,
		   started_at = excluded.started_at,
		   completed_at = excluded.completed_at,
		   total = excluded.total,
		   passed = excluded.passed,
		   accuracy = excluded.accuracy,
		   error = excluded.error,
		   payload = excluded.payload`),
		run.ID, run.ProfileID, run.ProfileName, run.Model, run.DatasetHash, string(run.Status),
		formatTime(run.StartedAt), completed, run.Metrics.Total, run.Metrics.Passed, run.Metrics.Accuracy,
		run.Error, payload,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) upsertAttempt(ex execer, runID string, position int, a model.Attempt) error {
	payload, err := pack(a)
	if err != nil {
		return fmt.Errorf("encode attempt %s: %w", a.ID, err)
	}
	passed := 0
	if a.Passed() {
		passed = 1
	}
	_, err = ex.Exec(s.rebind(
		`INSERT INTO attempts (id, run_id, position, question_id, passed, error, latency_ms, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   position = excluded.position,
		   passed = excluded.passed,
		   error = excluded.error,
		   latency_ms = excluded.latency_ms,
		   payload = excluded.payload`),
		a.ID, runID, position, a.QuestionID, passed, a.Error, a.LatencyMs, payload,
	)
	if err != nil {
		return fmt.Errorf("save attempt %s: %w", a.ID, err)
	}
	return nil
}

// GetRun returns a run with its attempts in execution order.
// Returns nil, nil if the run does not exist.
func (s *Store) GetRun(id string) (*model.BenchmarkRun, error) {
	var payload []byte
	err := s.db.QueryRow(s.rebind(`SELECT payload FROM runs WHERE id = ?`), id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var run model.BenchmarkRun
	if err := unpack(payload, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	attempts, err := s.ListAttempts(id)
	if err != nil {
		return nil, err
	}
	run.Attempts = attempts
	return &run, nil
}

// RunFilter narrows ListRuns. Zero values mean no filtering.
type RunFilter struct {
	ProfileID string
	Status    model.RunStatus
	Limit     int
}

// ListRuns returns run headers, newest first. Attempts are not loaded.
func (s *Store) ListRuns(f RunFilter) ([]model.BenchmarkRun, error) {
	query := `SELECT payload FROM runs WHERE 1=1`
	var args []any
	if f.ProfileID != "" {
		query += ` AND profile_id = ?`
		args = append(args, f.ProfileID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY started_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs := []model.BenchmarkRun{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var run model.BenchmarkRun
		if err := unpack(payload, &run); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListAttempts returns the attempts of a run in execution order.
func (s *Store) ListAttempts(runID string) ([]model.Attempt, error) {
	rows, err := s.db.Query(s.rebind(`SELECT id, payload FROM attempts WHERE run_id = ? ORDER BY position`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	attempts := []model.Attempt{}
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var a model.Attempt
		if err := unpack(payload, &a); err != nil {
			return nil, fmt.Errorf("decode attempt %s: %w", id, err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// DeleteRun removes a run and its attempts. Deleting a missing run is not an error.
func (s *Store) DeleteRun(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(s.rebind(`DELETE FROM attempts WHERE run_id = ?`), id); err != nil {
		return err
	}
	if _, err := tx.Exec(s.rebind(`DELETE FROM runs WHERE id = ?`), id); err != nil {
		return err
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
