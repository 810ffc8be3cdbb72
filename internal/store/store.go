// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store keeps the job journal and the saved prompt library in a
// local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/review-engine/pkg/types"
)

// ErrNotFound is returned when a job or prompt does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at cfg.Path and ensures the schema.
func Open(cfg types.StoreConfig) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = types.DefaultConfig().Store.Path
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id           TEXT PRIMARY KEY,
			stage        TEXT NOT NULL,
			section      TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			model        TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			started_at   TEXT NOT NULL DEFAULT '',
			ended_at     TEXT NOT NULL DEFAULT '',
			output       TEXT NOT NULL DEFAULT '',
			error_reason TEXT NOT NULL DEFAULT '',
			stats        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_stage ON jobs(stage)`,
		`CREATE TABLE IF NOT EXISTS prompts (
			name       TEXT PRIMARY KEY,
			content    TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RecordJob inserts or replaces the journal row for job.
func (s *Store) RecordJob(ctx context.Context, job types.GenerationJob) error {
	stats := ""
	if job.Stats != nil {
		b, err := json.Marshal(job.Stats)
		if err != nil {
			return fmt.Errorf("encoding citation stats: %w", err)
		}
		stats = string(b)
	}
	created := job.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, stage, section, status, model, created_at, started_at, ended_at, output, error_reason, stats)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, model=excluded.model, started_at=excluded.started_at,
			ended_at=excluded.ended_at, output=excluded.output,
			error_reason=excluded.error_reason, stats=excluded.stats`,
		job.ID, string(job.Stage), string(job.Section), string(job.Status), job.Model,
		formatTime(&created), formatTime(job.StartedAt), formatTime(job.EndedAt),
		job.Output, job.ErrorReason, stats,
	)
	if err != nil {
		return fmt.Errorf("recording job %s: %w", job.ID, err)
	}
	return nil
}

const jobColumns = `id, stage, section, status, model, created_at, started_at, ended_at, output, error_reason, stats`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (types.GenerationJob, error) {
	var (
		job                     types.GenerationJob
		stage, section, status  string
		created, started, ended string
		stats                   string
	)
	if err := row.Scan(&job.ID, &stage, &section, &status, &job.Model,
		&created, &started, &ended, &job.Output, &job.ErrorReason, &stats); err != nil {
		return types.GenerationJob{}, err
	}
	job.Stage = types.Stage(stage)
	job.Section = types.Section(section)
	job.Status = types.JobStatus(status)

	c, err := parseTime(created)
	if err != nil {
		return types.GenerationJob{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c != nil {
		job.CreatedAt = *c
	}
	if job.StartedAt, err = parseTime(started); err != nil {
		return types.GenerationJob{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if job.EndedAt, err = parseTime(ended); err != nil {
		return types.GenerationJob{}, fmt.Errorf("parsing ended_at: %w", err)
	}
	if stats != "" {
		var cs types.CitationStats
		if err := json.Unmarshal([]byte(stats), &cs); err != nil {
			return types.GenerationJob{}, fmt.Errorf("decoding citation stats: %w", err)
		}
		job.Stats = &cs
	}
	return job, nil
}

// LoadJob returns the journal row for id.
func (s *Store) LoadJob(ctx context.Context, id string) (types.GenerationJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.GenerationJob{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.GenerationJob{}, fmt.Errorf("loading job %s: %w", id, err)
	}
	return job, nil
}

// JobFilter narrows ListJobs. Zero fields match everything.
type JobFilter struct {
	Stage  types.Stage
	Status types.JobStatus
	Limit  int
}

// ListJobs returns journal rows, newest first.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]types.GenerationJob, error) {
	var (
		where []string
		args  []any
	)
	if f.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, string(f.Stage))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
