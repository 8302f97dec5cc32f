// Package history keeps a SQLite log of finished compressions.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const dbFile = "history.db"

// Job is one finished compression
type Job struct {
	ID         string
	Input      string
	Output     string
	Strategy   string // "quality" or "target_size"
	Quality    string
	TargetMB   float64
	Container  string
	Resolution string
	Success    bool
	Error      string
	Attempts   int
	FinalCRF   int
	InputMB    float64
	OutputMB   float64
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall-clock time the job took
func (j Job) Duration() time.Duration {
	return j.FinishedAt.Sub(j.StartedAt)
}

// jobRow maps the jobs table
type jobRow struct {
	ID         string  `db:"id"`
	Input      string  `db:"input"`
	Output     string  `db:"output"`
	Strategy   string  `db:"strategy"`
	Quality    string  `db:"quality"`
	TargetMB   float64 `db:"target_mb"`
	Container  string  `db:"container"`
	Resolution string  `db:"resolution"`
	Success    bool    `db:"success"`
	Error      string  `db:"error"`
	Attempts   int     `db:"attempts"`
	FinalCRF   int     `db:"final_crf"`
	InputMB    float64 `db:"input_mb"`
	OutputMB   float64 `db:"output_mb"`
	StartedAt  int64   `db:"started_at"`
	FinishedAt int64   `db:"finished_at"`
}

func (r jobRow) toJob() Job {
	return Job{
		ID:         r.ID,
		Input:      r.Input,
		Output:     r.Output,
		Strategy:   r.Strategy,
		Quality:    r.Quality,
		TargetMB:   r.TargetMB,
		Container:  r.Container,
		Resolution: r.Resolution,
		Success:    r.Success,
		Error:      r.Error,
		Attempts:   r.Attempts,
		FinalCRF:   r.FinalCRF,
		InputMB:    r.InputMB,
		OutputMB:   r.OutputMB,
		StartedAt:  time.UnixMilli(r.StartedAt),
		FinishedAt: time.UnixMilli(r.FinishedAt),
	}
}

func fromJob(j Job) jobRow {
	return jobRow{
		ID:         j.ID,
		Input:      j.Input,
		Output:     j.Output,
		Strategy:   j.Strategy,
		Quality:    j.Quality,
		TargetMB:   j.TargetMB,
		Container:  j.Container,
		Resolution: j.Resolution,
		Success:    j.Success,
		Error:      j.Error,
		Attempts:   j.Attempts,
		FinalCRF:   j.FinalCRF,
		InputMB:    j.InputMB,
		OutputMB:   j.OutputMB,
		StartedAt:  j.StartedAt.UnixMilli(),
		FinishedAt: j.FinishedAt.UnixMilli(),
	}
}

// Store persists jobs in dataDir/history.db
type Store struct {
	db *sqlx.DB
}

// Open creates the data directory if needed, opens the database and
// applies pending migrations.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", filepath.Join(dataDir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := runMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db := sqlx.NewDb(sqlDB, "sqlite3")
	// SQLite serializes writers anyway
	db.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Record inserts j. An empty ID is replaced with a new UUID, which is returned.
func (s *Store) Record(ctx context.Context, j Job) (string, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.FinishedAt.IsZero() {
		j.FinishedAt = time.Now()
	}
	if j.StartedAt.IsZero() {
		j.StartedAt = j.FinishedAt
	}

	query := `
		INSERT INTO jobs (id, input, output, strategy, quality, target_mb, container, resolution,
			success, error, attempts, final_crf, input_mb, output_mb, started_at, finished_at)
		VALUES (:id, :input, :output, :strategy, :quality, :target_mb, :container, :resolution,
			:success, :error, :attempts, :final_crf, :input_mb, :output_mb, :started_at, :finished_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, fromJob(j)); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return j.ID, nil
}

// Recent returns up to limit jobs, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []jobRow
	query := `SELECT * FROM jobs ORDER BY finished_at DESC, rowid DESC LIMIT ?`
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toJob())
	}
	return jobs, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
