package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/viddl/viddl/internal/jobs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore is the durable jobs.Store used when DB_PATH is configured.
// Records survive a restart; the queue requeues interrupted jobs on boot.
type SQLiteStore struct {
	db        *sql.DB
	retention time.Duration
}

func NewSQLiteStore(path string, retention time.Duration) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if retention <= 0 {
		retention = jobs.DefaultRetention
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, retention: retention}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_jobs.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) Create(spec jobs.NewJob) (*jobs.Job, error) {
	now := time.Now()
	job := &jobs.Job{
		ID:        uuid.NewString(),
		Kind:      spec.Kind,
		Input:     spec.Input,
		Platform:  spec.Platform,
		Options:   spec.Options,
		Status:    jobs.StatusPending,
		Progress:  0,
		CreatedAt: now,
		ExpiresAt: now.Add(s.retention),
	}

	options, err := json.Marshal(job.Options)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO jobs (
			id, kind, input, platform, title, options, status, progress,
			output_path, download_url, error, created_at, completed_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		job.ID,
		string(job.Kind),
		job.Input,
		job.Platform,
		job.Title,
		string(options),
		string(job.Status),
		job.Progress,
		job.OutputPath,
		job.DownloadURL,
		job.Error,
		job.CreatedAt,
		job.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

const jobColumns = `id, kind, input, platform, title, options, status, progress,
	output_path, download_url, error, created_at, completed_at, expires_at`

func (s *SQLiteStore) Get(id string) (*jobs.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrNotFound
	}
	return job, err
}

func (s *SQLiteStore) List() ([]*jobs.Job, error) {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) SetStatus(id string, status jobs.Status, progress int) error {
	query := `UPDATE jobs SET status = ?`
	args := []any{string(status)}
	if progress >= 0 {
		query += `, progress = ?`
		args = append(args, progress)
	}
	if status.Terminal() {
		query += `, completed_at = ?`
		args = append(args, time.Now())
	}
	query += nonTerminalGuard
	args = append(args, id)
	return s.mutate(id, query, args...)
}

func (s *SQLiteStore) SetProgress(id string, progress int) error {
	// Lower values are dropped so progress stays monotonic; the guard makes
	// that a zero-row update, which checkMutable treats as success.
	err := s.mutate(id,
		`UPDATE jobs SET progress = ?`+nonTerminalGuard+` AND progress < ?`,
		progress, id, progress)
	return err
}

func (s *SQLiteStore) SetTitle(id, title string) error {
	return s.mutate(id, `UPDATE jobs SET title = ?`+nonTerminalGuard, title, id)
}

func (s *SQLiteStore) SetOutput(id, path string) error {
	return s.mutate(id, `UPDATE jobs SET output_path = ?`+nonTerminalGuard, path, id)
}

func (s *SQLiteStore) SetDownloadURL(id, url string) error {
	return s.mutate(id, `UPDATE jobs SET download_url = ?`+nonTerminalGuard, url, id)
}

func (s *SQLiteStore) SetError(id, detail string) error {
	return s.mutate(id,
		`UPDATE jobs SET error = ?, status = ?, completed_at = ?`+nonTerminalGuard,
		detail, string(jobs.StatusFailed), time.Now(), id)
}

func (s *SQLiteStore) ListExpired(now time.Time) ([]*jobs.Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE expires_at < ?`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return jobs.ErrNotFound
	}
	return nil
}

const nonTerminalGuard = ` WHERE id = ? AND status NOT IN ('completed', 'failed')`

// mutate runs a guarded update and maps a zero-row result onto the store's
// error contract: unknown id → ErrNotFound, terminal record → ErrTerminal,
// otherwise the update was a deliberate no-op.
func (s *SQLiteStore) mutate(id, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.ErrNotFound
	}
	if err != nil {
		return err
	}
	if jobs.Status(status).Terminal() {
		return jobs.ErrTerminal
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var (
		item        jobs.Job
		kind        string
		status      string
		options     string
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&kind,
		&item.Input,
		&item.Platform,
		&item.Title,
		&options,
		&status,
		&item.Progress,
		&item.OutputPath,
		&item.DownloadURL,
		&item.Error,
		&item.CreatedAt,
		&completedAt,
		&item.ExpiresAt,
	); err != nil {
		return nil, err
	}
	item.Kind = jobs.Kind(kind)
	item.Status = jobs.Status(status)
	if completedAt.Valid {
		item.CompletedAt = completedAt.Time
	}
	if err := json.Unmarshal([]byte(options), &item.Options); err != nil {
		return nil, fmt.Errorf("decode options for job %s: %w", item.ID, err)
	}
	return &item, nil
}
