package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"pagebatch/internal/domain"
)

// Store is a SQLite-backed implementation of domain.JobRepository and
// domain.ResultRepository for single-node and CLI deployments.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps pragmas and in-memory databases shared by all callers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err = db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, now: time.Now}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS processing_jobs (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			total_files     INTEGER NOT NULL,
			processed_files INTEGER NOT NULL DEFAULT 0,
			file_names      TEXT NOT NULL DEFAULT '[]',
			structured      INTEGER NOT NULL DEFAULT 0,
			status          TEXT NOT NULL DEFAULT 'pending'
			                CHECK (status IN ('pending', 'processing', 'paused', 'completed', 'failed')),
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL,
			CHECK (processed_files >= 0 AND processed_files <= total_files)
		);
		CREATE INDEX IF NOT EXISTS idx_processing_jobs_status ON processing_jobs(status);

		CREATE TABLE IF NOT EXISTS processing_results (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id     INTEGER NOT NULL REFERENCES processing_jobs(id) ON DELETE CASCADE,
			file_name  TEXT NOT NULL,
			file_index INTEGER NOT NULL,
			result     TEXT,
			outcome    TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (job_id, file_index)
		);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const jobColumns = `id, total_files, processed_files, file_names, structured, status, created_at, updated_at`

const resultColumns = `id, job_id, file_name, file_index, result, outcome, created_at, updated_at`

// Create inserts a pending job for the given ordered file names.
func (s *Store) Create(ctx context.Context, fileNames []string, structured bool) (*domain.Job, error) {
	names, err := json.Marshal(append([]string{}, fileNames...))
	if err != nil {
		return nil, fmt.Errorf("%w: encode file names: %w", domain.ErrPersistence, err)
	}
	now := s.now().UTC().UnixNano()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO processing_jobs (total_files, processed_files, file_names, structured, status, created_at, updated_at)
		VALUES (?, 0, ?, ?, ?, ?, ?)
		RETURNING `+jobColumns,
		len(fileNames), string(names), structured, string(domain.JobStatusPending), now, now,
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("%w: insert job: %w", domain.ErrPersistence, err)
	}
	return job, nil
}

// Get fetches a job by its identifier.
func (s *Store) Get(ctx context.Context, jobID int64) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", jobID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get job %d: %w", domain.ErrPersistence, jobID, err)
	}
	return job, nil
}

// ListUnfinished returns pending, processing and paused jobs ordered by id.
func (s *Store) ListUnfinished(ctx context.Context) ([]domain.Job, error) {
	placeholders := make([]string, 0, len(domain.UnfinishedStatuses))
	args := make([]any, 0, len(domain.UnfinishedStatuses))
	for _, status := range domain.UnfinishedStatuses {
		placeholders = append(placeholders, "?")
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM processing_jobs
		WHERE status IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list unfinished jobs: %w", domain.ErrPersistence, err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan job: %w", domain.ErrPersistence, err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate jobs: %w", domain.ErrPersistence, err)
	}
	return jobs, nil
}

// SetStatus updates the job status and, when processedFiles is non-nil, its progress.
func (s *Store) SetStatus(ctx context.Context, jobID int64, status domain.JobStatus, processedFiles *int) (*domain.Job, error) {
	var processed any
	if processedFiles != nil {
		processed = *processedFiles
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE processing_jobs
		SET status = ?, processed_files = COALESCE(?, processed_files), updated_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')
		RETURNING `+jobColumns,
		string(status), processed, s.now().UTC().UnixNano(), jobID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.Get(ctx, jobID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("job %d from %s to %s: %w", jobID, current.Status, status, domain.ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: set status of job %d: %w", domain.ErrPersistence, jobID, err)
	}
	return job, nil
}

// Upsert writes the outcome for (jobID, fileIndex), replacing any previous attempt.
func (s *Store) Upsert(ctx context.Context, jobID int64, fileName string, fileIndex int, outcome domain.Outcome) (*domain.Result, error) {
	now := s.now().UTC().UnixNano()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO processing_results (job_id, file_name, file_index, result, outcome, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, file_index) DO UPDATE SET
			file_name = excluded.file_name,
			result = excluded.result,
			outcome = excluded.outcome,
			updated_at = excluded.updated_at
		RETURNING `+resultColumns,
		jobID, fileName, fileIndex, string(outcome.Payload()), string(outcome.Kind), now, now,
	)
	res, err := scanResult(row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("job %d: %w", jobID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: upsert result %d/%d: %w", domain.ErrPersistence, jobID, fileIndex, err)
	}
	return res, nil
}

// ListByJob returns every result of the job ordered by file index.
func (s *Store) ListByJob(ctx context.Context, jobID int64) ([]domain.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resultColumns+` FROM processing_results
		WHERE job_id = ?
		ORDER BY file_index ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: list results of job %d: %w", domain.ErrPersistence, jobID, err)
	}
	defer rows.Close()

	var results []domain.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan result: %w", domain.ErrPersistence, err)
		}
		results = append(results, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate results: %w", domain.ErrPersistence, err)
	}
	return results, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		job       domain.Job
		names     string
		status    string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&job.ID, &job.TotalFiles, &job.ProcessedFiles, &names, &job.Structured, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(names), &job.FileNames); err != nil {
		return nil, fmt.Errorf("decode file names: %w", err)
	}
	if job.FileNames == nil {
		job.FileNames = []string{}
	}
	job.Status = domain.JobStatus(status)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &job, nil
}

func scanResult(row scanner) (*domain.Result, error) {
	var (
		res       domain.Result
		payload   sql.NullString
		kind      string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&res.ID, &res.JobID, &res.FileName, &res.FileIndex, &payload, &kind, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	res.Outcome = domain.DecodeOutcome(kind, []byte(payload.String))
	res.CreatedAt = time.Unix(0, createdAt).UTC()
	res.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &res, nil
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

var (
	_ domain.JobRepository    = (*Store)(nil)
	_ domain.ResultRepository = (*Store)(nil)
)
