package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pagebatch/internal/domain"
	"pagebatch/internal/infra"
	"pagebatch/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a pending job for the given ordered file names.
func (r *JobRepositoryPG) Create(ctx context.Context, fileNames []string, structured bool) (*domain.Job, error) {
	names := append([]string{}, fileNames...)
	row := r.sql.QueryRow(ctx, sqlinline.QInsertJob, len(names), names, structured)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("%w: insert job: %w", domain.ErrPersistence, err)
	}
	return job, nil
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID int64) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, fmt.Errorf("job %d: %w", jobID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: get job %d: %w", domain.ErrPersistence, jobID, err)
	}
	return job, nil
}

// ListUnfinished returns pending, processing and paused jobs ordered by id.
func (r *JobRepositoryPG) ListUnfinished(ctx context.Context) ([]domain.Job, error) {
	statuses := make([]string, 0, len(domain.UnfinishedStatuses))
	for _, s := range domain.UnfinishedStatuses {
		statuses = append(statuses, string(s))
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListJobsByStatus, statuses)
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

// SetStatus updates the job status and optionally its progress counter.
// Finished jobs are rejected in the same statement.
func (r *JobRepositoryPG) SetStatus(ctx context.Context, jobID int64, status domain.JobStatus, processedFiles *int) (*domain.Job, error) {
	var processed any
	if processedFiles != nil {
		processed = *processedFiles
	}
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QUpdateJobStatus, jobID, string(status), processed))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, r.rejectStatus(ctx, jobID, status)
		}
		return nil, fmt.Errorf("%w: set status of job %d: %w", domain.ErrPersistence, jobID, err)
	}
	return job, nil
}

// rejectStatus explains an update that matched no row: the job is missing
// or already finished.
func (r *JobRepositoryPG) rejectStatus(ctx context.Context, jobID int64, status domain.JobStatus) error {
	current, err := r.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("job %d from %s to %s: %w", jobID, current.Status, status, domain.ErrInvalidTransition)
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job       domain.Job
		status    string
		fileNames []string
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.TotalFiles,
		&job.ProcessedFiles,
		&fileNames,
		&job.Structured,
		&status,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.FileNames = fileNames
	if job.FileNames == nil {
		job.FileNames = []string{}
	}
	job.CreatedAt = createdAt
	job.UpdatedAt = updatedAt
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
