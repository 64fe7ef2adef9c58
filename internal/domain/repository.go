package domain

import "context"

// JobRepository defines persistence for batch jobs.
type JobRepository interface {
	Create(ctx context.Context, fileNames []string, structured bool) (*Job, error)
	Get(ctx context.Context, jobID int64) (*Job, error)
	// ListUnfinished returns pending, processing and paused jobs ordered by id.
	ListUnfinished(ctx context.Context) ([]Job, error)
	// SetStatus updates the status and, when processedFiles is non-nil, the
	// progress counter. UpdatedAt is always refreshed. A completed or failed
	// job is left untouched and ErrInvalidTransition returned.
	SetStatus(ctx context.Context, jobID int64, status JobStatus, processedFiles *int) (*Job, error)
}

// ResultRepository defines persistence for per-page results.
type ResultRepository interface {
	// Upsert overwrites the result at (jobID, fileIndex) in place or creates it.
	Upsert(ctx context.Context, jobID int64, fileName string, fileIndex int, outcome Outcome) (*Result, error)
	// ListByJob returns results ordered by file index ascending.
	ListByJob(ctx context.Context, jobID int64) ([]Result, error)
}
