package batch

import (
	"context"
	"errors"
	"fmt"
	"math"

	"pagebatch/internal/domain"
)

// Query serves read-only views over jobs and their results.
type Query struct {
	jobs    domain.JobRepository
	results domain.ResultRepository
}

// NewQuery builds the read facade.
func NewQuery(jobs domain.JobRepository, results domain.ResultRepository) (*Query, error) {
	if jobs == nil || results == nil {
		return nil, errors.New("batch: job and result repositories are required")
	}
	return &Query{jobs: jobs, results: results}, nil
}

// JobView is a job with its derived progress fields.
type JobView struct {
	domain.Job
	Progress        string
	PercentComplete int
}

// NewJobView derives the progress fields of job.
func NewJobView(job domain.Job) JobView {
	return JobView{Job: job, Progress: Progress(job), PercentComplete: PercentComplete(job)}
}

// JobInfo returns the job with all of its results attached.
func (q *Query) JobInfo(ctx context.Context, jobID int64) (*JobView, error) {
	job, err := q.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	results, err := q.results.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("results of job %d: %w", jobID, err)
	}
	job.Results = results
	view := NewJobView(*job)
	return &view, nil
}

// JobResults returns the job's results ordered by index. A non-negative to
// keeps from <= index <= to, otherwise a positive from keeps index >= from;
// with neither every result is returned.
func (q *Query) JobResults(ctx context.Context, jobID int64, from, to int) ([]domain.Result, error) {
	if _, err := q.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}
	results, err := q.results.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("results of job %d: %w", jobID, err)
	}
	return FilterRange(results, from, to), nil
}

// FilterRange applies the from/to window used by JobResults.
func FilterRange(results []domain.Result, from, to int) []domain.Result {
	out := make([]domain.Result, 0, len(results))
	for _, res := range results {
		switch {
		case to >= 0:
			if res.FileIndex < from || res.FileIndex > to {
				continue
			}
		case from > 0:
			if res.FileIndex < from {
				continue
			}
		}
		out = append(out, res)
	}
	return out
}

// ActiveJobs lists pending, processing and paused jobs ordered by id.
func (q *Query) ActiveJobs(ctx context.Context) ([]JobView, error) {
	jobs, err := q.jobs.ListUnfinished(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, NewJobView(job))
	}
	return views, nil
}

// Progress renders "<processed>/<total>".
func Progress(job domain.Job) string {
	return fmt.Sprintf("%d/%d", job.ProcessedFiles, job.TotalFiles)
}

// PercentComplete rounds processed/total to a whole percentage, 0 for an
// empty job.
func PercentComplete(job domain.Job) int {
	if job.TotalFiles <= 0 {
		return 0
	}
	return int(math.Round(float64(job.ProcessedFiles) / float64(job.TotalFiles) * 100))
}
