package domain

import "time"

// JobStatus enumerates batch job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition may leave the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a job in status from may be moved to to.
// Completed and failed jobs are final.
func CanTransition(from, to JobStatus) bool {
	return to.Valid() && !from.IsTerminal()
}

// IsUnfinished reports whether the job still has work that could run.
func (s JobStatus) IsUnfinished() bool {
	return s == JobStatusPending || s == JobStatusProcessing || s == JobStatusPaused
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusPaused, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// UnfinishedStatuses lists the statuses returned by JobRepository.ListUnfinished.
var UnfinishedStatuses = []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusPaused}

// Job is one batch-processing task over an ordered list of named pages.
// FileNames order is the processing order and is fixed at creation.
type Job struct {
	ID             int64
	TotalFiles     int
	ProcessedFiles int
	FileNames      []string
	Structured     bool
	Status         JobStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Results        []Result
}

// Result is the persisted outcome of processing the page at FileIndex.
type Result struct {
	ID        int64
	JobID     int64
	FileName  string
	FileIndex int
	Outcome   Outcome
	CreatedAt time.Time
	UpdatedAt time.Time
}
