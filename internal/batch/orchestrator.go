// Package batch drives page batch jobs through the processor one page at a
// time, persisting every outcome so that a run can be resumed from the last
// committed progress counter.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pagebatch/internal/domain"
)

// DefaultItemDelay throttles consecutive provider calls within one job.
const DefaultItemDelay = 3 * time.Second

var (
	// ErrFatal wraps every error raised outside the per-item boundary. The
	// job is marked failed before it is returned.
	ErrFatal = errors.New("batch run failed")
	// ErrAlreadyRunning is returned when a run for the job is in flight in
	// this process.
	ErrAlreadyRunning = errors.New("job already running")
)

// Processor turns one page payload into a result value.
type Processor interface {
	Process(ctx context.Context, payload []byte, structured bool) (json.RawMessage, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, payload []byte, structured bool) (json.RawMessage, error)

func (f ProcessorFunc) Process(ctx context.Context, payload []byte, structured bool) (json.RawMessage, error) {
	return f(ctx, payload, structured)
}

// ItemError is a processor failure for a single page. It is recorded as the
// page's failure outcome and never aborts the job.
type ItemError struct {
	JobID    int64
	Index    int
	FileName string
	Err      error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("job %d item %d (%s): %v", e.JobID, e.Index, e.FileName, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Options configures an Orchestrator.
type Options struct {
	// Delay between two consecutive pages of the same job. Zero disables it.
	Delay  time.Duration
	Logger *zerolog.Logger
	// Sleep replaces the context-aware timer, mostly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator runs batch jobs. It is safe for concurrent use; runs of the
// same job are serialised through an in-process set of active job ids.
type Orchestrator struct {
	jobs      domain.JobRepository
	results   domain.ResultRepository
	processor Processor
	delay     time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	logger    zerolog.Logger

	mu     sync.Mutex
	active map[int64]struct{}
	wg     sync.WaitGroup
}

// NewOrchestrator wires the stores and the processor.
func NewOrchestrator(jobs domain.JobRepository, results domain.ResultRepository, processor Processor, opts Options) (*Orchestrator, error) {
	if jobs == nil || results == nil {
		return nil, errors.New("batch: job and result repositories are required")
	}
	if processor == nil {
		return nil, errors.New("batch: processor is required")
	}
	if opts.Delay < 0 {
		return nil, fmt.Errorf("batch: negative item delay %s", opts.Delay)
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Orchestrator{
		jobs:      jobs,
		results:   results,
		processor: processor,
		delay:     opts.Delay,
		sleep:     sleep,
		logger:    logger,
		active:    make(map[int64]struct{}),
	}, nil
}

// Run processes the job's pages from startIndex to the end.
//
// Terminal jobs are left untouched and Run returns nil. Missing payloads are
// skipped without a write. Processor failures are recorded as failure
// outcomes. Any other error marks the job failed and is returned wrapped in
// ErrFatal. When ctx is cancelled the job is paused and ctx.Err() returned.
// If the job cannot be loaded at all, nothing is written.
func (o *Orchestrator) Run(ctx context.Context, jobID int64, inputs map[string][]byte, startIndex int) error {
	if !o.claim(jobID) {
		return ErrAlreadyRunning
	}
	defer o.release(jobID)
	return o.run(ctx, jobID, inputs, startIndex, false)
}

// Resume runs the job from its persisted processedFiles offset.
func (o *Orchestrator) Resume(ctx context.Context, jobID int64, inputs map[string][]byte) error {
	if !o.claim(jobID) {
		return ErrAlreadyRunning
	}
	defer o.release(jobID)
	return o.run(ctx, jobID, inputs, 0, true)
}

// Start launches Run in its own goroutine. The returned channel receives the
// run's result and is then closed. The caller's ctx bounds the run, so it
// must outlive any request that triggered it.
func (o *Orchestrator) Start(ctx context.Context, jobID int64, inputs map[string][]byte, startIndex int) (<-chan error, error) {
	return o.launch(ctx, jobID, inputs, startIndex, false)
}

// StartResume launches Resume in its own goroutine.
func (o *Orchestrator) StartResume(ctx context.Context, jobID int64, inputs map[string][]byte) (<-chan error, error) {
	return o.launch(ctx, jobID, inputs, 0, true)
}

func (o *Orchestrator) launch(ctx context.Context, jobID int64, inputs map[string][]byte, startIndex int, resume bool) (<-chan error, error) {
	if !o.claim(jobID) {
		return nil, ErrAlreadyRunning
	}
	done := make(chan error, 1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(done)
		defer o.release(jobID)

		err := o.run(ctx, jobID, inputs, startIndex, resume)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			o.logger.Info().Int64("job_id", jobID).Msg("batch: run interrupted, job paused")
		default:
			o.logger.Error().Err(err).Int64("job_id", jobID).Msg("batch: run failed")
		}
		done <- err
	}()
	return done, nil
}

// Wait blocks until every run launched by Start or StartResume has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Running reports whether a run of the job is in flight in this process.
func (o *Orchestrator) Running(jobID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[jobID]
	return ok
}

// ActiveRuns counts the jobs currently running in this process.
func (o *Orchestrator) ActiveRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Pause marks the job paused. A loop already in flight is not interrupted
// and runs to its end.
func (o *Orchestrator) Pause(ctx context.Context, jobID int64) (*domain.Job, error) {
	return PauseJob(ctx, o.jobs, jobID)
}

// PauseJob marks an unfinished job paused. Terminal jobs are rejected with
// ErrInvalidTransition, also when the job finishes between the read and the
// write, since the store refuses to update finished jobs.
func PauseJob(ctx context.Context, jobs domain.JobRepository, jobID int64) (*domain.Job, error) {
	job, err := jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(job.Status, domain.JobStatusPaused) {
		return nil, fmt.Errorf("pause job %d in status %s: %w", jobID, job.Status, domain.ErrInvalidTransition)
	}
	return jobs.SetStatus(ctx, jobID, domain.JobStatusPaused, nil)
}

// RecoverInterrupted moves jobs left in processing by a previous process to
// paused. Their payloads were never persisted, so only a new upload can
// drive them forward. It returns the ids of the jobs it touched.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) ([]int64, error) {
	jobs, err := o.jobs.ListUnfinished(ctx)
	if err != nil {
		return nil, err
	}
	var recovered []int64
	for _, job := range jobs {
		if job.Status != domain.JobStatusProcessing || o.Running(job.ID) {
			continue
		}
		if _, err := o.jobs.SetStatus(ctx, job.ID, domain.JobStatusPaused, nil); err != nil {
			return recovered, err
		}
		o.logger.Warn().Int64("job_id", job.ID).Int("processed_files", job.ProcessedFiles).Msg("batch: interrupted job paused")
		recovered = append(recovered, job.ID)
	}
	return recovered, nil
}

func (o *Orchestrator) run(ctx context.Context, jobID int64, inputs map[string][]byte, startIndex int, resume bool) error {
	log := o.logger.With().Int64("job_id", jobID).Logger()

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		// The stored status is unknown, so nothing is written.
		return fmt.Errorf("%w: job %d: load job: %w", ErrFatal, jobID, err)
	}
	if job.Status.IsTerminal() {
		log.Debug().Str("status", string(job.Status)).Msg("batch: job already finished")
		return nil
	}
	if len(job.FileNames) != job.TotalFiles {
		return o.abort(ctx, jobID, fmt.Errorf("job has %d file names for %d files", len(job.FileNames), job.TotalFiles))
	}
	if resume {
		startIndex = job.ProcessedFiles
	}
	if startIndex < 0 {
		startIndex = 0
	}

	if _, err := o.jobs.SetStatus(ctx, jobID, domain.JobStatusProcessing, nil); err != nil {
		return o.abort(ctx, jobID, fmt.Errorf("mark processing: %w", err))
	}
	log.Info().Int("start_index", startIndex).Int("total_files", job.TotalFiles).Msg("batch: run started")

	last := job.TotalFiles - 1
	for i := startIndex; i <= last; i++ {
		name := job.FileNames[i]
		payload, ok := inputs[name]
		if !ok {
			log.Warn().Int("file_index", i).Str("file_name", name).Msg("batch: payload missing, page skipped")
			continue
		}

		outcome, err := o.processItem(ctx, job, i, payload)
		if err != nil {
			return o.abort(ctx, jobID, err)
		}
		if _, err := o.results.Upsert(ctx, jobID, name, i, outcome); err != nil {
			return o.abort(ctx, jobID, fmt.Errorf("store result %d: %w", i, err))
		}
		processed := i + 1
		if _, err := o.jobs.SetStatus(ctx, jobID, domain.JobStatusProcessing, &processed); err != nil {
			return o.abort(ctx, jobID, fmt.Errorf("advance progress to %d: %w", processed, err))
		}

		if i < last && o.delay > 0 {
			if err := o.sleep(ctx, o.delay); err != nil {
				return o.abort(ctx, jobID, err)
			}
		}
	}

	total := job.TotalFiles
	if _, err := o.jobs.SetStatus(ctx, jobID, domain.JobStatusCompleted, &total); err != nil {
		return o.abort(ctx, jobID, fmt.Errorf("mark completed: %w", err))
	}
	log.Info().Int("total_files", total).Msg("batch: run completed")
	return nil
}

// processItem returns the outcome to record for page i, or an error when the
// run itself has to stop because ctx is done.
func (o *Orchestrator) processItem(ctx context.Context, job *domain.Job, i int, payload []byte) (domain.Outcome, error) {
	value, err := o.processor.Process(ctx, payload, job.Structured)
	if err == nil {
		return domain.Success(value), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Outcome{}, ctxErr
	}
	itemErr := &ItemError{JobID: job.ID, Index: i, FileName: job.FileNames[i], Err: err}
	o.logger.Warn().Err(itemErr).Int64("job_id", job.ID).Int("file_index", i).Str("file_name", job.FileNames[i]).Msg("batch: page failed")
	return domain.Failure(err.Error()), nil
}

// abort settles the job after an error outside the per-item boundary.
// Cancellation pauses the job, everything else fails it.
func (o *Orchestrator) abort(ctx context.Context, jobID int64, cause error) error {
	settle, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if _, err := o.jobs.SetStatus(settle, jobID, domain.JobStatusPaused, nil); err != nil {
			o.logger.Error().Err(err).Int64("job_id", jobID).Msg("batch: failed to pause interrupted job")
		}
		return ctxErr
	}

	if _, err := o.jobs.SetStatus(settle, jobID, domain.JobStatusFailed, nil); err != nil {
		o.logger.Error().Err(err).Int64("job_id", jobID).Msg("batch: failed to mark job failed")
	}
	return fmt.Errorf("%w: job %d: %w", ErrFatal, jobID, cause)
}

func (o *Orchestrator) claim(jobID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[jobID]; ok {
		return false
	}
	o.active[jobID] = struct{}{}
	return true
}

func (o *Orchestrator) release(jobID int64) {
	o.mu.Lock()
	delete(o.active, jobID)
	o.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
