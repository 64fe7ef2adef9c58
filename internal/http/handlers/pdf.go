package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"pagebatch/internal/batch"
	"pagebatch/internal/domain"
	"pagebatch/internal/export"
)

type jobSummary struct {
	JobID           int64      `json:"jobId"`
	TotalFiles      int        `json:"totalFiles"`
	ProcessedFiles  *int       `json:"processedFiles,omitempty"`
	Structured      *bool      `json:"structured,omitempty"`
	Status          string     `json:"status"`
	Progress        string     `json:"progress,omitempty"`
	PercentComplete *int       `json:"percentComplete,omitempty"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

func progressSummary(job domain.Job) jobSummary {
	processed := job.ProcessedFiles
	return jobSummary{
		JobID:          job.ID,
		TotalFiles:     job.TotalFiles,
		ProcessedFiles: &processed,
		Status:         string(job.Status),
	}
}

func detailedSummary(view batch.JobView) jobSummary {
	s := progressSummary(view.Job)
	structured := view.Structured
	percent := view.PercentComplete
	createdAt, updatedAt := view.CreatedAt, view.UpdatedAt
	s.Structured = &structured
	s.Progress = view.Progress
	s.PercentComplete = &percent
	s.CreatedAt = &createdAt
	s.UpdatedAt = &updatedAt
	return s
}

type resultItem struct {
	FileName  string         `json:"fileName"`
	FileIndex int            `json:"fileIndex"`
	Result    domain.Outcome `json:"result"`
}

func parseJobID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "jobId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid job id %q", domain.ErrInvalidInput, raw)
	}
	return id, nil
}

func parseStructured(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("structured")
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: structured must be a boolean", domain.ErrInvalidInput)
	}
	return v, nil
}

func parseIntQuery(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidInput, key)
	}
	return v, nil
}

// ParseImage processes one uploaded image synchronously.
func (a *App) ParseImage(w http.ResponseWriter, r *http.Request) {
	const prefix = "failed to process image"
	structured, err := parseStructured(r)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	uploads, err := a.readUploads(w, r, "image", 1)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	page := uploads[0]
	a.Logger.Info().Str("file_name", page.Name).Bool("structured", structured).Msg("pdf: parse image")

	value, err := a.Processor.Process(r.Context(), page.Data, structured)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	a.ok(w, http.StatusOK, "", map[string]any{
		"fileName": page.Name,
		"result":   value,
	})
}

// CreateBatchJob stores a new job for the uploaded pages and runs it in the
// background.
func (a *App) CreateBatchJob(w http.ResponseWriter, r *http.Request) {
	const prefix = "failed to create job"
	structured, err := parseStructured(r)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	uploads, err := a.readUploads(w, r, "images", a.Limits.MaxBatchFiles)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	names, payloads := sortedNames(r, uploads)

	job, err := a.Jobs.Create(r.Context(), names, structured)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	if err := a.Spool.Save(r.Context(), job.ID, payloads); err != nil {
		a.Logger.Warn().Err(err).Int64("job_id", job.ID).Msg("pdf: spooling pages failed")
	}
	done, err := a.Orchestrator.Start(a.runContext(), job.ID, payloads, 0)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	a.discardWhenDone(job.ID, done)
	a.Logger.Info().Int64("job_id", job.ID).Int("total_files", job.TotalFiles).Bool("structured", structured).Msg("pdf: job created")

	structuredFlag := job.Structured
	a.ok(w, http.StatusCreated, "job created and started", jobSummary{
		JobID:      job.ID,
		TotalFiles: job.TotalFiles,
		Structured: &structuredFlag,
		Status:     string(domain.JobStatusProcessing),
	})
}

// AppendFiles delivers more pages to an unfinished job and resumes it when
// nothing is driving it in this process.
func (a *App) AppendFiles(w http.ResponseWriter, r *http.Request) {
	const prefix = "failed to append files"
	jobID, err := parseJobID(r)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	uploads, err := a.readUploads(w, r, "images", a.Limits.MaxAppendFiles)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	job, err := a.Jobs.Get(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	if job.Status.IsTerminal() {
		a.error(w, http.StatusBadRequest, fmt.Sprintf("%s: job %d is already %s", prefix, jobID, job.Status))
		return
	}

	_, fresh := namesAndPayloads(uploads)
	inputs, err := a.Spool.Merge(r.Context(), jobID, fresh)
	if err != nil {
		a.Logger.Warn().Err(err).Int64("job_id", jobID).Msg("pdf: spool merge failed, using uploaded pages only")
		inputs = fresh
	}

	summary := progressSummary(*job)
	resumable := job.Status == domain.JobStatusPaused || !a.Orchestrator.Running(jobID)
	if resumable {
		done, err := a.Orchestrator.StartResume(a.runContext(), jobID, inputs)
		switch {
		case err == nil:
			a.discardWhenDone(jobID, done)
			summary.Status = string(domain.JobStatusProcessing)
			a.Logger.Info().Int64("job_id", jobID).Int("processed_files", job.ProcessedFiles).Msg("pdf: job resumed")
			a.ok(w, http.StatusOK, "job resumed", summary)
			return
		case !errors.Is(err, batch.ErrAlreadyRunning):
			a.fail(w, r, prefix, err)
			return
		}
	}
	a.ok(w, http.StatusOK, "files received, but the job is already running", summary)
}

// discardWhenDone drops the spooled pages once the run completes the job.
// Paused and failed jobs keep theirs for the next append-files call.
func (a *App) discardWhenDone(jobID int64, done <-chan error) {
	if a.Spool == nil {
		return
	}
	go func() {
		if err := <-done; err != nil {
			return
		}
		ctx := context.WithoutCancel(a.runContext())
		job, err := a.Jobs.Get(ctx, jobID)
		if err != nil || job.Status != domain.JobStatusCompleted {
			return
		}
		if err := a.Spool.Discard(ctx, jobID); err != nil {
			a.Logger.Warn().Err(err).Int64("job_id", jobID).Msg("pdf: discard spooled pages failed")
		}
	}()
}

// JobInfo reports a job's status and progress.
func (a *App) JobInfo(w http.ResponseWriter, r *http.Request) {
	const prefix = "failed to load job"
	jobID, err := parseJobID(r)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	view, err := a.Query.JobInfo(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	a.ok(w, http.StatusOK, "", detailedSummary(*view))
}

// JobResults returns the job's results, optionally restricted by from/to.
func (a *App) JobResults(w http.ResponseWriter, r *http.Request) {
	const prefix = "failed to load results"
	jobID, err := parseJobID(r)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	from, err := parseIntQuery(r, "from", 0)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	to, err := parseIntQuery(r, "to", -1)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	view, err := a.Query.JobInfo(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	filtered := batch.FilterRange(view.Results, from, to)
	items := make([]resultItem, 0, len(filtered))
	for _, res := range filtered {
		items = append(items, resultItem{FileName: res.FileName, FileIndex: res.FileIndex, Result: res.Outcome})
	}
	a.ok(w, http.StatusOK, "", map[string]any{
		"jobId":          view.ID,
		"totalFiles":     view.TotalFiles,
		"processedFiles": view.ProcessedFiles,
		"status":         view.Status,
		"resultsCount":   len(items),
		"results":        items,
	})
}

// JobResultsXLSX downloads the results as a spreadsheet.
func (a *App) JobResultsXLSX(w http.ResponseWriter, r *http.Request) {
	a.download(w, r, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", export.ResultsXLSX)
}

// JobResultsZIP downloads the results as one JSON file per page.
func (a *App) JobResultsZIP(w http.ResponseWriter, r *http.Request) {
	a.download(w, r, "zip", "application/zip", export.ResultsZIP)
}

func (a *App) download(w http.ResponseWriter, r *http.Request, ext, contentType string, render func(domain.Job, []domain.Result) ([]byte, error)) {
	const prefix = "failed to export results"
	jobID, err := parseJobID(r)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	view, err := a.Query.JobInfo(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	data, err := render(view.Job, view.Results)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="job-%d-results.%s"`, jobID, ext))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ActiveJobs lists every unfinished job.
func (a *App) ActiveJobs(w http.ResponseWriter, r *http.Request) {
	views, err := a.Query.ActiveJobs(r.Context())
	if err != nil {
		a.fail(w, r, "failed to list jobs", err)
		return
	}
	jobs := make([]jobSummary, 0, len(views))
	for _, view := range views {
		jobs = append(jobs, detailedSummary(view))
	}
	a.ok(w, http.StatusOK, "", map[string]any{"count": len(jobs), "jobs": jobs})
}

// PauseJob marks a job paused.
func (a *App) PauseJob(w http.ResponseWriter, r *http.Request) {
	const prefix = "failed to pause job"
	jobID, err := parseJobID(r)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	job, err := a.Orchestrator.Pause(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	a.ok(w, http.StatusOK, "job paused", progressSummary(*job))
}

// ParseBatch runs a small batch inside the request and answers with every
// page result in order.
func (a *App) ParseBatch(w http.ResponseWriter, r *http.Request) {
	const prefix = "failed to process batch"
	structured, err := parseStructured(r)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	uploads, err := a.readUploads(w, r, "images", a.Limits.MaxParseBatchFiles)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	names, payloads := sortedNames(r, uploads)

	job, err := a.Jobs.Create(r.Context(), names, structured)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	if err := a.Orchestrator.Run(r.Context(), job.ID, payloads, 0); err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	view, err := a.Query.JobInfo(r.Context(), job.ID)
	if err != nil {
		a.fail(w, r, prefix, err)
		return
	}
	pages := make([]json.RawMessage, 0, len(view.Results))
	for _, res := range view.Results {
		pages = append(pages, res.Outcome.Payload())
	}
	a.ok(w, http.StatusOK, "pages processed", map[string]any{
		"jobId":      job.ID,
		"totalPages": len(pages),
		"fileNames":  names,
		"pages":      pages,
	})
}
