package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"pagebatch/internal/batch"
	"pagebatch/internal/domain"
	"pagebatch/internal/export"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
}

// readPages loads every image file directly inside dir, keyed by file name.
func readPages(dir string) (map[string][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read pages: %w", err)
	}
	pages := make(map[string][]byte)
	for _, entry := range entries {
		if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read page %s: %w", entry.Name(), err)
		}
		pages[entry.Name()] = data
	}
	return pages, nil
}

func parseJobArg(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", arg)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type jobOutput struct {
	JobID           int64     `json:"jobId"`
	Status          string    `json:"status"`
	TotalFiles      int       `json:"totalFiles"`
	ProcessedFiles  int       `json:"processedFiles"`
	Progress        string    `json:"progress"`
	PercentComplete int       `json:"percentComplete"`
	Structured      bool      `json:"structured"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func newJobOutput(view batch.JobView) jobOutput {
	return jobOutput{
		JobID:           view.ID,
		Status:          string(view.Status),
		TotalFiles:      view.TotalFiles,
		ProcessedFiles:  view.ProcessedFiles,
		Progress:        view.Progress,
		PercentComplete: view.PercentComplete,
		Structured:      view.Structured,
		CreatedAt:       view.CreatedAt,
		UpdatedAt:       view.UpdatedAt,
	}
}

// signalContext is cancelled on SIGINT/SIGTERM, which pauses a running job.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newRunCmd() *cobra.Command {
	var (
		dir        string
		structured bool
		locale     string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a job from a directory of page images and process it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			tag, err := language.Parse(locale)
			if err != nil {
				return fmt.Errorf("invalid --locale: %w", err)
			}
			pages, err := readPages(dir)
			if err != nil {
				return err
			}
			if len(pages) == 0 {
				return fmt.Errorf("no page images in %s", dir)
			}
			names := make([]string, 0, len(pages))
			for name := range pages {
				names = append(names, name)
			}
			batch.SortFileNames(names, tag)

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			orch, err := e.orchestrator(ctx)
			if err != nil {
				return err
			}
			job, err := e.stores.Jobs.Create(ctx, names, structured)
			if err != nil {
				return err
			}
			e.logger.Info().Int64("job_id", job.ID).Int("total_files", job.TotalFiles).Msg("job created")

			runErr := orch.Run(ctx, job.ID, pages, 0)
			return e.report(cmd.OutOrStdout(), job.ID, runErr)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Directory holding the page images.")
	cmd.Flags().BoolVar(&structured, "structured", false, "Request structured JSON pages.")
	cmd.Flags().StringVar(&locale, "locale", "en", "Locale used to order page file names.")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Continue a job from its last processed page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			jobID, err := parseJobArg(args[0])
			if err != nil {
				return err
			}
			pages, err := readPages(dir)
			if err != nil {
				return err
			}
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			orch, err := e.orchestrator(ctx)
			if err != nil {
				return err
			}
			runErr := orch.Resume(ctx, jobID, pages)
			return e.report(cmd.OutOrStdout(), jobID, runErr)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Directory holding the page images.")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

// report prints the job after a run. An interrupted run is reported, not
// treated as a failure, because the job is paused and can be resumed.
func (e *env) report(w io.Writer, jobID int64, runErr error) error {
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		e.logger.Warn().Int64("job_id", jobID).Msg("run interrupted, job paused")
		runErr = nil
	}
	if runErr != nil {
		return runErr
	}
	view, err := e.query.JobInfo(context.Background(), jobID)
	if err != nil {
		return err
	}
	return writeJSON(w, newJobOutput(*view))
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobArg(args[0])
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			view, err := e.query.JobInfo(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), newJobOutput(*view))
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List unfinished jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			views, err := e.query.ActiveJobs(cmd.Context())
			if err != nil {
				return err
			}
			out := make([]jobOutput, 0, len(views))
			for _, view := range views {
				out = append(out, newJobOutput(view))
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

type resultOutput struct {
	FileName  string         `json:"fileName"`
	FileIndex int            `json:"fileIndex"`
	Result    domain.Outcome `json:"result"`
}

func newResultsCmd() *cobra.Command {
	var from, to int
	cmd := &cobra.Command{
		Use:   "results <job-id>",
		Short: "Print a job's results, optionally limited to an index range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobArg(args[0])
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			results, err := e.query.JobResults(cmd.Context(), jobID, from, to)
			if err != nil {
				return err
			}
			out := make([]resultOutput, 0, len(results))
			for _, res := range results {
				out = append(out, resultOutput{FileName: res.FileName, FileIndex: res.FileIndex, Result: res.Outcome})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "First file index to include.")
	cmd.Flags().IntVar(&to, "to", -1, "Last file index to include; negative means no upper bound.")
	return cmd
}

func newExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <job-id>",
		Short: "Write a job's results to an .xlsx or .zip file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobArg(args[0])
			if err != nil {
				return err
			}
			render, err := exporterFor(out)
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			view, err := e.query.JobInfo(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			data, err := render(view.Job, view.Results)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d results to %s\n", len(view.Results), out)
			return err
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output file (.xlsx or .zip).")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func exporterFor(path string) (func(domain.Job, []domain.Result) ([]byte, error), error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return export.ResultsXLSX, nil
	case ".zip":
		return export.ResultsZIP, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q: use .xlsx or .zip", filepath.Ext(path))
	}
}

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <job-id>",
		Short: "Mark a job paused",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobArg(args[0])
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			job, err := batch.PauseJob(cmd.Context(), e.stores.Jobs, jobID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), newJobOutput(batch.NewJobView(*job)))
		},
	}
}
