// Package export renders a job's results as downloadable files.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"pagebatch/internal/batch"
	"pagebatch/internal/domain"
	"pagebatch/pkg/zip"
)

// maxCellChars is the longest text a spreadsheet cell accepts.
const maxCellChars = 32767

const (
	resultsSheet = "Results"
	jobSheet     = "Job"
)

// ResultsXLSX builds a workbook with one row per result and a job summary sheet.
func ResultsXLSX(job domain.Job, results []domain.Result) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// The default sheet becomes the results sheet.
	if err := f.SetSheetName(f.GetSheetName(0), resultsSheet); err != nil {
		return nil, fmt.Errorf("xlsx rename sheet: %w", err)
	}
	if _, err := f.NewSheet(jobSheet); err != nil {
		return nil, fmt.Errorf("xlsx new sheet: %w", err)
	}

	headers := []string{"Index", "File", "Outcome", "Content", "Error", "Updated At"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(resultsSheet, cell, h)
	}

	for i, res := range results {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(resultsSheet, cell, v)
		}
		write(1, res.FileIndex)
		write(2, res.FileName)
		write(3, string(res.Outcome.Kind))
		if res.Outcome.Failed() {
			write(4, "")
			write(5, truncate(res.Outcome.Message, maxCellChars))
		} else {
			write(4, truncate(cellText(res.Outcome.Value), maxCellChars))
			write(5, "")
		}
		write(6, res.UpdatedAt.UTC().Format(time.RFC3339))
	}

	_ = f.SetColWidth(resultsSheet, "A", "A", 8)
	_ = f.SetColWidth(resultsSheet, "B", "B", 28)
	_ = f.SetColWidth(resultsSheet, "C", "C", 10)
	_ = f.SetColWidth(resultsSheet, "D", "D", 80)
	_ = f.SetColWidth(resultsSheet, "E", "E", 40)
	_ = f.SetColWidth(resultsSheet, "F", "F", 22)

	summary := [][2]any{
		{"Job ID", job.ID},
		{"Status", string(job.Status)},
		{"Structured", job.Structured},
		{"Progress", batch.Progress(job)},
		{"Percent Complete", batch.PercentComplete(job)},
		{"Created At", job.CreatedAt.UTC().Format(time.RFC3339)},
		{"Updated At", job.UpdatedAt.UTC().Format(time.RFC3339)},
	}
	for i, kv := range summary {
		_ = f.SetCellValue(jobSheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(jobSheet, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(jobSheet, "A", "A", 18)
	_ = f.SetColWidth(jobSheet, "B", "B", 26)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

type jobManifest struct {
	ID              int64     `json:"id"`
	Status          string    `json:"status"`
	Structured      bool      `json:"structured"`
	FileNames       []string  `json:"fileNames"`
	Progress        string    `json:"progress"`
	PercentComplete int       `json:"percentComplete"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ResultsZIP builds an archive with job.json and one pages/NNNN.json per result.
func ResultsZIP(job domain.Job, results []domain.Result) ([]byte, error) {
	manifest, err := json.MarshalIndent(jobManifest{
		ID:              job.ID,
		Status:          string(job.Status),
		Structured:      job.Structured,
		FileNames:       job.FileNames,
		Progress:        batch.Progress(job),
		PercentComplete: batch.PercentComplete(job),
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	entries := []zip.Entry{{Filename: "job.json", Modified: job.UpdatedAt, Data: manifest}}
	for _, res := range results {
		entries = append(entries, zip.Entry{
			Filename: fmt.Sprintf("pages/%04d.json", res.FileIndex),
			Modified: res.UpdatedAt,
			Data:     res.Outcome.Payload(),
		})
	}
	return zip.Archive(entries)
}

// cellText unquotes JSON strings and leaves every other value as compact JSON.
func cellText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
