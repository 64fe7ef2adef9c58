package export

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"pagebatch/internal/domain"
)

func sampleJob() (domain.Job, []domain.Result) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	job := domain.Job{
		ID:             12,
		TotalFiles:     3,
		ProcessedFiles: 2,
		FileNames:      []string{"a.png", "b.png", "c.png"},
		Status:         domain.JobStatusPaused,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	results := []domain.Result{
		{JobID: 12, FileName: "a.png", FileIndex: 0, Outcome: domain.Success(json.RawMessage(`"Unit 1A"`)), UpdatedAt: now},
		{JobID: 12, FileName: "b.png", FileIndex: 1, Outcome: domain.Failure("timeout"), UpdatedAt: now},
	}
	return job, results
}

func TestResultsXLSX(t *testing.T) {
	job, results := sampleJob()
	data, err := ResultsXLSX(job, results)
	if err != nil {
		t.Fatalf("ResultsXLSX: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(resultsSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if rows[1][1] != "a.png" || rows[1][2] != "success" || rows[1][3] != "Unit 1A" {
		t.Errorf("success row = %v", rows[1])
	}
	if rows[2][2] != "failure" || rows[2][4] != "timeout" {
		t.Errorf("failure row = %v", rows[2])
	}

	progress, err := f.GetCellValue(jobSheet, "B4")
	if err != nil || progress != "2/3" {
		t.Errorf("progress cell = %q, %v", progress, err)
	}
}

func TestResultsZIP(t *testing.T) {
	job, results := sampleJob()
	data, err := ResultsZIP(job, results)
	if err != nil {
		t.Fatalf("ResultsZIP: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	files := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Open %s: %v", f.Name, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		files[f.Name] = string(body)
	}
	if files["pages/0001.json"] != `{"error":"timeout"}` {
		t.Errorf("failure page = %q", files["pages/0001.json"])
	}
	if files["pages/0000.json"] != `"Unit 1A"` {
		t.Errorf("success page = %q", files["pages/0000.json"])
	}
	if !strings.Contains(files["job.json"], `"progress": "2/3"`) {
		t.Errorf("manifest = %s", files["job.json"])
	}
}

func TestCellText(t *testing.T) {
	if got := cellText(json.RawMessage(`"line\nbreak"`)); got != "line\nbreak" {
		t.Errorf("cellText string = %q", got)
	}
	if got := cellText(json.RawMessage(`{"a":1}`)); got != `{"a":1}` {
		t.Errorf("cellText object = %q", got)
	}
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Errorf("truncate = %q", got)
	}
}
