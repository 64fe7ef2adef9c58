package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"pagebatch/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	job, err := store.Create(ctx, []string{"p01.png", "p02.png", "p03.png"}, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("Create returned zero id")
	}

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.JobStatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.TotalFiles != 3 || got.ProcessedFiles != 0 {
		t.Errorf("progress = %d/%d, want 0/3", got.ProcessedFiles, got.TotalFiles)
	}
	if !got.Structured {
		t.Error("Structured = false, want true")
	}
	if len(got.FileNames) != 3 || got.FileNames[2] != "p03.png" {
		t.Errorf("FileNames = %v", got.FileNames)
	}
}

func TestCreateEmptyJob(t *testing.T) {
	store := newTestStore(t)
	job, err := store.Create(context.Background(), nil, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.TotalFiles != 0 || len(job.FileNames) != 0 {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), 7); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return base }

	job, err := store.Create(ctx, []string{"a", "b"}, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	store.now = func() time.Time { return base.Add(time.Minute) }
	one := 1
	updated, err := store.SetStatus(ctx, job.ID, domain.JobStatusProcessing, &one)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if updated.ProcessedFiles != 1 || updated.Status != domain.JobStatusProcessing {
		t.Fatalf("unexpected job %+v", updated)
	}
	if !updated.UpdatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v, want %v", updated.UpdatedAt, base.Add(time.Minute))
	}
	if !updated.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", updated.CreatedAt, base)
	}

	paused, err := store.SetStatus(ctx, job.ID, domain.JobStatusPaused, nil)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if paused.ProcessedFiles != 1 {
		t.Errorf("ProcessedFiles = %d, want 1", paused.ProcessedFiles)
	}

	if _, err := store.SetStatus(ctx, 999, domain.JobStatusPaused, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("SetStatus error = %v, want ErrNotFound", err)
	}
}

func TestSetStatusRejectsProgressBeyondTotal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	job, err := store.Create(ctx, []string{"a"}, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	five := 5
	if _, err := store.SetStatus(ctx, job.ID, domain.JobStatusProcessing, &five); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("SetStatus error = %v, want ErrPersistence", err)
	}
}

func TestSetStatusLeavesFinishedJobs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	tests := []struct {
		final domain.JobStatus
		next  domain.JobStatus
	}{
		{final: domain.JobStatusCompleted, next: domain.JobStatusPaused},
		{final: domain.JobStatusCompleted, next: domain.JobStatusFailed},
		{final: domain.JobStatusFailed, next: domain.JobStatusProcessing},
		{final: domain.JobStatusFailed, next: domain.JobStatusCompleted},
	}
	for _, tt := range tests {
		t.Run(string(tt.final)+"_to_"+string(tt.next), func(t *testing.T) {
			job, err := store.Create(ctx, []string{"a"}, false)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			one := 1
			if _, err := store.SetStatus(ctx, job.ID, tt.final, &one); err != nil {
				t.Fatalf("SetStatus(%s): %v", tt.final, err)
			}
			if _, err := store.SetStatus(ctx, job.ID, tt.next, nil); !errors.Is(err, domain.ErrInvalidTransition) {
				t.Fatalf("SetStatus(%s) error = %v, want ErrInvalidTransition", tt.next, err)
			}
			got, err := store.Get(ctx, job.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Status != tt.final || got.ProcessedFiles != 1 {
				t.Errorf("job = %s %d/1, want %s 1/1", got.Status, got.ProcessedFiles, tt.final)
			}
		})
	}
}

func TestListUnfinished(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	statuses := []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusCompleted,
		domain.JobStatusPaused,
		domain.JobStatusFailed,
		domain.JobStatusProcessing,
	}
	var ids []int64
	for _, status := range statuses {
		job, err := store.Create(ctx, []string{"x"}, false)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := store.SetStatus(ctx, job.ID, status, nil); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		ids = append(ids, job.ID)
	}

	jobs, err := store.ListUnfinished(ctx)
	if err != nil {
		t.Fatalf("ListUnfinished: %v", err)
	}
	want := []int64{ids[0], ids[2], ids[4]}
	if len(jobs) != len(want) {
		t.Fatalf("got %d jobs, want %d", len(jobs), len(want))
	}
	for i := range want {
		if jobs[i].ID != want[i] {
			t.Errorf("jobs[%d].ID = %d, want %d", i, jobs[i].ID, want[i])
		}
	}
}

func TestUpsertReplacesPreviousAttempt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	job, err := store.Create(ctx, []string{"a.png", "b.png", "c.png"}, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := store.Upsert(ctx, job.ID, "b.png", 1, domain.Failure("rate limited"))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	second, err := store.Upsert(ctx, job.ID, "b.png", 1, domain.Success(json.RawMessage(`{"title":"Fractions"}`)))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("second attempt created a new record: %d != %d", first.ID, second.ID)
	}
	if _, err := store.Upsert(ctx, job.ID, "c.png", 2, domain.Failure("bad image")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := store.Upsert(ctx, job.ID, "a.png", 0, domain.Success(json.RawMessage(`"text"`))); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := store.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, res := range results {
		if res.FileIndex != i {
			t.Errorf("results[%d].FileIndex = %d", i, res.FileIndex)
		}
	}
	if results[1].Outcome.Failed() {
		t.Errorf("index 1 should hold the latest success, got %+v", results[1].Outcome)
	}
	if !results[2].Outcome.Failed() || results[2].Outcome.Message != "bad image" {
		t.Errorf("index 2 outcome = %+v", results[2].Outcome)
	}
	if string(results[0].Outcome.Payload()) != `"text"` {
		t.Errorf("index 0 payload = %s", results[0].Outcome.Payload())
	}
}

func TestUpsertUnknownJob(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Upsert(context.Background(), 41, "a.png", 0, domain.Success(json.RawMessage(`"x"`)))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Upsert error = %v, want ErrNotFound", err)
	}
}

func TestListByJobEmpty(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	job, err := store.Create(ctx, []string{"a"}, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	results, err := store.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results, want none", len(results))
	}
}
