package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"pagebatch/internal/domain"
	"pagebatch/internal/sqlinline"
)

type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type testRowsBase struct{}

func (testRowsBase) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (testRowsBase) Conn() *pgx.Conn { return nil }

func (testRowsBase) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (testRowsBase) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (testRowsBase) RawValues() [][]byte { return nil }

type sliceRows struct {
	testRowsBase
	rows [][]any
	pos  int
}

func (s *sliceRows) Next() bool {
	if s.pos >= len(s.rows) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceRows) Scan(dest ...any) error { return assign(dest, s.rows[s.pos-1]...) }

func (s *sliceRows) Err() error { return nil }

func (s *sliceRows) Close() {}

func assign(dest []any, values ...any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, v := range values {
		switch d := dest[i].(type) {
		case *int64:
			*d = v.(int64)
		case *int:
			*d = v.(int)
		case *bool:
			*d = v.(bool)
		case *string:
			*d = v.(string)
		case *[]string:
			*d = append([]string(nil), v.([]string)...)
		case *[]byte:
			*d = append([]byte(nil), v.([]byte)...)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported destination %T", dest[i])
		}
	}
	return nil
}

type pgJob struct {
	id         int64
	total      int
	processed  int
	names      []string
	structured bool
	status     string
	createdAt  time.Time
	updatedAt  time.Time
}

func (j *pgJob) values() []any {
	return []any{j.id, j.total, j.processed, j.names, j.structured, j.status, j.createdAt, j.updatedAt}
}

type pgResult struct {
	id        int64
	jobID     int64
	fileName  string
	fileIndex int
	payload   []byte
	outcome   string
	createdAt time.Time
	updatedAt time.Time
}

func (r *pgResult) values() []any {
	return []any{r.id, r.jobID, r.fileName, r.fileIndex, r.payload, r.outcome, r.createdAt, r.updatedAt}
}

// memoryDB emulates the inline queries over maps.
type memoryDB struct {
	mu      sync.Mutex
	nextJob int64
	nextRes int64
	jobs    map[int64]*pgJob
	results map[[2]int64]*pgResult
	failAll error
}

func newMemoryDB() *memoryDB {
	return &memoryDB{jobs: map[int64]*pgJob{}, results: map[[2]int64]*pgResult{}}
}

func (m *memoryDB) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, fmt.Errorf("unsupported exec")
}

func (m *memoryDB) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		err := m.failAll
		return simpleRow{scan: func(...any) error { return err }}
	}
	now := time.Now()
	switch query {
	case sqlinline.QInsertJob:
		m.nextJob++
		job := &pgJob{
			id:         m.nextJob,
			total:      args[0].(int),
			names:      args[1].([]string),
			structured: args[2].(bool),
			status:     "pending",
			createdAt:  now,
			updatedAt:  now,
		}
		m.jobs[job.id] = job
		vals := job.values()
		return simpleRow{scan: func(dest ...any) error { return assign(dest, vals...) }}
	case sqlinline.QSelectJob:
		job, ok := m.jobs[args[0].(int64)]
		if !ok {
			return simpleRow{}
		}
		vals := job.values()
		return simpleRow{scan: func(dest ...any) error { return assign(dest, vals...) }}
	case sqlinline.QUpdateJobStatus:
		job, ok := m.jobs[args[0].(int64)]
		if !ok || job.status == "completed" || job.status == "failed" {
			return simpleRow{}
		}
		job.status = args[1].(string)
		if args[2] != nil {
			job.processed = args[2].(int)
		}
		job.updatedAt = now.Add(time.Millisecond)
		vals := job.values()
		return simpleRow{scan: func(dest ...any) error { return assign(dest, vals...) }}
	case sqlinline.QUpsertResult:
		jobID := args[0].(int64)
		if _, ok := m.jobs[jobID]; !ok {
			return simpleRow{scan: func(...any) error {
				return &pgconn.PgError{Code: pgForeignKeyViolation, Message: "violates foreign key constraint"}
			}}
		}
		key := [2]int64{jobID, int64(args[2].(int))}
		res, ok := m.results[key]
		if !ok {
			m.nextRes++
			res = &pgResult{id: m.nextRes, jobID: jobID, fileIndex: args[2].(int), createdAt: now}
			m.results[key] = res
		}
		res.fileName = args[1].(string)
		res.payload = args[3].([]byte)
		res.outcome = args[4].(string)
		res.updatedAt = now
		vals := res.values()
		return simpleRow{scan: func(dest ...any) error { return assign(dest, vals...) }}
	}
	return simpleRow{scan: func(...any) error { return fmt.Errorf("unsupported query: %s", query) }}
}

func (m *memoryDB) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	switch query {
	case sqlinline.QListJobsByStatus:
		wanted := map[string]bool{}
		for _, s := range args[0].([]string) {
			wanted[s] = true
		}
		var ids []int64
		for id, job := range m.jobs {
			if wanted[job.status] {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out := &sliceRows{}
		for _, id := range ids {
			out.rows = append(out.rows, m.jobs[id].values())
		}
		return out, nil
	case sqlinline.QListResultsByJob:
		jobID := args[0].(int64)
		var matched []*pgResult
		for key, res := range m.results {
			if key[0] == jobID {
				matched = append(matched, res)
			}
		}
		sort.Slice(matched, func(i, j int) bool { return matched[i].fileIndex < matched[j].fileIndex })
		out := &sliceRows{}
		for _, res := range matched {
			out.rows = append(out.rows, res.values())
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported query: %s", query)
}

func TestJobRepositoryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newMemoryDB())

	job, err := repo.Create(ctx, []string{"p1.png", "p2.png"}, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.Status != domain.JobStatusPending || job.ProcessedFiles != 0 || job.TotalFiles != 2 || !job.Structured {
		t.Fatalf("unexpected job %+v", job)
	}

	got, err := repo.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.FileNames) != 2 || got.FileNames[0] != "p1.png" || got.FileNames[1] != "p2.png" {
		t.Fatalf("FileNames = %v", got.FileNames)
	}
}

func TestJobRepositoryGetNotFound(t *testing.T) {
	repo := NewJobRepository(newMemoryDB())
	if _, err := repo.Get(context.Background(), 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
	if _, err := repo.SetStatus(context.Background(), 42, domain.JobStatusPaused, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SetStatus error = %v, want ErrNotFound", err)
	}
}

func TestJobRepositorySetStatusKeepsProgressWhenOmitted(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newMemoryDB())
	job, err := repo.Create(ctx, []string{"a", "b", "c"}, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	two := 2
	if _, err := repo.SetStatus(ctx, job.ID, domain.JobStatusProcessing, &two); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	paused, err := repo.SetStatus(ctx, job.ID, domain.JobStatusPaused, nil)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if paused.Status != domain.JobStatusPaused {
		t.Fatalf("Status = %q, want paused", paused.Status)
	}
	if paused.ProcessedFiles != 2 {
		t.Fatalf("ProcessedFiles = %d, want 2", paused.ProcessedFiles)
	}
	if !paused.UpdatedAt.After(job.UpdatedAt) {
		t.Fatalf("UpdatedAt was not refreshed")
	}
}

func TestJobRepositorySetStatusLeavesFinishedJobs(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newMemoryDB())

	for _, final := range []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusFailed} {
		t.Run(string(final), func(t *testing.T) {
			job, err := repo.Create(ctx, []string{"a"}, false)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if _, err := repo.SetStatus(ctx, job.ID, final, nil); err != nil {
				t.Fatalf("SetStatus(%s): %v", final, err)
			}
			for _, next := range []domain.JobStatus{domain.JobStatusPaused, domain.JobStatusProcessing, domain.JobStatusFailed} {
				if _, err := repo.SetStatus(ctx, job.ID, next, nil); !errors.Is(err, domain.ErrInvalidTransition) {
					t.Errorf("SetStatus(%s) error = %v, want ErrInvalidTransition", next, err)
				}
			}
			got, err := repo.Get(ctx, job.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Status != final {
				t.Errorf("Status = %s, want %s", got.Status, final)
			}
		})
	}
}

func TestJobRepositoryListUnfinished(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newMemoryDB())
	var ids []int64
	for i := 0; i < 4; i++ {
		job, err := repo.Create(ctx, []string{"x"}, false)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, job.ID)
	}
	one := 1
	if _, err := repo.SetStatus(ctx, ids[1], domain.JobStatusCompleted, &one); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := repo.SetStatus(ctx, ids[2], domain.JobStatusPaused, nil); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	jobs, err := repo.ListUnfinished(ctx)
	if err != nil {
		t.Fatalf("ListUnfinished: %v", err)
	}
	want := []int64{ids[0], ids[2], ids[3]}
	if len(jobs) != len(want) {
		t.Fatalf("ListUnfinished returned %d jobs, want %d", len(jobs), len(want))
	}
	for i, id := range want {
		if jobs[i].ID != id {
			t.Fatalf("jobs[%d].ID = %d, want %d", i, jobs[i].ID, id)
		}
	}
}

func TestJobRepositoryWrapsPersistenceErrors(t *testing.T) {
	db := newMemoryDB()
	db.failAll = errors.New("connection reset")
	repo := NewJobRepository(db)

	if _, err := repo.Create(context.Background(), []string{"a"}, false); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("Create error = %v, want ErrPersistence", err)
	}
	if _, err := repo.ListUnfinished(context.Background()); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("ListUnfinished error = %v, want ErrPersistence", err)
	}
}

func TestResultRepositoryUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newMemoryDB()
	jobs := NewJobRepository(db)
	results := NewResultRepository(db)
	job, err := jobs.Create(ctx, []string{"a.png", "b.png"}, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := results.Upsert(ctx, job.ID, "b.png", 1, domain.Failure("timeout"))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	second, err := results.Upsert(ctx, job.ID, "b.png", 1, domain.Success(json.RawMessage(`"page two"`)))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("Upsert created a second record: %d != %d", first.ID, second.ID)
	}
	if _, err := results.Upsert(ctx, job.ID, "a.png", 0, domain.Success(json.RawMessage(`"page one"`))); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	list, err := results.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListByJob returned %d results, want 2", len(list))
	}
	if list[0].FileIndex != 0 || list[1].FileIndex != 1 {
		t.Fatalf("results not ordered by index: %d, %d", list[0].FileIndex, list[1].FileIndex)
	}
	if list[1].Outcome.Failed() || string(list[1].Outcome.Value) != `"page two"` {
		t.Fatalf("latest outcome not kept: %+v", list[1].Outcome)
	}
}

func TestResultRepositoryUpsertUnknownJob(t *testing.T) {
	results := NewResultRepository(newMemoryDB())
	_, err := results.Upsert(context.Background(), 99, "a.png", 0, domain.Success(json.RawMessage(`"x"`)))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Upsert error = %v, want ErrNotFound", err)
	}
}
