package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pagebatch/internal/domain"
)

// memStore implements both repositories in memory and records every write.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	jobs    map[int64]*domain.Job
	results map[int64]map[int]*domain.Result
	writes  int

	// progress observed by SetStatus, in call order.
	progress []int
	// failOn makes the named operation fail once it has been called that many times.
	failOn    map[string]int
	calls     map[string]int
	violation error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:    map[int64]*domain.Job{},
		results: map[int64]map[int]*domain.Result{},
		failOn:  map[string]int{},
		calls:   map[string]int{},
	}
}

var errStoreDown = errors.New("store down")

func (m *memStore) hit(op string) error {
	m.calls[op]++
	if n, ok := m.failOn[op]; ok && m.calls[op] >= n {
		return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, errStoreDown)
	}
	return nil
}

func (m *memStore) Create(ctx context.Context, fileNames []string, structured bool) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("create"); err != nil {
		return nil, err
	}
	m.nextID++
	now := time.Now()
	job := &domain.Job{
		ID:         m.nextID,
		TotalFiles: len(fileNames),
		FileNames:  append([]string{}, fileNames...),
		Structured: structured,
		Status:     domain.JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.jobs[job.ID] = job
	m.writes++
	out := *job
	return &out, nil
}

func (m *memStore) Get(ctx context.Context, jobID int64) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("get"); err != nil {
		return nil, err
	}
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %d: %w", jobID, domain.ErrNotFound)
	}
	out := *job
	out.FileNames = append([]string{}, job.FileNames...)
	return &out, nil
}

func (m *memStore) ListUnfinished(ctx context.Context) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("list"); err != nil {
		return nil, err
	}
	var out []domain.Job
	for _, job := range m.jobs {
		if job.Status.IsUnfinished() {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) SetStatus(ctx context.Context, jobID int64, status domain.JobStatus, processedFiles *int) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("set:" + string(status)); err != nil {
		return nil, err
	}
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %d: %w", jobID, domain.ErrNotFound)
	}
	if !domain.CanTransition(job.Status, status) {
		return nil, fmt.Errorf("job %d from %s to %s: %w", jobID, job.Status, status, domain.ErrInvalidTransition)
	}
	if processedFiles != nil {
		if *processedFiles < 0 || *processedFiles > job.TotalFiles {
			m.violation = fmt.Errorf("processedFiles %d outside 0..%d", *processedFiles, job.TotalFiles)
		}
		if *processedFiles < job.ProcessedFiles && job.Status.IsUnfinished() && status != domain.JobStatusCompleted {
			m.violation = fmt.Errorf("processedFiles went back from %d to %d", job.ProcessedFiles, *processedFiles)
		}
		job.ProcessedFiles = *processedFiles
		m.progress = append(m.progress, *processedFiles)
	}
	job.Status = status
	job.UpdatedAt = time.Now()
	m.writes++
	out := *job
	return &out, nil
}

func (m *memStore) Upsert(ctx context.Context, jobID int64, fileName string, fileIndex int, outcome domain.Outcome) (*domain.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("upsert"); err != nil {
		return nil, err
	}
	if _, ok := m.jobs[jobID]; !ok {
		return nil, fmt.Errorf("job %d: %w", jobID, domain.ErrNotFound)
	}
	byIndex := m.results[jobID]
	if byIndex == nil {
		byIndex = map[int]*domain.Result{}
		m.results[jobID] = byIndex
	}
	now := time.Now()
	res, ok := byIndex[fileIndex]
	if !ok {
		res = &domain.Result{ID: int64(len(byIndex) + 1), JobID: jobID, FileIndex: fileIndex, CreatedAt: now}
		byIndex[fileIndex] = res
	}
	res.FileName = fileName
	res.Outcome = outcome
	res.UpdatedAt = now
	m.writes++
	out := *res
	return &out, nil
}

func (m *memStore) ListByJob(ctx context.Context, jobID int64) ([]domain.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("results"); err != nil {
		return nil, err
	}
	var out []domain.Result
	for _, res := range m.results[jobID] {
		out = append(out, *res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileIndex < out[j].FileIndex })
	return out, nil
}

func (m *memStore) job(id int64) domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// recordingProcessor echoes payloads as JSON strings and fails for payloads
// listed in fail.
type recordingProcessor struct {
	mu     sync.Mutex
	calls  []string
	fail   map[string]string
	before func(ctx context.Context, payload string) error
}

func (p *recordingProcessor) Process(ctx context.Context, payload []byte, structured bool) (json.RawMessage, error) {
	p.mu.Lock()
	p.calls = append(p.calls, string(payload))
	before := p.before
	p.mu.Unlock()
	if before != nil {
		if err := before(ctx, string(payload)); err != nil {
			return nil, err
		}
	}
	if msg, ok := p.fail[string(payload)]; ok {
		return nil, errors.New(msg)
	}
	if structured {
		return json.RawMessage(fmt.Sprintf(`{"page":%q}`, payload)), nil
	}
	raw, _ := json.Marshal(string(payload))
	return raw, nil
}

func (p *recordingProcessor) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type sleepRecorder struct {
	mu    sync.Mutex
	count int
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func pages(names ...string) map[string][]byte {
	out := make(map[string][]byte, len(names))
	for _, name := range names {
		out[name] = []byte(name)
	}
	return out
}
