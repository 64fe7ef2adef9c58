package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// PageSpool keeps the page payloads of a job under jobs/<id>/ on a FileStore.
type PageSpool struct {
	store *FileStore
}

// NewPageSpool wraps store. A nil store yields a nil spool, which callers
// treat as "payloads are not retained".
func NewPageSpool(store *FileStore) *PageSpool {
	if store == nil {
		return nil
	}
	return &PageSpool{store: store}
}

func jobPrefix(jobID int64) string {
	return fmt.Sprintf("jobs/%d", jobID)
}

// pageKey escapes name into a single path segment. Leading dots are escaped
// too so that "." and ".." cannot address a directory.
func pageKey(jobID int64, name string) string {
	escaped := url.PathEscape(name)
	if strings.HasPrefix(escaped, ".") {
		escaped = "%2E" + escaped[1:]
	}
	return jobPrefix(jobID) + "/" + escaped
}

// Save writes every page of pages for the job, replacing existing copies.
func (p *PageSpool) Save(ctx context.Context, jobID int64, pages map[string][]byte) error {
	if p == nil {
		return nil
	}
	for name, data := range pages {
		if _, err := p.store.Write(ctx, pageKey(jobID, name), data); err != nil {
			return fmt.Errorf("spool page %q of job %d: %w", name, jobID, err)
		}
	}
	return nil
}

// Load returns every spooled page of the job keyed by its original name.
func (p *PageSpool) Load(ctx context.Context, jobID int64) (map[string][]byte, error) {
	pages := map[string][]byte{}
	if p == nil {
		return pages, nil
	}
	names, err := p.store.List(ctx, jobPrefix(jobID))
	if err != nil {
		return nil, err
	}
	for _, escaped := range names {
		name, err := url.PathUnescape(escaped)
		if err != nil {
			continue
		}
		data, err := p.store.Read(ctx, jobPrefix(jobID)+"/"+escaped)
		if err != nil {
			return nil, err
		}
		pages[name] = data
	}
	return pages, nil
}

// Discard drops every spooled page of the job.
func (p *PageSpool) Discard(ctx context.Context, jobID int64) error {
	if p == nil {
		return nil
	}
	return p.store.RemoveAll(ctx, jobPrefix(jobID))
}

// Merge returns the spooled pages of the job overlaid with fresh, after
// spooling fresh so a later resume can find them.
func (p *PageSpool) Merge(ctx context.Context, jobID int64, fresh map[string][]byte) (map[string][]byte, error) {
	if p == nil {
		return fresh, nil
	}
	if err := p.Save(ctx, jobID, fresh); err != nil {
		return nil, err
	}
	return p.Load(ctx, jobID)
}
