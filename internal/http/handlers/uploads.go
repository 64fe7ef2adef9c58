package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"pagebatch/internal/batch"
	"pagebatch/internal/domain"
	"pagebatch/internal/middleware"
)

const multipartMemory = 32 << 20

type upload struct {
	Name string
	Data []byte
}

// readUploads parses the image files sent under field. Every file must be an
// image/* part no larger than the configured limit, and names must be unique
// because they key the payload map.
func (a *App) readUploads(w http.ResponseWriter, r *http.Request, field string, maxFiles int) ([]upload, error) {
	maxBody := int64(maxFiles)*a.Limits.MaxUploadBytes + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: request body exceeds %d bytes", domain.ErrInvalidInput, tooLarge.Limit)
		}
		return nil, fmt.Errorf("%w: parse multipart form: %v", domain.ErrInvalidInput, err)
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: no files uploaded", domain.ErrInvalidInput)
	}
	if len(headers) > maxFiles {
		return nil, fmt.Errorf("%w: %d files uploaded, at most %d allowed", domain.ErrInvalidInput, len(headers), maxFiles)
	}

	seen := make(map[string]struct{}, len(headers))
	uploads := make([]upload, 0, len(headers))
	for _, fh := range headers {
		u, err := a.readUpload(fh)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[u.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate file name %q", domain.ErrInvalidInput, u.Name)
		}
		seen[u.Name] = struct{}{}
		uploads = append(uploads, u)
	}
	return uploads, nil
}

func (a *App) readUpload(fh *multipart.FileHeader) (upload, error) {
	name := strings.TrimSpace(fh.Filename)
	if name == "" {
		return upload{}, fmt.Errorf("%w: file without a name", domain.ErrInvalidInput)
	}
	if !strings.HasPrefix(strings.ToLower(fh.Header.Get("Content-Type")), "image/") {
		return upload{}, fmt.Errorf("%w: %s: only images are allowed", domain.ErrInvalidInput, name)
	}
	if a.Limits.MaxUploadBytes > 0 && fh.Size > a.Limits.MaxUploadBytes {
		return upload{}, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrInvalidInput, name, a.Limits.MaxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return upload{}, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return upload{}, fmt.Errorf("read %s: %w", name, err)
	}
	return upload{Name: name, Data: data}, nil
}

// sortedNames returns the upload names in the request locale's collation
// order along with the payloads keyed by name.
func sortedNames(r *http.Request, uploads []upload) ([]string, map[string][]byte) {
	names, payloads := namesAndPayloads(uploads)
	batch.SortFileNames(names, middleware.LocaleFromContext(r.Context()))
	return names, payloads
}

func namesAndPayloads(uploads []upload) ([]string, map[string][]byte) {
	names := make([]string, 0, len(uploads))
	payloads := make(map[string][]byte, len(uploads))
	for _, u := range uploads {
		names = append(names, u.Name)
		payloads[u.Name] = u.Data
	}
	return names, payloads
}
