// Package bootstrap wires the configured store backend and the vision
// processor for the API server and the CLI.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"pagebatch/internal/adapter/repo"
	"pagebatch/internal/adapter/sqlite"
	"pagebatch/internal/batch"
	"pagebatch/internal/domain"
	"pagebatch/internal/infra"
	"pagebatch/internal/infra/credentials"
	"pagebatch/internal/providers/vision"
	"pagebatch/internal/storage"
)

// Stores holds the repositories of the selected backend.
type Stores struct {
	Jobs    domain.JobRepository
	Results domain.ResultRepository
	// Credentials is nil on the SQLite backend.
	Credentials *credentials.Store
	close       func() error
}

// Close releases the backend's connections.
func (s *Stores) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStores connects to the backend named by cfg.StoreDriver and makes sure
// its schema exists.
func OpenStores(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case infra.StoreDriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("bootstrap: using sqlite store")
		return &Stores{Jobs: store, Results: store, close: store.Close}, nil
	case infra.StoreDriverPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := infra.MigratePostgres(ctx, pool, cfg.DBSchema); err != nil {
			pool.Close()
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, logger)
		logger.Info().Str("schema", cfg.DBSchema).Msg("bootstrap: using postgres store")
		return &Stores{
			Jobs:        repo.NewJobRepository(runner),
			Results:     repo.NewResultRepository(runner),
			Credentials: credentials.NewStore(runner),
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// PageProcessor is a batch.Processor backed by a hosted vision model.
type PageProcessor interface {
	batch.Processor
	Model() string
	Configured() bool
}

// NewProcessor builds the vision processor named by cfg.VisionProvider. The
// API key from the environment wins over the one kept in the credentials
// store.
func NewProcessor(ctx context.Context, cfg *infra.Config, stores *Stores, logger *zerolog.Logger) (PageProcessor, error) {
	client := &http.Client{Timeout: cfg.OpenAITimeout}
	switch cfg.VisionProvider {
	case infra.VisionProviderGemini:
		key, err := credentials.ResolveKey(ctx, credentials.ProviderGemini, cfg.GeminiAPIKey, stores.Credentials)
		if err != nil {
			return nil, fmt.Errorf("resolve gemini key: %w", err)
		}
		return vision.NewGeminiProcessor(vision.GeminiOptions{
			APIKey:     key,
			Model:      cfg.GeminiModel,
			BaseURL:    cfg.GeminiBaseURL,
			MaxTokens:  cfg.OpenAIMaxTokens,
			HTTPClient: client,
			Logger:     logger,
		})
	default:
		key, err := credentials.ResolveOpenAIKey(ctx, cfg.OpenAIAPIKey, stores.Credentials)
		if err != nil {
			return nil, fmt.Errorf("resolve openai key: %w", err)
		}
		return vision.NewOpenAIProcessor(vision.Options{
			APIKey:       key,
			Model:        cfg.OpenAIModel,
			BaseURL:      cfg.OpenAIBaseURL,
			Organization: cfg.OpenAIOrg,
			MaxTokens:    cfg.OpenAIMaxTokens,
			HTTPClient:   client,
			Logger:       logger,
		})
	}
}

// NewPageSpool returns the page spool rooted at cfg.StoragePath, or nil when
// no path is configured.
func NewPageSpool(cfg *infra.Config) (*storage.PageSpool, error) {
	if cfg.StoragePath == "" {
		return nil, nil
	}
	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("page spool: %w", err)
	}
	return storage.NewPageSpool(files), nil
}
