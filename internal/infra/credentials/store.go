package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"pagebatch/internal/infra"
	"pagebatch/internal/sqlinline"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Store keeps provider API keys in the integration_tokens table so the
// service can start without OPENAI_API_KEY in its environment.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

func (s *Store) OpenAIAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderOpenAI)
}

// Token returns the stored token for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) GeminiAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderGemini)
}

func (s *Store) SetOpenAIAPIKey(ctx context.Context, key string, props map[string]any) error {
	return s.SetToken(ctx, ProviderOpenAI, key, props)
}

func (s *Store) SetGeminiAPIKey(ctx context.Context, key string, props map[string]any) error {
	return s.SetToken(ctx, ProviderGemini, key, props)
}

// SetToken stores token for provider, replacing any previous one.
func (s *Store) SetToken(ctx context.Context, provider, token string, props map[string]any) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%s api key is required", provider)
	}
	return s.upsert(ctx, provider, token, props)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}

// ResolveOpenAIKey prefers the configured key and falls back to the store.
func ResolveOpenAIKey(ctx context.Context, configured string, store *Store) (string, error) {
	return ResolveKey(ctx, ProviderOpenAI, configured, store)
}

// ResolveKey prefers the configured key for provider and falls back to the
// store when one is available.
func ResolveKey(ctx context.Context, provider, configured string, store *Store) (string, error) {
	if key := strings.TrimSpace(configured); key != "" {
		return key, nil
	}
	if store == nil {
		return "", nil
	}
	return store.Token(ctx, provider)
}
