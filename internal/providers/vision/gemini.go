package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"pagebatch/internal/domain"
)

const (
	defaultGeminiModel   = "gemini-2.5-flash"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// GeminiProcessor reads textbook pages through the Gemini generateContent
// API with the page attached as inline data.
type GeminiProcessor struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	client    *http.Client
	schema    *jsonschema.Schema
	logger    zerolog.Logger
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens  int    `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

func NewGeminiProcessor(opts GeminiOptions) (*GeminiProcessor, error) {
	schema, err := compilePageSchema()
	if err != nil {
		return nil, fmt.Errorf("compile page schema: %w", err)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultGeminiModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultOpenAIMaxTokens
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultOpenAITimeout}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &GeminiProcessor{
		apiKey:    strings.TrimSpace(opts.APIKey),
		model:     model,
		baseURL:   baseURL,
		maxTokens: maxTokens,
		client:    client,
		schema:    schema,
		logger:    logger,
	}, nil
}

func (p *GeminiProcessor) Model() string {
	return p.model
}

func (p *GeminiProcessor) Configured() bool {
	return p.apiKey != ""
}

// Process sends one page image to Gemini.
func (p *GeminiProcessor) Process(ctx context.Context, payload []byte, structured bool) (json.RawMessage, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrInvalidInput)
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is not configured", domain.ErrProviderFailure)
	}

	instruction := textPrompt
	config := &geminiGenerationConfig{MaxOutputTokens: p.maxTokens}
	if structured {
		instruction = structuredPrompt
		config.ResponseMimeType = "application/json"
	}
	text, err := p.generate(ctx, instruction, payload, config)
	if err != nil {
		return nil, err
	}
	return pageValue(p.schema, text, structured)
}

func (p *GeminiProcessor) generate(ctx context.Context, instruction string, image []byte, config *geminiGenerationConfig) (string, error) {
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: instruction},
				{InlineData: &geminiInlineData{
					MimeType: imageMimeType(image),
					Data:     base64.StdEncoding.EncodeToString(image),
				}},
			},
		}},
		GenerationConfig: config,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %w", domain.ErrProviderFailure, err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, url.PathEscape(p.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %w", domain.ErrProviderFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)

	started := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: invoke gemini: %w", domain.ErrProviderFailure, err)
	}
	defer resp.Body.Close()
	p.logger.Debug().
		Str("model", p.model).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(started)).
		Msg("vision: gemini returned")

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("%w: gemini status %d: %s", domain.ErrProviderFailure, resp.StatusCode, apiErr.Error.Message)
		}
		if msg := strings.TrimSpace(string(data)); msg != "" {
			return "", fmt.Errorf("%w: gemini status %d: %s", domain.ErrProviderFailure, resp.StatusCode, msg)
		}
		return "", fmt.Errorf("%w: gemini status %d", domain.ErrProviderFailure, resp.StatusCode)
	}

	var out geminiGenerateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode gemini response: %w", domain.ErrProviderFailure, err)
	}
	var text strings.Builder
	for _, candidate := range out.Candidates {
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
		if text.Len() > 0 {
			break
		}
	}
	result := strings.TrimSpace(text.String())
	if result == "" {
		return "", fmt.Errorf("%w: gemini returned no text", domain.ErrProviderFailure)
	}
	return result, nil
}

// imageMimeType sniffs the upload, falling back to PNG for unknown bytes.
func imageMimeType(data []byte) string {
	if ct := http.DetectContentType(data); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/png"
}
