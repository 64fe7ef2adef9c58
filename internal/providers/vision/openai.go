package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"pagebatch/internal/domain"
)

const (
	defaultOpenAIModel     = "gpt-4o"
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultOpenAITimeout   = 180 * time.Second
	defaultOpenAIMaxTokens = 4096
)

type Options struct {
	APIKey       string
	Model        string
	BaseURL      string
	Organization string
	MaxTokens    int
	HTTPClient   *http.Client
	Logger       *zerolog.Logger
}

// OpenAIProcessor reads textbook pages through the OpenAI chat completions
// vision API. In text mode the page text is returned as a JSON string, in
// structured mode a JSON object validated against the page schema.
type OpenAIProcessor struct {
	apiKey       string
	model        string
	baseURL      string
	organization string
	maxTokens    int
	client       *http.Client
	schema       *jsonschema.Schema
	logger       zerolog.Logger
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func NewOpenAIProcessor(opts Options) (*OpenAIProcessor, error) {
	schema, err := compilePageSchema()
	if err != nil {
		return nil, fmt.Errorf("compile page schema: %w", err)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultOpenAIModel
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
	return &OpenAIProcessor{
		apiKey:       strings.TrimSpace(opts.APIKey),
		model:        model,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		maxTokens:    maxTokens,
		client:       client,
		schema:       schema,
		logger:       logger,
	}, nil
}

// Model returns the resolved model name.
func (p *OpenAIProcessor) Model() string {
	return p.model
}

// Configured reports whether an API key is available.
func (p *OpenAIProcessor) Configured() bool {
	return p.apiKey != ""
}

// Process sends one page image to the provider.
func (p *OpenAIProcessor) Process(ctx context.Context, payload []byte, structured bool) (json.RawMessage, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrInvalidInput)
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: openai api key is not configured", domain.ErrProviderFailure)
	}

	instruction := textPrompt
	var format *chatFormat
	if structured {
		instruction = structuredPrompt
		format = &chatFormat{Type: "json_object"}
	}
	text, err := p.complete(ctx, instruction, payload, format)
	if err != nil {
		return nil, err
	}

	return pageValue(p.schema, text, structured)
}

func (p *OpenAIProcessor) complete(ctx context.Context, instruction string, image []byte, format *chatFormat) (string, error) {
	reqBody := chatRequest{
		Model:          p.model,
		MaxTokens:      p.maxTokens,
		ResponseFormat: format,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: instruction},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL(image)}},
			},
		}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return "", fmt.Errorf("%w: encode request: %w", domain.ErrProviderFailure, err)
	}
	endpoint := fmt.Sprintf("%s/chat/completions", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", domain.ErrProviderFailure, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if p.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", p.organization)
	}

	started := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: openai request: %w", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	p.logger.Debug().
		Str("model", p.model).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(started)).
		Msg("vision: completion returned")

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return "", fmt.Errorf("%w: openai status %d: %s", domain.ErrProviderFailure, resp.StatusCode, errorMessage(body))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", domain.ErrProviderFailure, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", domain.ErrProviderFailure)
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty response", domain.ErrProviderFailure)
	}
	return text, nil
}

func dataURL(image []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)
}

func errorMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "no response body"
	}
	return msg
}
