package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

const defaultCallTimeout = 90 * time.Second

// Options controls how the chat completion client is configured.
type Options struct {
	APIKey       string
	BaseURL      string
	Organization string
	HTTPClient   *http.Client
	CallTimeout  time.Duration
	Logger       *infra.Logger
}

// Client is a thin chat-completions facade. Every call requests a JSON-only
// response and returns the raw JSON body plus token usage; interpreting the
// payload is the caller's concern.
type Client struct {
	apiKey       string
	baseURL      string
	organization string
	httpClient   *http.Client
	callTimeout  time.Duration
	logger       *infra.Logger
}

// Request describes one stage call. Model, Temperature and MaxTokens come
// from the per-stage configuration table.
type Request struct {
	Model       string
	Temperature float64
	MaxTokens   int
	System      string
	User        string
}

// Response is the provider result: the raw JSON document produced by the
// model and the total tokens consumed by the call.
type Response struct {
	JSON       []byte
	TokensUsed int
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewClient constructs the provider client. Callers may provide a nil HTTP
// client; one with a conservative timeout is created.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("llm api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: callTimeout}
	}
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		httpClient:   client,
		callTimeout:  callTimeout,
		logger:       opts.Logger,
	}, nil
}

// Complete performs one JSON-mode chat completion. Non-2xx statuses,
// timeouts and non-JSON bodies all surface as *domain.ProviderError so the
// executor can apply its retry policy uniformly.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	payload := chatRequest{
		Model:          req.Model,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: &chatFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", c.organization)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.ProviderError{Op: "chat_completion", Timeout: isTimeout(err), Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		return nil, &domain.ProviderError{
			Op:         "chat_completion",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status"),
		}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &domain.ProviderError{Op: "chat_completion", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return nil, &domain.ProviderError{Op: "chat_completion", Err: errors.New("no choices")}
	}

	content := strings.TrimSpace(out.Choices[0].Message.Content)
	content = stripCodeFence(content)
	if !json.Valid([]byte(content)) {
		return nil, &domain.ProviderError{Op: "chat_completion", Err: errors.New("malformed json body")}
	}

	return &Response{JSON: []byte(content), TokensUsed: out.Usage.TotalTokens}, nil
}

// stripCodeFence removes a markdown ```json fence some models wrap around
// JSON-mode output despite the response format hint.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
