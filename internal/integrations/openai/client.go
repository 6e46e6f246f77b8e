package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"transcript-chat/internal/domain"
)

const defaultBaseURL = "https://api.openai.com/v1"

// streamRequest is the request shape for a streamed Chat Completions call.
// Sampling parameters are always sent, zero values included.
type streamRequest struct {
	Model            string               `json:"model"`
	Messages         []domain.ChatMessage `json:"messages"`
	Stream           bool                 `json:"stream"`
	MaxTokens        int                  `json:"max_tokens,omitempty"`
	Temperature      float64              `json:"temperature"`
	TopP             float64              `json:"top_p"`
	FrequencyPenalty float64              `json:"frequency_penalty"`
	PresencePenalty  float64              `json:"presence_penalty"`
}

// moderationRequest is the request shape for the Moderations endpoint.
type moderationRequest struct {
	Input string `json:"input"`
}

// moderationResponse is the minimal response shape for the Moderations endpoint.
type moderationResponse struct {
	Results []struct {
		Flagged bool `json:"flagged"`
	} `json:"results"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible client for streamed chat completions
// and moderation.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	getter       Getter
	paramPrefix  string

	keyMu     sync.RWMutex
	apiKey    string
	keyLoaded bool
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

// WithHTTPClient sets the client used for non-streaming calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithStreamHTTPClient sets the client used for streamed completions. It
// should not carry a Timeout; bound streams with the request context.
func WithStreamHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.streamClient = httpClient
	}
}

// NewClient creates a new Client backed by the given paramstore.Getter for
// API key retrieval. The key is fetched on the first successful call to
// ChatStream or Moderate and reused for the lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		streamClient: &http.Client{},
		getter:       ps,
		paramPrefix:  paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveAPIKey returns the cached API key, fetching it from the parameter
// store until one fetch succeeds. Failures are not cached.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyMu.RLock()
	if c.keyLoaded {
		key := c.apiKey
		c.keyMu.RUnlock()
		return key, nil
	}
	c.keyMu.RUnlock()

	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.keyLoaded {
		return c.apiKey, nil
	}

	key, err := fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
	if err != nil {
		return "", err
	}
	c.apiKey = key
	c.keyLoaded = true
	return key, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a
// 10s timeout if none was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *Client) resolvedStreamClient() *http.Client {
	if c.streamClient != nil {
		return c.streamClient
	}
	return &http.Client{}
}

func endpointURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + path
	}
	return base + "/v1" + path
}

func chatURL(baseURL string) string {
	return endpointURL(baseURL, "/chat/completions")
}

func moderationURL(baseURL string) string {
	return endpointURL(baseURL, "/moderations")
}

// ChatStream starts a streamed chat completion. A non-2xx answer is returned
// as *HTTPStatusError before any delta is produced; the caller must Close the
// returned stream.
func (c *Client) ChatStream(ctx context.Context, in domain.CompletionRequest) (domain.TokenStream, error) {
	if in.Model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(streamRequest{
		Model:            in.Model,
		Messages:         in.Messages,
		Stream:           true,
		MaxTokens:        in.MaxTokens,
		Temperature:      in.Temperature,
		TopP:             in.TopP,
		FrequencyPenalty: in.FrequencyPenalty,
		PresencePenalty:  in.PresencePenalty,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return nil, fmt.Errorf("openai: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	res, doErr := c.resolvedStreamClient().Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("openai: request failed: %w", doErr)
	}
	if err := checkStatus(res, url); err != nil {
		_ = res.Body.Close()
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	return newStream(res.Body), nil
}

// Moderate calls the OpenAI Moderations API and returns true if the input is flagged.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return false, err
	}

	body, err := json.Marshal(moderationRequest{Input: input})
	if err != nil {
		return false, fmt.Errorf("openai: marshal moderation request: %w", err)
	}

	url := moderationURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return false, fmt.Errorf("openai: create moderation request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return false, fmt.Errorf("openai: moderation request failed: %w", err)
	}

	var payload moderationResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return false, fmt.Errorf("openai: decode moderation response: %w", decErr)
	}
	if len(payload.Results) == 0 {
		return false, errors.New("openai: no results in moderation response")
	}
	return payload.Results[0].Flagged, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if err := checkStatus(res, url); err != nil {
		return nil, err
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func checkStatus(res *http.Response, url string) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return &HTTPStatusError{
		StatusCode: res.StatusCode,
		URL:        url,
		Body:       string(buf),
	}
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}
