// Package chatclient talks to the completion and transcript-fetch endpoints
// and turns the streamed completion body into text increments.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"transcript-chat/internal/domain"
)

const (
	defaultTimeout   = 2 * time.Minute
	readChunkSize    = 4096
	maxErrorBodySize = 4096
	maxEntriesSize   = 10 << 20
)

type chatRequest struct {
	Messages   []domain.ChatMessage `json:"messages"`
	Transcript string               `json:"transcript"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StatusError is returned when an endpoint answers with a non-2xx status
// before any body was consumed.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	text := http.StatusText(e.StatusCode)
	if text == "" {
		text = fmt.Sprintf("status %d", e.StatusCode)
	}
	if e.Message == "" {
		return text
	}
	return text + ": " + e.Message
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the transcript-chat backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds a whole exchange, including stream consumption. Zero
// disables the deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("chatclient: base URL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("chatclient: parse base URL: %w", err)
	}
	c := &Client{
		baseURL: baseURL,
		// The exchange deadline lives on the request context, not here.
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c, nil
}

// Stream posts the conversation and transcript to the completion endpoint and
// calls onDelta with each decoded text increment as soon as it is available.
// Increments already delivered stay delivered if the stream later fails.
func (c *Client) Stream(ctx context.Context, messages []domain.ChatMessage, transcript string, onDelta func(string)) error {
	if onDelta == nil {
		return errors.New("chatclient: onDelta must not be nil")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{Messages: messages, Transcript: transcript})
	if err != nil {
		return fmt.Errorf("chatclient: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chatclient: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return c.wrapTransportErr(ctx, "request failed", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return statusError(res)
	}

	dec := NewDecoder()
	buf := make([]byte, readChunkSize)
	for {
		n, readErr := res.Body.Read(buf)
		if n > 0 {
			if s := dec.Feed(buf[:n]); s != "" {
				onDelta(s)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return c.wrapTransportErr(ctx, "read stream", readErr)
		}
	}
	if s := dec.Finish(); s != "" {
		onDelta(s)
	}
	return nil
}

// FetchTranscript asks the backend for the caption entries of videoID.
func (c *Client) FetchTranscript(ctx context.Context, videoID string) ([]domain.TranscriptEntry, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := c.baseURL + "/api/transcript?videoId=" + url.QueryEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("chatclient: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.wrapTransportErr(ctx, "request failed", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, statusError(res)
	}

	var entries []domain.TranscriptEntry
	if err := json.NewDecoder(io.LimitReader(res.Body, maxEntriesSize)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("chatclient: decode transcript: %w", err)
	}
	return entries, nil
}

func (c *Client) wrapTransportErr(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("chatclient: no complete response within %s: %w", c.timeout, err)
	}
	return fmt.Errorf("chatclient: %s: %w", op, err)
}

func statusError(res *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodySize))
	se := &StatusError{StatusCode: res.StatusCode}
	var body errorResponse
	if json.Unmarshal(raw, &body) == nil {
		se.Code = body.Code
		se.Message = body.Error
	}
	return se
}
