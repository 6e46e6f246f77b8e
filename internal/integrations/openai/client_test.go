package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"transcript-chat/internal/domain"
)

// ---------------------------------------------------------------------------
// chatURL helper
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil, "/transcript-chat")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_Valid(t *testing.T) {
	g := &fakeGetter{}
	c, err := NewClient(g, "/transcript-chat")
	require.NoError(t, err)
	require.Equal(t, "https://api.openai.com/v1", c.baseURL)
	require.NotNil(t, c.getter)
}

// ---------------------------------------------------------------------------
// resolveAPIKey — parameter store caching behaviour
// ---------------------------------------------------------------------------

func TestResolveAPIKey_FetchedOnFirstCall(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/transcript-chat")
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)
	require.Equal(t, 1, calls)

	// subsequent calls must never hit SSM again
	_, _ = c.resolveAPIKey(context.Background())
	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, calls, "SSM must only be called once per process lifetime")
}

// flakyGetter fails its first `failures` calls and then serves val.
type flakyGetter struct {
	val      string
	failures int
	calls    int
}

func (f *flakyGetter) GetParameter(ctx context.Context, _ string) (string, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.calls <= f.failures {
		return "", errors.New("transient SSM throttle")
	}
	return f.val, nil
}

func TestResolveAPIKey_FailureIsNotCached(t *testing.T) {
	g := &flakyGetter{val: `{"token":"sk-late"}`, failures: 1}
	c, err := NewClient(g, "/transcript-chat")
	require.NoError(t, err)

	_, err = c.resolveAPIKey(context.Background())
	require.ErrorContains(t, err, "transient SSM throttle")

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-late", key)

	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 2, g.calls)
}

func TestResolveAPIKey_CanceledFirstCallRecovers(t *testing.T) {
	g := &flakyGetter{val: `{"token":"sk-ok"}`}
	c, err := NewClient(g, "/transcript-chat")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Moderate(ctx, "hello")
	require.ErrorIs(t, err, context.Canceled)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-ok", key)
}

func TestClient_ChatStream_RecoversAfterKeyFetchFailure(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, deltaEvent("ok"), "data: [DONE]\n\n"))
	defer srv.Close()

	g := &flakyGetter{val: `{"token":"sk-test"}`, failures: 1}
	c, err := NewClient(g, "/transcript-chat", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.ChatStream(context.Background(), testCompletion())
	require.Error(t, err)

	stream, err := c.ChatStream(context.Background(), testCompletion())
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()
	deltas, err := drain(t, stream)
	require.NoError(t, err)
	require.Equal(t, []string{"ok"}, deltas)
}

// ---------------------------------------------------------------------------
// fetchAPIKeyFromParamStore
// ---------------------------------------------------------------------------

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func() // optional; called on each GetParameter invocation
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestFetchAPIKey_JSONToken(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-json"}`}
	key, err := fetchAPIKeyFromParamStore(context.Background(), g, "/transcript-chat/open-ai-token")
	require.NoError(t, err)
	require.Equal(t, "sk-from-json", key)
}

func TestFetchAPIKey_JSONMissingTokenField(t *testing.T) {
	g := &fakeGetter{val: `{"other":"value"}`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/transcript-chat/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "API token is empty")
}

func TestFetchAPIKey_MalformedJSON(t *testing.T) {
	g := &fakeGetter{val: `{"broken`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/transcript-chat/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}

func TestFetchAPIKey_GetterError(t *testing.T) {
	g := &fakeGetter{err: errors.New("ssm unavailable")}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/transcript-chat/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ssm unavailable")
}

func TestFetchAPIKey_NilGetter(t *testing.T) {
	_, err := fetchAPIKeyFromParamStore(context.Background(), nil, "/transcript-chat/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestFetchAPIKey_EmptyName(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-json"}`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}

// ---------------------------------------------------------------------------
// Client.ChatStream
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeGetter{val: `{"token":"sk-test"}`},
		"/transcript-chat",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
		WithStreamHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func sseHandler(t *testing.T, events ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(200)
		for _, e := range events {
			_, _ = io.WriteString(w, e)
			w.(http.Flusher).Flush()
		}
	}
}

func deltaEvent(content string) string {
	return `data: {"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":` + strconv.Quote(content) + `}}]}` + "\n\n"
}

func drain(t *testing.T, s domain.TokenStream) ([]string, error) {
	t.Helper()
	var out []string
	for {
		d, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
}

func testCompletion() domain.CompletionRequest {
	return domain.CompletionRequest{
		Model:       "gpt-mock",
		Messages:    []domain.ChatMessage{{Role: "system", Content: "ctx"}, {Role: "user", Content: "hi"}},
		MaxTokens:   2000,
		Temperature: 0.2,
		TopP:        1,
	}
}

func TestClient_ChatStream_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(reqBody), `"stream":true`)
		require.Contains(t, string(reqBody), `"max_tokens":2000`)
		require.Contains(t, string(reqBody), `"temperature":0.2`)
		require.Contains(t, string(reqBody), `"top_p":1`)
		require.Contains(t, string(reqBody), `"frequency_penalty":0`)
		require.Contains(t, string(reqBody), `"presence_penalty":0`)
		sseHandler(t,
			`data: {"choices":[{"index":0,"delta":{"role":"assistant"}}]}`+"\n\n",
			": keep-alive\n\n",
			deltaEvent("Hello"),
			deltaEvent(" from "),
			deltaEvent("mock ✓"),
			`data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n",
			"data: [DONE]\n\n",
		)(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	stream, err := c.ChatStream(context.Background(), testCompletion())
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	deltas, err := drain(t, stream)
	require.NoError(t, err)
	require.Equal(t, []string{"Hello", " from ", "mock ✓"}, deltas)

	_, err = stream.Recv()
	require.ErrorIs(t, err, io.EOF)
}

func TestClient_ChatStream_EndWithoutDone(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, deltaEvent("a"), deltaEvent("b")))
	defer srv.Close()

	stream, err := newTestClient(t, srv).ChatStream(context.Background(), testCompletion())
	require.NoError(t, err)
	deltas, err := drain(t, stream)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, deltas)
}

func TestClient_ChatStream_ErrorEventMidStream(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		deltaEvent("partial"),
		`data: {"error":{"message":"overloaded","type":"server_error"}}`+"\n\n",
	))
	defer srv.Close()

	stream, err := newTestClient(t, srv).ChatStream(context.Background(), testCompletion())
	require.NoError(t, err)
	deltas, err := drain(t, stream)
	require.Error(t, err)
	require.Contains(t, err.Error(), "overloaded")
	require.Equal(t, []string{"partial"}, deltas)
}

func TestClient_ChatStream_MalformedChunk(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, "data: not-json\n\n"))
	defer srv.Close()

	stream, err := newTestClient(t, srv).ChatStream(context.Background(), testCompletion())
	require.NoError(t, err)
	_, err = drain(t, stream)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode stream chunk")
}

func TestClient_ChatStream_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.ChatStream(context.Background(), testCompletion())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status")
	require.Contains(t, err.Error(), "400")
}

func TestClient_ChatStream_EmptyModel(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/transcript-chat")
	require.NoError(t, err)
	_, err = c.ChatStream(context.Background(), domain.CompletionRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestClient_ChatStream_429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.ChatStream(context.Background(), testCompletion())
	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 429, statusErr.HTTPStatusCode())
}

func TestClient_ChatStream_500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.ChatStream(context.Background(), testCompletion())
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestClient_ChatStream_TokenError(t *testing.T) {
	c, err := NewClient(&fakeGetter{err: errors.New("ssm unavailable")}, "/transcript-chat")
	require.NoError(t, err)
	_, err = c.ChatStream(context.Background(), testCompletion())
	require.Error(t, err)
	require.Contains(t, err.Error(), "ssm unavailable")
}

func TestParseEvent(t *testing.T) {
	cases := []struct {
		line  string
		delta string
		ok    bool
		eof   bool
	}{
		{line: "", ok: false},
		{line: ": comment\n", ok: false},
		{line: "event: message\n", ok: false},
		{line: "data: [DONE]\r\n", eof: true},
		{line: `data:{"choices":[{"delta":{"content":"x"}}]}` + "\n", delta: "x", ok: true},
		{line: `data: {"choices":[]}` + "\n", ok: false},
	}
	for _, tc := range cases {
		delta, ok, err := parseEvent(tc.line)
		if tc.eof {
			require.ErrorIs(t, err, io.EOF, "line=%q", tc.line)
			continue
		}
		require.NoError(t, err, "line=%q", tc.line)
		require.Equal(t, tc.ok, ok, "line=%q", tc.line)
		require.Equal(t, tc.delta, delta, "line=%q", tc.line)
	}
}

func TestClient_Moderate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"results":[{"flagged":false}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Moderate(context.Background(), "hello")
	require.Error(t, err)
}

func TestClient_Moderate_NetworkError(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/transcript-chat")
	require.NoError(t, err)
	c.baseURL = "http://127.0.0.1:1"
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.Moderate(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

// ---------------------------------------------------------------------------
// moderationURL helper
// ---------------------------------------------------------------------------

func TestModerationURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/moderations"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/moderations"},
		{"http://localhost:8080", "http://localhost:8080/v1/moderations"},
		{"", "https://api.openai.com/v1/moderations"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, moderationURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// Client.Moderate
// ---------------------------------------------------------------------------

func TestClient_Moderate_NotFlagged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/moderations", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"results":[{"flagged":false}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	flagged, err := c.Moderate(context.Background(), "What technologies do you use?")
	require.NoError(t, err)
	require.False(t, flagged)
}

func TestClient_Moderate_Flagged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"results":[{"flagged":true}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	flagged, err := c.Moderate(context.Background(), "some unsafe content")
	require.NoError(t, err)
	require.True(t, flagged)
}

func TestClient_Moderate_429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Moderate(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestClient_Moderate_500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Moderate(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestClient_Moderate_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`not-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Moderate(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode moderation response")
}

func TestClient_Moderate_EmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Moderate(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no results")
}
