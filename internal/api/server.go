package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"transcript-chat/internal/domain"
	"transcript-chat/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 6 << 20
)

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.Relay, error)
}

type TranscriptUseCase interface {
	Fetch(ctx context.Context, videoID string) ([]domain.TranscriptEntry, error)
}

type Options struct {
	Port           int
	RateLimitRPS   float64
	RateLimitBurst int
}

// Server exposes the chat and transcript endpoints over plain HTTP.
type Server struct {
	chat        ChatUseCase
	transcripts TranscriptUseCase
	router      chi.Router
	httpServer  *http.Server
}

type chatRequest struct {
	Messages   []domain.ChatMessage `json:"messages"`
	Transcript string               `json:"transcript"`
}

func NewServer(chat ChatUseCase, transcripts TranscriptUseCase, opts Options) (*Server, error) {
	if chat == nil {
		return nil, errors.New("api: chat use case must not be nil")
	}
	if transcripts == nil {
		return nil, errors.New("api: transcript use case must not be nil")
	}
	srv := &Server{chat: chat, transcripts: transcripts}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(correlationID)
	r.Use(requestLogger)

	r.Get("/health", srv.handleHealth)
	r.Group(func(r chi.Router) {
		if opts.RateLimitRPS > 0 {
			burst := opts.RateLimitBurst
			if burst <= 0 {
				burst = 1
			}
			r.Use(rateLimit(rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)))
		}
		r.Post("/api/chat", srv.handleChat)
		r.Get("/api/transcript", srv.handleTranscript)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found", usecase.ErrorNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", usecase.ErrorInvalidInput)
	})

	srv.router = r
	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, nil
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("starting HTTP API", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "transcript-chat",
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var in chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&in); err != nil {
		slog.Warn("chat request rejected", "correlationId", correlationFrom(r), "err", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON body", usecase.ErrorInvalidInput)
		return
	}

	relay, err := s.chat.Chat(r.Context(), usecase.ChatInput{Messages: in.Messages, Transcript: in.Transcript})
	if err != nil {
		writeUseCaseError(w, r, err)
		return
	}
	defer func() { _ = relay.Close() }()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	n, err := relay.WriteTo(newFlushWriter(w))
	if err != nil {
		slog.Error("chat stream aborted", "correlationId", correlationFrom(r), "bytes", n, "err", err)
		// The status line is already sent; abort the connection so the
		// client sees a truncated body instead of a clean end.
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	entries, err := s.transcripts.Fetch(r.Context(), r.URL.Query().Get("videoId"))
	if err != nil {
		writeUseCaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeUseCaseError(w http.ResponseWriter, r *http.Request, err error) {
	status := usecase.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "correlationId", correlationFrom(r), "status", status, "err", err)
	} else {
		slog.Warn("request rejected", "correlationId", correlationFrom(r), "status", status, "err", err)
	}
	writeError(w, status, usecase.PublicMessage(err), usecase.Code(err))
}

func writeError(w http.ResponseWriter, status int, message string, code usecase.ErrorCode) {
	writeJSON(w, status, errorBody{Error: message, Code: string(code)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "err", err)
	}
}

// flushWriter pushes every write to the client immediately.
type flushWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newFlushWriter(w http.ResponseWriter) *flushWriter {
	return &flushWriter{w: w, rc: http.NewResponseController(w)}
}

func (f *flushWriter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f *flushWriter) Flush() {
	if err := f.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Debug("flush failed", "err", err)
	}
}

type ctxKey struct{}

func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func correlationFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			slog.Info("request handled",
				"correlationId", correlationFrom(r),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "Too many requests, please retry shortly", usecase.ErrorRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
