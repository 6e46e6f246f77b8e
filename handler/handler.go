package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"transcript-chat/internal/domain"
	"transcript-chat/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	serviceName       = "transcript-chat"
	maxBodyBytes      = 6 << 20
)

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.Relay, error)
}

type TranscriptUseCase interface {
	Fetch(ctx context.Context, videoID string) ([]domain.TranscriptEntry, error)
}

// Handler serves the Function URL in RESPONSE_STREAM invoke mode.
type Handler struct {
	chat        ChatUseCase
	transcripts TranscriptUseCase
}

type chatRequest struct {
	Messages   []domain.ChatMessage `json:"messages"`
	Transcript string               `json:"transcript"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func NewHandler(chat ChatUseCase, transcripts TranscriptUseCase) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if transcripts == nil {
		return nil, errors.New("handler: transcript use case must not be nil")
	}
	return &Handler{chat: chat, transcripts: transcripts}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	start := time.Now()
	corrID := correlationID(req.Headers)
	method := strings.ToUpper(req.RequestContext.HTTP.Method)
	path := req.RawPath
	if path == "" {
		path = req.RequestContext.HTTP.Path
	}
	logger := slog.With("correlationId", corrID, "method", method, "path", path)

	var resp *events.LambdaFunctionURLStreamingResponse
	switch {
	case path == "/health":
		resp = jsonResponse(http.StatusOK, healthResponse{Status: "ok", Service: serviceName})
	case path == "/api/chat" && method == http.MethodPost:
		resp = h.handleChat(ctx, logger, req)
	case path == "/api/transcript" && method == http.MethodGet:
		resp = h.handleTranscript(ctx, logger, req)
	case path == "/api/chat" || path == "/api/transcript":
		resp = jsonResponse(http.StatusMethodNotAllowed, errorResponse{
			Error: "Method not allowed",
			Code:  string(usecase.ErrorInvalidInput),
		})
	default:
		resp = jsonResponse(http.StatusNotFound, errorResponse{
			Error: "Not found",
			Code:  string(usecase.ErrorNotFound),
		})
	}

	resp.Headers[correlationHeader] = corrID
	logger.Info("request handled", "status", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}

func (h *Handler) handleChat(ctx context.Context, logger *slog.Logger, req events.LambdaFunctionURLRequest) *events.LambdaFunctionURLStreamingResponse {
	body, err := requestBody(req)
	if err != nil {
		return errorJSON(logger, usecaseInvalid("invalid_body_encoding", "Invalid request body", err))
	}
	var in chatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return errorJSON(logger, usecaseInvalid("invalid_json", "Invalid JSON body", err))
	}

	relay, err := h.chat.Chat(ctx, usecase.ChatInput{Messages: in.Messages, Transcript: in.Transcript})
	if err != nil {
		return errorJSON(logger, err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer func() { _ = relay.Close() }()
		n, err := relay.WriteTo(pw)
		if err != nil {
			logger.Error("chat stream aborted", "bytes", n, "err", err)
			_ = pw.CloseWithError(err)
			return
		}
		logger.Debug("chat stream complete", "bytes", n)
		_ = pw.Close()
	}()

	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":           "text/plain; charset=utf-8",
			"Cache-Control":          "no-cache",
			"X-Content-Type-Options": "nosniff",
		},
		Body: pr,
	}
}

func (h *Handler) handleTranscript(ctx context.Context, logger *slog.Logger, req events.LambdaFunctionURLRequest) *events.LambdaFunctionURLStreamingResponse {
	entries, err := h.transcripts.Fetch(ctx, req.QueryStringParameters["videoId"])
	if err != nil {
		return errorJSON(logger, err)
	}
	return jsonResponse(http.StatusOK, entries)
}

func requestBody(req events.LambdaFunctionURLRequest) ([]byte, error) {
	if len(req.Body) > maxBodyBytes {
		return nil, errors.New("handler: request body too large")
	}
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

func usecaseInvalid(reason, message string, err error) error {
	return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: reason, Message: message, Err: err}
}

func errorJSON(logger *slog.Logger, err error) *events.LambdaFunctionURLStreamingResponse {
	status := usecase.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "err", err)
	} else {
		logger.Warn("request rejected", "status", status, "err", err)
	}
	return jsonResponse(status, errorResponse{
		Error: usecase.PublicMessage(err),
		Code:  string(usecase.Code(err)),
	})
}

func jsonResponse(status int, v any) *events.LambdaFunctionURLStreamingResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"Internal server error","code":"INTERNAL_ERROR"}`)
	}
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       bytes.NewReader(body),
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}
