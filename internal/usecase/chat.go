package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"transcript-chat/internal/domain"
)

const (
	defaultMaxTranscriptBytes = 500000
	defaultStreamTimeout      = 2 * time.Minute
	previewRunes              = 100

	completionMaxTokens   = 2000
	completionTemperature = 0.2
	completionTopP        = 1
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	ChatStream(ctx context.Context, in domain.CompletionRequest) (domain.TokenStream, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatService grounds a conversation in a transcript and streams the
// model's answer back.
type ChatService struct {
	params             ParamGetter
	llm                LLMClient
	paramPrefix        string
	maxTranscriptBytes int
	streamTimeout      time.Duration
	moderation         bool

	cacheMu     sync.RWMutex
	cacheLoaded bool
	openaiModel string
}

type ChatOption func(*ChatService)

func WithMaxTranscriptBytes(n int) ChatOption {
	return func(s *ChatService) {
		if n > 0 {
			s.maxTranscriptBytes = n
		}
	}
}

// WithStreamTimeout bounds the whole provider stream, first byte to last.
func WithStreamTimeout(d time.Duration) ChatOption {
	return func(s *ChatService) {
		if d > 0 {
			s.streamTimeout = d
		}
	}
}

// WithModeration checks the latest user message with the provider's
// moderation endpoint before asking for a completion.
func WithModeration(enabled bool) ChatOption {
	return func(s *ChatService) {
		s.moderation = enabled
	}
}

type ChatInput struct {
	Messages   []domain.ChatMessage
	Transcript string
}

func NewChatService(p ParamGetter, llm LLMClient, paramPrefix string, opts ...ChatOption) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	s := &ChatService{
		params:             p,
		llm:                llm,
		paramPrefix:        paramPrefix,
		maxTranscriptBytes: defaultMaxTranscriptBytes,
		streamTimeout:      defaultStreamTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Relay is an open completion: WriteTo copies the deltas out as they arrive.
type Relay interface {
	WriteTo(w io.Writer) (int64, error)
	Close() error
}

// Chat validates the request and opens the provider stream. Every failure
// before the first delta is returned here as an *Error; the caller owns the
// returned relay and must Close it.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (Relay, error) {
	if len(in.Messages) == 0 {
		return nil, newPublicError(ErrorInvalidInput, "messages_empty", "messages must not be empty", nil)
	}
	for i, m := range in.Messages {
		if !domain.ValidRole(m.Role) {
			return nil, newPublicError(ErrorInvalidInput, "invalid_role",
				fmt.Sprintf("messages[%d].role %q is not one of user, assistant, system", i, m.Role), nil)
		}
	}
	if len(in.Transcript) > s.maxTranscriptBytes {
		return nil, newPublicError(ErrorInvalidInput, "transcript_too_large",
			fmt.Sprintf("transcript exceeds %d bytes", s.maxTranscriptBytes), nil)
	}

	slog.Debug("chat request",
		"messages", len(in.Messages),
		"transcriptBytes", len(in.Transcript),
		"transcriptPreview", transcriptPreview(in.Transcript, previewRunes),
	)

	if err := s.ensureConfig(ctx); err != nil {
		return nil, newError(ErrorInternal, "ssm_load_error", err)
	}

	if s.moderation {
		if question := lastUserMessage(in.Messages); question != "" {
			flagged, err := s.llm.Moderate(ctx, question)
			if err != nil {
				return nil, upstreamError("moderation", err)
			}
			if flagged {
				return nil, newPublicError(ErrorInvalidQuestion, "moderation_flagged",
					"This question was flagged by content moderation", nil)
			}
		}
	}

	streamCtx, cancel := context.WithTimeout(ctx, s.streamTimeout)
	stream, err := s.llm.ChatStream(streamCtx, domain.CompletionRequest{
		Model:            s.model(),
		Messages:         buildPromptMessages(in.Transcript, in.Messages),
		MaxTokens:        completionMaxTokens,
		Temperature:      completionTemperature,
		TopP:             completionTopP,
		FrequencyPenalty: 0,
		PresencePenalty:  0,
	})
	if err != nil {
		cancel()
		return nil, upstreamError("openai", err)
	}
	return &ChatStream{ctx: streamCtx, stream: stream, cancel: cancel}, nil
}

func (s *ChatService) model() string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.openaiModel
}

func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	model, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/openai_model")
	if err != nil {
		return fmt.Errorf("usecase: load openai model: %w", err)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return errors.New("usecase: openai model parameter is empty")
	}

	s.openaiModel = model
	s.cacheLoaded = true
	return nil
}

func upstreamError(source string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, source+"_rate_limited", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorUpstream, source+"_timeout", err)
	}
	return newError(ErrorUpstream, source+"_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// ChatStream relays completion deltas to a writer.
type ChatStream struct {
	ctx    context.Context
	stream domain.TokenStream
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

type flusher interface {
	Flush()
}

// WriteTo writes each delta as soon as it arrives and flushes w after every
// write when w supports it. It returns nil once the provider ends the
// completion; a provider or timeout failure after bytes were written is
// returned as is.
func (c *ChatStream) WriteTo(w io.Writer) (int64, error) {
	defer func() { _ = c.Close() }()

	f, canFlush := w.(flusher)
	var written int64
	for {
		delta, err := c.stream.Recv()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			if ctxErr := c.ctx.Err(); ctxErr != nil {
				return written, fmt.Errorf("usecase: completion stream: %w", ctxErr)
			}
			return written, fmt.Errorf("usecase: completion stream: %w", err)
		}
		n, werr := io.WriteString(w, delta)
		written += int64(n)
		if werr != nil {
			return written, fmt.Errorf("usecase: write delta: %w", werr)
		}
		if canFlush {
			f.Flush()
		}
	}
}

func (c *ChatStream) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stream.Close()
		c.cancel()
	})
	return c.closeErr
}
