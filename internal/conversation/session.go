package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"transcript-chat/internal/domain"
)

const transcriptPreviewLen = 100

// Transport streams one completion for the given conversation.
// *chatclient.Client satisfies it.
type Transport interface {
	Stream(ctx context.Context, messages []domain.ChatMessage, transcript string, onDelta func(string)) error
}

// Session owns the conversation state of one client session and runs chat
// exchanges against a Transport. The lock is never held across network I/O.
type Session struct {
	transport Transport
	observer  func(State)

	mu    sync.Mutex
	state State
}

type SessionOption func(*Session)

// WithObserver registers fn to receive every new state. fn runs on the
// goroutine that caused the transition.
func WithObserver(fn func(State)) SessionOption {
	return func(s *Session) {
		s.observer = fn
	}
}

func NewSession(t Transport, opts ...SessionOption) (*Session, error) {
	if t == nil {
		return nil, errors.New("conversation: transport must not be nil")
	}
	s := &Session{transport: t}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies a to the session state and notifies the observer.
func (s *Session) Dispatch(a Action) State {
	s.mu.Lock()
	next := Reduce(s.state, a)
	s.state = next
	s.mu.Unlock()
	s.notify(next)
	return next
}

// Submit runs one full exchange for text and blocks until the stream ends or
// fails. It returns false without touching state or the network when text is
// blank or another exchange is still in flight.
func (s *Session) Submit(ctx context.Context, text string) bool {
	s.mu.Lock()
	prev := s.state
	next := Reduce(prev, Submit{Text: text})
	if prev.InFlight || !next.InFlight {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.mu.Unlock()
	s.notify(next)

	messages := WireMessages(next.Messages)
	slog.Debug("sending question",
		"messages", len(messages),
		"transcript_len", len(next.Transcript),
		"transcript_preview", preview(next.Transcript, transcriptPreviewLen),
	)

	s.Dispatch(StreamStarted{})
	err := s.transport.Stream(ctx, messages, next.Transcript, func(delta string) {
		s.Dispatch(StreamDelta{Text: delta})
	})
	if err != nil {
		slog.Warn("chat exchange failed", "err", err)
		s.Dispatch(StreamFailed{Err: err})
		return true
	}
	s.Dispatch(StreamEnded{})
	return true
}

func (s *Session) notify(st State) {
	if s.observer != nil {
		s.observer(st)
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
