// Package conversation holds the client-side chat state: an append-only list
// of messages, the grounding transcript and the in-flight flag. All changes go
// through Reduce so every transition can be tested without a UI.
package conversation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"transcript-chat/internal/domain"
)

// State is treated as a value: Reduce never mutates the Messages slice of the
// state it was given.
type State struct {
	Messages   []domain.Message
	Transcript string
	Input      string
	InFlight   bool
}

// Action is a state transition understood by Reduce.
type Action interface {
	apply(State) State
}

// Submit adds a user question and marks a response as pending.
type Submit struct{ Text string }

// StreamStarted appends the empty assistant placeholder.
type StreamStarted struct{}

// StreamDelta appends text to the placeholder.
type StreamDelta struct{ Text string }

// StreamEnded clears the in-flight flag.
type StreamEnded struct{}

// StreamFailed appends a user-facing error to the placeholder.
type StreamFailed struct{ Err error }

type SetInput struct{ Text string }

// SetTranscript replaces the transcript wholesale.
type SetTranscript struct{ Text string }

// Reset drops the conversation but keeps the transcript. Ignored while a
// response is in flight.
type Reset struct{}

func Reduce(s State, a Action) State {
	if a == nil {
		return s
	}
	return a.apply(s)
}

// ErrorText is the assistant-visible rendering of a failed exchange.
func ErrorText(err error) string {
	reason := "Unknown error"
	if err != nil {
		reason = err.Error()
	}
	return fmt.Sprintf("Sorry, an error occurred: %s. Please try again.", reason)
}

var newID = func() string {
	return uuid.NewString()
}

func (a Submit) apply(s State) State {
	if strings.TrimSpace(a.Text) == "" || s.InFlight {
		return s
	}
	s.Messages = appendMessage(s.Messages, domain.Message{ID: newID(), Role: domain.RoleUser, Content: a.Text})
	s.Input = ""
	s.InFlight = true
	return s
}

func (StreamStarted) apply(s State) State {
	if !s.InFlight || hasPlaceholder(s) {
		return s
	}
	s.Messages = appendMessage(s.Messages, domain.Message{ID: newID(), Role: domain.RoleAssistant})
	return s
}

func (a StreamDelta) apply(s State) State {
	if a.Text == "" || !hasPlaceholder(s) {
		return s
	}
	s.Messages = updateLast(s.Messages, func(m *domain.Message) {
		m.Content += a.Text
	})
	return s
}

func (StreamEnded) apply(s State) State {
	s.InFlight = false
	return s
}

func (a StreamFailed) apply(s State) State {
	if !s.InFlight {
		return s
	}
	text := ErrorText(a.Err)
	if hasPlaceholder(s) {
		s.Messages = updateLast(s.Messages, func(m *domain.Message) {
			if m.Content == "" {
				m.Content = text
				return
			}
			m.Content += "\n\n" + text
		})
	} else {
		s.Messages = appendMessage(s.Messages, domain.Message{ID: newID(), Role: domain.RoleAssistant, Content: text})
	}
	s.InFlight = false
	return s
}

func (a SetInput) apply(s State) State {
	s.Input = a.Text
	return s
}

func (a SetTranscript) apply(s State) State {
	s.Transcript = a.Text
	return s
}

func (Reset) apply(s State) State {
	if s.InFlight {
		return s
	}
	s.Messages = nil
	s.Input = ""
	return s
}

// hasPlaceholder reports whether the assistant message of the current
// exchange exists.
func hasPlaceholder(s State) bool {
	if !s.InFlight || len(s.Messages) == 0 {
		return false
	}
	return s.Messages[len(s.Messages)-1].Role == domain.RoleAssistant
}

func appendMessage(msgs []domain.Message, m domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, m)
}

func updateLast(msgs []domain.Message, fn func(*domain.Message)) []domain.Message {
	out := slices.Clone(msgs)
	fn(&out[len(out)-1])
	return out
}

// WireMessages is the copy of the conversation sent to the completion endpoint.
func WireMessages(msgs []domain.Message) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Wire())
	}
	return out
}
