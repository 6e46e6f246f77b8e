package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"transcript-chat/internal/domain"
)

type fakeTransport struct {
	chunks     []string
	failAfter  int // fail after this many chunks; -1 never fails
	err        error
	calls      int
	messages   []domain.ChatMessage
	transcript string
	block      chan struct{}
	started    chan struct{}
}

func (f *fakeTransport) Stream(_ context.Context, messages []domain.ChatMessage, transcript string, onDelta func(string)) error {
	f.calls++
	f.messages = messages
	f.transcript = transcript
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	for i, c := range f.chunks {
		if f.failAfter >= 0 && i == f.failAfter {
			return f.err
		}
		onDelta(c)
	}
	if f.failAfter >= len(f.chunks) {
		return f.err
	}
	return nil
}

func TestNewSession_ValidatesTransport(t *testing.T) {
	_, err := NewSession(nil)
	require.Error(t, err)
}

func TestSession_SubmitStreamsIntoPlaceholder(t *testing.T) {
	tr := &fakeTransport{chunks: []string{"Hel", "lo"}, failAfter: -1}
	var seen []State
	s, err := NewSession(tr, WithObserver(func(st State) { seen = append(seen, st) }))
	require.NoError(t, err)
	s.Dispatch(SetTranscript{Text: "grounding"})

	require.True(t, s.Submit(context.Background(), "Hi?"))
	st := s.State()
	require.False(t, st.InFlight)
	require.Len(t, st.Messages, 2)
	require.Equal(t, "Hello", st.Messages[1].Content)

	require.Equal(t, 1, tr.calls)
	require.Equal(t, "grounding", tr.transcript)
	require.Equal(t, []domain.ChatMessage{{Role: "user", Content: "Hi?"}}, tr.messages)

	// transcript set, submit, start, 2 deltas, end
	require.Len(t, seen, 6)
	require.True(t, seen[1].InFlight)
	require.Len(t, seen[2].Messages, 2)
	require.Equal(t, "Hel", seen[3].Messages[1].Content)
}

func TestSession_SendsWholeConversation(t *testing.T) {
	tr := &fakeTransport{chunks: []string{"a1"}, failAfter: -1}
	s, err := NewSession(tr)
	require.NoError(t, err)

	require.True(t, s.Submit(context.Background(), "q1"))
	tr.chunks = []string{"a2"}
	require.True(t, s.Submit(context.Background(), "q2"))
	require.Equal(t, []domain.ChatMessage{
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
	}, tr.messages)
	require.Len(t, s.State().Messages, 4)
}

func TestSession_BlankSubmitIsNoop(t *testing.T) {
	tr := &fakeTransport{failAfter: -1}
	notified := 0
	s, err := NewSession(tr, WithObserver(func(State) { notified++ }))
	require.NoError(t, err)

	require.False(t, s.Submit(context.Background(), "   "))
	require.Zero(t, tr.calls)
	require.Zero(t, notified)
	require.Empty(t, s.State().Messages)
}

func TestSession_RejectsSubmitWhileInFlight(t *testing.T) {
	tr := &fakeTransport{chunks: []string{"done"}, failAfter: -1, block: make(chan struct{}), started: make(chan struct{})}
	s, err := NewSession(tr)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.True(t, s.Submit(context.Background(), "first"))
	}()
	<-tr.started

	require.False(t, s.Submit(context.Background(), "second"))
	close(tr.block)
	wg.Wait()

	st := s.State()
	require.Len(t, st.Messages, 2)
	require.Equal(t, "first", st.Messages[0].Content)
	require.Equal(t, "done", st.Messages[1].Content)
	require.Equal(t, 1, tr.calls)
}

func TestSession_MidStreamFailureKeepsPartialContent(t *testing.T) {
	tr := &fakeTransport{
		chunks:    []string{"c1 ", "c2 ", "c3 ", "c4 ", "c5"},
		failAfter: 2,
		err:       errors.New("stream interrupted"),
	}
	s, err := NewSession(tr)
	require.NoError(t, err)

	require.True(t, s.Submit(context.Background(), "q"))
	st := s.State()
	require.False(t, st.InFlight)
	require.Len(t, st.Messages, 2)
	content := st.Messages[1].Content
	require.True(t, strings.HasPrefix(content, "c1 c2 "))
	require.True(t, strings.HasSuffix(content, ErrorText(tr.err)))
	require.NotContains(t, content, "c3")
}

func TestPreview(t *testing.T) {
	require.Equal(t, "short", preview("short", 10))
	require.Equal(t, "äöü...", preview("äöüß", 3))
}
