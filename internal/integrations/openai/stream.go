package openai

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	sseDataPrefix = "data:"
	sseDone       = "[DONE]"
)

// streamChunk is the minimal shape of one `chat.completion.chunk` event.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *streamError `json:"error,omitempty"`
}

// streamError is an error object the provider may send inside the stream
// after the response status was already committed.
type streamError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func (e *streamError) Error() string {
	if e.Type == "" {
		return "openai: stream error: " + e.Message
	}
	return fmt.Sprintf("openai: stream error (%s): %s", e.Type, e.Message)
}

// Stream reads server-sent events from a streamed Chat Completions response
// and yields the content deltas.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

func newStream(body io.ReadCloser) *Stream {
	return &Stream{body: body, reader: bufio.NewReader(body)}
}

// Recv returns the next non-empty content delta, or io.EOF after `[DONE]` or
// a clean end of the body.
func (s *Stream) Recv() (string, error) {
	for !s.done {
		line, readErr := s.reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return "", fmt.Errorf("openai: read stream: %w", readErr)
		}
		if errors.Is(readErr, io.EOF) {
			s.done = true
		}

		delta, ok, err := parseEvent(line)
		if errors.Is(err, io.EOF) {
			s.done = true
			break
		}
		if err != nil {
			return "", err
		}
		if ok {
			return delta, nil
		}
	}
	return "", io.EOF
}

// parseEvent handles one SSE line. ok is false for lines that carry no text;
// the end-of-stream sentinel is reported as io.EOF.
func parseEvent(line string) (string, bool, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, sseDataPrefix) {
		return "", false, nil
	}
	data := strings.TrimSpace(line[len(sseDataPrefix):])
	if data == sseDone {
		return "", false, io.EOF
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", false, fmt.Errorf("openai: decode stream chunk: %w", err)
	}
	if chunk.Error != nil {
		return "", false, chunk.Error
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return "", false, nil
	}
	return chunk.Choices[0].Delta.Content, true, nil
}

func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}
