package usecase

import (
	"strings"

	"transcript-chat/internal/domain"
)

const (
	systemPromptHead = "You are an AI assistant that answers questions based on the following transcript:"
	systemPromptTail = "Please analyze the transcript and answer the user's questions. " +
		"If the question cannot be answered based on the transcript, politely say so and explain why."
)

// buildSystemPrompt wraps the transcript in the grounding instruction. An
// empty transcript still yields the full instruction.
func buildSystemPrompt(transcript string) string {
	return systemPromptHead + "\n\n" + transcript + "\n\n" + systemPromptTail
}

func buildPromptMessages(transcript string, history []domain.ChatMessage) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+1)
	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleSystem,
		Content: buildSystemPrompt(transcript),
	})
	return append(messages, history...)
}

// transcriptPreview returns at most n runes of the transcript for logging.
func transcriptPreview(transcript string, n int) string {
	count := 0
	for i := range transcript {
		if count == n {
			return transcript[:i]
		}
		count++
	}
	return transcript
}

func lastUserMessage(messages []domain.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}
