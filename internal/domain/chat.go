package domain

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage is the provider-agnostic chat message shape used on the wire
// between the client, the completion endpoint and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidRole reports whether role is one the completion endpoint accepts.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// CompletionRequest carries everything the LLM provider needs for one
// streamed completion.
type CompletionRequest struct {
	Model            string
	Messages         []ChatMessage
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

// TokenStream yields completion text deltas in order. Recv returns io.EOF
// once the provider signals the end of the completion.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}
