package domain

// Message is a single conversation turn owned by the client-side store.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Wire strips the store-only fields for transmission.
func (m Message) Wire() ChatMessage {
	return ChatMessage{Role: m.Role, Content: m.Content}
}
