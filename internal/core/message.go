package core

import "github.com/vovakirdan/marketwire/internal/store"

// MessageView is a persisted message as broadcast to a conversation channel,
// with the referenced listing resolved when possible.
type MessageView struct {
	store.Message
	Listing *store.ListingSummary
}

// SendAck acknowledges a send_message to the originating connection.
type SendAck struct {
	RequestID      string
	ConversationID string
	MessageID      string
	Created        bool
}
