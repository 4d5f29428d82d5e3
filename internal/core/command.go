package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinConversation subscribes the connection to a conversation channel.
	CommandJoinConversation CommandKind = iota
	// CommandSendMessage persists and broadcasts a conversation message.
	CommandSendMessage
	// CommandMarkRead marks a conversation read and emits a read receipt.
	CommandMarkRead
	// CommandTypingStart relays a typing indicator.
	CommandTypingStart
	// CommandTypingStop relays the end of a typing indicator.
	CommandTypingStop
)

// Command represents an action requested by a client.
type Command struct {
	Kind           CommandKind
	ConversationID string
	Send           *SendRequest
}

// SendRequest is the payload of a send_message command. Exactly one of
// ConversationID and ParticipantIDs must be set.
type SendRequest struct {
	RequestID      string
	ConversationID string
	ParticipantIDs []string       `validate:"omitempty,max=50,dive,required,max=128"`
	Text           string         `validate:"max=4000"`
	Media          []MediaInput   `validate:"max=10,dive"`
	ListingID      string         `validate:"max=128"`
	Location       *LocationInput
}

// MediaInput is an attachment reference supplied by a client.
type MediaInput struct {
	URL  string `validate:"required,url,max=2048"`
	Kind string `validate:"required,oneof=image video"`
}

// LocationInput is a geolocation supplied by a client.
type LocationInput struct {
	Lat     float64 `validate:"gte=-90,lte=90"`
	Lng     float64 `validate:"gte=-180,lte=180"`
	Address string  `validate:"max=512"`
}
