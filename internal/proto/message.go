package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeJoinConversation = "join_conversation"
	InboundTypeSendMessage      = "send_message"
	InboundTypeMarkRead         = "mark_read"
	InboundTypeTypingStart      = "typing_start"
	InboundTypeTypingStop       = "typing_stop"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// ConversationData targets a conversation: join_conversation, mark_read and
// typing signals all carry it.
type ConversationData struct {
	ConversationID string `json:"conversationId"`
}

// SendMessageData is a message from the client. Either ConversationID or
// ParticipantIDs must be set.
type SendMessageData struct {
	RequestID      string    `json:"requestId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	ParticipantIDs []string  `json:"participantIds,omitempty"`
	Text           string    `json:"text,omitempty"`
	Media          []Media   `json:"media,omitempty"`
	Location       *Location `json:"location,omitempty"`
	ListingRef     string    `json:"listingRef,omitempty"`
}

// Media is an attachment reference.
type Media struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// Location is a shared geolocation.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventConnectedAck confirms the handshake.
type EventConnectedAck struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// EventPresence announces a single identity going online or offline.
type EventPresence struct {
	UserID string `json:"userId"`
}

// EventPresenceSnapshot lists every online identity.
type EventPresenceSnapshot struct {
	UserIDs []string `json:"userIds"`
}

// ListingAuthor is the public profile of a listing's author.
type ListingAuthor struct {
	Name     string `json:"name"`
	PhotoURL string `json:"photoUrl,omitempty"`
	IsBroker bool   `json:"isBroker"`
}

// Listing is the listing summary embedded in a message.
type Listing struct {
	ID     string        `json:"id"`
	Title  string        `json:"title"`
	Author ListingAuthor `json:"author"`
}

// EventMessage is a persisted conversation message.
type EventMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text,omitempty"`
	Media          []Media   `json:"media,omitempty"`
	Location       *Location `json:"location,omitempty"`
	ListingRef     string    `json:"listingRef,omitempty"`
	Listing        *Listing  `json:"listing,omitempty"`
	Read           bool      `json:"read"`
	TS             int64     `json:"ts"`
}

// EventMessageAck acknowledges a send_message.
type EventMessageAck struct {
	RequestID      string `json:"requestId,omitempty"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Created        bool   `json:"created"`
}

// Ref points a notification at a conversation or a listing.
type Ref struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// EventNotification is a notification pushed to its recipient.
type EventNotification struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Sender    string `json:"sender"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Ref       Ref    `json:"ref"`
	IsRead    bool   `json:"isRead"`
	TS        int64  `json:"ts"`
}

// EventReadReceipt tells a conversation that a participant caught up.
type EventReadReceipt struct {
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
}

// EventTyping relays a typing indicator.
type EventTyping struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
