package core

import "github.com/vovakirdan/marketwire/internal/store"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventConnectedAck confirms a successful handshake to the new connection.
	EventConnectedAck EventKind = iota
	// EventPresenceOnline announces an identity came online.
	EventPresenceOnline
	// EventPresenceOffline announces an identity went offline.
	EventPresenceOffline
	// EventPresenceSnapshot carries the full online identity set.
	EventPresenceSnapshot
	// EventMessageReceived delivers a persisted message to a conversation channel.
	EventMessageReceived
	// EventMessageAck acknowledges a send to its originating connection.
	EventMessageAck
	// EventNotificationCreated pushes a notification to a personal channel.
	EventNotificationCreated
	// EventReadReceipt tells a conversation that a participant read it.
	EventReadReceipt
	// EventUserTyping relays a typing indicator.
	EventUserTyping
	// EventUserStopTyping relays the end of a typing indicator.
	EventUserStopTyping
	// EventError notifies a single connection about a failed command.
	EventError
)

var eventNames = [...]string{
	EventConnectedAck:        "connected_ack",
	EventPresenceOnline:      "presence_online",
	EventPresenceOffline:     "presence_offline",
	EventPresenceSnapshot:    "presence_snapshot",
	EventMessageReceived:     "message_received",
	EventMessageAck:          "message_ack",
	EventNotificationCreated: "notification_created",
	EventReadReceipt:         "read_receipt",
	EventUserTyping:          "user_typing",
	EventUserStopTyping:      "user_stop_typing",
	EventError:               "error",
}

// String returns the wire name of the event.
func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[k]
}

// Event is sent to clients to describe what happened in the system.
// A single Event value may be shared by many connections and must not be mutated
// after it is handed to the hub.
type Event struct {
	Kind           EventKind
	ConnectionID   string
	ConversationID string
	// Identity is the subject of presence events, the reader of read receipts
	// and the typist of typing events.
	Identity     string
	Identities   []string
	Message      *MessageView
	Ack          *SendAck
	Notification *store.Notification
	Error        *Error
}

func errorEvent(err *Error) *Event {
	return &Event{Kind: EventError, Error: err}
}
