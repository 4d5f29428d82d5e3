//go:generate go run go.uber.org/mock/mockgen -destination=../mocks/mock_store.go -package=mocks github.com/vovakirdan/marketwire/internal/store NotificationStore,ListingStore

package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller does not own the record.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidParticipants is returned for participant sets with fewer than two identities.
	ErrInvalidParticipants = errors.New("conversation needs at least two distinct participants")
)

// User is the slice of a marketplace user the realtime layer needs.
type User struct {
	ID        string
	Name      string
	PhotoURL  string
	IsBroker  bool
	CreatedAt time.Time
}

// Conversation is a thread between a fixed set of participants.
type Conversation struct {
	ID string
	// Participants is sorted and de-duplicated; it never changes after creation.
	Participants   []string
	ParticipantKey string
	LastMessageAt  time.Time
	CreatedAt      time.Time
}

// HasParticipant reports whether identity takes part in the conversation.
func (c *Conversation) HasParticipant(identity string) bool {
	return lo.Contains(c.Participants, identity)
}

// MediaKind enumerates attachment types.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// Media references an uploaded file.
type Media struct {
	URL  string    `json:"url"`
	Kind MediaKind `json:"kind"`
}

// Location is a shared geolocation.
type Location struct {
	Lat     float64
	Lng     float64
	Address string
}

// Message is an entry in a conversation log.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	Media          []Media
	Location       *Location
	ListingID      string
	Read           bool
	CreatedAt      time.Time
}

// ConversationOverview is a conversation as shown in a user's inbox.
type ConversationOverview struct {
	Conversation
	Latest      *Message
	UnreadCount int
}

// NotificationType enumerates notification categories.
type NotificationType string

const (
	NotificationMessage NotificationType = "message"
	NotificationSystem  NotificationType = "system"
	NotificationLike    NotificationType = "like"
)

// RefKind tags what a notification points at.
type RefKind string

const (
	RefConversation RefKind = "conversation"
	RefListing      RefKind = "listing"
)

// Ref is a typed reference to either a conversation or a listing.
type Ref struct {
	Kind RefKind
	ID   string
}

// ConversationRef builds a reference to a conversation.
func ConversationRef(id string) Ref { return Ref{Kind: RefConversation, ID: id} }

// Notification is persisted once per recipient of an event.
type Notification struct {
	ID          string
	RecipientID string
	SenderID    string
	Type        NotificationType
	Content     string
	Ref         Ref
	IsRead      bool
	CreatedAt   time.Time
}

// ListingAuthor is the public profile attached to a listing summary.
type ListingAuthor struct {
	Name     string
	PhotoURL string
	IsBroker bool
}

// ListingSummary is what a chat message shows for a referenced listing.
type ListingSummary struct {
	ID     string
	Title  string
	Author ListingAuthor
}

// CanonicalParticipants de-duplicates, drops blanks and sorts identities so that
// the same unordered set always yields the same slice.
func CanonicalParticipants(ids []string) []string {
	out := lo.Uniq(lo.Compact(lo.Map(ids, func(id string, _ int) string {
		return strings.TrimSpace(id)
	})))
	sort.Strings(out)
	return out
}

// ParticipantKey is the unique key of a canonical participant set.
func ParticipantKey(canonical []string) string {
	return strings.Join(canonical, ",")
}

// UserStore resolves users.
type UserStore interface {
	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)
}

// ConversationStore handles conversation and message persistence.
type ConversationStore interface {
	// FindOrCreateConversation atomically returns the conversation for the given
	// participant set, creating it when missing. created reports whether this call
	// inserted it.
	FindOrCreateConversation(ctx context.Context, participants []string) (conv *Conversation, created bool, err error)

	// GetConversation retrieves a conversation by ID.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations lists a user's conversations, most recently active first.
	ListConversations(ctx context.Context, userID string) ([]*ConversationOverview, error)

	// AppendMessage persists a message and bumps the conversation's last activity
	// in one transaction.
	AppendMessage(ctx context.Context, msg *Message) error

	// DiscardEmptyConversation deletes a conversation that has no messages yet
	// and reports whether it did. Conversations with messages are left alone.
	DiscardEmptyConversation(ctx context.Context, id string) (bool, error)

	// ListMessages returns a conversation's full log in persistence order.
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// MarkConversationRead flips unread messages not sent by readerID to read and
	// returns how many changed.
	MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error)
}

// NotificationStore handles notification persistence.
type NotificationStore interface {
	// CreateNotification persists a notification.
	CreateNotification(ctx context.Context, n *Notification) error

	// ListNotifications returns the newest notifications of a recipient.
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]*Notification, error)

	// MarkNotificationRead marks one notification owned by recipientID as read.
	MarkNotificationRead(ctx context.Context, id, recipientID string) (*Notification, error)

	// MarkAllNotificationsRead marks every unread notification of recipientID as read.
	MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error)
}

// ListingStore resolves listing summaries.
type ListingStore interface {
	// GetListingSummary returns the title and author of a listing.
	GetListingSummary(ctx context.Context, id string) (*ListingSummary, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ConversationStore
	NotificationStore
	ListingStore

	// Close closes the underlying database connection.
	Close() error
}
