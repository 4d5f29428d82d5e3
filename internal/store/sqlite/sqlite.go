package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/marketwire/internal/store"
	"github.com/vovakirdan/marketwire/internal/utils"
)

// Schema creates every table the store needs. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	photo_url  TEXT NOT NULL DEFAULT '',
	is_broker  BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS listings (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	author_id  TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (author_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS conversations (
	id              TEXT PRIMARY KEY,
	participant_key TEXT NOT NULL UNIQUE,
	last_message_at DATETIME NOT NULL,
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	position        INTEGER NOT NULL,
	PRIMARY KEY (conversation_id, user_id),
	FOREIGN KEY (conversation_id) REFERENCES conversations(id)
);

CREATE TABLE IF NOT EXISTS messages (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	body            TEXT NOT NULL DEFAULT '',
	media           TEXT NOT NULL DEFAULT '[]',
	lat             REAL,
	lng             REAL,
	address         TEXT,
	listing_id      TEXT,
	is_read         BOOLEAN NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL,
	FOREIGN KEY (conversation_id) REFERENCES conversations(id)
);

CREATE TABLE IF NOT EXISTS notifications (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	recipient_id TEXT NOT NULL,
	sender_id    TEXT NOT NULL,
	type         TEXT NOT NULL DEFAULT 'system',
	content      TEXT NOT NULL,
	ref_kind     TEXT NOT NULL DEFAULT '',
	ref_id       TEXT NOT NULL DEFAULT '',
	is_read      BOOLEAN NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id);
CREATE INDEX IF NOT EXISTS idx_conversations_activity ON conversations(last_message_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, seq DESC);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema and seed rows.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction. Everything fn does must go through tx:
// with a single pooled connection, touching s.db from inside would deadlock.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after a successful commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ==== UserStore implementation ====

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, name, photo_url, is_broker, created_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Name,
		&user.PhotoURL,
		&user.IsBroker,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// ==== ListingStore implementation ====

// GetListingSummary returns the title and author of a listing.
func (s *SQLiteStore) GetListingSummary(ctx context.Context, id string) (*store.ListingSummary, error) {
	query := `
		SELECT l.id, l.title, u.name, u.photo_url, u.is_broker
		FROM listings l
		JOIN users u ON u.id = l.author_id
		WHERE l.id = ?
	`
	var summary store.ListingSummary
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&summary.ID,
		&summary.Title,
		&summary.Author.Name,
		&summary.Author.PhotoURL,
		&summary.Author.IsBroker,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("listing %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query listing: %w", err)
	}
	return &summary, nil
}

// ==== ConversationStore implementation ====

// FindOrCreateConversation atomically finds or creates the conversation for a
// participant set. The unique participant_key turns concurrent first contacts
// for the same set into a single row.
func (s *SQLiteStore) FindOrCreateConversation(ctx context.Context, participants []string) (*store.Conversation, bool, error) {
	ids := store.CanonicalParticipants(participants)
	if len(ids) < 2 {
		return nil, false, store.ErrInvalidParticipants
	}
	key := store.ParticipantKey(ids)

	var (
		convID  string
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, participant_key, last_message_at, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(participant_key) DO NOTHING
		`, utils.NewID(), key, now, now)
		if err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		created = affected == 1

		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM conversations WHERE participant_key = ?`, key,
		).Scan(&convID); err != nil {
			return fmt.Errorf("select conversation: %w", err)
		}

		if !created {
			return nil
		}
		for i, userID := range ids {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO conversation_participants (conversation_id, user_id, position)
				VALUES (?, ?, ?)
			`, convID, userID, i); err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	conv, err := s.GetConversation(ctx, convID)
	if err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	query := `
		SELECT id, participant_key, last_message_at, created_at
		FROM conversations
		WHERE id = ?
	`
	var conv store.Conversation
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID,
		&conv.ParticipantKey,
		&conv.LastMessageAt,
		&conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	participants, err := s.listParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Participants = participants

	return &conv, nil
}

func (s *SQLiteStore) listParticipants(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id
		FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY position
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return ids, nil
}

// ListConversations lists a user's conversations, most recently active first,
// each with its latest message and the count of unread messages from others.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*store.ConversationOverview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.last_message_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	// Release the single pooled connection before the per-row lookups.
	rows.Close()

	overviews := make([]*store.ConversationOverview, 0, len(ids))
	for _, id := range ids {
		conv, err := s.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		latest, err := s.latestMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		var unread int
		if err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*)
			FROM messages
			WHERE conversation_id = ? AND sender_id <> ? AND is_read = 0
		`, id, userID).Scan(&unread); err != nil {
			return nil, fmt.Errorf("count unread: %w", err)
		}
		overviews = append(overviews, &store.ConversationOverview{
			Conversation: *conv,
			Latest:       latest,
			UnreadCount:  unread,
		})
	}
	return overviews, nil
}

const messageColumns = `id, conversation_id, sender_id, body, media, lat, lng, address, listing_id, is_read, created_at`

func (s *SQLiteStore) latestMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, conversationID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest message: %w", err)
	}
	return msg, nil
}

// AppendMessage persists a message and bumps the conversation's last activity.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = utils.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	media := msg.Media
	if media == nil {
		media = []store.Media{}
	}
	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return fmt.Errorf("encode media: %w", err)
	}

	var lat, lng sql.NullFloat64
	var address sql.NullString
	if msg.Location != nil {
		lat = sql.NullFloat64{Float64: msg.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: msg.Location.Lng, Valid: true}
		address = sql.NullString{String: msg.Location.Address, Valid: true}
	}
	listingID := sql.NullString{String: msg.ListingID, Valid: msg.ListingID != ""}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE conversations SET last_message_at = ? WHERE id = ?
		`, msg.CreatedAt, msg.ConversationID)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("conversation %s: %w", msg.ConversationID, store.ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, body, media, lat, lng, address, listing_id, is_read, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.ConversationID, msg.SenderID, msg.Text, string(mediaJSON),
			lat, lng, address, listingID, msg.Read, msg.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

// DiscardEmptyConversation removes a conversation and its participants when
// no message was ever appended to it.
func (s *SQLiteStore) DiscardEmptyConversation(ctx context.Context, id string) (bool, error) {
	var discarded bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var hasMessages bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM messages WHERE conversation_id = ?)`, id,
		).Scan(&hasMessages); err != nil {
			return fmt.Errorf("check messages: %w", err)
		}
		if hasMessages {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM conversation_participants WHERE conversation_id = ?`, id,
		); err != nil {
			return fmt.Errorf("delete participants: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		discarded = affected == 1
		return nil
	})
	return discarded, err
}

// ListMessages returns a conversation's full log in persistence order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// MarkConversationRead flips unread messages sent by others to read.
// The is_read = 0 filter makes repeated calls report zero changes.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET is_read = 1
		WHERE conversation_id = ? AND sender_id <> ? AND is_read = 0
	`, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var (
		msg       store.Message
		mediaJSON string
		lat, lng  sql.NullFloat64
		address   sql.NullString
		listingID sql.NullString
	)
	if err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Text,
		&mediaJSON,
		&lat,
		&lng,
		&address,
		&listingID,
		&msg.Read,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}

	if mediaJSON != "" {
		if err := json.Unmarshal([]byte(mediaJSON), &msg.Media); err != nil {
			return nil, fmt.Errorf("decode media: %w", err)
		}
	}
	if len(msg.Media) == 0 {
		msg.Media = nil
	}
	if lat.Valid && lng.Valid {
		msg.Location = &store.Location{Lat: lat.Float64, Lng: lng.Float64, Address: address.String}
	}
	msg.ListingID = listingID.String

	return &msg, nil
}

// ==== NotificationStore implementation ====

// CreateNotification persists a notification.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *store.Notification) error {
	if n.ID == "" {
		n.ID = utils.NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Type == "" {
		n.Type = store.NotificationSystem
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, sender_id, type, content, ref_kind, ref_id, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.RecipientID, n.SenderID, string(n.Type), n.Content,
		string(n.Ref.Kind), n.Ref.ID, n.IsRead, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

const notificationColumns = `id, recipient_id, sender_id, type, content, ref_kind, ref_id, is_read, created_at`

func scanNotification(row rowScanner) (*store.Notification, error) {
	var (
		n       store.Notification
		typ     string
		refKind string
	)
	if err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.SenderID,
		&typ,
		&n.Content,
		&refKind,
		&n.Ref.ID,
		&n.IsRead,
		&n.CreatedAt,
	); err != nil {
		return nil, err
	}
	n.Type = store.NotificationType(typ)
	n.Ref.Kind = store.RefKind(refKind)
	return &n, nil
}

// ListNotifications returns the newest notifications of a recipient.
func (s *SQLiteStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]*store.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*store.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return notifications, nil
}

// MarkNotificationRead marks one notification as read after checking ownership.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id, recipientID string) (*store.Notification, error) {
	var n *store.Notification
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+notificationColumns+`
			FROM notifications
			WHERE id = ?
		`, id)
		found, err := scanNotification(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("notification %s: %w", id, store.ErrNotFound)
			}
			return fmt.Errorf("query notification: %w", err)
		}
		if found.RecipientID != recipientID {
			return fmt.Errorf("notification %s: %w", id, store.ErrForbidden)
		}
		if !found.IsRead {
			if _, err := tx.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id); err != nil {
				return fmt.Errorf("mark notification read: %w", err)
			}
			found.IsRead = true
		}
		n = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// MarkAllNotificationsRead marks every unread notification of a recipient as read.
func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET is_read = 1
		WHERE recipient_id = ? AND is_read = 0
	`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// Ensure SQLiteStore implements store.Store.
var _ store.Store = (*SQLiteStore)(nil)
