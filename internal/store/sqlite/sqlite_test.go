package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/marketwire/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewWithSetup(":memory:", func(db *sql.DB) error {
		if _, err := db.Exec(Schema); err != nil {
			return err
		}
		_, err := db.Exec(`
			INSERT INTO users (id, name, photo_url, is_broker) VALUES
				('alice', 'Alice', 'https://img/alice.png', 0),
				('bob', 'Bob', '', 1),
				('carol', 'Carol', '', 0);
			INSERT INTO listings (id, title, author_id) VALUES ('flat-1', 'Two room flat', 'bob');
		`)
		return err
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFindOrCreateConversation_IsOrderIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.FindOrCreateConversation(ctx, []string{"bob", "alice"})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, []string{"alice", "bob"}, first.Participants)

	second, created, err := s.FindOrCreateConversation(ctx, []string{"alice", "bob", "alice"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestFindOrCreateConversation_RejectsSingleParticipant(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.FindOrCreateConversation(context.Background(), []string{"alice", "alice", " "})
	require.ErrorIs(t, err, store.ErrInvalidParticipants)
}

func TestFindOrCreateConversation_ConcurrentFirstContact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 16
	ids := make([]string, workers)
	created := make([]bool, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set := []string{"alice", "bob"}
			if i%2 == 1 {
				set = []string{"bob", "alice"}
			}
			conv, c, err := s.FindOrCreateConversation(ctx, set)
			errs[i] = err
			if conv != nil {
				ids[i] = conv.ID
			}
			created[i] = c
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for i := range workers {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i])
		if created[i] {
			createdCount++
		}
	}
	require.Equal(t, 1, createdCount)

	var rows int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&rows))
	require.Equal(t, 1, rows)
}

func TestAppendMessage_PersistsPayloadAndBumpsActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _, err := s.FindOrCreateConversation(ctx, []string{"alice", "bob"})
	require.NoError(t, err)

	at := time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond)
	msg := &store.Message{
		ConversationID: conv.ID,
		SenderID:       "alice",
		Text:           "is it still available?",
		Media:          []store.Media{{URL: "https://cdn/1.jpg", Kind: store.MediaKindImage}},
		Location:       &store.Location{Lat: 12.97, Lng: 77.59, Address: "MG Road"},
		ListingID:      "flat-1",
		CreatedAt:      at,
	}
	require.NoError(t, s.AppendMessage(ctx, msg))
	require.NotEmpty(t, msg.ID)

	messages, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	got := messages[0]
	require.Equal(t, msg.Text, got.Text)
	require.Equal(t, msg.Media, got.Media)
	require.Equal(t, *msg.Location, *got.Location)
	require.Equal(t, "flat-1", got.ListingID)
	require.False(t, got.Read)

	reloaded, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.True(t, reloaded.LastMessageAt.Equal(at), "last activity %v, want %v", reloaded.LastMessageAt, at)
}

func TestAppendMessage_UnknownConversation(t *testing.T) {
	s := newTestStore(t)

	err := s.AppendMessage(context.Background(), &store.Message{ConversationID: "ghost", SenderID: "alice", Text: "hi"})
	require.ErrorIs(t, err, store.ErrNotFound)

	var rows int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&rows))
	require.Zero(t, rows)
}

func TestDiscardEmptyConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, _, err := s.FindOrCreateConversation(ctx, []string{"alice", "bob"})
	require.NoError(t, err)
	busy, _, err := s.FindOrCreateConversation(ctx, []string{"alice", "carol"})
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, &store.Message{ConversationID: busy.ID, SenderID: "alice", Text: "hi"}))

	discarded, err := s.DiscardEmptyConversation(ctx, empty.ID)
	require.NoError(t, err)
	require.True(t, discarded)
	_, err = s.GetConversation(ctx, empty.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	discarded, err = s.DiscardEmptyConversation(ctx, busy.ID)
	require.NoError(t, err)
	require.False(t, discarded)
	_, err = s.GetConversation(ctx, busy.ID)
	require.NoError(t, err)

	_, created, err := s.FindOrCreateConversation(ctx, []string{"bob", "alice"})
	require.NoError(t, err)
	require.True(t, created)
}

func TestMarkConversationRead_IsMonotonicAndIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _, err := s.FindOrCreateConversation(ctx, []string{"alice", "bob"})
	require.NoError(t, err)
	for _, sender := range []string{"alice", "alice", "bob"} {
		require.NoError(t, s.AppendMessage(ctx, &store.Message{ConversationID: conv.ID, SenderID: sender, Text: "x"}))
	}

	changed, err := s.MarkConversationRead(ctx, conv.ID, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 2, changed)

	changed, err = s.MarkConversationRead(ctx, conv.ID, "bob")
	require.NoError(t, err)
	require.Zero(t, changed)

	messages, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.True(t, messages[0].Read)
	require.True(t, messages[1].Read)
	require.False(t, messages[2].Read, "own messages stay untouched")
}

func TestListConversations_OrdersByActivityWithUnreadCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	withBob, _, err := s.FindOrCreateConversation(ctx, []string{"alice", "bob"})
	require.NoError(t, err)
	withCarol, _, err := s.FindOrCreateConversation(ctx, []string{"alice", "carol"})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, s.AppendMessage(ctx, &store.Message{ConversationID: withBob.ID, SenderID: "bob", Text: "old", CreatedAt: now}))
	require.NoError(t, s.AppendMessage(ctx, &store.Message{ConversationID: withCarol.ID, SenderID: "carol", Text: "new", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.AppendMessage(ctx, &store.Message{ConversationID: withCarol.ID, SenderID: "carol", Text: "newer", CreatedAt: now.Add(2 * time.Second)}))

	list, err := s.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, withCarol.ID, list[0].ID)
	require.Equal(t, "newer", list[0].Latest.Text)
	require.Equal(t, 2, list[0].UnreadCount)
	require.Equal(t, withBob.ID, list[1].ID)
	require.Equal(t, 1, list[1].UnreadCount)

	bobs, err := s.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	require.Zero(t, bobs[0].UnreadCount)
}

func TestGetListingSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	summary, err := s.GetListingSummary(ctx, "flat-1")
	require.NoError(t, err)
	require.Equal(t, "Two room flat", summary.Title)
	require.Equal(t, "Bob", summary.Author.Name)
	require.True(t, summary.Author.IsBroker)

	_, err = s.GetListingSummary(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestNotifications_CreateListAndMarkRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second"} {
		require.NoError(t, s.CreateNotification(ctx, &store.Notification{
			RecipientID: "bob",
			SenderID:    "alice",
			Type:        store.NotificationMessage,
			Content:     content,
			Ref:         store.ConversationRef("conv-1"),
		}))
	}

	list, err := s.ListNotifications(ctx, "bob", 20)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "second", list[0].Content)
	require.Equal(t, store.RefConversation, list[0].Ref.Kind)
	require.Equal(t, "conv-1", list[0].Ref.ID)

	_, err = s.MarkNotificationRead(ctx, list[0].ID, "alice")
	require.True(t, errors.Is(err, store.ErrForbidden))

	read, err := s.MarkNotificationRead(ctx, list[0].ID, "bob")
	require.NoError(t, err)
	require.True(t, read.IsRead)

	_, err = s.MarkNotificationRead(ctx, "missing", "bob")
	require.ErrorIs(t, err, store.ErrNotFound)

	changed, err := s.MarkAllNotificationsRead(ctx, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 1, changed)

	changed, err = s.MarkAllNotificationsRead(ctx, "bob")
	require.NoError(t, err)
	require.Zero(t, changed)
}

func TestGetUserByID(t *testing.T) {
	s := newTestStore(t)

	user, err := s.GetUserByID(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "Alice", user.Name)

	_, err = s.GetUserByID(context.Background(), "nobody")
	require.ErrorIs(t, err, store.ErrNotFound)
}
