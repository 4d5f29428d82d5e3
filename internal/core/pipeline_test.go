package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/vovakirdan/marketwire/internal/mocks"
	"github.com/vovakirdan/marketwire/internal/store"
)

type failingAppendStore struct {
	Store
	err error
}

func (s failingAppendStore) AppendMessage(context.Context, *store.Message) error {
	return s.err
}

type listingOverrideStore struct {
	Store
	listings store.ListingStore
}

func (s listingOverrideStore) GetListingSummary(ctx context.Context, id string) (*store.ListingSummary, error) {
	return s.listings.GetListingSummary(ctx, id)
}

func TestPipelineFirstContactCreatesAndDelivers(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := startHub(t, st, Options{})

	alice := connect(t, hub, "a1", "alice")
	bob := connect(t, hub, "b1", "bob")

	ack, err := hub.Pipeline().Send(ctx, alice, &SendRequest{
		RequestID:      "r1",
		ParticipantIDs: []string{"bob"},
		Text:           "Is the flat still available?",
		ListingID:      "flat-1",
	})
	require.NoError(t, err)
	require.True(t, ack.Created)
	require.Equal(t, "r1", ack.RequestID)
	require.NotEmpty(t, ack.MessageID)

	got := mustEvent(t, bob.Events, EventMessageReceived)
	require.Equal(t, ack.ConversationID, got.ConversationID)
	require.Equal(t, ack.MessageID, got.Message.ID)
	require.NotNil(t, got.Message.Listing)
	require.Equal(t, "Two room flat", got.Message.Listing.Title)
	mustEvent(t, alice.Events, EventMessageReceived)

	notif := mustEvent(t, bob.Events, EventNotificationCreated)
	require.Equal(t, "bob", notif.Notification.RecipientID)
	require.Equal(t, store.ConversationRef(ack.ConversationID), notif.Notification.Ref)
	noEvent(t, alice.Events, EventNotificationCreated, 100*time.Millisecond)

	again, err := hub.Pipeline().Send(ctx, bob, &SendRequest{ParticipantIDs: []string{"alice"}, Text: "yes"})
	require.NoError(t, err)
	require.False(t, again.Created)
	require.Equal(t, ack.ConversationID, again.ConversationID)

	messages, err := st.ListMessages(ctx, ack.ConversationID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
}

func TestPipelineOfflineRecipientStillGetsNotification(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := startHub(t, st, Options{})
	alice := connect(t, hub, "a1", "alice")

	ack, err := hub.Pipeline().Send(ctx, alice, &SendRequest{ParticipantIDs: []string{"bob"}, Text: "hello"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		list, err := st.ListNotifications(ctx, "bob", 20)
		return err == nil && len(list) == 1 && list[0].Ref.ID == ack.ConversationID
	}, 2*time.Second, 10*time.Millisecond)

	own, err := st.ListNotifications(ctx, "alice", 20)
	require.NoError(t, err)
	require.Empty(t, own)
}

func TestPipelineValidation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	conv, _, err := st.FindOrCreateConversation(ctx, []string{"bob", "carol"})
	require.NoError(t, err)

	hub := startHub(t, st, Options{})
	alice := connect(t, hub, "a1", "alice")

	cases := []struct {
		name string
		req  *SendRequest
		code string
	}{
		{"nil payload", nil, ErrCodeValidation},
		{"empty message", &SendRequest{ParticipantIDs: []string{"bob"}, Text: "   "}, ErrCodeValidation},
		{"no target", &SendRequest{Text: "hi"}, ErrCodeValidation},
		{"both targets", &SendRequest{ConversationID: conv.ID, ParticipantIDs: []string{"bob"}, Text: "hi"}, ErrCodeValidation},
		{"only self", &SendRequest{ParticipantIDs: []string{"alice", " alice "}, Text: "hi"}, ErrCodeValidation},
		{"bad media kind", &SendRequest{ParticipantIDs: []string{"bob"}, Media: []MediaInput{{URL: "https://cdn/x.gif", Kind: "gif"}}}, ErrCodeValidation},
		{"bad media url", &SendRequest{ParticipantIDs: []string{"bob"}, Media: []MediaInput{{URL: "not a url", Kind: "image"}}}, ErrCodeValidation},
		{"bad latitude", &SendRequest{ParticipantIDs: []string{"bob"}, Location: &LocationInput{Lat: 120, Lng: 10}}, ErrCodeValidation},
		{"text too long", &SendRequest{ParticipantIDs: []string{"bob"}, Text: strings.Repeat("x", 4001)}, ErrCodeValidation},
		{"not a participant", &SendRequest{ConversationID: conv.ID, Text: "hi"}, ErrCodeNotParticipant},
		{"unknown conversation", &SendRequest{ConversationID: "ghost", Text: "hi"}, ErrCodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := hub.Pipeline().Send(ctx, alice, tc.req)
			require.Error(t, err)
			var ce *Error
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tc.code, ce.Code)
			require.True(t, ce.IsValidation())
		})
	}

	list, err := st.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, list, "rejected sends must not create conversations")
	messages, err := st.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestPipelinePersistenceFailureHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	conv, _, err := st.FindOrCreateConversation(ctx, []string{"alice", "bob"})
	require.NoError(t, err)

	hub := startHub(t, failingAppendStore{Store: st, err: errors.New("disk I/O error")}, Options{})
	alice := connect(t, hub, "a1", "alice")
	bob := connect(t, hub, "b1", "bob")
	require.NoError(t, hub.Join(ctx, bob, ConversationChannel(conv.ID)))

	_, err = hub.Pipeline().Send(ctx, alice, &SendRequest{ConversationID: conv.ID, Text: "hi"})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, ErrCodePersistence, ce.Code)
	require.False(t, ce.IsValidation())

	noEvent(t, bob.Events, EventMessageReceived, 150*time.Millisecond)
	list, err := st.ListNotifications(ctx, "bob", 20)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestPipelineFailedFirstContactLeavesNoConversation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := startHub(t, failingAppendStore{Store: st, err: errors.New("disk I/O error")}, Options{})
	alice := connect(t, hub, "a1", "alice")

	_, err := hub.Pipeline().Send(ctx, alice, &SendRequest{ParticipantIDs: []string{"bob"}, Text: "hi"})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, ErrCodePersistence, ce.Code)

	convs, err := st.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, convs)

	_, created, err := st.FindOrCreateConversation(ctx, []string{"alice", "bob"})
	require.NoError(t, err)
	require.True(t, created)
}

func TestPipelineConcurrentFirstContactConverges(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := startHub(t, st, Options{})
	alice := connect(t, hub, "a1", "alice")
	bob := connect(t, hub, "b1", "bob")

	var wg sync.WaitGroup
	acks := make([]*SendAck, 2)
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		acks[0], errs[0] = hub.Pipeline().Send(ctx, alice, &SendRequest{ParticipantIDs: []string{"bob"}, Text: "hi bob"})
	}()
	go func() {
		defer wg.Done()
		acks[1], errs[1] = hub.Pipeline().Send(ctx, bob, &SendRequest{ParticipantIDs: []string{"alice"}, Text: "hi alice"})
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, acks[0].ConversationID, acks[1].ConversationID)
	require.NotEqual(t, acks[0].Created, acks[1].Created, "exactly one send creates the conversation")

	list, err := st.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestPipelineBroadcastFollowsPersistenceOrder(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	conv, _, err := st.FindOrCreateConversation(ctx, []string{"alice", "bob"})
	require.NoError(t, err)

	hub := startHub(t, st, Options{ClientBuffer: 128})
	alice := connect(t, hub, "a1", "alice")
	bob := connect(t, hub, "b1", "bob")
	observer := connect(t, hub, "b2", "bob")
	require.NoError(t, hub.Join(ctx, observer, ConversationChannel(conv.ID)))

	const perSender = 10
	var wg sync.WaitGroup
	for _, sender := range []*Client{alice, bob} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perSender {
				if _, err := hub.Pipeline().Send(ctx, sender, &SendRequest{ConversationID: conv.ID, Text: "m"}); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	received := make([]string, 0, 2*perSender)
	for len(received) < 2*perSender {
		ev := mustEvent(t, observer.Events, EventMessageReceived)
		received = append(received, ev.Message.ID)
	}

	persisted, err := st.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, persisted, 2*perSender)
	for i, msg := range persisted {
		require.Equal(t, msg.ID, received[i], "broadcast %d out of order", i)
	}
}

func TestPipelineListingFailureDegrades(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	listings := mocks.NewMockListingStore(ctrl)
	listings.EXPECT().GetListingSummary(gomock.Any(), "flat-1").Return(nil, errors.New("listing service down"))

	hub := startHub(t, listingOverrideStore{Store: newTestStore(t), listings: listings}, Options{})
	alice := connect(t, hub, "a1", "alice")
	bob := connect(t, hub, "b1", "bob")

	_, err := hub.Pipeline().Send(ctx, alice, &SendRequest{ParticipantIDs: []string{"bob"}, Text: "about this one", ListingID: "flat-1"})
	require.NoError(t, err)

	got := mustEvent(t, bob.Events, EventMessageReceived)
	require.Nil(t, got.Message.Listing)
	require.Equal(t, "flat-1", got.Message.ListingID)
}

func TestPipelineMediaAndLocationPayload(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := startHub(t, st, Options{})
	alice := connect(t, hub, "a1", "alice")

	ack, err := hub.Pipeline().Send(ctx, alice, &SendRequest{
		ParticipantIDs: []string{"carol"},
		Media:          []MediaInput{{URL: "https://cdn.example.com/1.jpg", Kind: "image"}},
		Location:       &LocationInput{Lat: 12.97, Lng: 77.59, Address: "MG Road"},
	})
	require.NoError(t, err)

	messages, err := st.ListMessages(ctx, ack.ConversationID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, []store.Media{{URL: "https://cdn.example.com/1.jpg", Kind: store.MediaKindImage}}, messages[0].Media)
	require.Equal(t, "MG Road", messages[0].Location.Address)
	require.Empty(t, messages[0].Text)
}

func TestPipelineStoresTextVerbatim(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := startHub(t, st, Options{})
	alice := connect(t, hub, "a1", "alice")

	ack, err := hub.Pipeline().Send(ctx, alice, &SendRequest{ParticipantIDs: []string{"bob"}, Text: "  two rooms?\n"})
	require.NoError(t, err)

	messages, err := st.ListMessages(ctx, ack.ConversationID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "  two rooms?\n", messages[0].Text)

	_, err = hub.Pipeline().Send(ctx, alice, &SendRequest{ConversationID: ack.ConversationID, Text: " \t "})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	require.True(t, ce.IsValidation())
}
