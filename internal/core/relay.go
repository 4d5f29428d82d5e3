package core

import (
	"context"

	"github.com/vovakirdan/marketwire/internal/store"
)

// Relay forwards ephemeral signals: typing indicators and read receipts.
type Relay struct {
	store  store.ConversationStore
	router channelRouter
}

// NewRelay wires a relay.
func NewRelay(st store.ConversationStore, router channelRouter) *Relay {
	return &Relay{store: st, router: router}
}

// Typing relays a typing indicator from c to the other members of the
// conversation channel. A participant who has not joined yet is joined first.
func (r *Relay) Typing(ctx context.Context, c *Client, conversationID string, started bool) error {
	if conversationID == "" {
		return validationError("conversationId is required")
	}
	channel := ConversationChannel(conversationID)
	joined, err := r.router.Joined(ctx, c, channel)
	if err != nil {
		return err
	}
	if !joined {
		conv, err := loadConversation(ctx, r.store, conversationID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(c.Identity) {
			return coreError(ErrCodeNotParticipant, "not a participant of this conversation")
		}
		if err := r.router.Join(ctx, c, channel); err != nil {
			return err
		}
	}

	kind := EventUserStopTyping
	if started {
		kind = EventUserTyping
	}
	return r.router.Broadcast(ctx, channel, &Event{
		Kind:           kind,
		ConversationID: conversationID,
		Identity:       c.Identity,
	}, c)
}

// MarkRead marks the conversation's messages from others as read by readerID
// and broadcasts a read receipt when anything changed. Repeating it is a no-op.
func (r *Relay) MarkRead(ctx context.Context, readerID, conversationID string) (int64, error) {
	conv, err := loadConversation(ctx, r.store, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.HasParticipant(readerID) {
		return 0, coreError(ErrCodeNotParticipant, "not a participant of this conversation")
	}
	changed, err := r.store.MarkConversationRead(ctx, conv.ID, readerID)
	if err != nil {
		return 0, persistenceError("mark conversation read", err)
	}
	if changed == 0 {
		return 0, nil
	}
	err = r.router.Broadcast(context.WithoutCancel(ctx), ConversationChannel(conv.ID), &Event{
		Kind:           EventReadReceipt,
		ConversationID: conv.ID,
		Identity:       readerID,
	}, nil)
	return changed, err
}
