package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/marketwire/internal/store"
)

// MessageStore is the persistence the pipeline needs.
type MessageStore interface {
	store.ConversationStore
	store.ListingStore
}

// channelRouter is the slice of the hub the pipeline and relay broadcast through.
type channelRouter interface {
	Join(ctx context.Context, c *Client, channel string) error
	JoinIdentities(ctx context.Context, identities []string, channel string) error
	Joined(ctx context.Context, c *Client, channel string) (bool, error)
	Broadcast(ctx context.Context, channel string, ev *Event, exclude *Client) error
}

// dispatcher is implemented by Fanout.
type dispatcher interface {
	DispatchAsync(sender string, conv *store.Conversation, msg *store.Message)
}

// Pipeline validates, persists and broadcasts conversation messages.
type Pipeline struct {
	store    MessageStore
	router   channelRouter
	fanout   dispatcher
	validate *validator.Validate
	locks    *keyedMutex
	logger   *zerolog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewPipeline wires a pipeline.
func NewPipeline(st MessageStore, router channelRouter, fanout dispatcher, logger *zerolog.Logger, metrics *Metrics) *Pipeline {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Pipeline{
		store:    st,
		router:   router,
		fanout:   fanout,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		locks:    newKeyedMutex(),
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Send handles a send_message from sender. On success the message has been
// persisted, broadcast to the conversation channel and handed to fanout.
func (p *Pipeline) Send(ctx context.Context, sender *Client, req *SendRequest) (*SendAck, error) {
	ack, err := p.send(ctx, sender, req)
	if err != nil {
		p.metrics.SendFailures.WithLabelValues(AsError(err).Code).Inc()
		return nil, err
	}
	p.metrics.MessagesSent.Inc()
	return ack, nil
}

func (p *Pipeline) send(ctx context.Context, sender *Client, req *SendRequest) (*SendAck, error) {
	if req == nil {
		return nil, validationError("message payload is required")
	}
	if err := p.validateRequest(req); err != nil {
		return nil, err
	}

	conv, created, err := p.resolveConversation(ctx, sender.Identity, req)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(sender.Identity) {
		return nil, coreError(ErrCodeNotParticipant, "not a participant of this conversation")
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		SenderID:       sender.Identity,
		Text:           req.Text,
		Media: lo.Map(req.Media, func(m MediaInput, _ int) store.Media {
			return store.Media{URL: m.URL, Kind: store.MediaKind(m.Kind)}
		}),
		ListingID: req.ListingID,
	}
	if req.Location != nil {
		msg.Location = &store.Location{Lat: req.Location.Lat, Lng: req.Location.Lng, Address: req.Location.Address}
	}
	view := &MessageView{Listing: p.lookupListing(ctx, req.ListingID)}

	channel := ConversationChannel(conv.ID)
	if created {
		if err := p.router.JoinIdentities(ctx, conv.Participants, channel); err != nil {
			return nil, fmt.Errorf("join participants: %w", err)
		}
	}
	if err := p.router.Join(ctx, sender, channel); err != nil {
		return nil, fmt.Errorf("join sender: %w", err)
	}

	if err := p.appendAndBroadcast(ctx, msg, view, created); err != nil {
		return nil, err
	}

	p.fanout.DispatchAsync(sender.Identity, conv, msg)

	return &SendAck{
		RequestID:      req.RequestID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Created:        created,
	}, nil
}

// appendAndBroadcast holds the conversation lock across persistence and the
// broadcast so members observe messages in persistence order. A conversation
// created for this message is discarded again if the message cannot be stored.
func (p *Pipeline) appendAndBroadcast(ctx context.Context, msg *store.Message, view *MessageView, created bool) error {
	unlock := p.locks.Lock(msg.ConversationID)
	defer unlock()

	msg.CreatedAt = p.now().UTC()
	if err := p.store.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return coreError(ErrCodeNotFound, "conversation not found")
		}
		if created {
			p.discardConversation(ctx, msg.ConversationID)
		}
		return persistenceError("append message", err)
	}
	view.Message = *msg

	// The message is committed; its broadcast must not be cut short by the sender leaving.
	ev := &Event{Kind: EventMessageReceived, ConversationID: msg.ConversationID, Message: view}
	if err := p.router.Broadcast(context.WithoutCancel(ctx), ConversationChannel(msg.ConversationID), ev, nil); err != nil {
		p.logger.Warn().Err(err).Str("conversation_id", msg.ConversationID).Msg("broadcast after persist failed")
	}
	return nil
}

func (p *Pipeline) discardConversation(ctx context.Context, conversationID string) {
	discarded, err := p.store.DiscardEmptyConversation(context.WithoutCancel(ctx), conversationID)
	if err != nil {
		p.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("discard empty conversation failed")
		return
	}
	if discarded {
		p.logger.Info().Str("conversation_id", conversationID).Msg("discarded conversation without messages")
	}
}

func (p *Pipeline) validateRequest(req *SendRequest) error {
	if err := p.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return validationError(fmt.Sprintf("invalid %s: failed %q", fe.Namespace(), fe.Tag()))
		}
		return validationError(err.Error())
	}
	hasConv := req.ConversationID != ""
	hasParticipants := len(req.ParticipantIDs) > 0
	if hasConv == hasParticipants {
		return validationError("exactly one of conversationId and participantIds is required")
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Media) == 0 && req.Location == nil && req.ListingID == "" {
		return validationError("message is empty")
	}
	return nil
}

func (p *Pipeline) resolveConversation(ctx context.Context, senderID string, req *SendRequest) (*store.Conversation, bool, error) {
	if req.ConversationID != "" {
		conv, err := loadConversation(ctx, p.store, req.ConversationID)
		return conv, false, err
	}

	participants := store.CanonicalParticipants(append([]string{senderID}, req.ParticipantIDs...))
	if len(participants) < 2 {
		return nil, false, validationError("a conversation needs at least two distinct participants")
	}
	conv, created, err := p.store.FindOrCreateConversation(ctx, participants)
	if errors.Is(err, store.ErrInvalidParticipants) {
		return nil, false, validationError(err.Error())
	}
	if err != nil {
		return nil, false, persistenceError("find or create conversation", err)
	}
	if created {
		p.logger.Info().Str("conversation_id", conv.ID).Strs("participants", conv.Participants).Msg("conversation created")
	}
	return conv, created, nil
}

// lookupListing resolves a listing reference. A failed lookup only drops the
// summary from the broadcast.
func (p *Pipeline) lookupListing(ctx context.Context, listingID string) *store.ListingSummary {
	if listingID == "" {
		return nil
	}
	summary, err := p.store.GetListingSummary(ctx, listingID)
	if err != nil {
		p.logger.Warn().Err(err).Str("listing_id", listingID).Msg("listing lookup failed")
		return nil
	}
	return summary
}
