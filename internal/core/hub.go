package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/marketwire/internal/store"
)

// Store is the persistence the realtime layer depends on.
type Store interface {
	store.ConversationStore
	store.NotificationStore
	store.ListingStore
}

// Options tune a Hub. Zero values fall back to defaults.
type Options struct {
	ClientBuffer      int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	FanoutTimeout     time.Duration
	Logger            *zerolog.Logger
	Metrics           *Metrics
}

func (o Options) withDefaults() Options {
	if o.ClientBuffer <= 0 {
		o.ClientBuffer = defaultClientBuffer
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 25 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 60 * time.Second
	}
	if o.FanoutTimeout <= 0 {
		o.FanoutTimeout = defaultFanoutTimeout
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics(nil)
	}
	return o
}

// Hub coordinates clients, presence and channel membership.
// Presence, Router and the client sets are touched only by the Run loop.
type Hub struct {
	opts    Options
	store   Store
	logger  *zerolog.Logger
	metrics *Metrics

	presence   *Presence
	router     *Router
	clients    map[*Client]struct{}
	byIdentity map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	ops        chan func()
	stopped    chan struct{}

	pipeline *Pipeline
	relay    *Relay
}

// NewHub creates a new hub backed by st.
func NewHub(st Store, opts Options) *Hub {
	opts = opts.withDefaults()
	h := &Hub{
		opts:       opts,
		store:      st,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		presence:   NewPresence(),
		router:     NewRouter(),
		clients:    make(map[*Client]struct{}),
		byIdentity: make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client, 16),
		ops:        make(chan func()),
		stopped:    make(chan struct{}),
	}
	fanout := NewFanout(st, h, opts.FanoutTimeout, opts.Logger, opts.Metrics)
	h.pipeline = NewPipeline(st, h, fanout, opts.Logger, opts.Metrics)
	h.relay = NewRelay(st, h)
	return h
}

// Pipeline exposes the hub's message pipeline.
func (h *Hub) Pipeline() *Pipeline { return h.pipeline }

// Relay exposes the hub's ephemeral event relay.
func (h *Hub) Relay() *Relay { return h.relay }

// ClientBuffer is the event queue size new clients should use.
func (h *Hub) ClientBuffer() int { return h.opts.ClientBuffer }

// Run processes hub events until the context is canceled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.addClient(ctx, c)
		case c := <-h.unregister:
			h.removeClient(c)
		case op := <-h.ops:
			op()
		case now := <-ticker.C:
			h.sweep(now)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.stopped)
	for c := range h.clients {
		c.Close()
	}
	h.clients = make(map[*Client]struct{})
	h.byIdentity = make(map[string]map[*Client]struct{})
}

// RegisterClient adds a new client to the hub and starts its command loop.
func (h *Hub) RegisterClient(ctx context.Context, c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnregisterClient removes a client. Unregistering twice is harmless.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

// exec runs fn on the hub loop and waits for it to finish.
func (h *Hub) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		fn()
		close(done)
	}
	select {
	case h.ops <- op:
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join subscribes c to channel.
func (h *Hub) Join(ctx context.Context, c *Client, channel string) error {
	return h.exec(ctx, func() {
		if _, ok := h.clients[c]; ok {
			h.router.Join(c, channel)
			h.metrics.Channels.Set(float64(h.router.Channels()))
		}
	})
}

// JoinIdentities subscribes every live connection of the given identities to channel.
func (h *Hub) JoinIdentities(ctx context.Context, identities []string, channel string) error {
	return h.exec(ctx, func() {
		for _, identity := range identities {
			for c := range h.byIdentity[identity] {
				h.router.Join(c, channel)
			}
		}
		h.metrics.Channels.Set(float64(h.router.Channels()))
	})
}

// Joined reports whether c is subscribed to channel.
func (h *Hub) Joined(ctx context.Context, c *Client, channel string) (bool, error) {
	var joined bool
	err := h.exec(ctx, func() { joined = h.router.Joined(c, channel) })
	return joined, err
}

// Broadcast delivers ev to every member of channel except exclude.
func (h *Hub) Broadcast(ctx context.Context, channel string, ev *Event, exclude *Client) error {
	return h.exec(ctx, func() { h.broadcast(channel, ev, exclude) })
}

// PushToIdentity delivers ev to the personal channel of identity when it is
// online. Reports whether the identity was online.
func (h *Hub) PushToIdentity(ctx context.Context, identity string, ev *Event) (bool, error) {
	var online bool
	err := h.exec(ctx, func() {
		if online = h.presence.IsOnline(identity); online {
			h.broadcast(PersonalChannel(identity), ev, nil)
		}
	})
	return online, err
}

// IsOnline reports whether identity has a live connection.
func (h *Hub) IsOnline(ctx context.Context, identity string) (bool, error) {
	var online bool
	err := h.exec(ctx, func() { online = h.presence.IsOnline(identity) })
	return online, err
}

// OnlineSnapshot returns the sorted online identities.
func (h *Hub) OnlineSnapshot(ctx context.Context) ([]string, error) {
	var ids []string
	err := h.exec(ctx, func() { ids = h.presence.Snapshot() })
	return ids, err
}

func (h *Hub) broadcast(channel string, ev *Event, exclude *Client) {
	_, dropped := h.router.Broadcast(channel, ev, exclude)
	if dropped > 0 {
		h.metrics.DroppedEvents.Add(float64(dropped))
		h.logger.Warn().
			Str("channel", channel).
			Str("event", ev.Kind.String()).
			Int("dropped", dropped).
			Int("members", h.router.Members(channel)).
			Msg("slow consumers dropped event")
	}
}

func (h *Hub) broadcastAll(ev *Event) {
	for c := range h.clients {
		if !c.deliver(ev) {
			h.metrics.DroppedEvents.Inc()
		}
	}
}

func (h *Hub) addClient(ctx context.Context, c *Client) {
	if _, exists := h.clients[c]; exists {
		return
	}
	h.clients[c] = struct{}{}
	conns, ok := h.byIdentity[c.Identity]
	if !ok {
		conns = make(map[*Client]struct{})
		h.byIdentity[c.Identity] = conns
	}
	conns[c] = struct{}{}

	h.presence.Register(c.Identity, c.ID)
	h.router.Join(c, PersonalChannel(c.Identity))
	h.metrics.Connections.Set(float64(len(h.clients)))
	h.metrics.Channels.Set(float64(h.router.Channels()))
	h.metrics.OnlineIdentities.Set(float64(h.presence.Len()))

	c.deliver(&Event{Kind: EventConnectedAck, ConnectionID: c.ID, Identity: c.Identity})
	h.broadcastAll(&Event{Kind: EventPresenceOnline, Identity: c.Identity})
	h.broadcastAll(&Event{Kind: EventPresenceSnapshot, Identities: h.presence.Snapshot()})

	h.logger.Info().Str("client_id", c.ID).Str("identity", c.Identity).Msg("client registered")
	go h.serveClient(ctx, c)
}

// removeClient drops c and, when it was the identity's registered connection,
// either re-points presence at a remaining connection or takes the identity offline.
func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.router.LeaveAll(c)
	c.Close()

	conns := h.byIdentity[c.Identity]
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.byIdentity, c.Identity)
	}
	h.metrics.Connections.Set(float64(len(h.clients)))
	h.metrics.Channels.Set(float64(h.router.Channels()))

	logger := h.logger.With().Str("client_id", c.ID).Str("identity", c.Identity).Logger()
	current, _ := h.presence.Current(c.Identity)
	if current != c.ID {
		logger.Debug().Msg("stale connection removed")
		return
	}
	if len(conns) > 0 {
		next := lo.MaxBy(lo.Keys(conns), func(a, b *Client) bool {
			return a.LastSeen().After(b.LastSeen())
		})
		h.presence.Register(c.Identity, next.ID)
		logger.Debug().Str("next_client_id", next.ID).Msg("presence moved to remaining connection")
		return
	}
	if h.presence.Unregister(c.Identity, c.ID) {
		h.metrics.OnlineIdentities.Set(float64(h.presence.Len()))
		h.broadcastAll(&Event{Kind: EventPresenceOffline, Identity: c.Identity})
		h.broadcastAll(&Event{Kind: EventPresenceSnapshot, Identities: h.presence.Snapshot()})
		logger.Info().Msg("identity offline")
	}
}

func (h *Hub) sweep(now time.Time) {
	for c := range h.clients {
		if now.Sub(c.LastSeen()) <= h.opts.HeartbeatTimeout {
			continue
		}
		h.metrics.HeartbeatTimeouts.Inc()
		h.logger.Info().Str("client_id", c.ID).Str("identity", c.Identity).Msg("heartbeat timeout")
		h.removeClient(c)
	}
}

// serveClient drains a client's commands until it is closed. Handlers run
// here, off the hub loop, so slow persistence never stalls routing.
func (h *Hub) serveClient(ctx context.Context, c *Client) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.Done():
			cancel()
		case <-cctx.Done():
		}
	}()

	for {
		select {
		case <-cctx.Done():
			return
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			h.handleCommand(cctx, c, cmd)
		}
	}
}

func (h *Hub) handleCommand(ctx context.Context, c *Client, cmd *Command) {
	var err error
	switch cmd.Kind {
	case CommandJoinConversation:
		err = h.joinConversation(ctx, c, cmd.ConversationID)
	case CommandSendMessage:
		var ack *SendAck
		if ack, err = h.pipeline.Send(ctx, c, cmd.Send); err == nil {
			c.deliver(&Event{Kind: EventMessageAck, ConversationID: ack.ConversationID, Ack: ack})
		}
	case CommandMarkRead:
		_, err = h.relay.MarkRead(ctx, c.Identity, cmd.ConversationID)
	case CommandTypingStart:
		err = h.relay.Typing(ctx, c, cmd.ConversationID, true)
	case CommandTypingStop:
		err = h.relay.Typing(ctx, c, cmd.ConversationID, false)
	default:
		err = coreError(ErrCodeUnknownType, "unsupported command")
	}
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrHubStopped) {
		return
	}
	ce := AsError(err)
	if !ce.IsValidation() {
		h.logger.Error().Err(err).Str("client_id", c.ID).Str("identity", c.Identity).Msg("command failed")
	}
	c.deliver(errorEvent(ce))
}

func (h *Hub) joinConversation(ctx context.Context, c *Client, conversationID string) error {
	conv, err := loadConversation(ctx, h.store, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(c.Identity) {
		return coreError(ErrCodeNotParticipant, "not a participant of this conversation")
	}
	return h.Join(ctx, c, ConversationChannel(conv.ID))
}

func loadConversation(ctx context.Context, st store.ConversationStore, id string) (*store.Conversation, error) {
	if id == "" {
		return nil, validationError("conversationId is required")
	}
	conv, err := st.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, coreError(ErrCodeNotFound, "conversation not found")
	}
	if err != nil {
		return nil, persistenceError("load conversation", err)
	}
	return conv, nil
}
