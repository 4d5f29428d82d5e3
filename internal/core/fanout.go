package core

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc"

	"github.com/vovakirdan/marketwire/internal/store"
)

const (
	previewRunes         = 50
	defaultFanoutTimeout = 10 * time.Second
)

// Notification previews for messages without text.
const (
	PreviewMedia    = "Sent a file"
	PreviewLocation = "Shared location"
	PreviewListing  = "Shared a listing"
)

// pusher delivers an event to an identity's personal channel if it is online.
type pusher interface {
	PushToIdentity(ctx context.Context, identity string, ev *Event) (bool, error)
}

// FanoutReport summarizes one dispatch.
type FanoutReport struct {
	Recipients int
	Persisted  int
	Pushed     int
	Failed     int
}

// Fanout creates per-recipient notifications for new messages.
type Fanout struct {
	store   store.NotificationStore
	push    pusher
	timeout time.Duration
	logger  *zerolog.Logger
	metrics *Metrics
}

// NewFanout wires a fanout.
func NewFanout(st store.NotificationStore, push pusher, timeout time.Duration, logger *zerolog.Logger, metrics *Metrics) *Fanout {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if timeout <= 0 {
		timeout = defaultFanoutTimeout
	}
	return &Fanout{store: st, push: push, timeout: timeout, logger: logger, metrics: metrics}
}

// DispatchAsync runs Dispatch in the background on its own deadline.
func (f *Fanout) DispatchAsync(sender string, conv *store.Conversation, msg *store.Message) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		f.Dispatch(ctx, sender, conv, msg)
	}()
}

// Dispatch notifies every participant except the sender. Recipients are
// handled independently: one failing never affects the others, and nothing
// propagates to the caller beyond the report.
func (f *Fanout) Dispatch(ctx context.Context, sender string, conv *store.Conversation, msg *store.Message) FanoutReport {
	recipients := lo.Without(conv.Participants, sender)
	report := FanoutReport{Recipients: len(recipients)}
	content := Preview(msg)

	var persisted, pushed, failed atomic.Int64
	var wg conc.WaitGroup
	for _, recipient := range recipients {
		wg.Go(func() {
			ok, online, err := f.notify(ctx, recipient, sender, conv.ID, content)
			switch {
			case err != nil:
				failed.Add(1)
				f.metrics.FanoutFailures.Inc()
				f.logger.Error().Err(err).Str("conversation_id", conv.ID).Str("recipient", recipient).Msg("notification fanout failed")
			case ok:
				persisted.Add(1)
				if online {
					pushed.Add(1)
				}
			}
		})
	}
	if recovered := wg.WaitAndRecover(); recovered != nil {
		failed.Add(1)
		f.metrics.FanoutFailures.Inc()
		f.logger.Error().Str("panic", fmt.Sprint(recovered.Value)).Str("conversation_id", conv.ID).Msg("notification fanout panicked")
	}

	report.Persisted = int(persisted.Load())
	report.Pushed = int(pushed.Load())
	report.Failed = int(failed.Load())
	return report
}

func (f *Fanout) notify(ctx context.Context, recipient, sender, conversationID, content string) (persisted, online bool, err error) {
	n := &store.Notification{
		RecipientID: recipient,
		SenderID:    sender,
		Type:        store.NotificationMessage,
		Content:     content,
		Ref:         store.ConversationRef(conversationID),
	}
	if err := f.store.CreateNotification(ctx, n); err != nil {
		return false, false, fmt.Errorf("create notification: %w", err)
	}
	f.metrics.NotificationsCreated.Inc()

	online, err = f.push.PushToIdentity(ctx, recipient, &Event{
		Kind:           EventNotificationCreated,
		ConversationID: conversationID,
		Notification:   n,
	})
	if err != nil {
		// Persisted but not pushed: the recipient sees it on next fetch.
		f.logger.Warn().Err(err).Str("recipient", recipient).Msg("notification push failed")
		return true, false, nil
	}
	return true, online, nil
}

// Preview builds the notification text for a message.
func Preview(msg *store.Message) string {
	if strings.TrimSpace(msg.Text) != "" {
		runes := []rune(msg.Text)
		if len(runes) > previewRunes {
			return string(runes[:previewRunes]) + "..."
		}
		return msg.Text
	}
	switch {
	case len(msg.Media) > 0:
		return PreviewMedia
	case msg.Location != nil:
		return PreviewLocation
	default:
		return PreviewListing
	}
}
