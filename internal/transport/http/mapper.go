package http

import (
	"encoding/json"

	"github.com/samber/lo"

	"github.com/vovakirdan/marketwire/internal/core"
	"github.com/vovakirdan/marketwire/internal/proto"
	"github.com/vovakirdan/marketwire/internal/store"
)

// inboundToCommand maps a client envelope to a core command. A non-nil error
// means the frame was malformed and the connection should be closed; a
// protocol error is reported to the client and the connection stays open.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeJoinConversation, proto.InboundTypeMarkRead, proto.InboundTypeTypingStart, proto.InboundTypeTypingStop:
		var data proto.ConversationData
		if err := decodeData(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		if data.ConversationID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "conversationId is required"}, nil
		}
		return &core.Command{
			Kind:           conversationCommands[inbound.Type],
			ConversationID: data.ConversationID,
		}, nil, nil
	case proto.InboundTypeSendMessage:
		var data proto.SendMessageData
		if err := decodeData(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		return &core.Command{
			Kind: core.CommandSendMessage,
			Send: sendRequestFromProto(data),
		}, nil, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeUnknownType, Msg: "unknown message type"}, nil
	}
}

var conversationCommands = map[string]core.CommandKind{
	proto.InboundTypeJoinConversation: core.CommandJoinConversation,
	proto.InboundTypeMarkRead:         core.CommandMarkRead,
	proto.InboundTypeTypingStart:      core.CommandTypingStart,
	proto.InboundTypeTypingStop:       core.CommandTypingStop,
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func sendRequestFromProto(data proto.SendMessageData) *core.SendRequest {
	req := &core.SendRequest{
		RequestID:      data.RequestID,
		ConversationID: data.ConversationID,
		ParticipantIDs: data.ParticipantIDs,
		Text:           data.Text,
		ListingID:      data.ListingRef,
		Media: lo.Map(data.Media, func(m proto.Media, _ int) core.MediaInput {
			return core.MediaInput{URL: m.URL, Kind: m.Kind}
		}),
	}
	if data.Location != nil {
		req.Location = &core.LocationInput{Lat: data.Location.Lat, Lng: data.Location.Lng, Address: data.Location.Address}
	}
	return req
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	out := proto.Outbound{Type: proto.OutboundTypeEvent, Event: event.Kind.String()}
	switch event.Kind {
	case core.EventConnectedAck:
		out.Data = proto.EventConnectedAck{ConnectionID: event.ConnectionID, UserID: event.Identity}
	case core.EventPresenceOnline, core.EventPresenceOffline:
		out.Data = proto.EventPresence{UserID: event.Identity}
	case core.EventPresenceSnapshot:
		out.Data = proto.EventPresenceSnapshot{UserIDs: lo.Ternary(event.Identities == nil, []string{}, event.Identities)}
	case core.EventMessageReceived:
		out.Data = messageToProto(&event.Message.Message, event.Message.Listing)
	case core.EventMessageAck:
		out.Data = proto.EventMessageAck{
			RequestID:      event.Ack.RequestID,
			ConversationID: event.Ack.ConversationID,
			MessageID:      event.Ack.MessageID,
			Created:        event.Ack.Created,
		}
	case core.EventNotificationCreated:
		out.Data = notificationToProto(event.Notification)
	case core.EventReadReceipt:
		out.Data = proto.EventReadReceipt{ConversationID: event.ConversationID, ReaderID: event.Identity}
	case core.EventUserTyping, core.EventUserStopTyping:
		out.Data = proto.EventTyping{ConversationID: event.ConversationID, UserID: event.Identity}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	}
	return out
}

func messageToProto(msg *store.Message, listing *store.ListingSummary) proto.EventMessage {
	out := proto.EventMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         msg.SenderID,
		Text:           msg.Text,
		Media: lo.Map(msg.Media, func(m store.Media, _ int) proto.Media {
			return proto.Media{URL: m.URL, Kind: string(m.Kind)}
		}),
		ListingRef: msg.ListingID,
		Read:       msg.Read,
		TS:         msg.CreatedAt.Unix(),
	}
	if msg.Location != nil {
		out.Location = &proto.Location{Lat: msg.Location.Lat, Lng: msg.Location.Lng, Address: msg.Location.Address}
	}
	if listing != nil {
		out.Listing = &proto.Listing{
			ID:    listing.ID,
			Title: listing.Title,
			Author: proto.ListingAuthor{
				Name:     listing.Author.Name,
				PhotoURL: listing.Author.PhotoURL,
				IsBroker: listing.Author.IsBroker,
			},
		}
	}
	return out
}

func notificationToProto(n *store.Notification) proto.EventNotification {
	return proto.EventNotification{
		ID:        n.ID,
		Recipient: n.RecipientID,
		Sender:    n.SenderID,
		Type:      string(n.Type),
		Content:   n.Content,
		Ref:       proto.Ref{Kind: string(n.Ref.Kind), ID: n.Ref.ID},
		IsRead:    n.IsRead,
		TS:        n.CreatedAt.Unix(),
	}
}
