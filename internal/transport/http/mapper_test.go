package http

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/marketwire/internal/core"
	"github.com/vovakirdan/marketwire/internal/proto"
)

func TestInboundToCommandSendMessage(t *testing.T) {
	raw := `{"type":"send_message","data":{"requestId":"r1","participantIds":["bob"],"text":"hi",
		"media":[{"url":"https://cdn/1.jpg","kind":"image"}],"location":{"lat":1.5,"lng":2.5,"address":"Main St"},"listingRef":"flat-1"}}`
	var inbound proto.Inbound
	require.NoError(t, json.Unmarshal([]byte(raw), &inbound))

	cmd, perr, err := inboundToCommand(inbound)
	require.NoError(t, err)
	require.Nil(t, perr)
	require.Equal(t, core.CommandSendMessage, cmd.Kind)

	req := cmd.Send
	require.Equal(t, "r1", req.RequestID)
	require.Equal(t, "hi", req.Text)
	require.Equal(t, "flat-1", req.ListingID)
	require.Equal(t, []string{"bob"}, req.ParticipantIDs)
	require.Len(t, req.Media, 1)
	require.Equal(t, "image", req.Media[0].Kind)
	require.NotNil(t, req.Location)
	require.Equal(t, "Main St", req.Location.Address)
}

func TestInboundToCommandConversationTypes(t *testing.T) {
	cases := map[string]core.CommandKind{
		proto.InboundTypeJoinConversation: core.CommandJoinConversation,
		proto.InboundTypeMarkRead:         core.CommandMarkRead,
		proto.InboundTypeTypingStart:      core.CommandTypingStart,
		proto.InboundTypeTypingStop:       core.CommandTypingStop,
	}
	for typ, want := range cases {
		cmd, perr, err := inboundToCommand(proto.Inbound{Type: typ, Data: json.RawMessage(`{"conversationId":"c1"}`)})
		require.NoError(t, err, typ)
		require.Nil(t, perr, typ)
		require.Equal(t, want, cmd.Kind, typ)
		require.Equal(t, "c1", cmd.ConversationID, typ)
	}
}

func TestInboundToCommandErrors(t *testing.T) {
	_, perr, _ := inboundToCommand(proto.Inbound{Type: proto.InboundTypeMarkRead})
	require.NotNil(t, perr)
	require.Equal(t, core.ErrCodeBadRequest, perr.Code)

	_, perr, _ = inboundToCommand(proto.Inbound{Type: "hello"})
	require.NotNil(t, perr)
	require.Equal(t, core.ErrCodeUnknownType, perr.Code)

	_, _, err := inboundToCommand(proto.Inbound{Type: proto.InboundTypeSendMessage, Data: json.RawMessage(`{"text":42}`)})
	require.Error(t, err, "mistyped payload must not decode")
}

func TestOutboundFromEventError(t *testing.T) {
	out := outboundFromEvent(&core.Event{Kind: core.EventError, Error: &core.Error{Code: core.ErrCodeValidation, Message: "message is empty"}})
	require.Equal(t, proto.OutboundTypeError, out.Type)
	require.Equal(t, core.ErrCodeValidation, out.Error.Code)

	out = outboundFromEvent(&core.Event{Kind: core.EventPresenceSnapshot})
	require.Equal(t, "presence_snapshot", out.Event)
	snap, ok := out.Data.(proto.EventPresenceSnapshot)
	require.True(t, ok)
	require.NotNil(t, snap.UserIDs)
}
