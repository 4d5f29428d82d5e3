package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/marketwire/internal/auth"
	"github.com/vovakirdan/marketwire/internal/config"
	"github.com/vovakirdan/marketwire/internal/core"
	"github.com/vovakirdan/marketwire/internal/proto"
	"github.com/vovakirdan/marketwire/internal/utils"
)

var (
	errMalformedFrame = errors.New("malformed frame")
	errEvicted        = errors.New("connection evicted")
)

// WSHandler authenticates, upgrades and bridges connections to core.Client.
type WSHandler struct {
	hub  *core.Hub
	auth *auth.Service
	cfg  *config.Config
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, auth: authService, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	identity, err := h.auth.Verify(r.Context(), bearerToken(r))
	if err != nil {
		status, body := authFailure(err)
		if auth.IsAuthError(err) {
			h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("ws handshake rejected")
		} else {
			h.log.Error().Err(err).Str("remote", r.RemoteAddr).Msg("ws handshake failed")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.cfg.AllowedOrigins,
		InsecureSkipVerify: len(h.cfg.AllowedOrigins) == 0,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := core.NewClient(utils.NewID(), identity.ID, h.hub.ClientBuffer())
	logger := h.log.With().Str("client_id", client.ID).Str("identity", identity.ID).Logger()
	if err := h.hub.RegisterClient(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("register client")
		conn.Close(websocket.StatusTryAgainLater, "server shutting down")
		return
	}
	defer h.hub.UnregisterClient(client)

	errCh := make(chan error, 3)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &logger)
	}()
	go func() {
		errCh <- h.pingLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the others
	<-errCh
	<-errCh

	status, reason := closeStatus(err)
	if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
		logger.Warn().Err(err).Msg("ws connection closed with error")
	}
	conn.Close(status, reason)
}

func closeStatus(err error) (websocket.StatusCode, string) {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		return websocket.StatusNormalClosure, "closing"
	case errors.Is(err, errMalformedFrame):
		return websocket.StatusUnsupportedData, "malformed frame"
	case errors.Is(err, errEvicted):
		return websocket.StatusGoingAway, "connection evicted"
	}
	switch s := websocket.CloseStatus(err); s {
	case -1:
		return websocket.StatusInternalError, "internal error"
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return s, "closing"
	case websocket.StatusMessageTooBig:
		return s, "message too big"
	default:
		return s, "closing"
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	limiter := newRateLimiter(h.cfg.RateLimitPerMinute)
	for {
		typ, payload, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		client.Touch()
		if typ != websocket.MessageText {
			return fmt.Errorf("%w: binary frame", errMalformedFrame)
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(payload, &inbound); err != nil {
			logger.Debug().Err(err).Msg("unparseable inbound frame")
			return fmt.Errorf("%w: %v", errMalformedFrame, err)
		}

		if !limiter.allow() {
			if err := writeError(ctx, conn, core.ErrCodeRateLimited, "too many messages"); err != nil {
				return err
			}
			continue
		}

		cmd, protoErr, err := inboundToCommand(inbound)
		if err != nil {
			logger.Debug().Err(err).Str("type", inbound.Type).Msg("failed to map inbound")
			return fmt.Errorf("%w: %v", errMalformedFrame, err)
		}
		if protoErr != nil {
			if err := writeError(ctx, conn, protoErr.Code, protoErr.Msg); err != nil {
				return err
			}
			continue
		}
		if err := client.Submit(ctx, cmd); err != nil {
			if errors.Is(err, core.ErrClientClosed) {
				return errEvicted
			}
			return err
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	for {
		select {
		case event := <-client.Events:
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				logger.Debug().Err(err).Msg("write ws event")
				return err
			}
		case <-client.Done():
			return errEvicted
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pingLoop refreshes the client's liveness each time a pong comes back.
func (h *WSHandler) pingLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	interval := h.cfg.HeartbeatInterval
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			err := conn.Ping(pingCtx)
			cancel()
			if err == nil {
				client.Touch()
			}
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, code, msg string) error {
	return wsjson.Write(ctx, conn, proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: code, Msg: msg},
	})
}
