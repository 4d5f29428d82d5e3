package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/marketwire/internal/auth"
	"github.com/vovakirdan/marketwire/internal/config"
	"github.com/vovakirdan/marketwire/internal/core"
	"github.com/vovakirdan/marketwire/internal/proto"
	"github.com/vovakirdan/marketwire/internal/store"
	"github.com/vovakirdan/marketwire/internal/store/sqlite"
)

const testSecret = "test-secret"

// createTestStore creates an in-memory SQLite store with schema and a few
// marketplace users applied.
func createTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", func(db *sql.DB) error {
		if _, err := db.Exec(sqlite.Schema); err != nil {
			return err
		}
		_, err := db.Exec(`
			INSERT INTO users (id, name, photo_url, is_broker) VALUES
				('alice', 'Alice', '', 0),
				('bob', 'Bob', '', 1),
				('carol', 'Carol', '', 0);
			INSERT INTO listings (id, title, author_id) VALUES ('flat-1', 'Two room flat', 'bob');
		`)
		return err
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return st
}

func testJWTConfig() *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(testSecret),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}
}

type testEnv struct {
	ts    *httptest.Server
	hub   *core.Hub
	auth  *auth.Service
	store store.Store
}

func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	st := createTestStore(t)
	authService := auth.NewService(st, testJWTConfig())
	disabledLogger := zerolog.New(nil)
	reg := prometheus.NewRegistry()

	hub := core.NewHub(st, core.Options{
		Logger:  &disabledLogger,
		Metrics: core.NewMetrics(reg),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	cfg := config.Default()
	cfg.JWTSecret = testSecret
	cfg.HeartbeatInterval = time.Second

	server := NewServer(hub, authService, st, reg, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, hub: hub, auth: authService, store: st}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()

	token, err := e.auth.IssueToken(context.Background(), userID)
	require.NoError(t, err, "issue token for %s", userID)
	return token
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
}

// dial connects as userID and waits for connected_ack.
func (e *testEnv) dial(ctx context.Context, t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, e.wsURL()+"?token="+e.token(t, userID), nil)
	require.NoError(t, err, "dial %s", userID)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	readEvent(ctx, t, conn, "connected_ack")
	return conn
}

type rawOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

// readEvent reads frames until one with the given event name arrives.
func readEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, event string) rawOutbound {
	t.Helper()

	for {
		var out rawOutbound
		require.NoError(t, wsjson.Read(ctx, conn, &out), "waiting for %s", event)
		if out.Event == event {
			return out
		}
	}
}

// readError reads frames until an error frame arrives.
func readError(ctx context.Context, t *testing.T, conn *websocket.Conn) *proto.Error {
	t.Helper()

	for {
		var out rawOutbound
		require.NoError(t, wsjson.Read(ctx, conn, &out), "waiting for error frame")
		if out.Type == proto.OutboundTypeError {
			return out.Error
		}
	}
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	require.NoError(t, err, "marshal %s", typ)
	require.NoError(t, wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}), "write %s", typ)
}
