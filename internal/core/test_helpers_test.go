package core

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/marketwire/internal/store/sqlite"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// noEvent fails if an event of kind shows up within the window.
func noEvent(t *testing.T, ch <-chan *Event, kind EventKind, window time.Duration) {
	t.Helper()

	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected %v event: %+v", kind, ev)
			}
		case <-timer.C:
			return
		}
	}
}

func newTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()

	s, err := sqlite.NewWithSetup(":memory:", func(db *sql.DB) error {
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
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func startHub(t *testing.T, st Store, opts Options) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(st, opts)
	go hub.Run(ctx)
	return hub
}

// connect registers a client and waits for its connected_ack.
func connect(t *testing.T, hub *Hub, id, identity string) *Client {
	t.Helper()

	c := NewClient(id, identity, 0)
	require.NoError(t, hub.RegisterClient(context.Background(), c))
	ack := mustEvent(t, c.Events, EventConnectedAck)
	require.Equal(t, id, ack.ConnectionID)
	return c
}

func drain(ch <-chan *Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
