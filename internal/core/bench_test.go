package core

import (
	"context"
	"fmt"
	"testing"
)

func benchmarkConversationBroadcast(b *testing.B, recipients int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, Options{})
	go hub.Run(ctx)

	channel := ConversationChannel("bench")
	register := func(c *Client) {
		if err := hub.RegisterClient(ctx, c); err != nil {
			b.Fatal(err)
		}
		if err := hub.Join(ctx, c, channel); err != nil {
			b.Fatal(err)
		}
	}

	sender := NewClient("sender", "sender", 0)
	register(sender)

	clients := make([]*Client, 0, recipients)
	for i := range recipients {
		c := NewClient(fmt.Sprintf("c%d", i), fmt.Sprintf("user%d", i), 0)
		register(c)
		clients = append(clients, c)
	}

	// Drain events for all but the first recipient to avoid dropped deliveries.
	target := clients[0]
	for _, c := range clients[1:] {
		go func(cl *Client) {
			for range cl.Events {
			}
		}(c)
	}
	drain(target.Events)

	ev := &Event{Kind: EventUserTyping, ConversationID: "bench", Identity: "sender"}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := hub.Broadcast(ctx, channel, ev, sender); err != nil {
			b.Fatal(err)
		}
		<-target.Events
	}
}

func BenchmarkConversationBroadcast_10(b *testing.B)  { benchmarkConversationBroadcast(b, 10) }
func BenchmarkConversationBroadcast_100(b *testing.B) { benchmarkConversationBroadcast(b, 100) }
func BenchmarkConversationBroadcast_500(b *testing.B) { benchmarkConversationBroadcast(b, 500) }
