package core

// Room groups clients subscribed to the same channel.
type Room struct {
	Channel string
	clients map[*Client]struct{}
}

// NewRoom constructs a room with no clients.
func NewRoom(channel string) *Room {
	return &Room{
		Channel: channel,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// Has reports whether c is in the room.
func (r *Room) Has(c *Client) bool {
	_, ok := r.clients[c]
	return ok
}

// Broadcast sends an event to every client in the room except exclude and
// returns how many received it and how many were dropped as slow consumers.
func (r *Room) Broadcast(event *Event, exclude *Client) (delivered, dropped int) {
	for client := range r.clients {
		if client == exclude {
			continue
		}
		if client.deliver(event) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// Len returns the number of clients in the room.
func (r *Room) Len() int {
	return len(r.clients)
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}
