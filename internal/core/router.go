package core

const (
	personalPrefix     = "user:"
	conversationPrefix = "conv:"
)

// PersonalChannel names the channel every connection of identity joins.
func PersonalChannel(identity string) string {
	return personalPrefix + identity
}

// ConversationChannel names the channel of a conversation.
func ConversationChannel(conversationID string) string {
	return conversationPrefix + conversationID
}

// Router tracks in-memory channel membership. Like Presence it is owned by
// the hub loop and not safe for concurrent use.
type Router struct {
	rooms map[string]*Room
}

// NewRouter constructs an empty router.
func NewRouter() *Router {
	return &Router{rooms: make(map[string]*Room)}
}

// Join adds c to channel. Joining twice is a no-op; returns true if newly joined.
func (r *Router) Join(c *Client, channel string) bool {
	room, ok := r.rooms[channel]
	if !ok {
		room = NewRoom(channel)
		r.rooms[channel] = room
	}
	if !room.AddClient(c) {
		return false
	}
	c.rooms[channel] = struct{}{}
	return true
}

// Leave removes c from channel, dropping the room once empty.
func (r *Router) Leave(c *Client, channel string) bool {
	room, ok := r.rooms[channel]
	if !ok {
		return false
	}
	removed := room.RemoveClient(c)
	delete(c.rooms, channel)
	if room.Empty() {
		delete(r.rooms, channel)
	}
	return removed
}

// LeaveAll removes c from every channel it joined.
func (r *Router) LeaveAll(c *Client) {
	for channel := range c.rooms {
		r.Leave(c, channel)
	}
}

// Joined reports whether c is a member of channel.
func (r *Router) Joined(c *Client, channel string) bool {
	room, ok := r.rooms[channel]
	return ok && room.Has(c)
}

// Broadcast delivers event to every member of channel except exclude.
func (r *Router) Broadcast(channel string, event *Event, exclude *Client) (delivered, dropped int) {
	room, ok := r.rooms[channel]
	if !ok {
		return 0, 0
	}
	return room.Broadcast(event, exclude)
}

// Members returns the number of connections joined to channel.
func (r *Router) Members(channel string) int {
	if room, ok := r.rooms[channel]; ok {
		return room.Len()
	}
	return 0
}

// Channels returns the number of live rooms.
func (r *Router) Channels() int {
	return len(r.rooms)
}
