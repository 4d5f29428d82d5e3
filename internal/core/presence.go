package core

import (
	"sort"
)

// Presence maps each online identity to its current connection id.
// It is not safe for concurrent use; the hub loop is its only writer.
type Presence struct {
	current map[string]string
}

// NewPresence constructs an empty registry.
func NewPresence() *Presence {
	return &Presence{current: make(map[string]string)}
}

// Register records connID as the current connection of identity,
// overwriting any earlier one.
func (p *Presence) Register(identity, connID string) {
	p.current[identity] = connID
}

// Unregister removes identity only while connID is still its current
// connection, so a late disconnect of a replaced connection cannot erase the
// newer one. Returns true if the identity went offline.
func (p *Presence) Unregister(identity, connID string) bool {
	if current, ok := p.current[identity]; !ok || current != connID {
		return false
	}
	delete(p.current, identity)
	return true
}

// IsOnline reports whether identity has a registered connection.
func (p *Presence) IsOnline(identity string) bool {
	_, ok := p.current[identity]
	return ok
}

// Current returns the registered connection id for identity.
func (p *Presence) Current(identity string) (string, bool) {
	id, ok := p.current[identity]
	return id, ok
}

// Snapshot returns the online identities in sorted order.
func (p *Presence) Snapshot() []string {
	out := make([]string, 0, len(p.current))
	for identity := range p.current {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of online identities.
func (p *Presence) Len() int {
	return len(p.current)
}
