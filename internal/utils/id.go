package utils

import "github.com/google/uuid"

// NewID returns a random UUIDv4 string used for connections, conversations,
// messages and notifications.
func NewID() string {
	return uuid.NewString()
}
