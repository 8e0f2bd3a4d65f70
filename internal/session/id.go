package session

import "github.com/google/uuid"

// NewID returns a random (version 4) UUID string used as a session ID.
func NewID() string {
	return uuid.NewString()
}
