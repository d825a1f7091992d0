package protocol

import "github.com/google/uuid"

// NewSessionID returns a random identifier for one realtime connection.
func NewSessionID() string {
	return uuid.NewString()
}
