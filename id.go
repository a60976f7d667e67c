package sandbox

import "github.com/google/uuid"

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// Session IDs sort by creation time, which keeps container names and debug
// logs chronological.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
