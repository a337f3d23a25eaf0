package util

import "github.com/google/uuid"

// NewID returns a random UUIDv4 string used as a job identifier.
func NewID() string {
	return uuid.NewString()
}

// ShortID returns the first segment of a UUID, used in generated titles.
func ShortID(id string) string {
	if len(id) < 8 {
		return id
	}
	return id[:8]
}
