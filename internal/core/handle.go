package core

import "github.com/google/uuid"

// NewHandle returns a fresh relay-scoped endpoint handle.
func NewHandle() string {
	return uuid.New().String()
}
