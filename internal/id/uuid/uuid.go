// Package uuid generates request and session identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 identifiers.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewSession returns the raw bytes of a UUIDv7 for tagging progress events.
func (Generator) NewSession() ([16]byte, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return [16]byte{}, fmt.Errorf("generate session id: %w", err)
	}
	return id, nil
}

// FormatSession renders session bytes in canonical UUID form.
func FormatSession(session [16]byte) string {
	return uuid.UUID(session).String()
}
