// Package uuid generates unique identifiers for published events.
package uuid

import "github.com/google/uuid"

// Generator implements comic.IDGenerator using random UUIDs.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a new random UUID string.
func (Generator) NewID() string {
	return uuid.NewString()
}
