// Package chunkid generates identifiers for spilled chunk files.
package chunkid

import (
	"fmt"

	"github.com/google/uuid"
)

// Source hands out chunk identifiers. Every returned id must be distinct for
// the lifetime of the buffer directory.
type Source interface {
	Next() (string, error)
}

// UUIDv7 returns time-ordered UUIDs, so ids sort in creation order within a
// process.
type UUIDv7 struct{}

// Next implements Source.
func (UUIDv7) Next() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate chunk id: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether name looks like an id produced by UUIDv7.
func Valid(name string) bool {
	id, err := uuid.Parse(name)
	if err != nil {
		return false
	}
	return id.Version() == 7 && len(name) == 36
}
