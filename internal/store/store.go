// Package store persists raw configuration documents outside the process:
// the last-known-good cache written by the sync pipeline and the bootstrap
// documents read by offline clients and fallback modes. Stored bytes are
// always the document wire format, never compiled snapshots.
package store

import "errors"

// ErrNoDocument is returned by Load when nothing has been stored yet.
var ErrNoDocument = errors.New("no document stored")

// Source reads a stored configuration document.
type Source interface {
	// Load returns the stored document bytes.
	Load() ([]byte, error)
}

// Sink writes a configuration document.
type Sink interface {
	// Save replaces the stored document. Implementations must never leave
	// a partially written document visible to Load.
	Save(data []byte) error
}
