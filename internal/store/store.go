// Package store provides the durable key-value blob layer and the
// write-through profile collection built on top of it.
package store

import "errors"

// Namespace keys for the consultation blob store.
const (
	// KeyProfiles holds the serialized profile list (JSON array).
	KeyProfiles = "profiles"

	// KeyCurrentProfileID holds the selected profile id. Absent when
	// no profile is selected.
	KeyCurrentProfileID = "current_profile_id"
)

// ErrNotFound indicates the requested profile does not exist.
var ErrNotFound = errors.New("store: profile not found")

// BlobStore is a named key-value namespace of string blobs.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)

	// Set writes the value for key, replacing any previous value.
	Set(key, value string) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(key string) error

	// Close releases any underlying resources.
	Close() error
}
