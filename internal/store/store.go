// Package store implements named, versioned stores of cached HTTP
// responses. Each store holds one generation of the offline asset set;
// a Registry owns the full set of generations and lets the lifecycle
// manager create, enumerate and remove them by name.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

var (
	// ErrNotFound is returned when a key has no entry in the store.
	ErrNotFound = errors.New("store: entry not found")

	// ErrStoreClosed is returned when operations are attempted on a removed store.
	ErrStoreClosed = errors.New("store: store removed")
)

// Key identifies a cached response by request method and full URL.
// Only read-method requests are ever stored.
type Key struct {
	Method string
	URL    string
}

// Entry is one stored response. It is immutable once written and is
// overwritten only by a fresh fetch of the same key.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Size returns the approximate in-memory size of the entry in bytes.
func (e *Entry) Size() int64 {
	size := int64(len(e.Body))
	for k, vs := range e.Header {
		size += int64(len(k))
		for _, v := range vs {
			size += int64(len(v))
		}
	}
	return size
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (e *Entry) Clone() *Entry {
	body := make([]byte, len(e.Body))
	copy(body, e.Body)
	return &Entry{
		Status:   e.Status,
		Header:   e.Header.Clone(),
		Body:     body,
		StoredAt: e.StoredAt,
	}
}

// Store is one named generation of cached responses.
type Store interface {
	// Name returns the version name this store was opened under.
	Name() string

	// Get returns the entry for key, or ErrNotFound.
	Get(key Key) (*Entry, error)

	// Put writes or overwrites the entry for key.
	Put(key Key, entry *Entry) error

	// Len returns the number of entries currently stored.
	Len() int

	// Keys returns all keys currently stored, in unspecified order.
	Keys() []Key
}

// Registry owns the set of named stores.
type Registry interface {
	// Open returns the store named name, creating it if absent.
	Open(name string) (Store, error)

	// Names returns the names of all existing stores.
	Names() ([]string, error)

	// Remove deletes the store named name and all of its entries.
	// Removing a name that does not exist is not an error.
	Remove(name string) error

	// Rename moves the store named oldName to newName, replacing any
	// existing store of that name.
	Rename(oldName, newName string) error
}

// hash derives a stable filename-safe identifier for a key.
func (k Key) hash() string {
	h := sha256.New()
	h.Write([]byte(k.Method))
	h.Write([]byte{0})
	h.Write([]byte(k.URL))
	return hex.EncodeToString(h.Sum(nil))
}
