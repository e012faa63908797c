// Package id provides unique ID generation utilities.
//
//   - UUID: random v4, used for indexed document ids
//   - ULID: lexicographically sortable, used for ingestion run ids and request ids
//
// Usage:
//
//	docID := id.NewUUID() // e.g., "550e8400-e29b-41d4-a716-446655440000"
//	runID := id.NewULID() // e.g., "01ARZ3NDEKTSV4RRFFQ69G5FAV"
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewUUID generates a new UUID v4 string.
func NewUUID() string {
	return uuid.NewString()
}

// NewULID generates a new ULID string. IDs created within the same
// millisecond are strictly increasing.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ParseUUID validates s as a UUID.
func ParseUUID(s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidUUID, s)
	}
	return u, nil
}

// ULIDTime returns the timestamp encoded in a ULID string.
func ULIDTime(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidULID, s)
	}
	return ulid.Time(u.Time()), nil
}
