// Package idx mints request ids: ULIDs, so log lines sort by arrival.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestID identifies one inbound request in logs.
type RequestID string

var ErrInvalid = errors.New("idx: invalid request id")

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a request id for the current time.
func New() RequestID {
	return NewAt(time.Now().UTC())
}

// NewAt returns a request id stamped with t.
func NewAt(t time.Time) RequestID {
	mu.Lock()
	defer mu.Unlock()
	return RequestID(ulid.MustNew(ulid.Timestamp(t), entropy).String())
}

// Parse accepts only canonical ULIDs.
func Parse(s string) (RequestID, error) {
	s = strings.TrimSpace(s)
	if _, err := ulid.ParseStrict(s); err != nil {
		return "", ErrInvalid
	}
	return RequestID(s), nil
}

// FromHeader reuses a caller-supplied id when it is a valid ULID and
// mints a fresh one otherwise, so clients cannot inject arbitrary text
// into logs.
func FromHeader(v string) RequestID {
	if id, err := Parse(v); err == nil {
		return id
	}
	return New()
}

func (id RequestID) String() string { return string(id) }

// Time returns when the id was minted, or the zero time for invalid ids.
func (id RequestID) Time() time.Time {
	u, err := ulid.ParseStrict(string(id))
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}
