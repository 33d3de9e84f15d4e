// Package claims implements session claims: named facts stored in the
// access-token payload, each refetchable and checkable on its own.
//
// A claim owns exactly one top-level payload key and stores its value as
//
//	{"<key>": {"v": <value>, "t": <last refetch, epoch ms>}}
package claims

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
)

// Payload is the access-token payload claims read from and write to.
type Payload = jwtx.Payload

// Claim is the type-erased view the session engine works with.
type Claim interface {
	Key() string

	// FetchValue loads the current value. ok is false when the user has no
	// value, in which case nothing is written to the payload.
	FetchValue(ctx context.Context, userID, recipeUserID, tenantID string, payload Payload) (value any, ok bool, err error)

	// Build fetches the value and returns the patch to merge into a new
	// session's payload. The patch is empty when there is no value.
	Build(ctx context.Context, userID, recipeUserID, tenantID string, payload Payload) (Payload, error)

	// AddToPayload returns a copy of payload with value stored under Key.
	AddToPayload(payload Payload, value any) Payload

	// RemoveFromPayload returns a copy of payload without Key.
	RemoveFromPayload(payload Payload) Payload

	// RemoveFromPayloadByMerge returns a copy with Key set to null, the
	// tombstone a server-side merge reads as "delete".
	RemoveFromPayloadByMerge(payload Payload) Payload

	GetValueFromPayload(payload Payload) (any, bool)
	GetLastRefetchTime(payload Payload) (time.Time, bool)
}

// FetchFunc loads a claim value for a user.
type FetchFunc[T any] func(ctx context.Context, userID, recipeUserID, tenantID string, payload Payload) (T, bool, error)

// ClaimOption configures a claim.
type ClaimOption func(*claimConfig)

type claimConfig struct {
	defaultMaxAge time.Duration
	now           func() time.Time
}

// WithDefaultMaxAge sets the max age validators use when not given one.
// Zero means values never go stale.
func WithDefaultMaxAge(d time.Duration) ClaimOption {
	return func(c *claimConfig) { c.defaultMaxAge = d }
}

// WithClock overrides the time source, mostly for tests.
func WithClock(now func() time.Time) ClaimOption {
	return func(c *claimConfig) { c.now = now }
}

// base holds storage logic shared by every built-in claim shape.
type base[T any] struct {
	key   string
	fetch FetchFunc[T]
	cfg   claimConfig
}

func newBase[T any](key string, fetch FetchFunc[T], opts []ClaimOption) base[T] {
	cfg := claimConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return base[T]{key: key, fetch: fetch, cfg: cfg}
}

func (b base[T]) Key() string { return b.key }

func (b base[T]) FetchValue(ctx context.Context, userID, recipeUserID, tenantID string, payload Payload) (any, bool, error) {
	v, ok, err := b.fetch(ctx, userID, recipeUserID, tenantID, payload)
	if err != nil || !ok {
		return nil, false, err
	}
	return v, true, nil
}

func (b base[T]) Build(ctx context.Context, userID, recipeUserID, tenantID string, payload Payload) (Payload, error) {
	v, ok, err := b.FetchValue(ctx, userID, recipeUserID, tenantID, payload)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Payload{}, nil
	}
	return b.AddToPayload(Payload{}, v), nil
}

func (b base[T]) AddToPayload(payload Payload, value any) Payload {
	out := shallow(payload)
	out[b.key] = map[string]any{
		"v": value,
		"t": b.cfg.now().UnixMilli(),
	}
	return out
}

func (b base[T]) RemoveFromPayload(payload Payload) Payload {
	out := shallow(payload)
	delete(out, b.key)
	return out
}

func (b base[T]) RemoveFromPayloadByMerge(payload Payload) Payload {
	out := shallow(payload)
	out[b.key] = nil
	return out
}

func (b base[T]) GetValueFromPayload(payload Payload) (any, bool) {
	e, ok := b.entry(payload)
	if !ok {
		return nil, false
	}
	v, ok := e["v"]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// GetValue returns the stored value as T.
func (b base[T]) GetValue(payload Payload) (T, bool) {
	v, ok := b.GetValueFromPayload(payload)
	if !ok {
		var zero T
		return zero, false
	}
	return convert[T](v)
}

func (b base[T]) GetLastRefetchTime(payload Payload) (time.Time, bool) {
	e, ok := b.entry(payload)
	if !ok {
		return time.Time{}, false
	}
	ms, ok := Payload(e).Number("t")
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)), true
}

func (b base[T]) entry(payload Payload) (map[string]any, bool) {
	switch e := payload[b.key].(type) {
	case map[string]any:
		return e, true
	case Payload:
		return e, true
	default:
		return nil, false
	}
}

// stale reports whether the stored value is older than maxAge. A zero
// maxAge never goes stale.
func (b base[T]) stale(payload Payload, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	t, ok := b.GetLastRefetchTime(payload)
	return !ok || t.Before(b.cfg.now().Add(-maxAge))
}

// age returns the whole seconds since the last refetch.
func (b base[T]) age(payload Payload) int64 {
	t, _ := b.GetLastRefetchTime(payload)
	return int64(b.cfg.now().Sub(t) / time.Second)
}

func (b base[T]) maxAge(o validatorConfig) time.Duration {
	if o.maxAgeSet {
		return o.maxAge
	}
	return b.cfg.defaultMaxAge
}

func (b base[T]) id(o validatorConfig) string {
	if o.id != "" {
		return o.id
	}
	return b.key
}

func shallow(p Payload) Payload {
	out := maps.Clone(p)
	if out == nil {
		out = Payload{}
	}
	return out
}

// convert reads a decoded JSON value as T. Values that came off the wire
// are float64/[]any/map[string]any, so anything that is not already a T is
// re-marshalled.
func convert[T any](v any) (T, bool) {
	var out T
	if t, ok := v.(T); ok {
		return t, true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, false
	}
	return out, true
}
