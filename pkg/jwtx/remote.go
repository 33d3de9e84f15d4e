package jwtx

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var ErrKeyFetch = errors.New("jwtx: could not fetch JWKS from any source")

const (
	DefaultJWKSCooldown = 500 * time.Millisecond
	DefaultJWKSMaxAge   = 60 * time.Second
)

// RemoteKeySetOptions configures NewRemoteKeySet.
type RemoteKeySetOptions struct {
	// URLs are JWKS endpoints, one per authority instance.
	URLs []string

	// HTTPClient bounds every fetch. Defaults to a client with a 10s timeout.
	HTTPClient *http.Client

	// Cooldown is the minimum gap between fetches triggered by a cache miss.
	Cooldown time.Duration

	// MaxAge is how long a fetched set is trusted before a hit also refetches.
	MaxAge time.Duration

	// OnFetch, when set, is called after every attempt against one source.
	OnFetch func(url string, err error)

	// Now overrides the clock in tests.
	Now func() time.Time
}

// RemoteKeySet is a process-wide cache of the authority's signing keys.
// Concurrent misses share one in-flight fetch.
type RemoteKeySet struct {
	opts  RemoteKeySetOptions
	keys  *KeySet
	group singleflight.Group

	mu        sync.Mutex
	lastFetch time.Time // last attempt that reached the fetch loop
	fetchedAt time.Time // last successful fetch
	healthy   int       // index of the source that last answered
}

// NewRemoteKeySet returns an empty cache over the given sources.
func NewRemoteKeySet(opts RemoteKeySetOptions) *RemoteKeySet {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultJWKSCooldown
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultJWKSMaxAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RemoteKeySet{opts: opts, keys: NewKeySet()}
}

// MaxAge reports how long a fetched key set is trusted.
func (r *RemoteKeySet) MaxAge() time.Duration { return r.opts.MaxAge }

// Get returns the key for kid, fetching the JWKS on a miss or when the
// cached set is older than MaxAge. A kid that is still unknown after a
// fetch yields ErrNoKey.
func (r *RemoteKeySet) Get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if !r.stale() {
		if key, err := r.keys.Get(kid); err == nil {
			return key, nil
		}
	}
	if err := r.refresh(ctx); err != nil {
		return nil, err
	}
	return r.keys.Get(kid)
}

// StaticKeys returns the cached static keys, loading the set first if it
// is empty or stale.
func (r *RemoteKeySet) StaticKeys(ctx context.Context) ([]*rsa.PublicKey, error) {
	if r.stale() {
		if err := r.refresh(ctx); err != nil {
			return nil, err
		}
	}
	return r.keys.StaticKeys(), nil
}

// Invalidate drops every cached key. The next lookup fetches regardless of
// the cooldown.
func (r *RemoteKeySet) Invalidate() {
	r.mu.Lock()
	r.lastFetch = time.Time{}
	r.fetchedAt = time.Time{}
	r.mu.Unlock()
	r.keys.Clear()
}

func (r *RemoteKeySet) stale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetchedAt.IsZero() || r.opts.Now().Sub(r.fetchedAt) > r.opts.MaxAge
}

// refresh coalesces callers onto one fetch. The fetch runs detached from
// any single caller's cancellation so one aborted request cannot fail the
// others waiting on it.
func (r *RemoteKeySet) refresh(ctx context.Context) error {
	ch := r.group.DoChan("jwks", func() (any, error) {
		return nil, r.fetch(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RemoteKeySet) fetch(ctx context.Context) error {
	r.mu.Lock()
	now := r.opts.Now()
	fresh := !r.fetchedAt.IsZero() && now.Sub(r.fetchedAt) <= r.opts.MaxAge
	if fresh && now.Sub(r.lastFetch) < r.opts.Cooldown {
		r.mu.Unlock()
		return nil
	}
	r.lastFetch = now
	start := r.healthy
	r.mu.Unlock()

	n := len(r.opts.URLs)
	if n == 0 {
		return fmt.Errorf("%w: no sources configured", ErrKeyFetch)
	}

	var lastErr error
	for i := range n {
		idx := (start + i) % n
		jwks, err := r.fetchOne(ctx, r.opts.URLs[idx])
		if r.opts.OnFetch != nil {
			r.opts.OnFetch(r.opts.URLs[idx], err)
		}
		if err != nil {
			lastErr = err
			continue
		}
		if err := r.keys.ResetFromJWKS(jwks); err != nil {
			lastErr = err
			continue
		}
		r.mu.Lock()
		r.healthy = idx
		r.fetchedAt = r.opts.Now()
		r.mu.Unlock()
		return nil
	}
	return fmt.Errorf("%w: %v", ErrKeyFetch, lastErr)
}

func (r *RemoteKeySet) fetchOne(ctx context.Context, url string) (JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return JWKS{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.opts.HTTPClient.Do(req)
	if err != nil {
		return JWKS{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return JWKS{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return JWKS{}, fmt.Errorf("jwks %s: unexpected status %d", url, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.Unmarshal(body, &jwks); err != nil {
		return JWKS{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return jwks, nil
}
