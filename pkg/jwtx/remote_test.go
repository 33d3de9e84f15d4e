package jwtx_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
)

type jwksServer struct {
	*httptest.Server
	hits atomic.Int32
	fail atomic.Bool
}

func newJWKSServer(t *testing.T, km *jwtx.KeyManager, delay time.Duration) *jwksServer {
	t.Helper()
	s := &jwksServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if s.fail.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(km.KeySet.PublicJWKS())
	}))
	t.Cleanup(s.Close)
	return s
}

func TestRemoteKeySet_ConcurrentMissesShareOneFetch(t *testing.T) {
	km := newTestKeyManager(t)
	srv := newJWKSServer(t, km, 50*time.Millisecond)

	rks := jwtx.NewRemoteKeySet(jwtx.RemoteKeySetOptions{URLs: []string{srv.URL}})
	kid := km.GetSigner(false).KID()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rks.Get(context.Background(), kid)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), srv.hits.Load())
}

func TestRemoteKeySet_FailsOverToHealthySource(t *testing.T) {
	km := newTestKeyManager(t)
	down := newJWKSServer(t, km, 0)
	down.fail.Store(true)
	up := newJWKSServer(t, km, 0)

	var attempts []string
	rks := jwtx.NewRemoteKeySet(jwtx.RemoteKeySetOptions{
		URLs: []string{down.URL, up.URL},
		OnFetch: func(url string, err error) {
			attempts = append(attempts, url)
		},
	})

	key, err := rks.Get(context.Background(), km.GetSigner(false).KID())
	require.NoError(t, err)
	require.NotNil(t, key)
	require.Equal(t, []string{down.URL, up.URL}, attempts)

	// the healthy source is tried first next time
	rks.Invalidate()
	attempts = nil
	_, err = rks.Get(context.Background(), km.GetSigner(false).KID())
	require.NoError(t, err)
	require.Equal(t, []string{up.URL}, attempts)
}

func TestRemoteKeySet_AllSourcesDown(t *testing.T) {
	km := newTestKeyManager(t)
	a := newJWKSServer(t, km, 0)
	b := newJWKSServer(t, km, 0)
	a.fail.Store(true)
	b.fail.Store(true)

	rks := jwtx.NewRemoteKeySet(jwtx.RemoteKeySetOptions{URLs: []string{a.URL, b.URL}})
	_, err := rks.Get(context.Background(), "d-anything")
	require.ErrorIs(t, err, jwtx.ErrKeyFetch)
	require.Equal(t, int32(1), a.hits.Load())
	require.Equal(t, int32(1), b.hits.Load())
}

func TestRemoteKeySet_CooldownAndInvalidate(t *testing.T) {
	km := newTestKeyManager(t)
	srv := newJWKSServer(t, km, 0)

	now := time.Now()
	clock := func() time.Time { return now }
	rks := jwtx.NewRemoteKeySet(jwtx.RemoteKeySetOptions{URLs: []string{srv.URL}, Now: clock})

	ctx := context.Background()
	_, err := rks.Get(ctx, km.GetSigner(false).KID())
	require.NoError(t, err)
	require.Equal(t, int32(1), srv.hits.Load())

	// a key rotated in after the fetch is not visible within the cooldown
	rotated, err := km.Rotate()
	require.NoError(t, err)
	_, err = rks.Get(ctx, rotated.KID())
	require.ErrorIs(t, err, jwtx.ErrNoKey)
	require.Equal(t, int32(1), srv.hits.Load())

	// past the cooldown a miss refetches
	now = now.Add(time.Second)
	_, err = rks.Get(ctx, rotated.KID())
	require.NoError(t, err)
	require.Equal(t, int32(2), srv.hits.Load())

	// invalidation forces a fetch even inside the cooldown
	rks.Invalidate()
	_, err = rks.Get(ctx, rotated.KID())
	require.NoError(t, err)
	require.Equal(t, int32(3), srv.hits.Load())
}

func TestRemoteKeySet_MaxAgeRefetchesOnHit(t *testing.T) {
	km := newTestKeyManager(t)
	srv := newJWKSServer(t, km, 0)

	now := time.Now()
	rks := jwtx.NewRemoteKeySet(jwtx.RemoteKeySetOptions{
		URLs: []string{srv.URL},
		Now:  func() time.Time { return now },
	})
	kid := km.GetSigner(false).KID()

	_, err := rks.Get(context.Background(), kid)
	require.NoError(t, err)
	_, err = rks.Get(context.Background(), kid)
	require.NoError(t, err)
	require.Equal(t, int32(1), srv.hits.Load())

	now = now.Add(jwtx.DefaultJWKSMaxAge + time.Second)
	_, err = rks.Get(context.Background(), kid)
	require.NoError(t, err)
	require.Equal(t, int32(2), srv.hits.Load())
}

func TestRemoteKeySet_StaticKeys(t *testing.T) {
	km := newTestKeyManager(t)
	srv := newJWKSServer(t, km, 0)

	rks := jwtx.NewRemoteKeySet(jwtx.RemoteKeySetOptions{URLs: []string{srv.URL}})
	keys, err := rks.StaticKeys(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 1)
}
