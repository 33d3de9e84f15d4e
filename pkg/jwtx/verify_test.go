package jwtx_test

import (
	"context"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
)

func TestVerify_SignedTokens(t *testing.T) {
	km := newTestKeyManager(t)
	srv := newJWKSServer(t, km, 0)
	rks := jwtx.NewRemoteKeySet(jwtx.RemoteKeySetOptions{URLs: []string{srv.URL}})

	for _, v := range []jwtx.Version{jwtx.V3, jwtx.V4, jwtx.V5} {
		parsed, err := jwtx.Parse(signFor(t, km, v, payloadFor(v)))
		require.NoError(t, err)
		require.NoError(t, jwtx.Verify(context.Background(), parsed, rks))
	}

	// static key tokens verify through the same set
	tok, err := km.GetSigner(true).Sign(payloadFor(jwtx.V5), jwtx.V5)
	require.NoError(t, err)
	parsed, err := jwtx.Parse(tok)
	require.NoError(t, err)
	require.NoError(t, jwtx.Verify(context.Background(), parsed, rks))
}

func TestVerify_TamperedPayload(t *testing.T) {
	km := newTestKeyManager(t)
	srv := newJWKSServer(t, km, 0)
	rks := jwtx.NewRemoteKeySet(jwtx.RemoteKeySetOptions{URLs: []string{srv.URL}})

	good := signFor(t, km, jwtx.V5, payloadFor(jwtx.V5))
	p := payloadFor(jwtx.V5)
	p["role"] = "root"
	other := signFor(t, km, jwtx.V5, p)

	parts := strings.Split(good, ".")
	forged := parts[0] + "." + strings.Split(other, ".")[1] + "." + parts[2]

	parsed, err := jwtx.Parse(forged)
	require.NoError(t, err)
	require.ErrorIs(t, jwtx.Verify(context.Background(), parsed, rks), jwtx.ErrSignature)
}

func TestVerify_UnknownKid(t *testing.T) {
	km := newTestKeyManager(t)
	other := newTestKeyManager(t)
	srv := newJWKSServer(t, km, 0)
	rks := jwtx.NewRemoteKeySet(jwtx.RemoteKeySetOptions{URLs: []string{srv.URL}})

	parsed, err := jwtx.Parse(signFor(t, other, jwtx.V5, payloadFor(jwtx.V5)))
	require.NoError(t, err)
	require.ErrorIs(t, jwtx.Verify(context.Background(), parsed, rks), jwtx.ErrNoKey)
}

func TestVerify_SourceUnavailable(t *testing.T) {
	km := newTestKeyManager(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	rks := jwtx.NewRemoteKeySet(jwtx.RemoteKeySetOptions{URLs: []string{srv.URL}})

	parsed, err := jwtx.Parse(signFor(t, km, jwtx.V5, payloadFor(jwtx.V5)))
	require.NoError(t, err)
	require.ErrorIs(t, jwtx.Verify(context.Background(), parsed, rks), jwtx.ErrKeyFetch)
}

func TestVerifyLegacy(t *testing.T) {
	km := newTestKeyManager(t)
	other := newTestKeyManager(t)

	parsed, err := jwtx.Parse(signFor(t, km, jwtx.V2, payloadFor(jwtx.V2)))
	require.NoError(t, err)

	var keys []string
	keys = append(keys, other.LegacyPublicKeys()...)
	keys = append(keys, km.LegacyPublicKeys()...)

	require.NoError(t, jwtx.VerifyLegacy(parsed, parseAll(t, keys)))
	require.ErrorIs(t, jwtx.VerifyLegacy(parsed, parseAll(t, other.LegacyPublicKeys())), jwtx.ErrSignature)
}

func parseAll(t *testing.T, keys []string) []*rsa.PublicKey {
	t.Helper()
	out := make([]*rsa.PublicKey, 0, len(keys))
	for _, k := range keys {
		pub, err := jwtx.ParseLegacyPublicKey(k)
		require.NoError(t, err)
		out = append(out, pub)
	}
	return out
}

func TestKeyManager_RotateAndRetire(t *testing.T) {
	km := newTestKeyManager(t)
	first := km.GetSigner(false)
	require.Equal(t, jwtx.KeyKindDynamic, jwtx.KeyIDKind(first.KID()))
	require.Equal(t, jwtx.KeyKindStatic, jwtx.KeyIDKind(km.GetSigner(true).KID()))
	require.Equal(t, 2, km.NumSigners())

	second, err := km.Rotate()
	require.NoError(t, err)
	require.Equal(t, second.KID(), km.GetSigner(false).KID())
	require.Len(t, km.KeySet.PublicJWKS().Keys, 3)

	require.Error(t, km.RetireSignerByKid(second.KID()))
	require.NoError(t, km.RetireSignerByKid(first.KID()))
	require.Len(t, km.KeySet.PublicJWKS().Keys, 2)
	require.Error(t, km.RetireSignerByKid("d-missing"))
}

func TestJWK_PEM(t *testing.T) {
	km := newTestKeyManager(t)
	pemStr, err := km.GetSigner(false).PublicJWK().PEM()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(pemStr, "-----BEGIN PUBLIC KEY-----"))

	pub, err := jwtx.ParseLegacyPublicKey(pemStr)
	require.NoError(t, err)
	require.NotNil(t, pub)

	_, err = jwtx.JWK{Kty: "OKP"}.PEM()
	require.Error(t, err)
}
