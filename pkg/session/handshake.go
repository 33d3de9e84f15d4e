package session

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
)

// HandshakeInfo is the authority configuration fetched once per process.
type HandshakeInfo struct {
	// LegacySigningKeys verify v2 tokens, which carry no key id.
	LegacySigningKeys              []*rsa.PublicKey
	AccessTokenBlacklistingEnabled bool
	AccessTokenValidity            time.Duration
	RefreshTokenValidity           time.Duration
}

type handshakeCache struct {
	fetch func(ctx context.Context) (*HandshakeInfo, error)

	mu   sync.Mutex
	info *HandshakeInfo
}

// get returns the memoised handshake, fetching it on first use. A failed
// fetch is not remembered.
func (h *handshakeCache) get(ctx context.Context) (*HandshakeInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.info != nil {
		return h.info, nil
	}
	info, err := h.fetch(ctx)
	if err != nil {
		return nil, err
	}
	h.info = info
	return info, nil
}

func (h *handshakeCache) invalidate() {
	h.mu.Lock()
	h.info = nil
	h.mu.Unlock()
}

type handshakeResponse struct {
	Status                  string `json:"status"`
	JWTSigningPublicKeyList []struct {
		PublicKey  string `json:"publicKey"`
		ExpiryTime int64  `json:"expiryTime"`
		CreatedAt  int64  `json:"createdAt"`
	} `json:"jwtSigningPublicKeyList"`
	AccessTokenBlacklistingEnabled bool  `json:"accessTokenBlacklistingEnabled"`
	AccessTokenValidity            int64 `json:"accessTokenValidity"`
	RefreshTokenValidity           int64 `json:"refreshTokenValidity"`
}

func (r *Recipe) fetchHandshake(ctx context.Context) (*HandshakeInfo, error) {
	var resp handshakeResponse
	if err := r.core.Post(ctx, "/recipe/handshake", struct{}{}, &resp); err != nil {
		return nil, err
	}

	now := r.now().UnixMilli()
	info := &HandshakeInfo{
		AccessTokenBlacklistingEnabled: resp.AccessTokenBlacklistingEnabled,
		AccessTokenValidity:            time.Duration(resp.AccessTokenValidity) * time.Millisecond,
		RefreshTokenValidity:           time.Duration(resp.RefreshTokenValidity) * time.Millisecond,
	}
	for _, k := range resp.JWTSigningPublicKeyList {
		if k.ExpiryTime != 0 && k.ExpiryTime < now {
			continue
		}
		pub, err := jwtx.ParseLegacyPublicKey(k.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("session: handshake signing key: %w", err)
		}
		info.LegacySigningKeys = append(info.LegacySigningKeys, pub)
	}
	r.logger(ctx).Debug("session: handshake loaded",
		"legacy_keys", len(info.LegacySigningKeys),
		"blacklisting", info.AccessTokenBlacklistingEnabled,
	)
	return info, nil
}
