package jwtx

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aussiebroadwan/sessionkit/pkg/cryptox"
)

// AlgorithmRS256 is the only signing algorithm session tokens use.
const AlgorithmRS256 = "RS256"

// KeyManager is the authority-side key ring. It holds one static key
// (kid "s-...") that never rotates and a list of dynamic keys
// (kid "d-...") where the newest one signs. Every non-retired key is
// published through KeySet.
type KeyManager struct {
	KeySet *KeySet

	mu      sync.RWMutex
	static  Signer
	dynamic []Signer
	rsaBits int
}

// KeyManagerOptions configures NewKeyManager.
type KeyManagerOptions struct {
	// RSABits is the RSA key size. Defaults to 2048, must be at least 2048.
	RSABits int
}

// NewKeyManager generates a static key and one dynamic key.
func NewKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	bits := opts.RSABits
	if bits == 0 {
		bits = 2048
	}

	km := &KeyManager{KeySet: NewKeySet(), rsaBits: bits}

	static, err := km.generate("s-")
	if err != nil {
		return nil, err
	}
	km.static = static

	if _, err := km.Rotate(); err != nil {
		return nil, err
	}
	return km, nil
}

func (km *KeyManager) generate(prefix string) (Signer, error) {
	pemBytes, err := cryptox.GenerateRSAKey(km.rsaBits)
	if err != nil {
		return nil, fmt.Errorf("jwtx: failed to generate RS256 key: %w", err)
	}
	signer, err := NewSignerRS256(prefix+uuid.NewString(), pemBytes)
	if err != nil {
		return nil, err
	}
	if err := signer.Validate(); err != nil {
		return nil, err
	}
	if err := km.KeySet.AddJWK(signer.PublicJWK()); err != nil {
		return nil, fmt.Errorf("jwtx: failed to add signer to keyset: %w", err)
	}
	return signer, nil
}

// Rotate adds a fresh dynamic key and makes it the active one. Older
// dynamic keys stay published until retired.
func (km *KeyManager) Rotate() (Signer, error) {
	signer, err := km.generate("d-")
	if err != nil {
		return nil, err
	}
	km.mu.Lock()
	km.dynamic = append(km.dynamic, signer)
	km.mu.Unlock()
	return signer, nil
}

// GetSigner returns the static signer, or the newest dynamic signer.
func (km *KeyManager) GetSigner(useStatic bool) Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()
	if useStatic || len(km.dynamic) == 0 {
		return km.static
	}
	return km.dynamic[len(km.dynamic)-1]
}

// RetireSignerByKid removes a dynamic key from signing and from the
// published set. The active key cannot be retired.
func (km *KeyManager) RetireSignerByKid(kid string) error {
	km.mu.Lock()
	defer km.mu.Unlock()

	for i, s := range km.dynamic {
		if s.KID() != kid {
			continue
		}
		if i == len(km.dynamic)-1 {
			return fmt.Errorf("jwtx: cannot retire the active signing key")
		}
		km.dynamic = append(km.dynamic[:i], km.dynamic[i+1:]...)
		km.KeySet.Remove(kid)
		return nil
	}
	return fmt.Errorf("jwtx: signer with kid %q not found", kid)
}

// NumSigners returns the number of published keys.
func (km *KeyManager) NumSigners() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.dynamic) + 1
}

// LegacyPublicKeys lists the keys V2 tokens may be signed with, in the
// base64 DER form the handshake advertises.
func (km *KeyManager) LegacyPublicKeys() []string {
	return []string{km.static.LegacyPublicKey()}
}
