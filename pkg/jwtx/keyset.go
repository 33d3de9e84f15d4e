package jwtx

import (
	"crypto/rsa"
	"errors"
	"slices"
	"sync"
)

var ErrNoKey = errors.New("jwtx: key not found")

// KeySet holds public verification keys in memory. The authority double
// publishes from one, and RemoteKeySet keeps its cache in one.
type KeySet struct {
	mu  sync.RWMutex
	jks JWKS
	pub map[string]*rsa.PublicKey
}

// NewKeySet returns an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{
		pub: make(map[string]*rsa.PublicKey),
	}
}

// AddJWK adds a JWK to the KeySet and parses it into a usable crypto key.
func (k *KeySet) AddJWK(j JWK) error {
	key, err := j.PublicKey()
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pub[j.Kid] = key
	k.jks.Keys = append(k.jks.Keys, j)
	return nil
}

// Remove drops kid from the set. Unknown kids are ignored.
func (k *KeySet) Remove(kid string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.pub, kid)
	k.jks.Keys = slices.DeleteFunc(k.jks.Keys, func(j JWK) bool { return j.Kid == kid })
}

// Get returns the public key for the given kid.
func (k *KeySet) Get(kid string) (*rsa.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if pk, ok := k.pub[kid]; ok {
		return pk, nil
	}
	return nil, ErrNoKey
}

// StaticKeys returns every key whose id marks it as static, in JWKS order.
func (k *KeySet) StaticKeys() []*rsa.PublicKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var out []*rsa.PublicKey
	for _, j := range k.jks.Keys {
		if KeyIDKind(j.Kid) == KeyKindStatic {
			out = append(out, k.pub[j.Kid])
		}
	}
	return out
}

// PublicJWKS returns a snapshot of the KeySet's JWKS for HTTP serving.
func (k *KeySet) PublicJWKS() JWKS {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return JWKS{Keys: slices.Clone(k.jks.Keys)}
}

// Clear removes every key.
func (k *KeySet) Clear() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pub = make(map[string]*rsa.PublicKey)
	k.jks = JWKS{}
}

// ResetFromJWKS replaces all keys from a JWKS. Keys of a type we cannot
// verify with are skipped rather than failing the whole set.
func (k *KeySet) ResetFromJWKS(jwks JWKS) error {
	newMap := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	kept := make([]JWK, 0, len(jwks.Keys))
	for _, j := range jwks.Keys {
		if j.Kty != "RSA" {
			continue
		}
		key, err := j.PublicKey()
		if err != nil {
			return err
		}
		newMap[j.Kid] = key
		kept = append(kept, j)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.pub = newMap
	k.jks = JWKS{Keys: kept}

	return nil
}
