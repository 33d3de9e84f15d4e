package jwtx

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrSignature = errors.New("jwtx: invalid signature")

// KeyLookup resolves verification keys by kid.
type KeyLookup interface {
	Get(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// Verify checks the signature of a V3+ token with the key named by its kid.
// Lookup failures are returned as is so callers can tell an unreachable key
// source from a bad signature. Claims such as exp are not checked here.
func Verify(ctx context.Context, t *ParsedToken, keys KeyLookup) error {
	if t.Version < V3 {
		return fmt.Errorf("jwtx: version %d tokens carry no key id", t.Version)
	}

	var lookupErr error
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{AlgorithmRS256}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.Parse(t.Raw, func(*jwt.Token) (any, error) {
		key, err := keys.Get(ctx, t.KeyID)
		if err != nil {
			lookupErr = err
			return nil, err
		}
		return key, nil
	})
	if lookupErr != nil {
		return lookupErr
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return nil
}

// VerifyLegacy checks a V2 token against each candidate key in turn.
func VerifyLegacy(t *ParsedToken, keys []*rsa.PublicKey) error {
	sig, err := DecodeSegment(t.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not base64", ErrSignature)
	}
	for _, key := range keys {
		if jwt.SigningMethodRS256.Verify(t.SigningInput(), sig, key) == nil {
			return nil
		}
	}
	return ErrSignature
}

// ParseLegacyPublicKey reads a handshake public key: base64 PKIX DER, or a
// PEM block.
func ParseLegacyPublicKey(s string) (*rsa.PublicKey, error) {
	var der []byte
	if strings.HasPrefix(strings.TrimSpace(s), "-----BEGIN") {
		block, _ := pem.Decode([]byte(s))
		if block == nil {
			return nil, errors.New("jwtx: invalid PEM public key")
		}
		der = block.Bytes
	} else {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("jwtx: decode public key: %w", err)
		}
		der = b
	}

	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse public key: %w", err)
	}
	rk, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("jwtx: not an RSA public key")
	}
	return rk, nil
}
