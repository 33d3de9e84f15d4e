package jwtx

// Signer is anything that can mint access tokens.
type Signer interface {
	KID() string
	// Sign issues a V3+ token. A zero version omits the header version
	// marker the way pre-marker authorities did.
	Sign(payload Payload, version Version) (string, error)
	// SignLegacy issues a V2 token with the fixed legacy header.
	SignLegacy(payload Payload) (string, error)
	PublicJWK() JWK
	// LegacyPublicKey is the base64 DER form advertised by the handshake.
	LegacyPublicKey() string
	Validate() error
}

// NewSignerRS256 creates an RS256 signer from PEM bytes.
func NewSignerRS256(kid string, pemKey []byte) (Signer, error) {
	return newRS256Signer(kid, pemKey)
}
