package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
)

// frontToken is the non-secret session summary sent to clients.
type frontToken struct {
	UserID          string       `json:"uid"`
	AccessTokenExp  int64        `json:"ate"`
	AccessTokenBody jwtx.Payload `json:"up"`
}

func buildFrontToken(userID string, expiryMillis int64, payload jwtx.Payload) string {
	if payload == nil {
		payload = jwtx.Payload{}
	}
	b, err := json.Marshal(frontToken{UserID: userID, AccessTokenExp: expiryMillis, AccessTokenBody: payload})
	if err != nil {
		// payload came from JSON, so it always encodes
		panic(fmt.Sprintf("session: encode front token: %v", err))
	}
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeFrontToken reads a front token the way a client would.
func DecodeFrontToken(s string) (userID string, expiryMillis int64, payload jwtx.Payload, err error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", 0, nil, fmt.Errorf("session: front token is not base64: %w", err)
	}
	var ft frontToken
	if err := json.Unmarshal(b, &ft); err != nil {
		return "", 0, nil, fmt.Errorf("session: front token is not JSON: %w", err)
	}
	return ft.UserID, ft.AccessTokenExp, ft.AccessTokenBody, nil
}
