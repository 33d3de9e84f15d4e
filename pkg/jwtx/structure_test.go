package jwtx_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
)

func TestValidateStructure_RequiredFields(t *testing.T) {
	tests := []struct {
		version jwtx.Version
		field   string
	}{
		{jwtx.V2, "sessionHandle"},
		{jwtx.V2, "userId"},
		{jwtx.V2, "refreshTokenHash1"},
		{jwtx.V2, "userData"},
		{jwtx.V2, "expiryTime"},
		{jwtx.V2, "timeCreated"},
		{jwtx.V3, "sub"},
		{jwtx.V3, "exp"},
		{jwtx.V3, "iat"},
		{jwtx.V3, "sessionHandle"},
		{jwtx.V3, "refreshTokenHash1"},
		{jwtx.V4, "tId"},
		{jwtx.V5, "tId"},
		{jwtx.V5, "rsub"},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			p := payloadFor(tt.version)
			require.NoError(t, jwtx.ValidateStructure(p, tt.version))

			delete(p, tt.field)
			err := jwtx.ValidateStructure(p, tt.version)
			require.ErrorIs(t, err, jwtx.ErrInvalidStructure)

			var se *jwtx.InvalidStructureError
			require.ErrorAs(t, err, &se)
			require.Equal(t, tt.field, se.Field)
			require.Equal(t, tt.version, se.Version)
		})
	}
}

func TestValidateStructure_WrongTypes(t *testing.T) {
	p := payloadFor(jwtx.V5)
	p["exp"] = "tomorrow"
	require.ErrorIs(t, jwtx.ValidateStructure(p, jwtx.V5), jwtx.ErrInvalidStructure)

	p = payloadFor(jwtx.V5)
	p["sub"] = 42.0
	require.ErrorIs(t, jwtx.ValidateStructure(p, jwtx.V5), jwtx.ErrInvalidStructure)
}

func TestValidateStructure_NullableFields(t *testing.T) {
	for _, v := range []jwtx.Version{jwtx.V2, jwtx.V3, jwtx.V4, jwtx.V5} {
		for _, value := range []any{nil, 12.0, map[string]any{"x": 1}, "ok"} {
			p := payloadFor(v)
			p["antiCsrfToken"] = value
			p["parentRefreshTokenHash1"] = value
			require.NoError(t, jwtx.ValidateStructure(p, v))
		}

		// a foreign type reads as absent
		p := payloadFor(v)
		p["antiCsrfToken"] = 12.0
		require.Empty(t, p.OptionalString("antiCsrfToken"))
	}
}

func TestValidateStructure_NewerVersionUsesLatestRules(t *testing.T) {
	p := payloadFor(jwtx.V5)
	require.NoError(t, jwtx.ValidateStructure(p, 7))

	delete(p, "rsub")
	require.ErrorIs(t, jwtx.ValidateStructure(p, 7), jwtx.ErrInvalidStructure)
}

func TestPayload_CloneAndProtected(t *testing.T) {
	p := payloadFor(jwtx.V5)
	p["nested"] = map[string]any{"a": []any{1.0, 2.0}}

	c := p.Clone()
	c["nested"].(map[string]any)["a"] = "changed"
	require.Equal(t, []any{1.0, 2.0}, p["nested"].(map[string]any)["a"])

	stripped := p.WithoutProtected()
	for _, k := range jwtx.ProtectedProperties {
		require.NotContains(t, stripped, k)
		require.True(t, jwtx.IsProtected(k))
	}
	require.Equal(t, "admin", stripped["role"])
	require.False(t, jwtx.IsProtected("role"))
}
