package services

import (
	"testing"
	"time"

	"soporte_wa/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	as := NewAuthService("secret", time.Hour, "key")

	token, err := as.GenerateToken("a1", models.AgentRoleAdmin)
	require.NoError(t, err)

	claims, err := as.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "a1", claims.AgentID)
	assert.Equal(t, models.AgentRoleAdmin, claims.Role)
}

func TestTokenRejections(t *testing.T) {
	as := NewAuthService("secret", time.Hour, "key")
	now := time.Now()

	expired := NewAuthService("secret", time.Minute, "key")
	expired.now = func() time.Time { return now.Add(-time.Hour) }
	old, err := expired.GenerateToken("a1", "")
	require.NoError(t, err)

	other, err := NewAuthService("other", time.Hour, "").GenerateToken("a1", "")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{AgentID: "a1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      old,
		"wrong secret": other,
		"unsigned":     none,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := as.ValidateToken(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestUnknownRoleBecomesAgent(t *testing.T) {
	as := NewAuthService("secret", time.Hour, "")
	token, err := as.GenerateToken("a1", "root")
	require.NoError(t, err)
	claims, err := as.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, models.AgentRoleAgent, claims.Role)

	_, err = as.GenerateToken("", "")
	assert.Error(t, err)
}

func TestCheckAdminKey(t *testing.T) {
	assert.NoError(t, NewAuthService("s", 0, "key").CheckAdminKey("key"))
	assert.ErrorIs(t, NewAuthService("s", 0, "key").CheckAdminKey("nope"), ErrInvalidAdminKey)
	assert.ErrorIs(t, NewAuthService("s", 0, "").CheckAdminKey(""), ErrInvalidAdminKey)
}
