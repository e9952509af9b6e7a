package jwt

import (
	"testing"
	"time"

	"go-clinic-queue/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTripCarriesRole(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{Secret: "test-secret", AccessExpiry: time.Minute, RefreshExpiry: time.Hour})
	userID := uuid.New()

	token, tokenID, err := svc.GenerateAccessToken(userID, "desk@clinic.test", 4)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, 4, claims.RoleID)
	assert.Equal(t, AccessToken, claims.TokenType)
	assert.Equal(t, tokenID, claims.TokenID)
}

func TestJWTService_RejectsForeignSecretAndExpiry(t *testing.T) {
	issuer := NewJWTService(config.JWTConfig{Secret: "one", AccessExpiry: time.Minute})
	verifier := NewJWTService(config.JWTConfig{Secret: "two", AccessExpiry: time.Minute})

	token, _, err := issuer.GenerateAccessToken(uuid.New(), "a@b.c", 1)
	require.NoError(t, err)
	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)

	expired := NewJWTService(config.JWTConfig{Secret: "one", AccessExpiry: -time.Minute})
	token, _, err = expired.GenerateAccessToken(uuid.New(), "a@b.c", 1)
	require.NoError(t, err)
	_, err = expired.ValidateToken(token)
	assert.Error(t, err)
}
