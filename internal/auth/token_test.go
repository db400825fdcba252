package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtmate/xtmate/internal/auth"
)

const testSigningKey = "test-signing-key-must-be-32-chars!!"

func TestTokenService_CreateAndValidate(t *testing.T) {
	svc := auth.NewTokenService(testSigningKey, "xtmate", 24, 168)

	identity := &auth.Identity{
		UserID:         "user_123",
		OrganizationID: "org_456",
		Email:          "pm@restoration.example",
		DisplayName:    "Pat M",
	}

	token, err := svc.CreateAccessToken(identity)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)

	assert.Equal(t, identity.UserID, got.UserID)
	assert.Equal(t, identity.OrganizationID, got.OrganizationID)
	assert.Equal(t, identity.Email, got.Email)
	assert.Equal(t, identity.DisplayName, got.DisplayName)
	assert.Equal(t, auth.TokenTypeAccess, got.TokenType)
}

func TestTokenService_CreateRefreshToken(t *testing.T) {
	svc := auth.NewTokenService(testSigningKey, "xtmate", 24, 168)

	refreshToken, err := svc.CreateRefreshToken(&auth.Identity{UserID: "user_123", OrganizationID: "org_456"})
	require.NoError(t, err)

	got, err := svc.ValidateToken(refreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user_123", got.UserID)
	assert.Equal(t, auth.TokenTypeRefresh, got.TokenType)
}

func TestTokenService_RequiresOrganization(t *testing.T) {
	svc := auth.NewTokenService(testSigningKey, "xtmate", 24, 168)

	_, err := svc.CreateAccessToken(&auth.Identity{UserID: "user_123"})
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	_, err = svc.CreateAccessToken(nil)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenService_ExpiredToken(t *testing.T) {
	svc := auth.NewTokenService(testSigningKey, "xtmate", 0, 0) // expires immediately

	token, err := svc.CreateAccessToken(&auth.Identity{UserID: "user_123", OrganizationID: "org_456"})
	require.NoError(t, err)

	time.Sleep(time.Second)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestTokenService_InvalidSignature(t *testing.T) {
	svc1 := auth.NewTokenService("signing-key-one-must-be-32-chars!!", "xtmate", 24, 168)
	svc2 := auth.NewTokenService("signing-key-two-must-be-32-chars!!", "xtmate", 24, 168)

	token, err := svc1.CreateAccessToken(&auth.Identity{UserID: "user_123", OrganizationID: "org_456"})
	require.NoError(t, err)

	_, err = svc2.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenService_WrongIssuer(t *testing.T) {
	svc1 := auth.NewTokenService(testSigningKey, "xtmate", 24, 168)
	svc2 := auth.NewTokenService(testSigningKey, "other-service", 24, 168)

	token, err := svc1.CreateAccessToken(&auth.Identity{UserID: "user_123", OrganizationID: "org_456"})
	require.NoError(t, err)

	_, err = svc2.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenService_MalformedToken(t *testing.T) {
	svc := auth.NewTokenService(testSigningKey, "xtmate", 24, 168)

	_, err := svc.ValidateToken("not.a.jwt")
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}
