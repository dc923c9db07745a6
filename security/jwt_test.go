package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewJWTService("test-secret")

	signed, err := svc.GenerateToken("user-1", "t1", "agent-a", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	token, err := svc.ValidateToken(signed)
	require.NoError(t, err)

	assert.Equal(t, "user-1", token.Subject())

	tenant, err := TenantOf(token)
	require.NoError(t, err)
	assert.Equal(t, "t1", tenant)
	assert.Equal(t, "agent-a", AgentOf(token))
}

func TestValidateTokenWrongSecret(t *testing.T) {
	signed, err := NewJWTService("secret-a").GenerateToken("user-1", "t1", "", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTService("secret-b").ValidateToken(signed)
	assert.Error(t, err)
}

func TestValidateTokenExpired(t *testing.T) {
	svc := NewJWTService("test-secret")

	signed, err := svc.GenerateToken("user-1", "t1", "", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	assert.Error(t, err)
}

func TestValidateTokenGarbage(t *testing.T) {
	_, err := NewJWTService("test-secret").ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestTenantOfMissingClaim(t *testing.T) {
	svc := NewJWTService("test-secret")

	signed, err := svc.GenerateToken("user-1", "", "", time.Hour)
	require.NoError(t, err)

	token, err := svc.ValidateToken(signed)
	require.NoError(t, err)

	_, err = TenantOf(token)
	assert.Error(t, err, "empty tenant claim is rejected")
}

func TestAgentOfAbsent(t *testing.T) {
	svc := NewJWTService("test-secret")

	signed, err := svc.GenerateToken("user-1", "t1", "", time.Hour)
	require.NoError(t, err)

	token, err := svc.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "", AgentOf(token))
}
