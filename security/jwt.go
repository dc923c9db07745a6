// Package security issues and validates the HS256 tokens that carry the
// caller's tenant binding. The tenant claim is the basis of every
// isolation check downstream; handlers read it from the validated token,
// never from the request body.
package security

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TenantClaim is the private claim carrying the tenant id.
const TenantClaim = "tenant_id"

// AgentClaim is the private claim carrying the calling agent id.
const AgentClaim = "agent_id"

type JWTService struct {
	secret []byte
}

func NewJWTService(secret string) *JWTService {
	return &JWTService{
		secret: []byte(secret),
	}
}

// GenerateToken issues a token binding subject to tenant for the given
// lifetime.
func (j *JWTService) GenerateToken(subject, tenantID, agentID string, expiration time.Duration) (string, error) {
	now := time.Now()

	token, err := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(expiration)).
		Claim(TenantClaim, tenantID).
		Claim(AgentClaim, agentID).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return string(signed), nil
}

// ValidateToken parses and verifies a token, returning it for claim
// extraction.
func (j *JWTService) ValidateToken(tokenString string) (jwt.Token, error) {
	token, err := jwt.Parse([]byte(tokenString), jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	return token, nil
}

// TenantOf extracts the tenant claim from a validated token.
func TenantOf(token jwt.Token) (string, error) {
	v, ok := token.Get(TenantClaim)
	if !ok {
		return "", fmt.Errorf("token carries no %s claim", TenantClaim)
	}
	tenant, ok := v.(string)
	if !ok || tenant == "" {
		return "", fmt.Errorf("token %s claim is not a string", TenantClaim)
	}
	return tenant, nil
}

// AgentOf extracts the agent claim, empty when absent.
func AgentOf(token jwt.Token) string {
	v, ok := token.Get(AgentClaim)
	if !ok {
		return ""
	}
	agent, _ := v.(string)
	return agent
}
