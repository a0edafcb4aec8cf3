package jwtauth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellirouter/intellirouter/internal/apierr"
)

const (
	testIssuer   = "intellirouter/router"
	testAudience = "intellirouter/chain-engine"
)

func TestMintAndVerifyRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	minter := NewMinter(secret, testIssuer, testAudience)
	verifier := NewVerifier(secret, testIssuer, testAudience, 5*time.Second)

	token, err := minter.Mint("router", []string{"chain.execute"}, time.Minute)
	require.NoError(t, err)

	identity, verr := verifier.Verify(token)
	require.Nil(t, verr)
	assert.Equal(t, "router", identity.Service)
	assert.Equal(t, []string{"chain.execute"}, identity.Roles)
}

// expiredToken builds a token signed with exp = now + offset (offset is
// typically negative to build an already-expired token), bypassing the
// Minter's fixed-ttl signature so tests can set exact offsets.
func expiredToken(t *testing.T, secret []byte, offset time.Duration) string {
	t.Helper()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(offset)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Service: "router",
		Roles:   []string{"chain.execute"},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestVerifyRejectsTokenExpiredBeyondSkew(t *testing.T) {
	secret := []byte("test-secret")
	verifier := NewVerifier(secret, testIssuer, testAudience, 5*time.Second)

	token := expiredToken(t, secret, -10*time.Second)

	_, err := verifier.Verify(token)
	require.NotNil(t, err)
	assert.Equal(t, apierr.KindUnauthenticated, err.Kind)
}

func TestVerifyAcceptsTokenExpiredWithinSkew(t *testing.T) {
	secret := []byte("test-secret")
	verifier := NewVerifier(secret, testIssuer, testAudience, 5*time.Second)

	token := expiredToken(t, secret, -3*time.Second)

	identity, err := verifier.Verify(token)
	require.Nil(t, err)
	assert.Equal(t, "router", identity.Service)
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	secret := []byte("test-secret")
	minter := NewMinter(secret, testIssuer, "someone-else")
	verifier := NewVerifier(secret, testIssuer, testAudience, 5*time.Second)

	token, err := minter.Mint("router", nil, time.Minute)
	require.NoError(t, err)

	_, verr := verifier.Verify(token)
	require.NotNil(t, verr)
	assert.Equal(t, apierr.KindUnauthenticated, verr.Kind)
}

func TestRequireRolesRejectsMissingRole(t *testing.T) {
	identity := &Identity{Roles: []string{"chain.execute"}}
	err := RequireRoles(identity, []string{"chain.execute", "admin"})
	require.NotNil(t, err)
	assert.Equal(t, apierr.KindPermissionDenied, err.Kind)
}

func TestRequireRolesAcceptsSupersetRoles(t *testing.T) {
	identity := &Identity{Roles: []string{"chain.execute", "admin", "extra"}}
	err := RequireRoles(identity, []string{"chain.execute", "admin"})
	assert.Nil(t, err)
}
