// Package jwtauth implements the authentication half of SecureIPC (spec
// §4.5): minting and verifying the `{iss, aud, exp, svc, roles}` token
// carried as gRPC metadata between roles, and the RBAC check that turns
// an insufficient role set into a distinguishable PermissionDenied.
//
// Grounded on the teacher go.mod's golang-jwt/jwt/v5 dependency; the
// teacher's own internal/adapters/auth/adapter.go forwards to an
// unresolvable local module (digital.vasic.auth) rather than calling
// golang-jwt directly, so this package is written against the real
// upstream library the adapter was wrapping.
package jwtauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/intellirouter/intellirouter/internal/apierr"
)

// Identity is the caller identity recovered from a verified token.
type Identity struct {
	Issuer   string
	Audience string
	Service  string
	Roles    []string
	Expiry   time.Time
}

// claims is the JWT payload shape spec §4.5 names: registered claims
// plus svc/roles.
type claims struct {
	jwt.RegisteredClaims
	Service string   `json:"svc"`
	Roles   []string `json:"roles"`
}

// Minter mints tokens signed with a shared HMAC secret.
type Minter struct {
	secret   []byte
	issuer   string
	audience string
}

// NewMinter builds a Minter. issuer/audience are stamped on every token
// this Minter produces.
func NewMinter(secret []byte, issuer, audience string) *Minter {
	return &Minter{secret: secret, issuer: issuer, audience: audience}
}

// Mint issues a signed token for service, asserting roles, valid for ttl.
func (m *Minter) Mint(service string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Service: service,
		Roles:   roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(m.secret)
}

// Verifier checks tokens minted by a Minter sharing the same secret.
type Verifier struct {
	secret   []byte
	audience string
	issuer   string
	skew     time.Duration
}

// NewVerifier builds a Verifier. skew is the fixed clock-skew allowance
// from spec §3/§4.5 (internal/config.ClockSkew in production).
func NewVerifier(secret []byte, issuer, audience string, skew time.Duration) *Verifier {
	return &Verifier{secret: secret, audience: audience, issuer: issuer, skew: skew}
}

// Verify parses and validates tokenStr, returning an Identity on success
// or an apierr.KindUnauthenticated error describing why it was rejected.
func (v *Verifier) Verify(tokenStr string) (*Identity, *apierr.Error) {
	var c claims
	_, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.skew),
	)
	if err != nil {
		return nil, apierr.New(apierr.KindUnauthenticated, "token rejected: "+err.Error())
	}

	identity := &Identity{
		Issuer:   c.Issuer,
		Audience: v.audience,
		Service:  c.Service,
		Roles:    c.Roles,
	}
	if c.ExpiresAt != nil {
		identity.Expiry = c.ExpiresAt.Time
	}
	return identity, nil
}

// RequireRoles checks identity.Roles ⊇ required (spec §4.5: "roles ⊇
// required_roles configured for the endpoint"), returning
// PermissionDenied if any required role is missing.
func RequireRoles(identity *Identity, required []string) *apierr.Error {
	have := make(map[string]bool, len(identity.Roles))
	for _, r := range identity.Roles {
		have[r] = true
	}
	for _, r := range required {
		if !have[r] {
			return apierr.New(apierr.KindPermissionDenied, "missing required role '"+r+"'")
		}
	}
	return nil
}
