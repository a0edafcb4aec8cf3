package jwtauth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/intellirouter/intellirouter/internal/apierr"
)

// APIKeyVerifier checks presented keys against a configured set of
// bcrypt hashes, the alternative auth.auth_method spec §6 names
// alongside "jwt". Hashes, not plaintext keys, are what a RoleRuntime's
// configuration carries.
type APIKeyVerifier struct {
	hashes [][]byte
}

// NewAPIKeyVerifier builds a verifier from a set of bcrypt hashes
// (auth.api_keys in config, already hashed at rest).
func NewAPIKeyVerifier(hashes []string) *APIKeyVerifier {
	v := &APIKeyVerifier{hashes: make([][]byte, len(hashes))}
	for i, h := range hashes {
		v.hashes[i] = []byte(h)
	}
	return v
}

// HashAPIKey hashes a plaintext key for storage in configuration.
func HashAPIKey(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether presented matches any configured hash,
// returning apierr.KindUnauthenticated if none match. Every configured
// hash is checked (not short-circuited on the first mismatch) so the
// time taken does not leak which hash index, if any, was close.
func (v *APIKeyVerifier) Verify(presented string) *apierr.Error {
	matched := false
	for _, hash := range v.hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(presented)) == nil {
			matched = true
		}
	}
	if !matched {
		return apierr.New(apierr.KindUnauthenticated, "api key rejected")
	}
	return nil
}
