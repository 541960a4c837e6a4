// Package credential issues time-bounded JWT used as MQTT bridge password.
// No timers inside, caller decides when to Issue again using IsValid/NeedsRefresh.
package credential

import (
	"crypto"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/juju/errors"
)

const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"

	DefaultLifetime = 60 * time.Minute
	// New credential must replace current one this long before expiry.
	RefreshMargin = 1 * time.Minute
)

// Credential is a value, never mutated after Issue.
type Credential struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
	Audience  string
	Algorithm string
	Token     string
}

func (self Credential) Lifetime() time.Duration { return self.ExpiresAt.Sub(self.IssuedAt) }
func (self Credential) RefreshAt() time.Time    { return self.ExpiresAt.Add(-RefreshMargin) }

// IsValid: IssuedAt <= at < ExpiresAt
func (self Credential) IsValid(at time.Time) bool {
	if self.Token == "" {
		return false
	}
	return !at.Before(self.IssuedAt) && at.Before(self.ExpiresAt)
}

// NeedsRefresh: at >= RefreshAt
func (self Credential) NeedsRefresh(at time.Time) bool {
	return !at.Before(self.RefreshAt())
}

func (self Credential) String() string {
	return fmt.Sprintf("credential alg=%s aud=%s iat=%s exp=%s",
		self.Algorithm, self.Audience, self.IssuedAt.Format(time.RFC3339), self.ExpiresAt.Format(time.RFC3339))
}

type KeyLoadError struct{ Cause error }

func (self KeyLoadError) Error() string { return "key load: " + self.Cause.Error() }

type SigningError struct {
	Algorithm string
	Cause     error
}

func (self SigningError) Error() string {
	return fmt.Sprintf("signing alg=%s: %v", self.Algorithm, self.Cause)
}

type Manager struct {
	Lifetime time.Duration
}

func NewManager(lifetime time.Duration) *Manager {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Manager{Lifetime: lifetime}
}

// Issue signs claims iat, exp=iat+Lifetime, aud.
// JWT time precision is one second, so now is truncated to keep exp-iat exact.
func (self *Manager) Issue(now time.Time, audience string, keyMaterial []byte, algorithm string) (Credential, error) {
	key, err := ParsePrivateKey(keyMaterial)
	if err != nil {
		return Credential{}, errors.Trace(err)
	}
	method := jwt.GetSigningMethod(algorithm)
	if method == nil || (algorithm != AlgorithmRS256 && algorithm != AlgorithmES256) {
		return Credential{}, SigningError{Algorithm: algorithm, Cause: errors.NotSupportedf("algorithm")}
	}

	issued := now.UTC().Truncate(time.Second)
	expires := issued.Add(self.Lifetime)
	claims := jwt.MapClaims{
		"iat": issued.Unix(),
		"exp": expires.Unix(),
		"aud": audience,
	}
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		return Credential{}, SigningError{Algorithm: algorithm, Cause: err}
	}
	return Credential{
		IssuedAt:  issued,
		ExpiresAt: expires,
		Audience:  audience,
		Algorithm: algorithm,
		Token:     token,
	}, nil
}

// ParsePrivateKey accepts PEM encoded EC (SEC1/PKCS8) or RSA (PKCS1/PKCS8) private key.
func ParsePrivateKey(keyMaterial []byte) (crypto.Signer, error) {
	if len(keyMaterial) == 0 {
		return nil, KeyLoadError{Cause: errors.New("empty key material")}
	}
	ecKey, ecErr := jwt.ParseECPrivateKeyFromPEM(keyMaterial)
	if ecErr == nil {
		return ecKey, nil
	}
	rsaKey, rsaErr := jwt.ParseRSAPrivateKeyFromPEM(keyMaterial)
	if rsaErr == nil {
		return rsaKey, nil
	}
	return nil, KeyLoadError{Cause: errors.Errorf("not EC (%v) nor RSA (%v) private key", ecErr, rsaErr)}
}
