package credential

import (
	"crypto"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/juju/errors"
)

// ParsePublicKey accepts PEM public key or private key, public half is used.
func ParsePublicKey(keyMaterial []byte) (crypto.PublicKey, error) {
	if ecKey, err := jwt.ParseECPublicKeyFromPEM(keyMaterial); err == nil {
		return ecKey, nil
	}
	if rsaKey, err := jwt.ParseRSAPublicKeyFromPEM(keyMaterial); err == nil {
		return rsaKey, nil
	}
	signer, err := ParsePrivateKey(keyMaterial)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return signer.Public(), nil
}

// Verify is the bridge side of Issue: signature, audience and validity window at now.
func Verify(token string, publicKey crypto.PublicKey, audience string, now time.Time) (Credential, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{AlgorithmRS256, AlgorithmES256}),
		jwt.WithoutClaimsValidation(),
	)
	tok, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return publicKey, nil
	})
	if err != nil {
		return Credential{}, errors.NewUnauthorized(err, "credential")
	}
	if !claims.VerifyAudience(audience, true) {
		return Credential{}, errors.Unauthorizedf("credential audience, expected=%s", audience)
	}
	iat, ok1 := claims["iat"].(float64)
	exp, ok2 := claims["exp"].(float64)
	if !ok1 || !ok2 {
		return Credential{}, errors.Unauthorizedf("credential iat/exp missing,")
	}
	cred := Credential{
		IssuedAt:  time.Unix(int64(iat), 0).UTC(),
		ExpiresAt: time.Unix(int64(exp), 0).UTC(),
		Audience:  audience,
		Algorithm: tok.Method.Alg(),
		Token:     token,
	}
	if !cred.IsValid(now.UTC().Truncate(time.Second)) {
		return cred, errors.Unauthorizedf("%s expired or not yet valid at=%s,", cred.String(), now.UTC().Format(time.RFC3339))
	}
	return cred, nil
}
