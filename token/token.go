// Package token issues and validates the signed access tokens handed to
// the desktop client.
package token

import (
	"errors"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"

	"github.com/b-editor/beutl-auth/internal/uuid"
)

// ErrInvalidToken is returned when a token is malformed, has a bad
// signature, or carries the wrong issuer/audience/subject claims.
var ErrInvalidToken = errors.New("invalid token")

// Signer issues and validates HS256 access tokens. The HMAC secret lives
// in a memguard enclave and is only held in plain memory for the duration
// of a single sign or verify.
type Signer struct {
	secret   *memguard.Enclave
	issuer   string
	audience string
	ttl      time.Duration
}

// NewSigner returns a Signer for the given HMAC secret. The secret slice
// is wiped as a side effect of sealing it into the enclave.
func NewSigner(secret []byte, issuer, audience string, ttl time.Duration) *Signer {
	return &Signer{
		secret:   memguard.NewEnclave(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
	}
}

// TTL returns the configured access token lifetime.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Issue mints a signed access token for the given user. Claims: subject,
// issuer, audience, a unique jti, iat, nbf, and exp = now + ttl.
func (s *Signer) Issue(userID string) (token string, expiresAt time.Time, err error) {
	now := time.Now().UTC()
	expiresAt = now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.New(),
		Subject:   userID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	key, err := s.secret.Open()
	if err != nil {
		return "", time.Time{}, err
	}
	defer key.Destroy()

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key.Bytes())
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate parses and fully validates a token (signature, exp, nbf, iss,
// aud) and returns the subject claim.
func (s *Signer) Validate(tokenString string) (userID string, err error) {
	return s.parse(tokenString, false)
}

// Subject verifies a token's signature and issuer/audience claims and
// returns its subject, accepting expired tokens. The refresh exchange
// must work after the paired access token has expired.
func (s *Signer) Subject(tokenString string) (userID string, err error) {
	return s.parse(tokenString, true)
}

func (s *Signer) parse(tokenString string, allowExpired bool) (string, error) {
	key, err := s.secret.Open()
	if err != nil {
		return "", err
	}
	defer key.Destroy()

	var opts []jwt.ParserOption
	if allowExpired {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return key.Bytes(), nil
	}, opts...)
	if err != nil {
		return "", ErrInvalidToken
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Issuer != s.issuer {
		return "", ErrInvalidToken
	}
	audOK := false
	for _, a := range claims.Audience {
		if a == s.audience {
			audOK = true
			break
		}
	}
	if !audOK {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
