// Package auth verifies and issues the bearer tokens that identify a user on
// the websocket handshake and the REST endpoints.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// FailureKind classifies why a credential was rejected.
type FailureKind int

const (
	FailureMalformed FailureKind = iota + 1
	FailureExpired
	FailureBadSignature
)

func (k FailureKind) String() string {
	switch k {
	case FailureMalformed:
		return "malformed"
	case FailureExpired:
		return "expired"
	case FailureBadSignature:
		return "bad_signature"
	default:
		return "unknown"
	}
}

// Failure is returned by Verify for every rejected credential.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "auth failure: " + f.Kind.String()
	}
	return fmt.Sprintf("auth failure: %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// ErrNoCredential is returned when a request carries neither a session nor a token.
var ErrNoCredential = errors.New("no credential presented")

// Claims carried by relay tokens. userId mirrors the web client's token shape;
// sub is accepted as a fallback.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates a bearer credential and yields the user id it was issued for.
type Verifier interface {
	Verify(token string) (string, error)
}

// JWTVerifier checks HS256 tokens against a shared secret. It does no I/O.
type JWTVerifier struct {
	secretKey []byte
	parser    *jwt.Parser
}

func NewVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secretKey: []byte(secret),
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify parses and validates the token string.
func (v *JWTVerifier) Verify(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", &Failure{Kind: FailureMalformed, Err: ErrNoCredential}
	}
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secretKey, nil
	})
	if err != nil {
		return "", classify(err)
	}
	if !token.Valid {
		return "", &Failure{Kind: FailureBadSignature}
	}
	// Tokens must be time-bounded
	if claims.ExpiresAt == nil {
		return "", &Failure{Kind: FailureMalformed, Err: errors.New("missing exp claim")}
	}
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", &Failure{Kind: FailureMalformed, Err: errors.New("missing user id claim")}
	}
	return userID, nil
}

func classify(err error) *Failure {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return &Failure{Kind: FailureBadSignature, Err: err}
	case errors.Is(err, jwt.ErrTokenExpired):
		return &Failure{Kind: FailureExpired, Err: err}
	default:
		return &Failure{Kind: FailureMalformed, Err: err}
	}
}

// Issuer signs relay tokens. Issuance lives next to verification so both agree on the claims.
type Issuer struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secretKey: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for userID and its expiry.
func (i *Issuer) Issue(userID string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
