package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrCannotSign is returned by IssueAccess on a validate-only provider.
	ErrCannotSign = errors.New("token provider has no signing key")
)

// Principal is the identity carried by an access token.
type Principal struct {
	UserID      string
	DisplayName string
	SessionID   string
}

// AccessClaims holds JWT claims for the realtime/REST access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Name      string `json:"name,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// TokenProvider issues and validates JWT access tokens using RS256 or ES256 (private/public key).
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// privateKey may be nil for a validate-only provider. issuer and audience are set on claims and
// checked on validation.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		now:        time.Now,
	}
}

// IssueAccess issues an access JWT for p. A SessionID is generated when p has none.
// Returns the token string and its expiration time.
func (tp *TokenProvider) IssueAccess(p Principal) (token string, expiresAt time.Time, err error) {
	if tp.privateKey == nil {
		return "", time.Time{}, ErrCannotSign
	}
	if p.UserID == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	if p.SessionID == "" {
		p.SessionID = jti
	}
	now := tp.now().UTC()
	expiresAt = now.Add(tp.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   p.UserID,
			Issuer:    tp.issuer,
			Audience:  jwt.ClaimStrings{tp.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Name:      p.DisplayName,
		SessionID: p.SessionID,
	}
	token, err = tp.sign(claims)
	return token, expiresAt, err
}

func (tp *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch tp.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	return jwt.NewWithClaims(method, claims).SignedString(tp.privateKey)
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud).
func (tp *TokenProvider) ValidateAccess(tokenString string) (Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return tp.publicKey, nil
		}
		return nil, ErrInvalidToken
	}, jwt.WithTimeFunc(tp.now))
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Principal{}, ErrInvalidToken
	}
	if claims.Issuer != tp.issuer || !slices.Contains(claims.Audience, tp.audience) {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: claims.Subject, DisplayName: claims.Name, SessionID: claims.SessionID}, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
