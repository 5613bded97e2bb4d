package security

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
)

var (
	// ErrTokenInvalid indicates the token is malformed, mis-signed, or carries unusable claims.
	ErrTokenInvalid = errors.New("security: invalid token")
	// ErrTokenExpired indicates the token failed validation solely because it expired.
	ErrTokenExpired = errors.New("security: token expired")
)

// TokenType tags a token as access or refresh so one cannot stand in for the other.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims carries the ConnectKit token payload on top of the registered claims.
type Claims struct {
	UserID       string    `json:"uid"`
	Role         string    `json:"role,omitempty"`
	TokenVersion int64     `json:"tv"`
	TokenType    TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// RemainingLife returns how long the token stays valid relative to now.
// Zero when the expiry is absent or already passed.
func (c *Claims) RemainingLife(now time.Time) time.Duration {
	if c == nil || c.RegisteredClaims.ExpiresAt == nil {
		return 0
	}
	remaining := c.RegisteredClaims.ExpiresAt.Time.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TokenIssuer mints and validates the signed access and refresh tokens.
type TokenIssuer struct {
	keys       KeyProvider
	kid        string
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// NewTokenIssuer constructs a TokenIssuer signing with the key registered under kid.
func NewTokenIssuer(keys KeyProvider, kid, issuer string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	if accessTTL <= 0 {
		accessTTL = defaultAccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTokenTTL
	}

	return &TokenIssuer{
		keys:       keys,
		kid:        strings.TrimSpace(kid),
		issuer:     strings.TrimSpace(issuer),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the issuer clock for deterministic tests.
func (i *TokenIssuer) WithClock(clock func() time.Time) {
	if clock != nil {
		i.now = clock
	}
}

// AccessTokenTTL reports the configured access token lifetime.
func (i *TokenIssuer) AccessTokenTTL() time.Duration { return i.accessTTL }

// RefreshTokenTTL reports the configured refresh token lifetime.
func (i *TokenIssuer) RefreshTokenTTL() time.Duration { return i.refreshTTL }

// IssueAccessToken signs a short-lived access token for the subject.
func (i *TokenIssuer) IssueAccessToken(userID, role string, tokenVersion int64) (string, *Claims, error) {
	return i.issue(userID, role, tokenVersion, TokenTypeAccess, i.accessTTL)
}

// IssueRefreshToken signs a long-lived refresh token for the subject.
func (i *TokenIssuer) IssueRefreshToken(userID string, tokenVersion int64) (string, *Claims, error) {
	return i.issue(userID, "", tokenVersion, TokenTypeRefresh, i.refreshTTL)
}

func (i *TokenIssuer) issue(userID, role string, tokenVersion int64, typ TokenType, ttl time.Duration) (string, *Claims, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", nil, fmt.Errorf("user id is required")
	}

	now := i.now()
	claims := &Claims{
		UserID:       userID,
		Role:         role,
		TokenVersion: tokenVersion,
		TokenType:    typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signingKey, err := i.keys.GetSigningKey()
	if err != nil {
		return "", nil, fmt.Errorf("get signing key: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.kid

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	return signed, claims, nil
}

// ParseAccessToken validates signature and expiry of an access token and returns its claims.
func (i *TokenIssuer) ParseAccessToken(token string) (*Claims, error) {
	return i.parse(token, TokenTypeAccess)
}

// ParseRefreshToken validates signature and expiry of a refresh token and returns its claims.
func (i *TokenIssuer) ParseRefreshToken(token string) (*Claims, error) {
	return i.parse(token, TokenTypeRefresh)
}

func (i *TokenIssuer) parse(token string, expected TokenType) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}

	claims := &Claims{}
	options := []jwt.ParserOption{jwt.WithTimeFunc(i.now)}
	if i.issuer != "" {
		options = append(options, jwt.WithIssuer(i.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}

		kid, _ := t.Header["kid"].(string)
		kid = strings.TrimSpace(kid)
		if kid == "" {
			return nil, fmt.Errorf("kid header not found")
		}

		return i.keys.GetVerificationKey(kid)
	}, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	if parsed == nil || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != expected {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.UserID) == "" || strings.TrimSpace(claims.RegisteredClaims.ID) == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// DecodeUnverified extracts claims WITHOUT checking the signature or expiry.
// It exists solely for logout's blacklist bookkeeping, where the token id and
// remaining lifetime of an already-issued token are needed even when the token
// would no longer verify. Never use it to grant access.
func DecodeUnverified(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.RegisteredClaims.ID) == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// BuildJWKS produces the JSON Web Key Set for the supplied provider.
func BuildJWKS(provider *FileKeyProvider) ([]byte, error) {
	publicKeys := provider.ListVerificationKeys()

	keys := make([]map[string]string, 0, len(publicKeys))
	for kid, key := range publicKeys {
		if key == nil {
			continue
		}
		keys = append(keys, map[string]string{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": kid,
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		})
	}

	return json.Marshal(map[string]any{"keys": keys})
}
