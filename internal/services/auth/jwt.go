package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 15 * time.Minute
	// clockLeeway absorbs clock drift between the account service that mints
	// tokens and this one.
	clockLeeway = 30 * time.Second
)

// JWTManager checks HS256 bearer tokens shared with the account service.
// Minting is only used by operator tooling.
type JWTManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// bearerClaims is the wire form: subject is the numeric user id, role is
// free-form and matched case-insensitively by the admin routes.
type bearerClaims struct {
	SessionID string `json:"sid,omitempty"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c *bearerClaims) toAccess() (AccessClaims, error) {
	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return AccessClaims{}, ErrUnauthorized
	}
	return AccessClaims{
		UserID:    userID,
		SID:       c.SessionID,
		Role:      normalizeRole(c.Role),
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

func normalizeRole(role string) string {
	role = strings.TrimSpace(role)
	if role == "" {
		return RoleUser
	}
	return role
}

func NewJWTManager(secret string, ttl time.Duration) *JWTManager {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &JWTManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *JWTManager) GenerateAccessToken(userID int64, sid, role string) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("jwt secret is empty")
	}
	if userID <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: user id must be positive", ErrInvalidInput)
	}

	issuedAt := m.now().UTC()
	expiresAt := issuedAt.Add(m.ttl)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, bearerClaims{
		SessionID: strings.TrimSpace(sid),
		Role:      normalizeRole(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAccessToken fails with ErrUnauthorized for any token that is not
// HS256, is unsigned by the shared secret, or carries no expiry.
func (m *JWTManager) ParseAccessToken(raw string) (AccessClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(m.secret) == 0 {
		return AccessClaims{}, ErrUnauthorized
	}

	var claims bearerClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockLeeway),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return AccessClaims{}, ErrUnauthorized
	}
	return claims.toAccess()
}
