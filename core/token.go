package core

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenIssuer     = "zypl"
	AccessTokenType = "access"
)

// TokenClaims is the payload of an access token.
type TokenClaims struct {
	UserID int64  `json:"id"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HMAC-signed access tokens.
type TokenService struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	ttl    time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// NewTokenService validates the signing settings. ttl <= 0 issues tokens
// without an exp claim.
func NewTokenService(secret, algorithm string, ttl time.Duration, loc *time.Location, logger *slog.Logger) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	method, err := hmacMethod(algorithm)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{
		secret: []byte(secret),
		method: method,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().In(loc) },
		log:    logger,
	}, nil
}

func hmacMethod(algorithm string) (*jwt.SigningMethodHMAC, error) {
	m, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported token algorithm %q (want HS256, HS384 or HS512)", algorithm)
	}
	return m, nil
}

// Issue signs a fresh access token for userID.
func (s *TokenService) Issue(userID int64) (string, error) {
	now := jwt.NewNumericDate(s.now())
	claims := TokenClaims{
		UserID: userID,
		Type:   AccessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   strconv.FormatInt(userID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  now,
			NotBefore: now,
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Decode verifies raw and returns its claims. Any verification failure
// yields (nil, false); the cause is only logged.
func (s *TokenService) Decode(raw string) (*TokenClaims, bool) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(TokenIssuer),
	)
	if err != nil || !token.Valid {
		s.log.Debug("token rejected", "error", err)
		return nil, false
	}
	if claims.Type != AccessTokenType || claims.UserID <= 0 {
		s.log.Debug("token rejected", "type", claims.Type, "id", claims.UserID)
		return nil, false
	}
	if claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		s.log.Debug("token rejected", "reason", "subject mismatch")
		return nil, false
	}
	return claims, true
}
