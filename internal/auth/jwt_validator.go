package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload the external token issuer signs into the
// auth-token cookie.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator validates HS256 tokens issued with a shared secret.
type JWTValidator struct {
	secret []byte
	leeway time.Duration
}

// NewJWTValidator creates a validator for tokens signed with secret.
func NewJWTValidator(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTValidator{
		secret: []byte(secret),
		leeway: 30 * time.Second,
	}, nil
}

// Validate validates a JWT token and returns the user ID
func (v *JWTValidator) Validate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(ExtractTokenFromAuthHeader(token))
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" {
		return "", fmt.Errorf("%w: user ID not found in token claims", ErrInvalidToken)
	}

	return userID, nil
}

// Sign issues a token for userID. It exists for tests and local tooling;
// production tokens come from the external issuer.
func (v *JWTValidator) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
