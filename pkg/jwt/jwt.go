package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType represents the type of JWT token
type TokenType string

const (
	OperatorToken TokenType = "operator"
)

// RoleOperator grants access to the operator booking API
const RoleOperator = "operator"

const issuer = "booking-backend"

// Claims represents the JWT claims structure
type Claims struct {
	Operator  string    `json:"operator"`
	Roles     []string  `json:"roles"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry the role
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Service handles JWT operations
type Service struct {
	secret      string
	tokenExpiry time.Duration
}

// NewService creates a new JWT service
func NewService(secret string, tokenExpiry time.Duration) *Service {
	return &Service{
		secret:      secret,
		tokenExpiry: tokenExpiry,
	}
}

// GenerateOperatorToken generates a signed token for an operator
func (s *Service) GenerateOperatorToken(operator string, roles []string) (string, error) {
	if s.secret == "" {
		return "", fmt.Errorf("operator token secret not configured")
	}
	now := time.Now()
	claims := Claims{
		Operator:  operator,
		Roles:     roles,
		TokenType: OperatorToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   operator,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign operator token: %w", err)
	}

	return tokenString, nil
}

// ValidateOperatorToken validates and parses an operator token
func (s *Service) ValidateOperatorToken(tokenString string) (*Claims, error) {
	if s.secret == "" {
		return nil, fmt.Errorf("operator token secret not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secret), nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	if claims.TokenType != OperatorToken {
		return nil, fmt.Errorf("invalid token type: expected %s, got %s", OperatorToken, claims.TokenType)
	}

	return claims, nil
}

// IsExpired reports whether a validation error was caused only by an elapsed expiry.
// Tokens with a bad signature or malformed claims are never reported as expired.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
