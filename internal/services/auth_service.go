package services

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"soporte_wa/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidAdminKey = errors.New("invalid admin key")
)

// AuthService issues and checks the bearer tokens identifying agents
type AuthService struct {
	secret   []byte
	ttl      time.Duration
	adminKey string
	now      func() time.Time
}

type JWTClaims struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// NewAuthService creates the token service. An empty adminKey disables
// token issuing by key.
func NewAuthService(secret string, ttl time.Duration, adminKey string) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{secret: []byte(secret), ttl: ttl, adminKey: adminKey, now: time.Now}
}

// GenerateToken signs a token for the agent
func (as *AuthService) GenerateToken(agentID, role string) (string, error) {
	if agentID == "" {
		return "", fmt.Errorf("agent id is required")
	}
	if role != models.AgentRoleAdmin {
		role = models.AgentRoleAgent
	}
	now := as.now()
	claims := JWTClaims{
		AgentID: agentID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			ExpiresAt: jwt.NewNumericDate(now.Add(as.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(as.secret)
}

// ValidateToken validates a token and returns its claims
func (as *AuthService) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return as.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(as.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid && claims.AgentID != "" {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// CheckAdminKey reports whether key matches the configured admin key
func (as *AuthService) CheckAdminKey(key string) error {
	if as.adminKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(as.adminKey)) != 1 {
		return ErrInvalidAdminKey
	}
	return nil
}
