// Package auth implements JWT token issuance and verification for the HTTP
// API, plus bcrypt password handling for stored users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/clinical-risk-server/internal/domain"
)

// Roles recognized by the API. Role checks are hierarchical: admin implies
// doctor, doctor implies nurse.
const (
	RoleNurse  = "nurse"
	RoleDoctor = "doctor"
	RoleAdmin  = "admin"
)

var (
	// ErrInvalidCredentials is returned when the email or password is wrong.
	// The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned for expired, malformed, or forged tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the JWT payload issued at login.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and validates tokens against a user store.
type Service struct {
	users    domain.UserStore
	secret   []byte
	tokenTTL time.Duration
	issuer   string
	logger   *logrus.Logger
}

// NewService creates an auth service from auth configuration.
func NewService(config domain.AuthConfig, users domain.UserStore, logger *logrus.Logger) *Service {
	ttl := config.TokenTTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	issuer := config.Issuer
	if issuer == "" {
		issuer = "clinical-risk-server"
	}
	return &Service{
		users:    users,
		secret:   []byte(config.JWTSecret),
		tokenTTL: ttl,
		issuer:   issuer,
		logger:   logger,
	}
}

// Authenticate verifies credentials and returns a signed token plus the user.
func (s *Service) Authenticate(ctx context.Context, email, password string) (string, *domain.User, error) {
	user, err := s.users.GetUserByUsername(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Burn comparable time so user enumeration via latency is harder.
			_ = bcrypt.CompareHashAndPassword(
				[]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"), []byte(password))
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.WithField("email", email).Warn("Failed login attempt")
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// IssueToken signs a token for an already-authenticated user.
func (s *Service) IssueToken(user *domain.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses a bearer token and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// RoleAtLeast reports whether a role grants the permissions of the required
// role.
func RoleAtLeast(role, required string) bool {
	rank := func(r string) int {
		switch r {
		case RoleAdmin:
			return 3
		case RoleDoctor:
			return 2
		case RoleNurse:
			return 1
		default:
			return 0
		}
	}
	return rank(role) >= rank(required)
}
