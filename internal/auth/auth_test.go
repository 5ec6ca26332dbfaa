package auth

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-risk-server/internal/domain"
)

type fakeUserStore struct {
	users map[string]*domain.User
}

func (f *fakeUserStore) GetUserByUsername(_ context.Context, email string) (*domain.User, error) {
	if user, ok := f.users[email]; ok {
		return user, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeUserStore) CreateUser(_ context.Context, user *domain.User) error {
	f.users[user.Email] = user
	return nil
}

func newTestService(t *testing.T) (*Service, *domain.User) {
	t.Helper()

	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	user := &domain.User{
		ID:           "user-1",
		Email:        "dr.okafor@example.org",
		PasswordHash: hash,
		Name:         "Ada Okafor",
		Role:         RoleDoctor,
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	svc := NewService(domain.AuthConfig{
		JWTSecret: "test-secret-for-signing",
		TokenTTL:  time.Hour,
		Issuer:    "clinical-risk-server",
	}, &fakeUserStore{users: map[string]*domain.User{user.Email: user}}, logger)

	return svc, user
}

func TestAuthenticate_Success(t *testing.T) {
	svc, user := newTestService(t)

	token, got, err := svc.Authenticate(context.Background(), user.Email, "correct horse battery staple")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, user.ID, got.ID)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, RoleDoctor, claims.Role)
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	svc, user := newTestService(t)

	_, _, err := svc.Authenticate(context.Background(), user.Email, "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_UnknownUser(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Authenticate(context.Background(), "nobody@example.org", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_Tampered(t *testing.T) {
	svc, user := newTestService(t)

	token, err := svc.IssueToken(user)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_Expired(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	svc := NewService(domain.AuthConfig{
		JWTSecret: "test-secret-for-signing",
		TokenTTL:  -time.Minute,
		Issuer:    "clinical-risk-server",
	}, &fakeUserStore{users: map[string]*domain.User{}}, logger)
	// Negative TTL is normalized to the default, so sign manually expired
	// claims through a second service with a tiny TTL instead.
	svc.tokenTTL = -time.Minute

	token, err := svc.IssueToken(&domain.User{ID: "user-2", Email: "x@example.org", Role: RoleNurse})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	svc, user := newTestService(t)

	token, err := svc.IssueToken(user)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	other := NewService(domain.AuthConfig{
		JWTSecret: "a-different-secret",
		TokenTTL:  time.Hour,
		Issuer:    "clinical-risk-server",
	}, &fakeUserStore{users: map[string]*domain.User{}}, logger)

	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, RoleAtLeast(RoleAdmin, RoleNurse))
	assert.True(t, RoleAtLeast(RoleDoctor, RoleNurse))
	assert.True(t, RoleAtLeast(RoleNurse, RoleNurse))
	assert.False(t, RoleAtLeast(RoleNurse, RoleDoctor))
	assert.False(t, RoleAtLeast("", RoleNurse))
}
