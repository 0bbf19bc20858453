package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elearning-api/internal/models"
	appErrors "github.com/noah-isme/elearning-api/pkg/errors"
)

type stubUserDirectory struct {
	users map[string]models.User
}

func (s *stubUserDirectory) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func signTestToken(t *testing.T, secret, issuer string, claims models.JWTClaims, method jwt.SigningMethod) string {
	t.Helper()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthServiceValidateToken(t *testing.T) {
	svc := NewAuthService(nil, nil, AuthConfig{AccessTokenSecret: "secret", Issuer: "identity"})

	token := signTestToken(t, "secret", "identity", models.JWTClaims{UserID: "learner-1", Role: models.RoleLearner}, jwt.SigningMethodHS256)
	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "learner-1", claims.UserID)

	_, err = svc.ValidateToken(signTestToken(t, "other", "identity", models.JWTClaims{UserID: "learner-1"}, jwt.SigningMethodHS256))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized))

	_, err = svc.ValidateToken(signTestToken(t, "secret", "someone-else", models.JWTClaims{UserID: "learner-1"}, jwt.SigningMethodHS256))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized))

	_, err = svc.ValidateToken(signTestToken(t, "secret", "identity", models.JWTClaims{UserID: "learner-1"}, jwt.SigningMethodHS512))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized))
}

func TestAuthServiceAuthenticateChecksDirectory(t *testing.T) {
	dir := &stubUserDirectory{users: map[string]models.User{
		"learner-1": {ID: "learner-1", Role: models.RoleLearner, FullName: "Ana", Active: true},
		"learner-2": {ID: "learner-2", Role: models.RoleLearner, Active: false},
	}}
	svc := NewAuthService(dir, nil, AuthConfig{AccessTokenSecret: "secret"})

	claims, err := svc.Authenticate(context.Background(), signTestToken(t, "secret", "", models.JWTClaims{UserID: "learner-1", Role: models.RoleAdmin}, jwt.SigningMethodHS256))
	require.NoError(t, err)
	assert.Equal(t, models.RoleLearner, claims.Role)
	assert.Equal(t, "Ana", claims.FullName)

	_, err = svc.Authenticate(context.Background(), signTestToken(t, "secret", "", models.JWTClaims{UserID: "learner-2"}, jwt.SigningMethodHS256))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized))

	_, err = svc.Authenticate(context.Background(), signTestToken(t, "secret", "", models.JWTClaims{UserID: "ghost"}, jwt.SigningMethodHS256))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized))
}
