package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/aegs-platform/aegs-api/internal/models"
	appErrors "github.com/aegs-platform/aegs-api/pkg/errors"
)

type mockAuthRepo struct {
	users       map[string]*models.User
	tokens      map[string]*models.RefreshToken
	lastLogin   map[string]time.Time
	passwords   map[string]string
	revokedAll  []string
	revokedOnes []string
}

func (m *mockAuthRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if m.lastLogin == nil {
		m.lastLogin = make(map[string]time.Time)
	}
	m.lastLogin[id] = ts
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if m.passwords == nil {
		m.passwords = make(map[string]string)
	}
	m.passwords[id] = passwordHash
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revokedAll = append(m.revokedAll, userID)
	for _, t := range m.tokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.tokens == nil {
		m.tokens = make(map[string]*models.RefreshToken)
	}
	m.tokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if t, ok := m.tokens[token]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	m.revokedOnes = append(m.revokedOnes, id)
	for _, t := range m.tokens {
		if t.ID == id {
			t.Revoked = true
			t.RevokedAt = &revokedAt
		}
	}
	return nil
}

func newAuthFixture(t *testing.T, singleSession bool) (*AuthService, *mockAuthRepo, *mockAuditRecorder) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &mockAuthRepo{users: map[string]*models.User{
		"u1": {ID: "u1", Username: "ana", Email: "ana@example.edu", PasswordHash: string(hash), FullName: "Ana Souza", Role: models.RoleStudent, Active: true},
		"u2": {ID: "u2", Username: "dormant", PasswordHash: string(hash), Role: models.RoleStudent, Active: false},
	}}
	audit := &mockAuditRecorder{}
	svc := NewAuthService(repo, audit, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "aegs-api",
		SingleSession:      singleSession,
	})
	return svc, repo, audit
}

func TestAuthServiceLogin(t *testing.T) {
	svc, repo, audit := newAuthFixture(t, false)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Username: "ana", Password: "correct-horse"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "u1", resp.User.ID)
	assert.Contains(t, repo.tokens, resp.RefreshToken)
	assert.Contains(t, repo.lastLogin, "u1")
	assert.Equal(t, models.AuditActionLogin, audit.lastAction())

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	svc, _, _ := newAuthFixture(t, false)

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "ana", Password: "nope"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginUnknownUser(t *testing.T) {
	svc, _, _ := newAuthFixture(t, false)

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "ghost", Password: "whatever"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	svc, _, _ := newAuthFixture(t, false)

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "dormant", Password: "correct-horse"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceSingleSessionRevokesPrevious(t *testing.T) {
	svc, repo, _ := newAuthFixture(t, true)

	first, err := svc.Login(context.Background(), models.LoginRequest{Username: "ana", Password: "correct-horse"})
	require.NoError(t, err)
	_, err = svc.Login(context.Background(), models.LoginRequest{Username: "ana", Password: "correct-horse"})
	require.NoError(t, err)

	assert.True(t, repo.tokens[first.RefreshToken].Revoked)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	svc, repo, _ := newAuthFixture(t, false)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "ana", Password: "correct-horse"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.True(t, repo.tokens[login.RefreshToken].Revoked)

	// a rotated token cannot be replayed
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshExpiredToken(t *testing.T) {
	svc, repo, _ := newAuthFixture(t, false)
	repo.tokens = map[string]*models.RefreshToken{
		"stale": {ID: "t1", UserID: "u1", Token: "stale", ExpiresAt: time.Now().Add(-time.Hour)},
	}

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "stale"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogout(t *testing.T) {
	svc, repo, audit := newAuthFixture(t, false)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "ana", Password: "correct-horse"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), login.RefreshToken, "u1", models.RequestMeta{}))
	assert.True(t, repo.tokens[login.RefreshToken].Revoked)
	assert.Equal(t, models.AuditActionLogout, audit.lastAction())
}

func TestAuthServiceLogoutForeignToken(t *testing.T) {
	svc, _, _ := newAuthFixture(t, false)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "ana", Password: "correct-horse"})
	require.NoError(t, err)

	err = svc.Logout(context.Background(), login.RefreshToken, "u2", models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceChangePassword(t *testing.T) {
	svc, repo, _ := newAuthFixture(t, false)

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "new-password-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "correct-horse", NewPassword: "new-password-1"}))
	assert.Contains(t, repo.passwords, "u1")
	assert.Contains(t, repo.revokedAll, "u1")

	_, err = svc.Login(context.Background(), models.LoginRequest{Username: "ana", Password: "new-password-1"})
	require.NoError(t, err)
}

func TestAuthServiceValidateTokenRejectsTampering(t *testing.T) {
	svc, _, _ := newAuthFixture(t, false)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "ana", Password: "correct-horse"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(login.AccessToken + "x")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
