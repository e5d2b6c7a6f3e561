package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/siga-edu/siga-api/internal/models"
	appErrors "github.com/siga-edu/siga-api/pkg/errors"
)

type credentialStoreMock struct {
	userByEmail         *models.User
	userByID            *models.User
	findByEmailErr      error
	findByIDErr         error
	refreshTokens       map[string]*models.RefreshToken
	refreshTokenErr     error
	createRefreshErr    error
	revokeRefreshErr    error
	revokeUserTokensErr error
	updatePasswordErr   error
	auditLogs           []*models.AuditLog
	lastLoginUpdated    bool
}

func (m *credentialStoreMock) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	return m.userByEmail, nil
}

func (m *credentialStoreMock) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.findByIDErr != nil {
		return nil, m.findByIDErr
	}
	if m.userByID != nil {
		return m.userByID, nil
	}
	return m.userByEmail, nil
}

func (m *credentialStoreMock) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *credentialStoreMock) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if m.updatePasswordErr != nil {
		return m.updatePasswordErr
	}
	if m.userByEmail != nil && m.userByEmail.ID == id {
		m.userByEmail.PasswordHash = passwordHash
	}
	return nil
}

func (m *credentialStoreMock) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	return m.revokeUserTokensErr
}

func (m *credentialStoreMock) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.createRefreshErr != nil {
		return m.createRefreshErr
	}
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *credentialStoreMock) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if m.refreshTokenErr != nil {
		return nil, m.refreshTokenErr
	}
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, errors.New("not found")
	}
	return rt, nil
}

func (m *credentialStoreMock) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	if m.revokeRefreshErr != nil {
		return m.revokeRefreshErr
	}
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *credentialStoreMock) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func newAuthService(store *credentialStoreMock) *AuthService {
	return NewAuthService(store, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
	})
}

func sigaAccount(id string, role models.UserRole, password string) *models.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return &models.User{
		ID:           id,
		Email:        "secretaria@siga.edu",
		FullName:     "Ana Souza",
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	store := &credentialStoreMock{userByEmail: sigaAccount("123", models.RoleSecretary, "password")}
	svc := newAuthService(store)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "secretaria@siga.edu", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, models.RoleSecretary, res.User.Role)
	assert.True(t, store.lastLoginUpdated)
	assert.NotEmpty(t, store.refreshTokens)
	require.NotEmpty(t, store.auditLogs)
	assert.Equal(t, models.AuditActionLogin, store.auditLogs[0].Action)
}

func TestAuthServiceLoginInactive(t *testing.T) {
	account := sigaAccount("123", models.RoleStudent, "password")
	account.Active = false
	store := &credentialStoreMock{userByEmail: account}
	svc := newAuthService(store)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "secretaria@siga.edu", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	store := &credentialStoreMock{userByEmail: sigaAccount("123", models.RoleAdmin, "password")}
	svc := newAuthService(store)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "secretaria@siga.edu", Password: "guess"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
	assert.Empty(t, store.refreshTokens)
}

func TestAuthServiceRefreshTokenRotates(t *testing.T) {
	account := sigaAccount("u1", models.RoleTeacher, "password")
	store := &credentialStoreMock{
		userByEmail:   account,
		userByID:      account,
		refreshTokens: map[string]*models.RefreshToken{},
	}
	store.refreshTokens["token"] = &models.RefreshToken{ID: "rt1", UserID: "u1", Token: "token", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newAuthService(store)

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "token", res.RefreshToken)
	assert.True(t, store.refreshTokens["token"].Revoked)
}

func TestAuthServiceRefreshTokenExpired(t *testing.T) {
	account := sigaAccount("u1", models.RoleStudent, "password")
	store := &credentialStoreMock{
		userByEmail:   account,
		userByID:      account,
		refreshTokens: map[string]*models.RefreshToken{},
	}
	store.refreshTokens["stale"] = &models.RefreshToken{ID: "rt1", UserID: "u1", Token: "stale", ExpiresAt: time.Now().Add(-time.Minute)}
	svc := newAuthService(store)

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "stale"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogoutForeignToken(t *testing.T) {
	store := &credentialStoreMock{refreshTokens: map[string]*models.RefreshToken{
		"token": {ID: "rt1", UserID: "u1", Token: "token", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	svc := newAuthService(store)

	err := svc.Logout(context.Background(), "token", "u2", models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.False(t, store.refreshTokens["token"].Revoked)
}

func TestAuthServiceChangePassword(t *testing.T) {
	account := sigaAccount("u1", models.RoleAdmin, "old-password")
	oldHash := account.PasswordHash
	store := &credentialStoreMock{userByEmail: account}
	svc := newAuthService(store)

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "old-password", NewPassword: "newpassword"})
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, account.PasswordHash)
}

func TestAuthServiceValidateToken(t *testing.T) {
	svc := newAuthService(&credentialStoreMock{})
	account := sigaAccount("u1", models.RoleAdmin, "password")

	token, _, err := svc.generateAccessToken(account)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}
