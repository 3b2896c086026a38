package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiovault/audiovault/pkg/models"
)

const testSecret = "test-secret-key-at-least-32-chars-long"

func testService(t *testing.T, duration time.Duration) *JWTService {
	t.Helper()
	s, err := NewJWTService(JWTConfig{Secret: testSecret, TokenDuration: duration})
	require.NoError(t, err)
	return s
}

func testSubjects() (*models.User, *models.Session) {
	user := &models.User{
		ID:    "user-1",
		Email: "reader@example.com",
		Role:  string(models.RoleUser),
	}
	session := &models.Session{
		ID:        "session-1",
		UserID:    "user-1",
		DeviceID:  "device-1",
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	return user, session
}

func TestNewJWTServiceRejectsShortSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{Secret: "too short"})
	assert.ErrorIs(t, err, ErrInvalidSecretLength)
}

func TestGenerateAndValidate(t *testing.T) {
	s := testService(t, time.Hour)
	user, session := testSubjects()

	token, exp, err := s.GenerateToken(user, session)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 2*time.Second)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "reader@example.com", claims.Email)
	assert.Equal(t, "session-1", claims.SessionID)
	assert.Equal(t, "device-1", claims.DeviceID)
	assert.False(t, claims.IsAdmin())
}

func TestTokenExpiryClampedToSession(t *testing.T) {
	s := testService(t, 7*24*time.Hour)
	user, session := testSubjects()
	session.ExpiresAt = time.Now().Add(time.Minute)

	_, exp, err := s.GenerateToken(user, session)
	require.NoError(t, err)
	assert.WithinDuration(t, session.ExpiresAt, exp, time.Second)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	s := testService(t, time.Hour)
	user, session := testSubjects()
	token, _, err := s.GenerateToken(user, session)
	require.NoError(t, err)

	other, err := NewJWTService(JWTConfig{Secret: "another-secret-also-32-chars-long!!"})
	require.NoError(t, err)
	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	s := testService(t, -time.Minute)
	user, session := testSubjects()
	token, _, err := s.GenerateToken(user, session)
	require.NoError(t, err)

	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateRejectsGarbage(t *testing.T) {
	s := testService(t, time.Hour)
	_, err := s.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = s.ValidateToken("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAdminClaims(t *testing.T) {
	s := testService(t, time.Hour)
	user, session := testSubjects()
	user.Role = string(models.RoleAdmin)

	token, _, err := s.GenerateToken(user, session)
	require.NoError(t, err)
	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())
}
