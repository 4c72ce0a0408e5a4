package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/escrow/internal/auth"
)

func signToken(t *testing.T, secret string, subject string, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	raw, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func TestParseValidToken(t *testing.T) {
	userID := uuid.New()
	parser := auth.NewParser("top-secret")

	principal, err := parser.Parse(signToken(t, "top-secret", userID.String(), "buyer"))
	require.NoError(t, err)
	assert.Equal(t, userID, principal.UserID)
	assert.Equal(t, "buyer", principal.Role)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	parser := auth.NewParser("top-secret")
	_, err := parser.Parse(signToken(t, "other-secret", uuid.NewString(), "buyer"))
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestParseRejectsNonUUIDSubject(t *testing.T) {
	parser := auth.NewParser("top-secret")
	_, err := parser.Parse(signToken(t, "top-secret", "someone", "buyer"))
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	raw, err := token.SignedString([]byte("top-secret"))
	require.NoError(t, err)

	parser := auth.NewParser("top-secret")
	_, err = parser.Parse(raw)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
