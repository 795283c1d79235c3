package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestGenerateAndValidate(t *testing.T) {
	userID := uuid.New()
	token, err := GenerateAccessToken(userID, "ana@example.com", "Ana", "", testSecret, "artisan-chat", time.Minute)
	require.NoError(t, err)

	claims, err := ValidateToken(token, testSecret, "artisan-chat")
	require.NoError(t, err)

	parsed, err := claims.ParsedUserID()
	require.NoError(t, err)
	assert.Equal(t, userID, parsed)
	assert.Equal(t, "Ana", claims.DisplayName)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := GenerateAccessToken(uuid.New(), "", "Ana", "", testSecret, "", time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, "other-secret", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	token, err := GenerateAccessToken(uuid.New(), "", "Ana", "", testSecret, "", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, testSecret, "")
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	token, err := GenerateAccessToken(uuid.New(), "", "Ana", "", testSecret, "someone-else", time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, testSecret, "artisan-chat")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
