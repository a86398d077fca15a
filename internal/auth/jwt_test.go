package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", 1)
	userID := uuid.New()

	token, err := svc.Generate(userID, "secretary@example.org", "secretary")
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "secretary@example.org", claims.Email)
	assert.Equal(t, "secretary", claims.Role)
}

func TestJWTValidateRejects(t *testing.T) {
	svc := NewJWTService("test-secret", 1)

	_, err := svc.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewJWTService("other-secret", 1)
	token, err := other.Generate(uuid.New(), "x@example.org", "secretary")
	require.NoError(t, err)
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTExpired(t *testing.T) {
	svc := NewJWTService("test-secret", -1)
	token, err := svc.Generate(uuid.New(), "x@example.org", "secretary")
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
