package server

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = strings.Repeat("k", MinSecretLength)

func TestNewJWTService(t *testing.T) {
	_, err := NewJWTService("short", time.Hour)
	assert.Error(t, err)

	s, err := NewJWTService(testSecret, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenTTL, s.ttl)
}

func TestJWTService_RoundTrip(t *testing.T) {
	s, err := NewJWTService(testSecret, time.Hour)
	require.NoError(t, err)

	token, err := s.GenerateToken("extension")
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "extension", claims.GetClient())
	assert.NotEmpty(t, claims.ID)

	getter, err := s.AsTokenValidator().ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "extension", getter.GetClient())
}

func TestJWTService_Rejects(t *testing.T) {
	s, err := NewJWTService(testSecret, time.Hour)
	require.NoError(t, err)
	other, err := NewJWTService(strings.Repeat("x", MinSecretLength), time.Hour)
	require.NoError(t, err)

	issued := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }
	token, err := s.GenerateToken("cli")
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = s.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token expired")

	other.now = func() time.Time { return issued.Add(time.Minute) }
	_, err = other.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token signature")

	_, err = s.ValidateToken("not.a.jwt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed token")

	_, err = s.ValidateToken("")
	assert.Error(t, err)

	_, err = s.AsTokenValidator().ValidateToken("")
	assert.Error(t, err)
}
