package testutils

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/config"
	"github.com/phrazzld/pomo-api/internal/service/auth"
	"github.com/stretchr/testify/require"
)

// TestJWTSecret is a test-only signing secret.
const TestJWTSecret = "test-jwt-secret-that-is-32-chars-long"

// TestAuthConfig returns auth settings for tests.
func TestAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:            TestJWTSecret,
		TokenLifetimeMinutes: 15,
	}
}

// NewTestJWTService creates a real JWT service signed with TestJWTSecret.
func NewTestJWTService(t *testing.T) auth.JWTService {
	t.Helper()
	svc, err := auth.NewJWTService(TestAuthConfig())
	require.NoError(t, err)
	return svc
}

// GenerateAuthHeader returns an "Authorization" header value for userID.
func GenerateAuthHeader(t *testing.T, svc auth.JWTService, userID uuid.UUID) string {
	t.Helper()
	return "Bearer " + GenerateToken(t, svc, userID)
}

// GenerateToken returns a signed access token for userID.
func GenerateToken(t *testing.T, svc auth.JWTService, userID uuid.UUID) string {
	t.Helper()
	token, err := svc.GenerateToken(context.Background(), userID)
	require.NoError(t, err)
	return token
}
