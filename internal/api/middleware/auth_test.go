package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/api/shared"
	"github.com/phrazzld/pomo-api/internal/mocks"
	"github.com/phrazzld/pomo-api/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(userID.String()))
}

func TestAuthenticate(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name        string
		header      string
		validateErr error
		wantStatus  int
		wantError   string
	}{
		{"valid token", "Bearer good", nil, http.StatusOK, ""},
		{"missing header", "", nil, http.StatusUnauthorized, "Authorization header required"},
		{"wrong scheme", "Basic abc", nil, http.StatusUnauthorized, "Invalid authorization format"},
		{"empty bearer", "Bearer ", nil, http.StatusUnauthorized, "Invalid authorization format"},
		{"expired", "Bearer old", auth.ErrExpiredToken, http.StatusUnauthorized, "Token expired"},
		{"not yet valid", "Bearer early", auth.ErrTokenNotYetValid, http.StatusUnauthorized, "Invalid token"},
		{"tampered", "Bearer bad", auth.ErrInvalidToken, http.StatusUnauthorized, "Invalid token"},
		{"unexpected failure", "Bearer any", errors.New("key store offline"), http.StatusInternalServerError, "Authentication error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jwt := &mocks.MockJWTService{ValidateErr: tt.validateErr}
			if tt.validateErr == nil {
				jwt.Claims = &auth.Claims{UserID: userID}
			}
			handler := NewAuthMiddleware(jwt).Authenticate(http.HandlerFunc(echoUser))

			req := httptest.NewRequest(http.MethodGet, "/api/sessions/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError == "" {
				assert.Equal(t, userID.String(), rec.Body.String())
				return
			}
			var body shared.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantError, body.Error)
			assert.NotContains(t, rec.Body.String(), "key store")
		})
	}
}

func TestAuthenticate_IgnoresQueryToken(t *testing.T) {
	jwt := &mocks.MockJWTService{Claims: &auth.Claims{UserID: uuid.New()}}
	handler := NewAuthMiddleware(jwt).Authenticate(http.HandlerFunc(echoUser))

	req := httptest.NewRequest(http.MethodGet, "/api/sessions?"+AccessTokenParam+"=abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, jwt.ValidatedTokens)
}

func TestAuthenticateSocket(t *testing.T) {
	userID := uuid.New()

	t.Run("query token", func(t *testing.T) {
		jwt := &mocks.MockJWTService{Claims: &auth.Claims{UserID: userID}}
		handler := NewAuthMiddleware(jwt).AuthenticateSocket(http.HandlerFunc(echoUser))

		req := httptest.NewRequest(http.MethodGet, "/ws?"+AccessTokenParam+"=from-query", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"from-query"}, jwt.ValidatedTokens)
	})

	t.Run("header wins over query", func(t *testing.T) {
		jwt := &mocks.MockJWTService{Claims: &auth.Claims{UserID: userID}}
		handler := NewAuthMiddleware(jwt).AuthenticateSocket(http.HandlerFunc(echoUser))

		req := httptest.NewRequest(http.MethodGet, "/ws?"+AccessTokenParam+"=from-query", nil)
		req.Header.Set("Authorization", "Bearer from-header")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"from-header"}, jwt.ValidatedTokens)
	})

	t.Run("no token", func(t *testing.T) {
		jwt := &mocks.MockJWTService{}
		handler := NewAuthMiddleware(jwt).AuthenticateSocket(http.HandlerFunc(echoUser))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
