package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/kine-assistant/internal/identity"
)

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestPractitionerJWT(t *testing.T) {
	var seen string
	handler := PractitionerJWT("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = identity.PractitionerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	valid := jwt.RegisteredClaims{Subject: "kine-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "valid", header: "Bearer " + signToken(t, "s3cret", valid), status: http.StatusNoContent},
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signToken(t, "other", valid), status: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + signToken(t, "s3cret", jwt.RegisteredClaims{ExpiresAt: valid.ExpiresAt}), status: http.StatusUnauthorized},
		{name: "no expiry", header: "Bearer " + signToken(t, "s3cret", jwt.RegisteredClaims{Subject: "kine-1"}), status: http.StatusUnauthorized},
		{
			name:   "expired",
			header: "Bearer " + signToken(t, "s3cret", jwt.RegisteredClaims{Subject: "kine-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}),
			status: http.StatusUnauthorized,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusNoContent {
				assert.Equal(t, "kine-1", seen)
			} else {
				assert.Empty(t, seen)
			}
		})
	}
}

func TestPractitionerJWT_DisabledWithoutSecret(t *testing.T) {
	handler := PractitionerJWT("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
