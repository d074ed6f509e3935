package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authedRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthenticatorMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	auth, err := NewAuthenticator(secret, "dispute-gateway", []string{"dispute-gateway"})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(testNowUnix, 0)
	auth.now = func() time.Time { return now }

	var gotSubject string
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	valid := signToken(t, secret, jwt.MapClaims{
		"sub": "user-1",
		"iss": "dispute-gateway",
		"aud": "dispute-gateway",
		"exp": now.Add(time.Hour).Unix(),
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(valid))
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d", rec.Code)
	}
	if gotSubject != "user-1" {
		t.Fatalf("subject = %q", gotSubject)
	}

	cases := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"wrong secret", signToken(t, []byte("other"), jwt.MapClaims{
			"sub": "user-1", "iss": "dispute-gateway", "aud": "dispute-gateway", "exp": now.Add(time.Hour).Unix(),
		})},
		{"wrong issuer", signToken(t, secret, jwt.MapClaims{
			"sub": "user-1", "iss": "someone-else", "aud": "dispute-gateway", "exp": now.Add(time.Hour).Unix(),
		})},
		{"wrong audience", signToken(t, secret, jwt.MapClaims{
			"sub": "user-1", "iss": "dispute-gateway", "aud": "other-service", "exp": now.Add(time.Hour).Unix(),
		})},
		{"expired", signToken(t, secret, jwt.MapClaims{
			"sub": "user-1", "iss": "dispute-gateway", "aud": "dispute-gateway", "exp": now.Add(-time.Hour).Unix(),
		})},
		{"missing subject", signToken(t, secret, jwt.MapClaims{
			"iss": "dispute-gateway", "aud": "dispute-gateway", "exp": now.Add(time.Hour).Unix(),
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, authedRequest(tc.token))
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}
