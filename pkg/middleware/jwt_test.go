package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

const testSecret = "test-secret-key-for-jwt-middleware"

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(claims jwt.MapClaims, secret string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, _ := token.SignedString([]byte(secret))
	return s
}

func setupJWTRouter(config *JWTConfig) *gin.Engine {
	router := gin.New()
	router.Use(JWTMiddleware(config))
	router.GET("/protected", func(c *gin.Context) {
		userID, _ := GetUserID(c)
		role, _ := GetRole(c)
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "role": role})
	})
	router.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/admin", RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestJWTMiddleware(t *testing.T) {
	config := &JWTConfig{Secret: testSecret, Issuer: "reservations", SkipPaths: []string{"/health"}}

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{
			name: "valid token",
			path: "/protected",
			header: "Bearer " + signToken(jwt.MapClaims{
				"user_id": "user-123", "role": "buyer", "iss": "reservations",
				"exp": time.Now().Add(time.Hour).Unix(),
			}, testSecret),
			wantStatus: http.StatusOK,
			wantBody:   `"user_id":"user-123"`,
		},
		{
			name: "sub claim fallback",
			path: "/protected",
			header: "Bearer " + signToken(jwt.MapClaims{
				"sub": "user-9", "iss": "reservations", "exp": time.Now().Add(time.Hour).Unix(),
			}, testSecret),
			wantStatus: http.StatusOK,
			wantBody:   `"user_id":"user-9"`,
		},
		{name: "missing header", path: "/protected", wantStatus: http.StatusUnauthorized, wantBody: "MISSING_TOKEN"},
		{name: "not bearer", path: "/protected", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantBody: "INVALID_TOKEN"},
		{
			name: "expired token",
			path: "/protected",
			header: "Bearer " + signToken(jwt.MapClaims{
				"user_id": "u", "iss": "reservations", "exp": time.Now().Add(-time.Hour).Unix(),
			}, testSecret),
			wantStatus: http.StatusUnauthorized,
			wantBody:   "TOKEN_EXPIRED",
		},
		{
			name: "wrong secret",
			path: "/protected",
			header: "Bearer " + signToken(jwt.MapClaims{
				"user_id": "u", "iss": "reservations", "exp": time.Now().Add(time.Hour).Unix(),
			}, "other"),
			wantStatus: http.StatusUnauthorized,
			wantBody:   "INVALID_TOKEN",
		},
		{
			name: "wrong issuer",
			path: "/protected",
			header: "Bearer " + signToken(jwt.MapClaims{
				"user_id": "u", "iss": "elsewhere", "exp": time.Now().Add(time.Hour).Unix(),
			}, testSecret),
			wantStatus: http.StatusUnauthorized,
			wantBody:   "INVALID_TOKEN",
		},
		{name: "skip path", path: "/health", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupJWTRouter(config)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	router := setupJWTRouter(&JWTConfig{Secret: testSecret})

	token := signToken(jwt.MapClaims{"user_id": "u", "role": "buyer", "exp": time.Now().Add(time.Hour).Unix()}, testSecret)
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	token = signToken(jwt.MapClaims{"user_id": "u", "role": "admin", "exp": time.Now().Add(time.Hour).Unix()}, testSecret)
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}
