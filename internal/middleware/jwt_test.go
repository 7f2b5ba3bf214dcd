package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func signed(t *testing.T, userID, key string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	s, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTAuth(secret), func(c *gin.Context) {
		userID, _ := UserID(c)
		c.String(http.StatusOK, userID)
	})
	return r
}

func TestJWTAuth(t *testing.T) {
	valid := signed(t, "hana", secret, time.Now().Add(time.Hour))

	tests := []struct {
		name     string
		header   string
		query    string
		wantCode int
		wantBody string
	}{
		{name: "bearer header", header: "Bearer " + valid, wantCode: http.StatusOK, wantBody: "hana"},
		{name: "query token", query: "?token=" + valid, wantCode: http.StatusOK, wantBody: "hana"},
		{name: "missing", wantCode: http.StatusUnauthorized},
		{name: "bad format", header: "Token " + valid, wantCode: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + signed(t, "hana", "other", time.Now().Add(time.Hour)), wantCode: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signed(t, "hana", secret, time.Now().Add(-time.Hour)), wantCode: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + signed(t, "", secret, time.Now().Add(time.Hour)), wantCode: http.StatusUnauthorized},
	}

	r := newRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}
