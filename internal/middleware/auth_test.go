package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIdentityRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdentityMiddleware())
	r.GET("/whoami", func(c *gin.Context) {
		userID := c.GetInt64("userId")
		c.JSON(http.StatusOK, gin.H{"userId": userID})
	})
	return r
}

func TestIdentityMiddleware_ResolvesUser(t *testing.T) {
	r := newIdentityRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(IdentityHeader, "42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId": 42}`, w.Body.String())
}

func TestIdentityMiddleware_MissingHeader(t *testing.T) {
	r := newIdentityRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIdentityMiddleware_MalformedHeader(t *testing.T) {
	r := newIdentityRouter()

	for _, raw := range []string{"abc", "-1", "0", "1.5"} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(IdentityHeader, raw)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q should be rejected", raw)
	}
}
