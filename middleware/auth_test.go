package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/guilds/server/cache"
	"github.com/kasuganosora/guilds/server/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) cache.Cache {
	t.Helper()
	c, ps, err := cache.Open(cache.CacheConfig{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
		_ = ps.Close()
	})
	return c
}

func newProtectedRouter(c cache.Cache) *gin.Engine {
	r := gin.New()
	r.Use(PlayerAuth(testSecret, c))
	r.GET("/me", func(ctx *gin.Context) {
		p, _ := GetPlayer(ctx)
		ctx.String(http.StatusOK, p.ID)
	})
	return r
}

func getWithToken(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPlayerAuth_Rejects(t *testing.T) {
	c := setupTestCache(t)
	r := newProtectedRouter(c)

	assert.Equal(t, http.StatusUnauthorized, getWithToken(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, getWithToken(r, "Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, getWithToken(r, "Bearer notavalidtoken").Code)
}

func TestPlayerAuth_NeedsLiveSession(t *testing.T) {
	c := setupTestCache(t)
	r := newProtectedRouter(c)
	tok, err := GenerateToken(alice, testSecret, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, getWithToken(r, "Bearer "+tok).Code)

	require.NoError(t, c.Set(context.Background(), SessionKey(tok), "p-bob", time.Hour))
	assert.Equal(t, http.StatusUnauthorized, getWithToken(r, "Bearer "+tok).Code, "session owned by someone else")

	require.NoError(t, c.Set(context.Background(), SessionKey(tok), alice.ID, time.Hour))
	w := getWithToken(r, "Bearer "+tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, alice.ID, w.Body.String())

	require.NoError(t, c.Del(context.Background(), SessionKey(tok)))
	assert.Equal(t, http.StatusUnauthorized, getWithToken(r, "Bearer "+tok).Code, "revoked")
}

func TestGetPlayer_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := GetPlayer(c)
	assert.False(t, ok)
	assert.Equal(t, "", PlayerID(c))
}

func TestGetPlayer_Present(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(playerKey, host.Player{ID: "p-1", Name: "One"})
	p, ok := GetPlayer(c)
	require.True(t, ok)
	assert.Equal(t, "One", p.Name)
}
