package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

func fromIP(r *gin.Engine, ip string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Real-IP", ip)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func newWhitelistRouter(entries []string) *gin.Engine {
	r := gin.New()
	r.Use(IPWhitelist(entries, nop()))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestIPWhitelist_Empty_AllowsAll(t *testing.T) {
	r := newWhitelistRouter(nil)
	assert.Equal(t, http.StatusOK, fromIP(r, "1.2.3.4"))
}

func TestIPWhitelist_SingleAddresses(t *testing.T) {
	r := newWhitelistRouter([]string{"10.0.0.1", " 10.0.0.2 "})
	assert.Equal(t, http.StatusOK, fromIP(r, "10.0.0.1"))
	assert.Equal(t, http.StatusOK, fromIP(r, "10.0.0.2"))
	assert.Equal(t, http.StatusForbidden, fromIP(r, "10.0.0.3"))
}

func TestIPWhitelist_CIDR(t *testing.T) {
	r := newWhitelistRouter([]string{"192.168.1.0/24", "::1"})
	assert.Equal(t, http.StatusOK, fromIP(r, "192.168.1.77"))
	assert.Equal(t, http.StatusOK, fromIP(r, "::1"))
	assert.Equal(t, http.StatusForbidden, fromIP(r, "192.168.2.1"))
}

func TestIPWhitelist_BadEntriesSkipped(t *testing.T) {
	r := newWhitelistRouter([]string{"not-an-ip", "127.0.0.1"})
	assert.Equal(t, http.StatusOK, fromIP(r, "127.0.0.1"))
	assert.Equal(t, http.StatusForbidden, fromIP(r, "8.8.8.8"))
}
