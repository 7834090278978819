package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecovery_CatchesPanic(t *testing.T) {
	r := gin.New()
	r.Use(TraceID(), Logger(nop()), Recovery(nop()))
	r.GET("/panic", func(c *gin.Context) { panic("test panic") })

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(TraceIDHeader, "t-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "t-1", body["trace_id"])
}

func TestRecovery_NoPanic_PassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(nop()))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogger_PassesStatusThrough(t *testing.T) {
	r := gin.New()
	r.Use(TraceID(), Logger(nop()))
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
