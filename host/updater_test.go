package host

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kasuganosora/guilds/server/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inline struct{}

func (inline) Post(fn func()) bool { fn(); return true }

func TestNewer(t *testing.T) {
	assert.True(t, Newer("1.4.1", "1.4.0"))
	assert.True(t, Newer("v2.0", "1.9.9"))
	assert.True(t, Newer("1.10.0", "1.9.0"))
	assert.False(t, Newer("1.4.0", "1.4.0"))
	assert.False(t, Newer("1.4.0-beta", "1.4"))
	assert.False(t, Newer("1.3.9", "1.4.0"))
}

func TestUpdaterRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"1.5.0","url":"https://example.invalid/guilds"}`))
	}))
	defer srv.Close()

	c, ps, err := cache.Open(cache.CacheConfig{})
	require.NoError(t, err)
	defer c.Close()
	defer ps.Close()

	u := NewUpdater(srv.URL, "1.4.0", time.Second, 5, c, nop())
	rel, err := u.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.5.0", rel.Version)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, Newer(rel.Version, u.Current()))

	cached, ok := u.Cached(context.Background())
	require.True(t, ok)
	assert.Equal(t, rel, cached)
	u.Forget(context.Background())
	_, ok = u.Cached(context.Background())
	assert.False(t, ok)
}

func TestUpdaterClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	u := NewUpdater(srv.URL, "1.4.0", time.Second, 5, nil, nop())
	_, err := u.Check(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	_, ok := u.Cached(context.Background())
	assert.False(t, ok)
}

func TestUpdaterCheckAsync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"version":"1.4.0"}`))
	}))
	defer srv.Close()

	u := NewUpdater(srv.URL, "1.4.0", time.Second, 0, nil, nop())
	done := make(chan Release, 1)
	u.CheckAsync(context.Background(), inline{}, func(rel Release, err error) {
		assert.NoError(t, err)
		done <- rel
	})
	select {
	case rel := <-done:
		assert.False(t, Newer(rel.Version, u.Current()))
	case <-time.After(2 * time.Second):
		t.Fatal("check did not complete")
	}
}
