package host

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/kasuganosora/guilds/server/cache"
	"github.com/kasuganosora/guilds/server/scheduler"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const latestKey = "guilds:latest-release"

// Release is the document served at the version URL.
type Release struct {
	Version string `json:"version"`
	URL     string `json:"url,omitempty"`
}

// Updater probes a version URL. Probes run on their own goroutine; results
// are handed back through the executor so callers may touch the model.
type Updater struct {
	url        string
	current    string
	client     *http.Client
	maxRetries uint64
	c          cache.Cache
	group      singleflight.Group
	logger     *zap.Logger
}

// NewUpdater builds an updater for url. c caches the last result for an hour.
func NewUpdater(url, current string, timeout time.Duration, maxRetries uint64, c cache.Cache, logger *zap.Logger) *Updater {
	return &Updater{
		url:        url,
		current:    current,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		c:          c,
		logger:     logger,
	}
}

// Current is the running version.
func (u *Updater) Current() string { return u.current }

func (u *Updater) fetch(ctx context.Context) (Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.url, nil)
	if err != nil {
		return Release{}, backoff.Permanent(err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return Release{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return Release{}, fmt.Errorf("version probe: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return Release{}, backoff.Permanent(fmt.Errorf("version probe: %s", resp.Status))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Release{}, err
	}
	var rel Release
	if err := sonic.Unmarshal(body, &rel); err != nil {
		return Release{}, backoff.Permanent(fmt.Errorf("decode release: %w", err))
	}
	if rel.Version == "" {
		return Release{}, backoff.Permanent(fmt.Errorf("release document has no version"))
	}
	return rel, nil
}

// Check probes the URL with exponential backoff. Concurrent calls share one probe.
func (u *Updater) Check(ctx context.Context) (Release, error) {
	v, err, _ := u.group.Do("check", func() (any, error) {
		var rel Release
		op := func() error {
			r, err := u.fetch(ctx)
			if err != nil {
				u.logger.Debug("version probe failed", zap.Error(err))
				return err
			}
			rel = r
			return nil
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxInterval = 5 * time.Second
		if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, u.maxRetries), ctx)); err != nil {
			return Release{}, err
		}
		if u.c != nil {
			if payload, err := sonic.MarshalString(rel); err == nil {
				_ = u.c.Set(ctx, latestKey, payload, time.Hour)
			}
		}
		return rel, nil
	})
	if err != nil {
		return Release{}, err
	}
	return v.(Release), nil
}

// Cached returns the last successful probe, if still cached.
func (u *Updater) Cached(ctx context.Context) (Release, bool) {
	if u.c == nil {
		return Release{}, false
	}
	s, err := u.c.Get(ctx, latestKey)
	if err != nil {
		return Release{}, false
	}
	var rel Release
	if err := sonic.UnmarshalString(s, &rel); err != nil {
		return Release{}, false
	}
	return rel, true
}

// Forget drops the cached result.
func (u *Updater) Forget(ctx context.Context) {
	if u.c != nil {
		_ = u.c.Del(ctx, latestKey)
	}
}

// CheckAsync runs Check on a new goroutine and posts done to exec.
func (u *Updater) CheckAsync(ctx context.Context, exec scheduler.Executor, done func(Release, error)) {
	go func() {
		rel, err := u.Check(ctx)
		if !exec.Post(func() { done(rel, err) }) {
			u.logger.Debug("version result dropped, loop stopped")
		}
	}()
}

// Newer reports whether version a is strictly newer than b. Versions are
// dot-separated numbers; a leading "v" and any "-suffix" are ignored.
func Newer(a, b string) bool {
	pa, pb := versionParts(a), versionParts(b)
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		if x != y {
			return x > y
		}
	}
	return false
}

func versionParts(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+ "); i >= 0 {
		v = v[:i]
	}
	var out []int
	for _, p := range strings.Split(v, ".") {
		n, _ := strconv.Atoi(p)
		out = append(out, n)
	}
	return out
}
