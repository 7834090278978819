package local

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Config holds LocalCache settings.
type Config struct {
	GCInterval time.Duration
}

// entry holds a cached string value with an optional expiry.
type entry struct {
	data     string
	expireAt time.Time
	noExpiry bool
}

func (e *entry) expired() bool {
	return !e.noExpiry && time.Now().After(e.expireAt)
}

// LocalCache is an in-process cache implementing the Cache interface.
type LocalCache struct {
	kv         sync.Map // key → *entry
	hmu        sync.Mutex
	hashes     map[string]map[string]string
	gcInterval time.Duration
	stopGC     chan struct{}
	closeOnce  sync.Once
}

// NewCache creates a LocalCache and starts the background GC goroutine.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &LocalCache{
		hashes:     make(map[string]map[string]string),
		gcInterval: interval,
		stopGC:     make(chan struct{}),
	}
	go c.runGC()
	return c, nil
}

// Close stops the background GC goroutine.
func (c *LocalCache) Close() error {
	c.closeOnce.Do(func() { close(c.stopGC) })
	return nil
}

func (c *LocalCache) runGC() {
	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.kv.Range(func(k, v interface{}) bool {
				if e, ok := v.(*entry); ok && e.expired() {
					c.kv.Delete(k)
				}
				return true
			})
		case <-c.stopGC:
			return
		}
	}
}

// ---- KV ----

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	v, ok := c.kv.Load(key)
	if !ok {
		return "", ErrNotFound
	}
	e := v.(*entry)
	if e.expired() {
		c.kv.Delete(key)
		return "", ErrNotFound
	}
	return e.data, nil
}

func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := &entry{data: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	} else {
		e.noExpiry = true
	}
	c.kv.Store(key, e)
	return nil
}

func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	for _, k := range keys {
		c.kv.Delete(k)
		delete(c.hashes, k)
	}
	return nil
}

// ---- Hash ----

func (c *LocalCache) HSet(_ context.Context, key, field, value string) error {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	h, ok := c.hashes[key]
	if !ok {
		h = make(map[string]string)
		c.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (c *LocalCache) HGet(_ context.Context, key, field string) (string, error) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	v, ok := c.hashes[key][field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (c *LocalCache) HGetAll(_ context.Context, key string) (map[string]string, error) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	result := make(map[string]string, len(c.hashes[key]))
	for k, v := range c.hashes[key] {
		result[k] = v
	}
	return result, nil
}

func (c *LocalCache) HDel(_ context.Context, key string, fields ...string) error {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	for _, f := range fields {
		delete(c.hashes[key], f)
	}
	return nil
}

// HIncrBy adds delta to an integer field, creating it at zero, and returns the new value.
func (c *LocalCache) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	h, ok := c.hashes[key]
	if !ok {
		h = make(map[string]string)
		c.hashes[key] = h
	}
	var cur int64
	if s, ok := h[field]; ok {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cache: field %s/%s is not an integer", key, field)
		}
		cur = n
	}
	cur += delta
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}
