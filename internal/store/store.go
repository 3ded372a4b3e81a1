// Package store holds the durable local key-value state of the mirror.
// Values are strings, matching the browser storage the UI used to rely on.
package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// KV is a durable string key-value store.
type KV interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set overwrites the value for key.
	Set(ctx context.Context, key, value string) error
}

// Memory is a process-local KV used in tests and when persistence is off.
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemory() *Memory { return &Memory{m: make(map[string]string)} }

func (s *Memory) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *Memory) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
	return nil
}

// CountKey is the fixed key of the cached ledger count.
const CountKey = "txCount"

// CountCache persists the last observed ledger count under CountKey.
type CountCache struct {
	kv KV
}

func NewCountCache(kv KV) *CountCache { return &CountCache{kv: kv} }

// Load returns the cached count and whether one was stored. A stored value that
// is not a non-negative integer is reported as absent.
func (c *CountCache) Load(ctx context.Context) (uint64, bool, error) {
	v, ok, err := c.kv.Get(ctx, CountKey)
	if err != nil || !ok {
		return 0, false, err
	}
	n, perr := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if perr != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// Store overwrites the cached count.
func (c *CountCache) Store(ctx context.Context, n uint64) error {
	return c.kv.Set(ctx, CountKey, strconv.FormatUint(n, 10))
}
