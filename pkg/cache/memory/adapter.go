package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/porthorian/opengrant/pkg/cache"
)

var (
	ErrInvalidTTL = errors.New("memory cache: ttl must be greater than zero")
	ErrEmptyKey   = errors.New("memory cache: key is empty")
)

type tokenEntry struct {
	snapshot cache.TokenSnapshot
	expires  time.Time
}

type Adapter struct {
	mu      sync.RWMutex
	entries map[string]tokenEntry
}

var _ cache.TokenCache = (*Adapter)(nil)

func NewAdapter() *Adapter {
	return &Adapter{
		entries: map[string]tokenEntry{},
	}
}

func (a *Adapter) SetIntrospection(ctx context.Context, key string, snapshot cache.TokenSnapshot, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries[key] = tokenEntry{
		snapshot: snapshot,
		expires:  time.Now().Add(ttl),
	}
	return nil
}

func (a *Adapter) GetIntrospection(ctx context.Context, key string) (cache.TokenSnapshot, bool, error) {
	if key == "" {
		return cache.TokenSnapshot{}, false, ErrEmptyKey
	}

	a.mu.RLock()
	entry, ok := a.entries[key]
	a.mu.RUnlock()

	if !ok {
		return cache.TokenSnapshot{}, false, nil
	}
	if !entry.expires.After(time.Now()) {
		a.mu.Lock()
		delete(a.entries, key)
		a.mu.Unlock()
		return cache.TokenSnapshot{}, false, nil
	}

	return entry.snapshot, true, nil
}

func (a *Adapter) DeleteIntrospection(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.entries, key)
	return nil
}
