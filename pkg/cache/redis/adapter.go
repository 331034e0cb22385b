package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/porthorian/opengrant/pkg/cache"
)

var (
	ErrInvalidTTL = errors.New("redis cache: ttl must be greater than zero")
	ErrEmptyKey   = errors.New("redis cache: key is empty")
)

type Config struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
}

type Adapter struct {
	client    *rdb.Client
	namespace string
}

var _ cache.TokenCache = (*Adapter)(nil)

func NewAdapter(config Config) *Adapter {
	return &Adapter{
		client: rdb.NewClient(&rdb.Options{
			Addr:        config.Address,
			Username:    config.Username,
			Password:    config.Password,
			DB:          config.Database,
			DialTimeout: config.DialTimeout,
		}),
		namespace: config.Namespace,
	}
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) SetIntrospection(ctx context.Context, key string, snapshot cache.TokenSnapshot, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redis cache: marshal snapshot: %w", err)
	}

	return a.client.Set(ctx, a.namespaced(key), payload, ttl).Err()
}

func (a *Adapter) GetIntrospection(ctx context.Context, key string) (cache.TokenSnapshot, bool, error) {
	if key == "" {
		return cache.TokenSnapshot{}, false, ErrEmptyKey
	}

	payload, err := a.client.Get(ctx, a.namespaced(key)).Bytes()
	if errors.Is(err, rdb.Nil) {
		return cache.TokenSnapshot{}, false, nil
	}
	if err != nil {
		return cache.TokenSnapshot{}, false, err
	}

	var snapshot cache.TokenSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return cache.TokenSnapshot{}, false, fmt.Errorf("redis cache: unmarshal snapshot: %w", err)
	}

	return snapshot, true, nil
}

func (a *Adapter) DeleteIntrospection(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return a.client.Del(ctx, a.namespaced(key)).Err()
}

func (a *Adapter) namespaced(key string) string {
	if a.namespace == "" {
		return key
	}
	return a.namespace + ":" + key
}
