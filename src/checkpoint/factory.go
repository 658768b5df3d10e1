package checkpoint

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQLite StoreType = "sqlite"
)

const DefaultTTL = 24 * time.Hour

type storeConfig struct {
	redisClient *redis.Client
	ttl         time.Duration
	sqlitePath  string
	logger      *slog.Logger
}

type StoreOption func(*storeConfig)

func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithTTL bounds how long a redis checkpoint survives without a refresh.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

func WithSQLitePath(path string) StoreOption {
	return func(c *storeConfig) {
		c.sqlitePath = path
	}
}

func WithLogger(logger *slog.Logger) StoreOption {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

// NewStore creates a Store for the given driver. Redis requires
// WithRedisClient and sqlite requires WithSQLitePath.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}
	if config.logger == nil {
		config.logger = slog.Default()
	}

	switch storeType {
	case StoreTypeMemory:
		return newMemoryStore(), nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		ttl := config.ttl
		if ttl <= 0 {
			ttl = DefaultTTL
		}
		return &redisStore{
			client: config.redisClient,
			ttl:    ttl,
		}, nil

	case StoreTypeSQLite:
		if config.sqlitePath == "" {
			return nil, ErrInvalidConfig
		}
		return newSQLiteStore(config.sqlitePath, config.logger)

	default:
		return nil, ErrInvalidStoreType
	}
}
