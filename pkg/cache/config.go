package cache

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RedisConfig describes the Redis connection. Zero fields take the
// defaults below.
type RedisConfig struct {
	Addr         string        `default:"localhost:6379" validate:"required,hostname_port"`
	Password     string        `validate:"-"`
	DB           int           `validate:"gte=0,lte=15"`
	PoolSize     int           `default:"10" validate:"gte=1"`
	MinIdleConns int           `default:"2" validate:"gte=0,ltefield=PoolSize"`
	DialTimeout  time.Duration `default:"5s"`
	// Prefix is prepended verbatim to every key, separator included.
	Prefix string `default:"kshpull:"`
}

func (c *RedisConfig) normalize() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("redis config defaults: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}
	return nil
}

// MemoryOption configures MemoryCache.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	maxEntries int
	sweepEvery time.Duration
}

// WithMemoryMaxSize bounds the number of entries kept.
func WithMemoryMaxSize(n int) MemoryOption {
	return func(c *memoryConfig) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithMemorySweep sets how often expired entries are purged.
func WithMemorySweep(d time.Duration) MemoryOption {
	return func(c *memoryConfig) {
		if d > 0 {
			c.sweepEvery = d
		}
	}
}

// LayeredOption configures LayeredCache.
type LayeredOption func(*LayeredCache)

// WithLayeredMemorySize bounds the in-process layer.
func WithLayeredMemorySize(n int) LayeredOption {
	return func(lc *LayeredCache) {
		if n > 0 {
			lc.nearSize = n
		}
	}
}

// WithLayeredMemoryTTL caps how long an entry stays in the in-process layer.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(lc *LayeredCache) {
		if ttl > 0 {
			lc.nearTTL = ttl
		}
	}
}
