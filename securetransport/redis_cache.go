package securetransport

import (
	"context"
	"crypto/tls"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisCacheConfig configures a RedisSessionCache.
type RedisCacheConfig struct {
	// Prefix is prepended to every key. Default "ftp:tls-session:".
	Prefix string

	// TTL bounds how long Redis keeps a session. Default 24h.
	TTL time.Duration

	// LocalCapacity sizes the in-process tier. Default DefaultCacheCapacity.
	LocalCapacity int

	// Timeout bounds each Redis round trip. Default 2s.
	Timeout time.Duration

	Logger logrus.FieldLogger
}

// RedisSessionCache shares TLS sessions between processes through Redis,
// with an in-process LRU in front of it. Redis failures degrade to the local
// tier and are logged.
type RedisSessionCache struct {
	client  redis.UniversalClient
	local   *SessionCache
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	log     logrus.FieldLogger
}

var _ tls.ClientSessionCache = (*RedisSessionCache)(nil)

// NewRedisSessionCache wraps an existing Redis client.
func NewRedisSessionCache(client redis.UniversalClient, cfg RedisCacheConfig) *RedisSessionCache {
	if cfg.Prefix == "" {
		cfg.Prefix = "ftp:tls-session:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &RedisSessionCache{
		client:  client,
		local:   NewSessionCache(cfg.LocalCapacity),
		prefix:  cfg.Prefix,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		log:     log.WithField("component", "tls-session-cache"),
	}
}

// DialRedisSessionCache connects to addr and verifies the server responds.
func DialRedisSessionCache(ctx context.Context, addr, password string, db int, cfg RedisCacheConfig) (*RedisSessionCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "securetransport: redis connection failed")
	}
	return NewRedisSessionCache(rdb, cfg), nil
}

func (c *RedisSessionCache) Get(key string) (*tls.ClientSessionState, bool) {
	if cs, ok := c.local.Get(key); ok {
		return cs, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	blob, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).WithField("key", key).Warn("redis get failed")
		}
		return nil, false
	}

	cs, err := DecodeSession(blob)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("discarding undecodable session")
		c.del(key)
		return nil, false
	}
	c.local.Put(key, cs)
	return cs, true
}

// Put stores cs locally and in Redis. A nil cs removes key from both tiers.
func (c *RedisSessionCache) Put(key string, cs *tls.ClientSessionState) {
	if cs == nil {
		c.local.Remove(key)
		c.del(key)
		return
	}
	c.local.Put(key, cs)

	blob, err := EncodeSession(cs)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Debug("session not exportable")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.client.Set(ctx, c.prefix+key, blob, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("redis set failed")
	}
}

func (c *RedisSessionCache) del(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("redis del failed")
	}
}

// Close closes the underlying Redis client.
func (c *RedisSessionCache) Close() error {
	return c.client.Close()
}
