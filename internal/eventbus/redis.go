/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/minaret_radio/internal/events"
)

// channelPrefix namespaces the pub/sub channels, one per event type.
const channelPrefix = "minaret.events."

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker.
	MaxFailures   int
	RetryInterval time.Duration
}

func (c *RedisConfig) applyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = 4
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = 1
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 30 * time.Second
	}
}

// RedisPublisher ships the status feed to Redis pub/sub. When Redis
// drops out the publisher trips a breaker and silently discards events
// until a periodic ping succeeds again; the daemon itself never blocks
// on the reflector transport.
type RedisPublisher struct {
	client *redis.Client
	cfg    RedisConfig
	logger zerolog.Logger
	nodeID string

	mu        sync.Mutex
	tripped   bool
	failCount int
	lastCheck time.Time
}

// NewRedisPublisher connects to Redis. An unreachable server is not
// fatal: the publisher starts tripped and retries in the background of
// later publishes.
func NewRedisPublisher(cfg RedisConfig, nodeID string, logger zerolog.Logger) (*RedisPublisher, error) {
	cfg.applyDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	p := &RedisPublisher{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "redis_publisher").Logger(),
		nodeID: nodeID,
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		p.logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unreachable, status feed suspended until it returns")
		p.tripped = true
		p.lastCheck = time.Now()
		return p, nil
	}

	p.logger.Info().Str("addr", cfg.Addr).Msg("redis status feed connected")
	return p, nil
}

// Publish sends one event to the channel for its type.
func (p *RedisPublisher) Publish(eventType events.EventType, payload events.Payload) error {
	if !p.ready() {
		return fmt.Errorf("redis publisher suspended")
	}

	data, err := marshalMessage(eventType, payload, p.nodeID)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.client.Publish(ctx, channelPrefix+string(eventType), data).Err(); err != nil {
		p.recordFailure(err)
		return fmt.Errorf("publish to redis: %w", err)
	}

	p.mu.Lock()
	p.failCount = 0
	p.mu.Unlock()
	return nil
}

// ready reports whether the breaker allows publishing, probing Redis
// again once per retry interval while tripped.
func (p *RedisPublisher) ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.tripped {
		return true
	}
	if time.Since(p.lastCheck) < p.cfg.RetryInterval {
		return false
	}
	p.lastCheck = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.client.Ping(ctx).Err(); err != nil {
		return false
	}

	p.logger.Info().Msg("redis back, resuming status feed")
	p.tripped = false
	p.failCount = 0
	return true
}

func (p *RedisPublisher) recordFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failCount++
	if p.failCount >= p.cfg.MaxFailures && !p.tripped {
		p.logger.Warn().Err(err).Int("failures", p.failCount).Msg("redis failure threshold reached, suspending status feed")
		p.tripped = true
		p.lastCheck = time.Now()
	}
}

// Close releases the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
