/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// StatusBusBackend selects the transport feeding the external status reflector.
type StatusBusBackend string

const (
	StatusBusMemory StatusBusBackend = "memory"
	StatusBusRedis  StatusBusBackend = "redis"
	StatusBusNATS   StatusBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int

	// Catalogue layout: one directory per performer under MediaRoot,
	// tracks named NNN.mp3.
	MediaRoot        string
	CatalogueSize    int
	DefaultPerformer string

	// DataDir holds the snapshot, the instance lock and the duration cache.
	DataDir          string
	AutosaveInterval time.Duration

	// Output sink (Icecast source connection).
	SinkHost           string
	SinkPort           int
	SinkMount          string
	SinkSourceUser     string
	SinkSourcePassword string
	SinkName           string
	FallbackBitrate    int // kbps assumed when a track's bitrate is unknown

	// Reconnect policy.
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration

	// Status reflector transport.
	StatusBus     StatusBusBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	InstanceID    string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("MINARET_ENV", "development"),
		HTTPBind:    getEnv("MINARET_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("MINARET_HTTP_PORT", 8080),

		MediaRoot:        getEnv("MINARET_MEDIA_ROOT", ""),
		CatalogueSize:    getEnvInt("MINARET_CATALOGUE_SIZE", 114),
		DefaultPerformer: getEnv("MINARET_DEFAULT_PERFORMER", ""),

		DataDir:          getEnv("MINARET_DATA_DIR", "./data"),
		AutosaveInterval: getEnvDuration("MINARET_AUTOSAVE_INTERVAL", 30*time.Second),

		SinkHost:           getEnv("MINARET_SINK_HOST", "localhost"),
		SinkPort:           getEnvInt("MINARET_SINK_PORT", 8000),
		SinkMount:          getEnv("MINARET_SINK_MOUNT", "/minaret"),
		SinkSourceUser:     getEnv("MINARET_SINK_SOURCE_USER", "source"),
		SinkSourcePassword: getEnv("MINARET_SINK_SOURCE_PASSWORD", ""),
		SinkName:           getEnv("MINARET_SINK_NAME", "Minaret Radio"),
		FallbackBitrate:    getEnvInt("MINARET_FALLBACK_BITRATE", 128),

		ReconnectInitialDelay: getEnvDuration("MINARET_RECONNECT_INITIAL_DELAY", 2*time.Second),
		ReconnectMaxDelay:     getEnvDuration("MINARET_RECONNECT_MAX_DELAY", time.Minute),

		StatusBus:     StatusBusBackend(getEnv("MINARET_STATUS_BUS", string(StatusBusMemory))),
		RedisAddr:     getEnv("MINARET_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("MINARET_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("MINARET_REDIS_DB", 0),
		NATSURL:       getEnv("MINARET_NATS_URL", "nats://localhost:4222"),
		InstanceID:    getEnv("MINARET_INSTANCE_ID", ""),
	}

	if cfg.MediaRoot == "" {
		return nil, fmt.Errorf("MINARET_MEDIA_ROOT must be provided")
	}
	if cfg.CatalogueSize < 1 {
		return nil, fmt.Errorf("MINARET_CATALOGUE_SIZE must be positive, got %d", cfg.CatalogueSize)
	}
	if cfg.AutosaveInterval < time.Second {
		return nil, fmt.Errorf("MINARET_AUTOSAVE_INTERVAL must be at least 1s, got %s", cfg.AutosaveInterval)
	}
	switch cfg.StatusBus {
	case StatusBusMemory, StatusBusRedis, StatusBusNATS:
	default:
		return nil, fmt.Errorf("unsupported status bus backend %q", cfg.StatusBus)
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.SinkSourcePassword == "" || strings.EqualFold(cfg.SinkSourcePassword, "hackme") {
			return nil, fmt.Errorf("MINARET_SINK_SOURCE_PASSWORD must be set to a non-default value in production")
		}
	}

	return cfg, nil
}

// SnapshotPath is the durable playback snapshot location.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "playback.json")
}

// LockPath is the instance lock record location.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "minaret.lock")
}

// DurationCachePath is the sqlite duration cache location.
func (c *Config) DurationCachePath() string {
	return filepath.Join(c.DataDir, "durations.db")
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		// Bare numbers are treated as seconds.
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
