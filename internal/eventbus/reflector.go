/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors the in-process status feed onto an external
// transport so dashboards and bots can follow playback without polling
// the HTTP API. The daemon only publishes; commands arrive over HTTP.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/minaret_radio/internal/config"
	"github.com/friendsincode/minaret_radio/internal/events"
)

// Publisher ships one event to the external transport.
type Publisher interface {
	Publish(eventType events.EventType, payload events.Payload) error
	Close() error
}

// message is the wire envelope shared by the Redis and NATS transports.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
	})
}

// NodeID returns the configured instance identity, or derives one from
// the hostname so multiple daemons on one transport stay tellable apart.
func NodeID(cfg *config.Config) string {
	if cfg.InstanceID != "" {
		return cfg.InstanceID
	}
	host, err := os.Hostname()
	if err != nil {
		host = "minaret"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}

// NewPublisher builds the transport selected by configuration. The
// memory backend returns nil: status stays in-process only.
func NewPublisher(cfg *config.Config, logger zerolog.Logger) (Publisher, error) {
	switch cfg.StatusBus {
	case config.StatusBusRedis:
		return NewRedisPublisher(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, NodeID(cfg), logger)
	case config.StatusBusNATS:
		return NewNATSPublisher(cfg.NATSURL, NodeID(cfg), logger)
	case config.StatusBusMemory:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported status bus backend %q", cfg.StatusBus)
	}
}

// Reflector forwards engine events from the in-process bus to one
// external publisher.
type Reflector struct {
	bus    *events.Bus
	out    Publisher
	logger zerolog.Logger
}

// NewReflector wires the in-process bus to out. A nil publisher is
// allowed and makes Run a no-op wait.
func NewReflector(bus *events.Bus, out Publisher, logger zerolog.Logger) *Reflector {
	return &Reflector{
		bus:    bus,
		out:    out,
		logger: logger.With().Str("component", "reflector").Logger(),
	}
}

// Run forwards events until the context is cancelled. Transport errors
// are logged and absorbed; the publishers carry their own circuit
// breaking.
func (r *Reflector) Run(ctx context.Context) {
	if r.out == nil {
		<-ctx.Done()
		return
	}

	types := []events.EventType{events.EventNowPlaying, events.EventStatus, events.EventConnection}
	subs := make(map[events.EventType]events.Subscriber, len(types))
	for _, t := range types {
		subs[t] = r.bus.Subscribe(t)
	}
	defer func() {
		for t, sub := range subs {
			r.bus.Unsubscribe(t, sub)
		}
	}()

	r.logger.Info().Msg("status reflector running")
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-subs[events.EventNowPlaying]:
			r.forward(events.EventNowPlaying, payload)
		case payload := <-subs[events.EventStatus]:
			r.forward(events.EventStatus, payload)
		case payload := <-subs[events.EventConnection]:
			r.forward(events.EventConnection, payload)
		}
	}
}

func (r *Reflector) forward(eventType events.EventType, payload events.Payload) {
	if err := r.out.Publish(eventType, payload); err != nil {
		r.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("status publish dropped")
	}
}
