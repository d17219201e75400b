/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/minaret_radio/internal/events"
)

// subjectPrefix namespaces the published subjects, one per event type.
const subjectPrefix = "minaret.events."

// NATSPublisher ships the status feed to NATS core pub/sub. Reconnects
// are delegated to the client; while disconnected, events are dropped
// rather than buffered because only the latest status matters.
type NATSPublisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
	nodeID string
}

// NewNATSPublisher connects to the NATS server at url. The connection
// retries forever in the background, so an initially unreachable server
// is not fatal.
func NewNATSPublisher(url, nodeID string, logger zerolog.Logger) (*NATSPublisher, error) {
	log := logger.With().Str("component", "nats_publisher").Logger()

	conn, err := nats.Connect(url,
		nats.Name("minaret-radio-"+nodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected, status feed suspended")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected, resuming status feed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info().Str("url", url).Msg("nats status feed connected")
	return &NATSPublisher{conn: conn, logger: log, nodeID: nodeID}, nil
}

// Publish sends one event to the subject for its type.
func (p *NATSPublisher) Publish(eventType events.EventType, payload events.Payload) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("nats disconnected")
	}

	data, err := marshalMessage(eventType, payload, p.nodeID)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	if err := p.conn.Publish(subjectPrefix+string(eventType), data); err != nil {
		return fmt.Errorf("publish to nats: %w", err)
	}
	return nil
}

// Close drains in-flight messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
