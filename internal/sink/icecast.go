/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sink

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/minaret_radio/internal/telemetry"
)

// IcecastConfig configures the source connection to the output mount.
type IcecastConfig struct {
	Host           string
	Port           int
	Mount          string
	SourceUser     string
	SourcePassword string
	Name           string
	DialTimeout    time.Duration
}

// Icecast streams MP3 audio to an Icecast mount over the source
// protocol: PUT with Basic auth, ice-* headers, then a raw byte stream
// on the same connection. net/http cannot keep the connection after the
// response, so the handshake runs over a plain socket.
type Icecast struct {
	cfg    IcecastConfig
	logger zerolog.Logger

	mu         sync.Mutex
	conn       net.Conn
	stop       chan struct{} // closes the active play session
	streamDone chan struct{} // closed when the stream goroutine exits
	paused     atomic.Bool
}

// NewIcecast creates an Icecast sink.
func NewIcecast(cfg IcecastConfig, logger zerolog.Logger) *Icecast {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Icecast{
		cfg:    cfg,
		logger: logger.With().Str("component", "icecast_sink").Logger(),
	}
}

// Connect dials the mount and completes the source handshake.
func (s *Icecast) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	dialer := net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial sink %s: %w", addr, err)
	}

	if err := s.handshake(conn); err != nil {
		conn.Close()
		return err
	}

	s.conn = conn
	s.logger.Info().Str("addr", addr).Str("mount", s.cfg.Mount).Msg("sink connected")
	return nil
}

func (s *Icecast) handshake(conn net.Conn) error {
	auth := base64.StdEncoding.EncodeToString(
		[]byte(s.cfg.SourceUser + ":" + s.cfg.SourcePassword))

	var req strings.Builder
	fmt.Fprintf(&req, "PUT %s HTTP/1.1\r\n", s.cfg.Mount)
	fmt.Fprintf(&req, "Host: %s\r\n", s.cfg.Host)
	fmt.Fprintf(&req, "Authorization: Basic %s\r\n", auth)
	req.WriteString("Content-Type: audio/mpeg\r\n")
	fmt.Fprintf(&req, "Ice-Name: %s\r\n", s.cfg.Name)
	req.WriteString("Ice-Public: 0\r\n")
	req.WriteString("Expect: 100-continue\r\n")
	req.WriteString("\r\n")

	conn.SetDeadline(time.Now().Add(s.cfg.DialTimeout))
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write([]byte(req.String())); err != nil {
		return fmt.Errorf("sink handshake write: %w", err)
	}

	reader := bufio.NewReader(conn)
	status, err := readResponseStatus(reader)
	if err != nil {
		return fmt.Errorf("sink handshake read: %w", err)
	}
	if status == 100 {
		status, err = readResponseStatus(reader)
		if err != nil {
			return fmt.Errorf("sink handshake read after continue: %w", err)
		}
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("sink rejected source connection: status %d", status)
	}
	return nil
}

// readResponseStatus consumes one HTTP response head and returns its
// status code.
func readResponseStatus(reader *bufio.Reader) (int, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return 0, err
	}
	parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return 0, fmt.Errorf("malformed status line %q", strings.TrimSpace(line))
	}
	var status int
	if _, err := fmt.Sscanf(parts[1], "%d", &status); err != nil {
		return 0, fmt.Errorf("malformed status code in %q", strings.TrimSpace(line))
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return 0, err
		}
		if strings.TrimSpace(line) == "" {
			return status, nil
		}
	}
}

// Play streams src paced at its bitrate. One second of audio is written
// per pacing tick; each completed second is reported on the tick
// channel. Pausing suspends both writes and the clock.
func (s *Icecast) Play(ctx context.Context, src *Source) (<-chan time.Duration, <-chan error, error) {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("sink not connected")
	}
	stop := make(chan struct{})
	streamDone := make(chan struct{})
	s.stop = stop
	s.streamDone = streamDone
	s.mu.Unlock()

	ticks := make(chan time.Duration, 4)
	done := make(chan error, 1)

	go s.stream(ctx, conn, src, stop, streamDone, ticks, done)
	return ticks, done, nil
}

func (s *Icecast) stream(ctx context.Context, conn net.Conn, src *Source, stop, streamDone chan struct{}, ticks chan time.Duration, done chan error) {
	defer close(streamDone)
	defer close(ticks)

	budget := src.BytesPerSecond()
	buf := make([]byte, budget)
	elapsed := src.Offset

	pacer := time.NewTicker(time.Second)
	defer pacer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-pacer.C:
		}

		if s.paused.Load() {
			continue
		}

		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if _, err := conn.Write(buf[:n]); err != nil {
				done <- fmt.Errorf("sink write: %w", err)
				return
			}
			conn.SetWriteDeadline(time.Time{})
			elapsed += time.Duration(float64(n) / float64(budget) * float64(time.Second))
			telemetry.PlayedSeconds.Add(float64(n) / float64(budget))
			select {
			case ticks <- elapsed:
			default:
			}
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			done <- nil
			return
		}
		if readErr != nil {
			// Unreadable mid-track; surface as end-of-stream so the
			// engine advances instead of looping on a broken file.
			s.logger.Warn().Err(readErr).Str("path", src.Path).Msg("source read failed mid-track")
			done <- nil
			return
		}
	}
}

// Pause suspends streaming without dropping the connection.
func (s *Icecast) Pause() { s.paused.Store(true) }

// Resume releases a pause.
func (s *Icecast) Resume() { s.paused.Store(false) }

// Stop aborts the active play session, keeping the connection. It does
// not return until the stream goroutine has exited: the next Play must
// never overlap writes with the previous track on the shared connection.
func (s *Icecast) Stop() {
	s.mu.Lock()
	stop := s.stop
	wait := s.streamDone
	s.stop = nil
	s.streamDone = nil
	s.mu.Unlock()

	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	if wait != nil {
		<-wait
	}
}

// Close tears down the play session and the connection.
func (s *Icecast) Close() error {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		telemetry.SetConnectionState("idle")
		return err
	}
	return nil
}
