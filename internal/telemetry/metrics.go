/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TrackAdvances counts track transitions by cause (natural, skip, jump, performer_switch, missing).
	TrackAdvances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "minaret_track_advances_total",
		Help: "Track transitions by cause.",
	}, []string{"cause"})

	// SinkReconnects counts reconnect attempts against the output sink.
	SinkReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "minaret_sink_reconnects_total",
		Help: "Sink reconnect attempts by outcome.",
	}, []string{"outcome"})

	// SnapshotSaves counts playback snapshot writes.
	SnapshotSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "minaret_snapshot_saves_total",
		Help: "Playback snapshot writes by outcome.",
	}, []string{"outcome"})

	// DurationLookups counts duration index lookups.
	DurationLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "minaret_duration_lookups_total",
		Help: "Duration index lookups by result (hit, probe, error).",
	}, []string{"result"})

	// PlayedSeconds accumulates seconds of audio delivered to the sink.
	PlayedSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "minaret_played_seconds_total",
		Help: "Seconds of audio delivered to the sink.",
	})

	// ConnectionState reports the engine connection state (one-hot gauge).
	ConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "minaret_connection_state",
		Help: "Engine connection state, 1 for the active state.",
	}, []string{"state"})

	// CurrentTrack reports the active catalogue track number.
	CurrentTrack = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "minaret_current_track",
		Help: "Active catalogue track number.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetConnectionState flips the one-hot connection state gauge.
func SetConnectionState(state string) {
	for _, s := range []string{"idle", "streaming", "reconnecting", "stopped"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		ConnectionState.WithLabelValues(s).Set(v)
	}
}
