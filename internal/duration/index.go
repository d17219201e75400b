/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package duration resolves and caches track durations. Lengths are
// probed from the audio container once and kept in a sqlite cache so
// restarts skip recomputation. Deleting the cache file is safe; it only
// costs a rescan.
package duration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.senan.xyz/taglib"
	"golang.org/x/sync/singleflight"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/minaret_radio/internal/catalogue"
	"github.com/friendsincode/minaret_radio/internal/telemetry"
)

// ErrMediaUnreadable reports a file whose duration cannot be read. The
// engine treats this as "unknown duration" and falls back to the sink's
// end-of-stream signal, never as a playback failure.
var ErrMediaUnreadable = errors.New("media unreadable")

// Props are the cached audio properties of one recording.
type Props struct {
	Length  time.Duration
	Bitrate int // kbps, 0 when unknown
}

// TrackDuration is the durable cache row.
type TrackDuration struct {
	Performer string  `gorm:"primaryKey"`
	Track     int     `gorm:"primaryKey"`
	Seconds   float64 `gorm:"not null"`
	Bitrate   int     `gorm:"not null;default:0"`
	ProbedAt  time.Time
}

// Index resolves track durations with a durable cache.
type Index struct {
	db     *gorm.DB
	cat    *catalogue.Catalogue
	logger zerolog.Logger
	group  singleflight.Group

	// probe is swapped in tests.
	probe func(path string) (Props, error)
}

// Open opens (or creates) the duration cache at path.
func Open(path string, cat *catalogue.Catalogue, logger zerolog.Logger) (*Index, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open duration cache: %w", err)
	}
	if err := db.AutoMigrate(&TrackDuration{}); err != nil {
		return nil, fmt.Errorf("migrate duration cache: %w", err)
	}

	return &Index{
		db:     db,
		cat:    cat,
		logger: logger.With().Str("component", "duration_index").Logger(),
		probe:  probeFile,
	}, nil
}

// Resolve returns the properties for (performer, track), probing and
// caching on a miss. Concurrent resolves for the same key share one
// probe.
func (i *Index) Resolve(ctx context.Context, performer string, track int) (Props, error) {
	var row TrackDuration
	err := i.db.WithContext(ctx).
		Where("performer = ? AND track = ?", performer, track).
		First(&row).Error
	if err == nil {
		telemetry.DurationLookups.WithLabelValues("hit").Inc()
		return Props{Length: secondsToDuration(row.Seconds), Bitrate: row.Bitrate}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Props{}, fmt.Errorf("duration cache lookup: %w", err)
	}

	key := fmt.Sprintf("%s:%d", performer, track)
	v, err, _ := i.group.Do(key, func() (any, error) {
		return i.probeAndStore(ctx, performer, track)
	})
	if err != nil {
		return Props{}, err
	}
	return v.(Props), nil
}

func (i *Index) probeAndStore(ctx context.Context, performer string, track int) (Props, error) {
	path, err := i.cat.TrackPath(performer, track)
	if err != nil {
		telemetry.DurationLookups.WithLabelValues("error").Inc()
		return Props{}, fmt.Errorf("%w: %v", ErrMediaUnreadable, err)
	}

	props, err := i.probe(path)
	if err != nil {
		telemetry.DurationLookups.WithLabelValues("error").Inc()
		return Props{}, fmt.Errorf("%w: %v", ErrMediaUnreadable, err)
	}
	if props.Length <= 0 {
		telemetry.DurationLookups.WithLabelValues("error").Inc()
		return Props{}, fmt.Errorf("%w: %s has no duration metadata", ErrMediaUnreadable, path)
	}
	telemetry.DurationLookups.WithLabelValues("probe").Inc()

	row := TrackDuration{
		Performer: performer,
		Track:     track,
		Seconds:   props.Length.Seconds(),
		Bitrate:   props.Bitrate,
		ProbedAt:  time.Now().UTC(),
	}
	if err := i.db.WithContext(ctx).Save(&row).Error; err != nil {
		// A failed cache write costs a re-probe next boot, nothing more.
		i.logger.Warn().Err(err).Str("performer", performer).Int("track", track).
			Msg("failed to store duration cache entry")
	} else {
		i.logger.Debug().
			Str("performer", performer).
			Int("track", track).
			Float64("seconds", row.Seconds).
			Int("bitrate", row.Bitrate).
			Msg("duration probed")
	}

	return props, nil
}

// Warm walks the whole catalogue and fills the cache. Unreadable files
// are logged and skipped; it returns the number of entries resolved.
func (i *Index) Warm(ctx context.Context) (int, error) {
	resolved := 0
	for _, performer := range i.cat.Performers() {
		for track := 1; track <= i.cat.Size(); track++ {
			if err := ctx.Err(); err != nil {
				return resolved, err
			}
			if !i.cat.HasTrack(performer, track) {
				continue
			}
			if _, err := i.Resolve(ctx, performer, track); err != nil {
				i.logger.Warn().Err(err).
					Str("performer", performer).
					Int("track", track).
					Msg("warm: skipping unreadable track")
				continue
			}
			resolved++
		}
	}
	return resolved, nil
}

// Reset drops every cached entry.
func (i *Index) Reset(ctx context.Context) error {
	return i.db.WithContext(ctx).Where("1 = 1").Delete(&TrackDuration{}).Error
}

func probeFile(path string) (Props, error) {
	props, err := taglib.ReadProperties(path)
	if err != nil {
		return Props{}, err
	}
	return Props{Length: props.Length, Bitrate: int(props.Bitrate)}, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
