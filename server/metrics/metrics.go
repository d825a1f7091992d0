// Package metrics holds the game's OpenTelemetry instruments. A nil *Recorder
// is valid and records nothing.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/PLUTOX-DEV/Tree-miniapp/server"

type Recorder struct {
	actions      metric.Int64Counter
	levelUps     metric.Int64Counter
	saves        metric.Int64Counter
	saveDuration metric.Float64Histogram
	sessions     metric.Int64UpDownCounter
}

// New registers the instruments on mp.
func New(mp metric.MeterProvider) (*Recorder, error) {
	m := mp.Meter(meterName)
	var r Recorder
	var err error
	if r.actions, err = m.Int64Counter("tapgrow.actions",
		metric.WithDescription("Player actions by type and outcome")); err != nil {
		return nil, fmt.Errorf("actions counter: %w", err)
	}
	if r.levelUps, err = m.Int64Counter("tapgrow.level_ups",
		metric.WithDescription("Level tier boundaries crossed")); err != nil {
		return nil, fmt.Errorf("level ups counter: %w", err)
	}
	if r.saves, err = m.Int64Counter("tapgrow.autosave.saves",
		metric.WithDescription("Autosave flushes by result")); err != nil {
		return nil, fmt.Errorf("saves counter: %w", err)
	}
	if r.saveDuration, err = m.Float64Histogram("tapgrow.autosave.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Autosave flush latency")); err != nil {
		return nil, fmt.Errorf("save histogram: %w", err)
	}
	if r.sessions, err = m.Int64UpDownCounter("tapgrow.sessions.active",
		metric.WithDescription("Open realtime sessions")); err != nil {
		return nil, fmt.Errorf("sessions counter: %w", err)
	}
	return &r, nil
}

// Noop returns a recorder backed by the no-op provider.
func Noop() *Recorder {
	r, _ := New(noop.NewMeterProvider())
	return r
}

func (r *Recorder) Action(ctx context.Context, typ string, applied bool) {
	if r == nil {
		return
	}
	r.actions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", typ),
		attribute.Bool("applied", applied),
	))
}

func (r *Recorder) LevelUp(ctx context.Context, level int) {
	if r == nil {
		return
	}
	r.levelUps.Add(ctx, 1, metric.WithAttributes(attribute.Int("level", level)))
}

// Save records one flush; result is "ok" or "error".
func (r *Recorder) Save(ctx context.Context, result string, d time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	r.saves.Add(ctx, 1, attrs)
	r.saveDuration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
}

func (r *Recorder) SessionOpened(ctx context.Context) {
	if r == nil {
		return
	}
	r.sessions.Add(ctx, 1)
}

func (r *Recorder) SessionClosed(ctx context.Context) {
	if r == nil {
		return
	}
	r.sessions.Add(ctx, -1)
}
