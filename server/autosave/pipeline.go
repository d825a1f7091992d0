// Package autosave mirrors a player's in-memory state to the profile store
// without writing on every action.
//
// Each Schedule call restarts a debounce timer. When the timer fires the most
// recent snapshot is written with a single upsert. At most one write per
// pipeline is in flight; if the timer fires during a write, exactly one
// follow-up write of the newest snapshot runs after it. Failed writes are
// logged and retried on the next Schedule or Flush; they never roll back the
// caller's state.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/account"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/balance"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/metrics"
)

const tracerName = "github.com/PLUTOX-DEV/Tree-miniapp/server/autosave"

var ErrClosed = errors.New("autosave: pipeline closed")

// Upserter is the slice of account.Store the pipeline writes through.
type Upserter interface {
	Upsert(ctx context.Context, id string, patch account.Patch) (account.Profile, error)
}

type Pipeline struct {
	id          string
	store       Upserter
	debounce    time.Duration
	saveTimeout time.Duration
	log         zerolog.Logger
	metrics     *metrics.Recorder
	tracer      trace.Tracer

	mu       sync.Mutex
	latest   account.Profile
	dirty    bool
	gen      uint64
	timer    *time.Timer
	inFlight bool
	followUp bool
	done     chan struct{} // closed when the current in-flight run ends
	closed   bool
}

type Option func(*Pipeline)

func WithDebounce(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.debounce = d
		}
	}
}

// WithSaveTimeout bounds each write.
func WithSaveTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.saveTimeout = d
		}
	}
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = r }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) { p.tracer = tp.Tracer(tracerName) }
}

// New returns an idle pipeline for the profile id.
func New(id string, store Upserter, log zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		id:          id,
		store:       store,
		debounce:    balance.SaveDebounce,
		saveTimeout: 5 * time.Second,
		log:         log.With().Str("component", "autosave").Str("wallet", id).Logger(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Schedule records snap as the newest state and restarts the debounce timer.
// It never blocks on I/O. Calls after Close are ignored.
func (p *Pipeline) Schedule(snap account.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.latest = snap.Clone()
	p.dirty = true
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
	}
	g := p.gen
	p.timer = time.AfterFunc(p.debounce, func() { p.fire(g) })
}

// Pending reports whether there is state not yet written.
func (p *Pipeline) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty || p.inFlight
}

func (p *Pipeline) fire(g uint64) {
	p.mu.Lock()
	if p.closed || g != p.gen {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	if p.inFlight {
		p.followUp = true
		p.mu.Unlock()
		return
	}
	snap, ok := p.beginLocked()
	p.mu.Unlock()
	if !ok {
		return
	}
	_ = p.run(context.Background(), snap)
}

// beginLocked claims the in-flight slot and takes the newest snapshot.
func (p *Pipeline) beginLocked() (account.Profile, bool) {
	if !p.dirty {
		return account.Profile{}, false
	}
	p.inFlight = true
	p.done = make(chan struct{})
	p.dirty = false
	return p.latest.Clone(), true
}

// run writes snap, then any follow-up queued meanwhile, and releases the slot.
func (p *Pipeline) run(ctx context.Context, snap account.Profile) error {
	var last error
	for {
		err := p.save(ctx, snap)
		last = err

		p.mu.Lock()
		if err != nil && !p.dirty {
			// keep the failed state around for the next attempt
			p.dirty = true
		}
		if p.followUp && p.dirty && ctx.Err() == nil {
			p.followUp = false
			p.dirty = false
			snap = p.latest.Clone()
			p.mu.Unlock()
			continue
		}
		p.followUp = false
		p.inFlight = false
		close(p.done)
		p.mu.Unlock()
		return last
	}
}

func (p *Pipeline) save(ctx context.Context, snap account.Profile) error {
	ctx, cancel := context.WithTimeout(ctx, p.saveTimeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "autosave.flush", trace.WithAttributes(
		attribute.String("wallet", p.id),
		attribute.Int64("xp", snap.Experience),
		attribute.Int64("points", snap.Points),
	))
	defer span.End()

	start := time.Now()
	_, err := p.store.Upsert(ctx, p.id, account.Snapshot(snap))
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		p.metrics.Save(ctx, "error", elapsed)
		p.log.Warn().Err(err).Dur("elapsed", elapsed).Msg("autosave failed, will retry on next change")
		return err
	}
	p.metrics.Save(ctx, "ok", elapsed)
	p.log.Debug().Int64("xp", snap.Experience).Dur("elapsed", elapsed).Msg("autosaved")
	return nil
}

// Flush cancels the pending timer and writes the newest state now, after any
// in-flight write completes. It returns the write error, if any.
func (p *Pipeline) Flush(ctx context.Context) error {
	for {
		p.mu.Lock()
		p.gen++
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		if p.inFlight {
			done := p.done
			p.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		snap, ok := p.beginLocked()
		p.mu.Unlock()
		if !ok {
			return nil
		}
		return p.run(ctx, snap)
	}
}

// Close stops the timer, waits for an in-flight write, and drops anything not
// yet written. Call Flush first to keep it.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	var done chan struct{}
	if p.inFlight {
		done = p.done
	}
	dropped := p.dirty
	p.mu.Unlock()

	if done != nil {
		<-done
	}
	if dropped {
		p.log.Warn().Msg("closed with unsaved state")
	}
	return nil
}
