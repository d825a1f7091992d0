package autosave

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/account"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/metrics"
)

type recordingStore struct {
	mu      sync.Mutex
	saved   []account.Profile
	fail    int // number of leading calls that fail
	gate    chan struct{}
	entered chan struct{}

	active    int32
	maxActive int32
}

func (s *recordingStore) Upsert(ctx context.Context, id string, patch account.Patch) (account.Profile, error) {
	n := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		m := atomic.LoadInt32(&s.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(&s.maxActive, m, n) {
			break
		}
	}
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return account.Profile{}, ctx.Err()
		}
	}

	p := account.Merge(id, nil, patch, time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return account.Profile{}, errors.New("store down")
	}
	s.saved = append(s.saved, p)
	return p, nil
}

func (s *recordingStore) calls() []account.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]account.Profile, len(s.saved))
	copy(out, s.saved)
	return out
}

func profileWithPoints(n int64) account.Profile {
	p := account.NewProfile("0xsave")
	p.Points = n
	p.Experience = n
	return p
}

const debounce = 20 * time.Millisecond

func TestCoalescesBurstIntoOneWrite(t *testing.T) {
	t.Parallel()
	store := &recordingStore{}
	p := New("0xsave", store, zerolog.Nop(), WithDebounce(debounce))
	defer p.Close()

	for i := int64(1); i <= 25; i++ {
		p.Schedule(profileWithPoints(i))
	}

	require.Eventually(t, func() bool { return len(store.calls()) == 1 }, time.Second, 2*time.Millisecond)
	time.Sleep(5 * debounce)
	saved := store.calls()
	require.Len(t, saved, 1)
	assert.Equal(t, int64(25), saved[0].Points)
	assert.False(t, p.Pending())
}

func TestTimerRestartsOnEachChange(t *testing.T) {
	t.Parallel()
	store := &recordingStore{}
	p := New("0xsave", store, zerolog.Nop(), WithDebounce(100*time.Millisecond))
	defer p.Close()

	for i := int64(1); i <= 4; i++ {
		p.Schedule(profileWithPoints(i))
		time.Sleep(40 * time.Millisecond)
	}
	assert.Empty(t, store.calls(), "no write while changes keep arriving")

	require.Eventually(t, func() bool { return len(store.calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(4), store.calls()[0].Points)
}

func TestSingleFlightWithFollowUp(t *testing.T) {
	t.Parallel()
	store := &recordingStore{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := New("0xsave", store, zerolog.Nop(), WithDebounce(debounce))
	defer p.Close()

	p.Schedule(profileWithPoints(1))
	select {
	case <-store.entered:
	case <-time.After(time.Second):
		t.Fatal("first write never started")
	}

	// two more changes while the first write is blocked; their timer fires mid-flight
	p.Schedule(profileWithPoints(2))
	p.Schedule(profileWithPoints(3))
	time.Sleep(5 * debounce)
	assert.Empty(t, store.calls())

	close(store.gate)
	require.Eventually(t, func() bool { return len(store.calls()) == 2 }, time.Second, 2*time.Millisecond)
	time.Sleep(5 * debounce)

	saved := store.calls()
	require.Len(t, saved, 2)
	assert.Equal(t, int64(1), saved[0].Points)
	assert.Equal(t, int64(3), saved[1].Points)
	assert.Equal(t, int32(1), atomic.LoadInt32(&store.maxActive), "writes overlapped")
}

func TestFailureRetriedOnNextChange(t *testing.T) {
	t.Parallel()
	store := &recordingStore{fail: 1}
	p := New("0xsave", store, zerolog.Nop(), WithDebounce(debounce), WithMetrics(metrics.Noop()))
	defer p.Close()

	p.Schedule(profileWithPoints(7))
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.fail == 0
	}, time.Second, 2*time.Millisecond)
	time.Sleep(5 * debounce)
	assert.Empty(t, store.calls())
	assert.True(t, p.Pending(), "failed state stays pending")

	p.Schedule(profileWithPoints(8))
	require.Eventually(t, func() bool { return len(store.calls()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, int64(8), store.calls()[0].Points)
}

func TestFlushWritesImmediately(t *testing.T) {
	t.Parallel()
	store := &recordingStore{}
	p := New("0xsave", store, zerolog.Nop(), WithDebounce(time.Hour))

	p.Schedule(profileWithPoints(42))
	require.NoError(t, p.Flush(context.Background()))
	saved := store.calls()
	require.Len(t, saved, 1)
	assert.Equal(t, int64(42), saved[0].Points)

	// nothing pending: flush is a no-op
	require.NoError(t, p.Flush(context.Background()))
	assert.Len(t, store.calls(), 1)
	require.NoError(t, p.Close())
}

func TestFlushRetriesFailedState(t *testing.T) {
	t.Parallel()
	store := &recordingStore{fail: 1}
	p := New("0xsave", store, zerolog.Nop(), WithDebounce(time.Hour))
	defer p.Close()

	p.Schedule(profileWithPoints(5))
	assert.Error(t, p.Flush(context.Background()))
	require.NoError(t, p.Flush(context.Background()))
	require.Len(t, store.calls(), 1)
	assert.Equal(t, int64(5), store.calls()[0].Points)
}

func TestFlushHonoursContextWhileWaiting(t *testing.T) {
	t.Parallel()
	store := &recordingStore{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := New("0xsave", store, zerolog.Nop(), WithDebounce(time.Millisecond))

	p.Schedule(profileWithPoints(1))
	<-store.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Flush(ctx), context.DeadlineExceeded)

	close(store.gate)
	require.NoError(t, p.Close())
}

func TestCloseCancelsPendingTimer(t *testing.T) {
	t.Parallel()
	store := &recordingStore{}
	p := New("0xsave", store, zerolog.Nop(), WithDebounce(debounce))

	p.Schedule(profileWithPoints(1))
	require.NoError(t, p.Close())
	p.Schedule(profileWithPoints(2))
	time.Sleep(5 * debounce)
	assert.Empty(t, store.calls())
	assert.ErrorIs(t, p.Close(), ErrClosed)
}

func TestFlushIsTraced(t *testing.T) {
	t.Parallel()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	store := &recordingStore{}
	p := New("0xsave", store, zerolog.Nop(), WithDebounce(time.Hour), WithTracerProvider(tp))
	defer p.Close()

	p.Schedule(profileWithPoints(3))
	require.NoError(t, p.Flush(context.Background()))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "autosave.flush", spans[0].Name())
}
