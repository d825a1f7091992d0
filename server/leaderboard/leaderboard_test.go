package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/account"
)

type fakeRanker struct {
	mu       sync.Mutex
	profiles []account.Profile
	calls    []int
	err      error
}

func (f *fakeRanker) TopByExperience(ctx context.Context, limit int) ([]account.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, limit)
	if f.err != nil {
		return nil, f.err
	}
	out := append([]account.Profile(nil), f.profiles...)
	account.SortByExperience(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRanker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func players(n int) []account.Profile {
	out := make([]account.Profile, n)
	for i := range out {
		out[i] = account.NewProfile(fmt.Sprintf("0x%02d", i))
		out[i].Experience = int64(i * 100)
		out[i].Points = int64(i)
	}
	return out
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 10, ClampLimit(0))
	assert.Equal(t, 10, ClampLimit(-4))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, 100, ClampLimit(5000))
}

func TestTopOrdersAndRanks(t *testing.T) {
	name := "elm"
	ps := players(15)
	ps[3].DisplayName = &name
	r := &fakeRanker{profiles: ps}
	s := NewService(r, nil, 0, zerolog.Nop())

	lb, err := s.Top(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, lb.Items, 10)
	assert.Equal(t, "0x14", lb.Items[0].Wallet)
	assert.Equal(t, 1, lb.Items[0].Rank)
	assert.Equal(t, int64(1400), lb.Items[0].XP)
	assert.Equal(t, "Young Tree", lb.Items[0].Level)
	assert.Equal(t, 10, lb.Items[9].Rank)
	for i := 1; i < len(lb.Items); i++ {
		assert.GreaterOrEqual(t, lb.Items[i-1].XP, lb.Items[i].XP)
	}
	assert.NotZero(t, lb.GeneratedAt)

	lb, err = s.Top(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, lb.Items, 15)
	require.NotNil(t, lb.Items[11].DisplayName)
	assert.Equal(t, "elm", *lb.Items[11].DisplayName)
}

func TestCacheServesNarrowerQueries(t *testing.T) {
	r := &fakeRanker{profiles: players(30)}
	s := NewService(r, nil, time.Minute, zerolog.Nop())
	ctx := context.Background()

	_, err := s.Top(ctx, 20)
	require.NoError(t, err)
	lb, err := s.Top(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, lb.Items, 5)
	assert.Equal(t, 1, r.callCount())

	// wider than anything cached: goes to the ranker
	_, err = s.Top(ctx, 25)
	require.NoError(t, err)
	assert.Equal(t, 2, r.callCount())
}

func TestCacheExpires(t *testing.T) {
	r := &fakeRanker{profiles: players(3)}
	s := NewService(r, nil, time.Minute, zerolog.Nop())
	now := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := s.Top(ctx, 10)
	require.NoError(t, err)
	// the board was short, so a wider query is answered from cache too
	_, err = s.Top(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, r.callCount())

	now = now.Add(time.Minute)
	_, err = s.Top(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, r.callCount())

	s.Invalidate()
	_, err = s.Top(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, r.callCount())
}

func TestTopReturnsCopies(t *testing.T) {
	r := &fakeRanker{profiles: players(3)}
	s := NewService(r, nil, time.Minute, zerolog.Nop())
	lb, err := s.Top(context.Background(), 3)
	require.NoError(t, err)
	lb.Items[0].Wallet = "mutated"

	again, err := s.Top(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "0x02", again.Items[0].Wallet)
}

func TestTopPropagatesErrors(t *testing.T) {
	r := &fakeRanker{err: errors.New("db gone")}
	s := NewService(r, nil, time.Minute, zerolog.Nop())
	_, err := s.Top(context.Background(), 10)
	assert.Error(t, err)
}
