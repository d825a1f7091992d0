package leaderboard

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/account"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/balance"
	"github.com/PLUTOX-DEV/Tree-miniapp/shared/game/types"
	"github.com/PLUTOX-DEV/Tree-miniapp/shared/protocol"
)

// Service answers top-N queries by experience. Results are cached briefly;
// a cached board built for a wider limit also serves narrower ones.
type Service struct {
	ranker account.Ranker
	levels *types.LevelTable
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger

	group singleflight.Group

	mu       sync.Mutex
	cached   []protocol.LeaderboardEntry
	cachedN  int
	cachedAt time.Time
}

func NewService(r account.Ranker, levels *types.LevelTable, ttl time.Duration, log zerolog.Logger) *Service {
	if levels == nil {
		levels = types.DefaultLevels()
	}
	return &Service{
		ranker: r,
		levels: levels,
		ttl:    ttl,
		now:    time.Now,
		log:    log.With().Str("component", "leaderboard").Logger(),
	}
}

// ClampLimit applies the default for non-positive limits and the upper cap.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return balance.LeaderboardDefaultLimit
	}
	if limit > balance.LeaderboardMaxLimit {
		return balance.LeaderboardMaxLimit
	}
	return limit
}

// Top returns the first limit players, highest experience first.
func (s *Service) Top(ctx context.Context, limit int) (protocol.Leaderboard, error) {
	limit = ClampLimit(limit)
	now := s.now()

	if items, ok := s.fromCache(limit, now); ok {
		return protocol.Leaderboard{Items: items, GeneratedAt: now.UnixMilli()}, nil
	}

	v, err, _ := s.group.Do(strconv.Itoa(limit), func() (any, error) {
		profiles, err := s.ranker.TopByExperience(ctx, limit)
		if err != nil {
			return nil, err
		}
		return s.entries(profiles), nil
	})
	if err != nil {
		return protocol.Leaderboard{}, fmt.Errorf("load leaderboard: %w", err)
	}
	items := v.([]protocol.LeaderboardEntry)
	s.store(items, limit, now)

	out := make([]protocol.LeaderboardEntry, len(items))
	copy(out, items)
	return protocol.Leaderboard{Items: out, GeneratedAt: now.UnixMilli()}, nil
}

// Invalidate drops the cached board.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.cachedN = 0
	s.mu.Unlock()
}

func (s *Service) fromCache(limit int, now time.Time) ([]protocol.LeaderboardEntry, bool) {
	if s.ttl <= 0 {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil || now.Sub(s.cachedAt) >= s.ttl {
		return nil, false
	}
	// a short board only answers wider queries if it was already exhausted
	if limit > s.cachedN && len(s.cached) >= s.cachedN {
		return nil, false
	}
	n := min(limit, len(s.cached))
	out := make([]protocol.LeaderboardEntry, n)
	copy(out, s.cached[:n])
	return out, true
}

func (s *Service) store(items []protocol.LeaderboardEntry, limit int, now time.Time) {
	if s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := s.cached != nil && now.Sub(s.cachedAt) < s.ttl
	if fresh && s.cachedN >= limit {
		return
	}
	s.cached = items
	s.cachedN = limit
	s.cachedAt = now
}

func (s *Service) entries(ps []account.Profile) []protocol.LeaderboardEntry {
	out := make([]protocol.LeaderboardEntry, 0, len(ps))
	for i, p := range ps {
		p = p.Clone()
		out = append(out, protocol.LeaderboardEntry{
			Rank:        i + 1,
			Wallet:      p.ID,
			XP:          p.Experience,
			Points:      p.Points,
			DisplayName: p.DisplayName,
			Level:       s.levels.TierAt(s.levels.LevelIndexFor(p.Experience)).Name,
		})
	}
	return out
}
