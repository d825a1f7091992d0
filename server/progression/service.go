package progression

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/account"
	"github.com/PLUTOX-DEV/Tree-miniapp/shared/game/types"
)

// Service loads profiles and builds engines for them.
type Service struct {
	store  account.Store
	levels *types.LevelTable
	log    zerolog.Logger
}

func NewService(store account.Store, levels *types.LevelTable, log zerolog.Logger) *Service {
	if levels == nil {
		levels = types.DefaultLevels()
	}
	return &Service{
		store:  store,
		levels: levels,
		log:    log.With().Str("component", "progression").Logger(),
	}
}

func (s *Service) Levels() *types.LevelTable { return s.levels }

// Open fetches (or creates) the profile for wallet and wraps it in an engine.
func (s *Service) Open(ctx context.Context, wallet string, opts ...Option) (*Engine, error) {
	p, err := s.store.GetOrCreate(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	e, err := NewEngine(p, s.levels, opts...)
	if err != nil {
		return nil, err
	}
	s.log.Debug().
		Str("wallet", p.ID).
		Int64("xp", p.Experience).
		Int("level", e.LevelIndex()).
		Msg("opened engine")
	return e, nil
}
