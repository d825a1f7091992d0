package progression

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/account"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/balance"
	"github.com/PLUTOX-DEV/Tree-miniapp/shared/game/types"
	"github.com/PLUTOX-DEV/Tree-miniapp/shared/protocol"
)

var ErrNoIdentity = errors.New("progression: profile has no wallet id")

// LevelUp describes a tier boundary crossed by a single action.
type LevelUp struct {
	From int
	To   int
	Tier types.LevelTier
}

// Engine is the progression state machine for one player. It is not safe for
// concurrent use; a session owns it and applies actions one at a time.
//
// Every action either applies completely or not at all. Ineligible actions
// (not enough points, daily on cooldown, prestige below threshold) return false
// and leave the state untouched.
type Engine struct {
	levels  *types.LevelTable
	profile account.Profile
	now     func() time.Time

	onChange  func(account.Profile)
	onLevelUp func(LevelUp)
}

type Option func(*Engine)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// OnChange registers fn to receive a snapshot after every applied action.
func OnChange(fn func(account.Profile)) Option {
	return func(e *Engine) { e.onChange = fn }
}

// OnLevelUp registers fn to be told when experience crosses into a higher tier.
func OnLevelUp(fn func(LevelUp)) Option {
	return func(e *Engine) { e.onLevelUp = fn }
}

// NewEngine wraps p. A nil table means the built-in levels.
func NewEngine(p account.Profile, levels *types.LevelTable, opts ...Option) (*Engine, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, ErrNoIdentity
	}
	if levels == nil {
		levels = types.DefaultLevels()
	}
	e := &Engine{
		levels:  levels,
		profile: p.Clone(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	n := e.profile
	if n.TapPower < 1 {
		n.TapPower = 1
	}
	if n.TapUpgradeCost <= 0 {
		n.TapUpgradeCost = types.UpgradeTap.BaseCost()
	}
	if n.AutoUpgradeCost <= 0 {
		n.AutoUpgradeCost = types.UpgradeAuto.BaseCost()
	}
	e.profile = n
	return e, nil
}

func addSat(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func mulSat(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

func (e *Engine) ID() string { return e.profile.ID }

func (e *Engine) Levels() *types.LevelTable { return e.levels }

// Snapshot returns a deep copy of the current state.
func (e *Engine) Snapshot() account.Profile { return e.profile.Clone() }

func (e *Engine) LevelIndex() int { return e.levels.LevelIndexFor(e.profile.Experience) }

func (e *Engine) Tier() types.LevelTier { return e.levels.TierAt(e.LevelIndex()) }

// AutoActive reports whether the auto tick should be scheduled.
func (e *Engine) AutoActive() bool { return e.profile.AutoLevel > 0 }

func (e *Engine) grow(amount int64) {
	e.profile.Points = addSat(e.profile.Points, amount)
	e.profile.Experience = addSat(e.profile.Experience, amount)
}

// commit fires listeners after a mutation. before is the level index prior to it.
func (e *Engine) commit(before int) {
	if after := e.LevelIndex(); after > before && e.onLevelUp != nil {
		e.onLevelUp(LevelUp{From: before, To: after, Tier: e.levels.TierAt(after)})
	}
	if e.onChange != nil {
		e.onChange(e.profile.Clone())
	}
}

// Tap always succeeds.
func (e *Engine) Tap() {
	before := e.LevelIndex()
	e.grow(e.profile.TapPower)
	e.profile.TotalTaps = addSat(e.profile.TotalTaps, 1)
	e.commit(before)
}

func (e *Engine) BuyTapUpgrade() bool { return e.BuyUpgrade(types.UpgradeTap) }

func (e *Engine) BuyAutoUpgrade() bool { return e.BuyUpgrade(types.UpgradeAuto) }

// UpgradeCost is the current price of the next purchase of kind.
func (e *Engine) UpgradeCost(kind types.UpgradeKind) int64 {
	switch kind {
	case types.UpgradeTap:
		return e.profile.TapUpgradeCost
	case types.UpgradeAuto:
		return e.profile.AutoUpgradeCost
	}
	return 0
}

func (e *Engine) BuyUpgrade(kind types.UpgradeKind) bool {
	var level, cost *int64
	switch kind {
	case types.UpgradeTap:
		level, cost = &e.profile.TapPower, &e.profile.TapUpgradeCost
	case types.UpgradeAuto:
		level, cost = &e.profile.AutoLevel, &e.profile.AutoUpgradeCost
	default:
		return false
	}
	if e.profile.Points < *cost {
		return false
	}
	before := e.LevelIndex()
	e.profile.Points -= *cost
	*level = addSat(*level, 1)
	*cost = kind.NextCost(*cost)
	e.commit(before)
	return true
}

// TickAuto credits one interval of passive yield. It is a no-op while
// autoLevel is zero.
func (e *Engine) TickAuto() bool {
	if e.profile.AutoLevel <= 0 {
		return false
	}
	before := e.LevelIndex()
	e.grow(e.profile.AutoLevel)
	e.commit(before)
	return true
}

// DailyStatus reports whether the daily bonus is claimable now, and if not,
// the first millisecond at which a claim is accepted. The cooldown must be
// strictly exceeded, so that is one millisecond past last claim + 24h.
func (e *Engine) DailyStatus() (claimable bool, availableAt time.Time) {
	last := e.profile.LastDailyClaim
	if last == nil {
		return true, time.Time{}
	}
	if e.now().Sub(*last) > balance.DailyCooldown {
		return true, time.Time{}
	}
	return false, last.Add(balance.DailyCooldown + time.Millisecond)
}

func (e *Engine) CanClaimDaily() bool {
	ok, _ := e.DailyStatus()
	return ok
}

// DailyReward is what a claim would pay at the current level and prestige count.
func (e *Engine) DailyReward() int64 {
	r := int64(balance.DailyBaseReward)
	r = addSat(r, mulSat(balance.DailyRewardPerLevel, int64(e.LevelIndex())))
	r = addSat(r, mulSat(balance.DailyRewardPerPrestige, e.profile.PrestigeCount))
	return r
}

// ClaimDaily pays the daily reward: the full amount in points and half of it in
// experience.
func (e *Engine) ClaimDaily() (reward int64, ok bool) {
	if !e.CanClaimDaily() {
		return 0, false
	}
	before := e.LevelIndex()
	reward = e.DailyReward()
	e.profile.Points = addSat(e.profile.Points, reward)
	e.profile.Experience = addSat(e.profile.Experience, reward/2)
	now := e.now().UTC()
	e.profile.LastDailyClaim = &now
	e.commit(before)
	return reward, true
}

func (e *Engine) CanPrestige() bool {
	return e.profile.Experience >= balance.PrestigeMinExperience
}

// PrestigeBonus is the tap power bonus a prestige would grant right now.
func (e *Engine) PrestigeBonus() int64 {
	return 1 + e.profile.Experience/balance.PrestigeXPPerBonus
}

// Prestige resets progress in exchange for permanent tap power.
func (e *Engine) Prestige() bool {
	if !e.CanPrestige() {
		return false
	}
	p := &e.profile
	power := addSat(1+e.PrestigeBonus(), p.PrestigeCount)

	p.Points = 0
	p.Experience = 0
	p.AutoLevel = 0
	p.TotalTaps = 0
	p.LastDailyClaim = nil
	p.TapPower = power
	p.PrestigeCount = addSat(p.PrestigeCount, 1)
	p.TapUpgradeCost = types.UpgradeTap.BaseCost()
	p.AutoUpgradeCost = types.UpgradeAuto.BaseCost()
	e.commit(math.MaxInt)
	return true
}

// SetDisplayName changes the cosmetic name. Blank clears it.
func (e *Engine) SetDisplayName(name string) bool {
	name = strings.TrimSpace(name)
	cur := e.profile.DisplayName
	if (cur == nil && name == "") || (cur != nil && *cur == name) {
		return false
	}
	if name == "" {
		e.profile.DisplayName = nil
	} else {
		e.profile.DisplayName = &name
	}
	e.commit(e.LevelIndex())
	return true
}

// Achievements lists what the current counters have unlocked.
func (e *Engine) Achievements() []types.Achievement {
	return types.UnlockedAchievements(e.profile.TotalTaps, e.profile.PrestigeCount)
}

// View renders the state with its derived values for the client.
func (e *Engine) View() protocol.GameState {
	idx := e.LevelIndex()
	tier := e.levels.TierAt(idx)
	gs := protocol.GameState{
		Profile:       account.ToWire(e.profile),
		LevelIndex:    idx,
		LevelName:     tier.Name,
		Progress:      e.levels.ProgressFraction(e.profile.Experience),
		MaxLevel:      e.levels.IsMaxTier(idx),
		CanPrestige:   e.CanPrestige(),
		PrestigeBonus: e.PrestigeBonus(),
		Achievements:  []protocol.Achievement{},
	}
	for _, a := range e.Achievements() {
		gs.Achievements = append(gs.Achievements, protocol.Achievement{ID: a.ID, Name: a.Name})
	}
	if next, ok := e.levels.Next(idx); ok {
		gs.NextLevelName = next.Name
		gs.NextLevelXP = next.Threshold
	}
	claimable, at := e.DailyStatus()
	gs.CanClaimDaily = claimable
	if !claimable {
		at = at.UTC()
		gs.DailyAvailable = &at
	}
	return gs
}
