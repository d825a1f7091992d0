package types

import (
	"errors"
	"fmt"
	"strings"
)

// LevelTier is a named milestone unlocked once experience reaches Threshold.
type LevelTier struct {
	Name      string `json:"name" yaml:"name"`
	Threshold int64  `json:"xp" yaml:"xp"`
}

// LevelTable is an ordered, immutable list of tiers. The first tier starts at 0
// and thresholds strictly increase.
type LevelTable struct {
	tiers []LevelTier
}

var (
	ErrEmptyLevelTable    = errors.New("level table has no tiers")
	ErrFirstTierNotZero   = errors.New("first level tier must start at 0 xp")
	ErrTiersNotIncreasing = errors.New("level tier thresholds must strictly increase")
)

// NewLevelTable validates tiers and returns a table holding its own copy.
func NewLevelTable(tiers []LevelTier) (*LevelTable, error) {
	if len(tiers) == 0 {
		return nil, ErrEmptyLevelTable
	}
	if tiers[0].Threshold != 0 {
		return nil, ErrFirstTierNotZero
	}
	cp := make([]LevelTier, len(tiers))
	for i, t := range tiers {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return nil, fmt.Errorf("level tier %d: name is required", i)
		}
		if i > 0 && t.Threshold <= cp[i-1].Threshold {
			return nil, fmt.Errorf("%w: %q (%d) after %q (%d)", ErrTiersNotIncreasing, t.Name, t.Threshold, cp[i-1].Name, cp[i-1].Threshold)
		}
		cp[i] = t
	}
	return &LevelTable{tiers: cp}, nil
}

// Len returns the number of tiers.
func (t *LevelTable) Len() int { return len(t.tiers) }

// LastIndex is the index of the max tier.
func (t *LevelTable) LastIndex() int { return len(t.tiers) - 1 }

// Tiers returns a copy of the table.
func (t *LevelTable) Tiers() []LevelTier {
	out := make([]LevelTier, len(t.tiers))
	copy(out, t.tiers)
	return out
}

// LevelIndexFor returns the highest tier index whose threshold is <= experience.
// Negative experience maps to tier 0.
func (t *LevelTable) LevelIndexFor(experience int64) int {
	lo, hi := 0, len(t.tiers)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if t.tiers[mid].Threshold <= experience {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// TierAt returns the tier at index, clamped to [0, LastIndex].
func (t *LevelTable) TierAt(index int) LevelTier {
	if index < 0 {
		index = 0
	}
	if last := t.LastIndex(); index > last {
		index = last
	}
	return t.tiers[index]
}

// IsMaxTier reports whether index is the last tier.
func (t *LevelTable) IsMaxTier(index int) bool {
	return index == t.LastIndex()
}

// Next returns the tier after index, or false at the max tier.
func (t *LevelTable) Next(index int) (LevelTier, bool) {
	if index < 0 {
		index = 0
	}
	if index >= t.LastIndex() {
		return LevelTier{}, false
	}
	return t.tiers[index+1], true
}

// ProgressFraction is the fraction of the way from the current tier to the next,
// in [0,1) below the max tier and exactly 1 at it.
func (t *LevelTable) ProgressFraction(experience int64) float64 {
	idx := t.LevelIndexFor(experience)
	if t.IsMaxTier(idx) {
		return 1
	}
	cur := t.tiers[idx].Threshold
	next := t.tiers[idx+1].Threshold
	if experience < cur {
		return 0
	}
	return float64(experience-cur) / float64(next-cur)
}

// DefaultLevels is the canonical 35 tier table.
func DefaultLevels() *LevelTable {
	t, err := NewLevelTable(defaultTiers)
	if err != nil {
		panic(err)
	}
	return t
}

var defaultTiers = []LevelTier{
	{"Seed", 0},
	{"Sprout", 100},
	{"Sapling", 300},
	{"Young Tree", 750},
	{"Mature Oak", 1500},
	{"Ancient Guardian", 3000},
	{"Enchanted Willow", 5000},
	{"Crystal Tree", 8000},
	{"Tree of Eternity", 12000},
	{"Cosmic Sentinel", 18000},
	{"Legendary Phoenix Tree", 25000},
	{"Divine Redwood", 35000},
	{"Mythical Yggdrasil", 50000},
	{"Celestial Oak", 70000},
	{"Quantum Arbor", 95000},
	{"Nebula Grove", 125000},
	{"Galactic Nexus", 160000},
	{"Eternal Forest Lord", 200000},
	{"Dimensional Weaver", 250000},
	{"Void Tree", 320000},
	{"Reality Anchor", 400000},
	{"Multiverse Sage", 500000},
	{"Infinite Arborist", 650000},
	{"Chaos Tree", 850000},
	{"Harmony Weaver", 1100000},
	{"Time Lord Oak", 1400000},
	{"Soul Tree", 1800000},
	{"Dream Weaver", 2300000},
	{"Legend of the Forest", 3000000},
	{"Ultimate Tree of Power", 4000000},
	{"God Tree", 5500000},
	{"Supreme Arbor", 7500000},
	{"Transcendent Grove", 10000000},
	{"Omega Tree", 15000000},
	{"Final Arbiter", 25000000},
}
