package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PLUTOX-DEV/Tree-miniapp/shared/game/types"
)

var (
	ErrNotFound     = errors.New("profile not found")
	ErrInvalidID    = errors.New("invalid profile id")
	ErrInvalidPatch = errors.New("invalid profile update")
)

// Profile is the persisted player aggregate, keyed by lowercase wallet id.
type Profile struct {
	ID              string     `json:"wallet"`
	Points          int64      `json:"points"`
	Experience      int64      `json:"xp"`
	TapPower        int64      `json:"tap_power"`
	AutoLevel       int64      `json:"auto_level"`
	LastDailyClaim  *time.Time `json:"last_daily"`
	TotalTaps       int64      `json:"total_taps"`
	PrestigeCount   int64      `json:"soft_resets"`
	DisplayName     *string    `json:"farcaster_username"`
	TapUpgradeCost  int64      `json:"tap_cost"`
	AutoUpgradeCost int64      `json:"auto_cost"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// NewProfile returns the defaults for a first connection: everything zero
// except tap power 1 and base upgrade costs.
func NewProfile(id string) Profile {
	return Profile{
		ID:              id,
		TapPower:        1,
		TapUpgradeCost:  types.UpgradeTap.BaseCost(),
		AutoUpgradeCost: types.UpgradeAuto.BaseCost(),
	}
}

// Clone returns a deep copy, so the result shares no pointers with p.
func (p Profile) Clone() Profile {
	out := p
	if p.LastDailyClaim != nil {
		t := *p.LastDailyClaim
		out.LastDailyClaim = &t
	}
	if p.DisplayName != nil {
		n := *p.DisplayName
		out.DisplayName = &n
	}
	return out
}

// normalize fills values older records may be missing.
func (p *Profile) normalize() {
	if p.TapPower < 1 {
		p.TapPower = 1
	}
	if p.TapUpgradeCost <= 0 {
		p.TapUpgradeCost = types.UpgradeTap.BaseCost()
	}
	if p.AutoUpgradeCost <= 0 {
		p.AutoUpgradeCost = types.UpgradeAuto.BaseCost()
	}
}

// CanonicalID trims and lowercases id. Wallet format checks live in auth.
func CanonicalID(id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return "", ErrInvalidID
	}
	return id, nil
}

// Merge applies patch to the stored record, or to fresh defaults when none
// exists yet, and stamps the timestamps. Backends call it inside their
// read-modify-write critical section.
func Merge(id string, stored *Profile, patch Patch, now time.Time) Profile {
	var p Profile
	if stored != nil {
		p = stored.Clone()
	} else {
		p = NewProfile(id)
		p.CreatedAt = now
	}
	p.ID = id
	patch.Apply(&p)
	p.UpdatedAt = now
	return p
}

// Store persists profiles. Upserts are full or partial overwrites; the last
// write wins.
type Store interface {
	GetOrCreate(ctx context.Context, id string) (Profile, error)
	Get(ctx context.Context, id string) (Profile, error)
	Upsert(ctx context.Context, id string, patch Patch) (Profile, error)
	Close() error
}

// Ranker answers leaderboard queries.
type Ranker interface {
	TopByExperience(ctx context.Context, limit int) ([]Profile, error)
}

// Backend is a store that can also rank.
type Backend interface {
	Store
	Ranker
}

// OptionalTime distinguishes an absent field from an explicit null.
type OptionalTime struct {
	Set   bool
	Value *time.Time
}

func (o *OptionalTime) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	o.Value = &t
	return nil
}

func (o OptionalTime) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// OptionalString distinguishes an absent field from an explicit null.
type OptionalString struct {
	Set   bool
	Value *string
}

func (o *OptionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

func (o OptionalString) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

// Patch is a partial profile update. Nil fields are left unchanged.
type Patch struct {
	Points          *int64         `json:"points,omitempty"`
	Experience      *int64         `json:"xp,omitempty"`
	TapPower        *int64         `json:"tap_power,omitempty"`
	AutoLevel       *int64         `json:"auto_level,omitempty"`
	LastDailyClaim  OptionalTime   `json:"last_daily"`
	TotalTaps       *int64         `json:"total_taps,omitempty"`
	PrestigeCount   *int64         `json:"soft_resets,omitempty"`
	DisplayName     OptionalString `json:"farcaster_username"`
	TapUpgradeCost  *int64         `json:"tap_cost,omitempty"`
	AutoUpgradeCost *int64         `json:"auto_cost,omitempty"`
}

// Snapshot returns a patch that overwrites every mutable field with p's values.
func Snapshot(p Profile) Patch {
	p = p.Clone()
	return Patch{
		Points:          &p.Points,
		Experience:      &p.Experience,
		TapPower:        &p.TapPower,
		AutoLevel:       &p.AutoLevel,
		LastDailyClaim:  OptionalTime{Set: true, Value: p.LastDailyClaim},
		TotalTaps:       &p.TotalTaps,
		PrestigeCount:   &p.PrestigeCount,
		DisplayName:     OptionalString{Set: true, Value: p.DisplayName},
		TapUpgradeCost:  &p.TapUpgradeCost,
		AutoUpgradeCost: &p.AutoUpgradeCost,
	}
}

// Validate rejects values that break the profile invariants.
func (u Patch) Validate() error {
	nonNeg := []struct {
		name string
		v    *int64
	}{
		{"points", u.Points},
		{"xp", u.Experience},
		{"auto_level", u.AutoLevel},
		{"total_taps", u.TotalTaps},
		{"soft_resets", u.PrestigeCount},
	}
	for _, f := range nonNeg {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidPatch, f.name)
		}
	}
	if u.TapPower != nil && *u.TapPower < 1 {
		return fmt.Errorf("%w: tap_power must be at least 1", ErrInvalidPatch)
	}
	if u.TapUpgradeCost != nil && *u.TapUpgradeCost < 1 {
		return fmt.Errorf("%w: tap_cost must be positive", ErrInvalidPatch)
	}
	if u.AutoUpgradeCost != nil && *u.AutoUpgradeCost < 1 {
		return fmt.Errorf("%w: auto_cost must be positive", ErrInvalidPatch)
	}
	return nil
}

// Apply merges the patch into p.
func (u Patch) Apply(p *Profile) {
	setInt := func(dst *int64, src *int64) {
		if src != nil {
			*dst = *src
		}
	}
	setInt(&p.Points, u.Points)
	setInt(&p.Experience, u.Experience)
	setInt(&p.TapPower, u.TapPower)
	setInt(&p.AutoLevel, u.AutoLevel)
	setInt(&p.TotalTaps, u.TotalTaps)
	setInt(&p.PrestigeCount, u.PrestigeCount)
	setInt(&p.TapUpgradeCost, u.TapUpgradeCost)
	setInt(&p.AutoUpgradeCost, u.AutoUpgradeCost)
	if u.LastDailyClaim.Set {
		p.LastDailyClaim = nil
		if u.LastDailyClaim.Value != nil {
			t := u.LastDailyClaim.Value.UTC()
			p.LastDailyClaim = &t
		}
	}
	if u.DisplayName.Set {
		p.DisplayName = nil
		if u.DisplayName.Value != nil {
			n := strings.TrimSpace(*u.DisplayName.Value)
			if n != "" {
				p.DisplayName = &n
			}
		}
	}
	p.normalize()
}
