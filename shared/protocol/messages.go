package protocol

import (
	"encoding/json"
	"time"
)

// Envelope
type MsgEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ================= C -> S =================

type Tap struct{}

type BuyUpgrade struct {
	Kind string `json:"kind"` // "tap" | "auto"
}

type ClaimDaily struct{}

type Prestige struct{}

// ================= S -> C =================

// GameState is pushed after every applied action and every auto tick.
type GameState struct {
	Profile Profile `json:"profile"`

	LevelIndex     int        `json:"level_index"`
	LevelName      string     `json:"level_name"`
	NextLevelName  string     `json:"next_level_name,omitempty"`
	NextLevelXP    int64      `json:"next_level_xp,omitempty"`
	Progress       float64    `json:"progress"`
	MaxLevel       bool       `json:"max_level"`
	CanClaimDaily  bool       `json:"can_claim_daily"`
	DailyAvailable *time.Time `json:"daily_available_at,omitempty"` // first instant a claim is accepted
	CanPrestige    bool       `json:"can_prestige"`
	PrestigeBonus  int64      `json:"prestige_bonus"`

	Achievements []Achievement `json:"achievements"`
}

type Achievement struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type LevelUp struct {
	From  int    `json:"from"`
	Index int    `json:"index"`
	Name  string `json:"name"`
}

type DailyClaimed struct {
	Reward int64 `json:"reward"`
	XP     int64 `json:"xp"`
}

type ErrorMsg struct {
	Message string `json:"message"`
}

// Encode wraps v in an envelope of type typ.
func Encode(typ string, v any) ([]byte, error) {
	var data json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(MsgEnvelope{Type: typ, Data: data})
}
