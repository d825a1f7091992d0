package protocol

import "time"

// Profile is the wire form of a player's persisted record. Field names follow
// the REST API the web client already speaks.
type Profile struct {
	Wallet          string     `json:"wallet"`
	Points          int64      `json:"points"`
	XP              int64      `json:"xp"`
	TapPower        int64      `json:"tap_power"`
	AutoLevel       int64      `json:"auto_level"`
	LastDaily       *time.Time `json:"last_daily"`
	TotalTaps       int64      `json:"total_taps"`
	SoftResets      int64      `json:"soft_resets"`
	DisplayName     *string    `json:"farcaster_username"`
	TapUpgradeCost  int64      `json:"tap_cost"`
	AutoUpgradeCost int64      `json:"auto_cost"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type GetProfile struct{}

type SetDisplayName struct {
	Name string `json:"name"`
}

type Logout struct{}
