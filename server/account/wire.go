package account

import "github.com/PLUTOX-DEV/Tree-miniapp/shared/protocol"

// ToWire converts a Profile for network transmission.
func ToWire(p Profile) protocol.Profile {
	p = p.Clone()
	return protocol.Profile{
		Wallet:          p.ID,
		Points:          p.Points,
		XP:              p.Experience,
		TapPower:        p.TapPower,
		AutoLevel:       p.AutoLevel,
		LastDaily:       p.LastDailyClaim,
		TotalTaps:       p.TotalTaps,
		SoftResets:      p.PrestigeCount,
		DisplayName:     p.DisplayName,
		TapUpgradeCost:  p.TapUpgradeCost,
		AutoUpgradeCost: p.AutoUpgradeCost,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}
