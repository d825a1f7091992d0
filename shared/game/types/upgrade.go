package types

import (
	"fmt"
	"strings"
)

type UpgradeKind int

const (
	UpgradeTap UpgradeKind = iota
	UpgradeAuto
)

const (
	TapUpgradeBaseCost  int64 = 50
	AutoUpgradeBaseCost int64 = 150
)

func (k UpgradeKind) String() string {
	switch k {
	case UpgradeTap:
		return "tap"
	case UpgradeAuto:
		return "auto"
	default:
		return fmt.Sprintf("upgrade(%d)", int(k))
	}
}

// BaseCost is the price of the first purchase, and the price after a prestige.
func (k UpgradeKind) BaseCost() int64 {
	switch k {
	case UpgradeTap:
		return TapUpgradeBaseCost
	case UpgradeAuto:
		return AutoUpgradeBaseCost
	default:
		return 0
	}
}

// growth returns the cost multiplier as a fraction in tenths (1.7 -> 17/10).
func (k UpgradeKind) growth() int64 {
	switch k {
	case UpgradeTap:
		return 17
	case UpgradeAuto:
		return 18
	default:
		return 10
	}
}

// NextCost is ceil(cost * growth), computed in integers so 50 -> 85 exactly.
// Saturates instead of overflowing.
func (k UpgradeKind) NextCost(cost int64) int64 {
	g := k.growth()
	if cost <= 0 {
		return k.BaseCost()
	}
	if cost > (maxInt64-9)/g {
		return maxInt64
	}
	return (cost*g + 9) / 10
}

func ParseUpgradeKind(s string) (UpgradeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tap", "tap_power":
		return UpgradeTap, nil
	case "auto", "auto_grow", "auto_level":
		return UpgradeAuto, nil
	default:
		return 0, fmt.Errorf("unknown upgrade kind %q", s)
	}
}

const maxInt64 = int64(^uint64(0) >> 1)
