package types

// AchievementStat is the progression counter an achievement is measured on.
type AchievementStat int

const (
	StatTotalTaps AchievementStat = iota
	StatPrestiges
)

func (s AchievementStat) String() string {
	switch s {
	case StatTotalTaps:
		return "total_taps"
	case StatPrestiges:
		return "soft_resets"
	default:
		return "unknown"
	}
}

// Achievement unlocks once its stat reaches Threshold. Achievements are derived
// from current state, so one measured on taps is lost again after a prestige.
type Achievement struct {
	ID        string
	Name      string
	Stat      AchievementStat
	Threshold int64
}

var achievements = []Achievement{
	{ID: "tap_rookie", Name: "Tap Rookie", Stat: StatTotalTaps, Threshold: 100},
	{ID: "tap_master", Name: "Tap Master", Stat: StatTotalTaps, Threshold: 1000},
	{ID: "first_prestige", Name: "First Prestige", Stat: StatPrestiges, Threshold: 1},
	{ID: "prestige_veteran", Name: "Prestige Veteran", Stat: StatPrestiges, Threshold: 5},
}

// Achievements returns a copy of the achievement table.
func Achievements() []Achievement {
	out := make([]Achievement, len(achievements))
	copy(out, achievements)
	return out
}

// UnlockedAchievements lists, in table order, the achievements met by the
// given counters.
func UnlockedAchievements(totalTaps, prestigeCount int64) []Achievement {
	var out []Achievement
	for _, a := range achievements {
		v := totalTaps
		if a.Stat == StatPrestiges {
			v = prestigeCount
		}
		if v >= a.Threshold {
			out = append(out, a)
		}
	}
	return out
}
