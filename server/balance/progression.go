package balance

import "time"

const (
	DailyCooldown          = 24 * time.Hour
	DailyBaseReward        = 100
	DailyRewardPerLevel    = 25
	DailyRewardPerPrestige = 50

	PrestigeMinExperience = 500
	PrestigeXPPerBonus    = 1500

	AutoTickInterval = time.Second
	SaveDebounce     = 600 * time.Millisecond

	LeaderboardDefaultLimit = 10
	LeaderboardMaxLimit     = 100
)
