package protocol

type LeaderboardEntry struct {
	Rank        int     `json:"rank"`
	Wallet      string  `json:"wallet"`
	XP          int64   `json:"xp"`
	Points      int64   `json:"points"`
	DisplayName *string `json:"farcaster_username,omitempty"`
	Level       string  `json:"level"`
}

type Leaderboard struct {
	Items       []LeaderboardEntry `json:"items"`
	GeneratedAt int64              `json:"generated_at"` // Unix ms
}

// Client sends this to fetch the board. Zero limit means the server default.
type GetLeaderboard struct {
	Limit int `json:"limit,omitempty"`
}
