package protocol

// Message types carried in MsgEnvelope.Type.
const (
	// C -> S
	TypeTap            = "Tap"
	TypeBuyUpgrade     = "BuyUpgrade"
	TypeClaimDaily     = "ClaimDaily"
	TypePrestige       = "Prestige"
	TypeSetDisplayName = "SetDisplayName"
	TypeGetProfile     = "GetProfile"
	TypeGetLeaderboard = "GetLeaderboard"
	TypeLogout         = "Logout"

	// S -> C
	TypeGameState    = "GameState"
	TypeLevelUp      = "LevelUp"
	TypeDailyClaimed = "DailyClaimed"
	TypeLeaderboard  = "Leaderboard"
	TypeError        = "Error"
)
