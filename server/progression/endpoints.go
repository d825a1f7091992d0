package progression

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PLUTOX-DEV/Tree-miniapp/shared/game/types"
	"github.com/PLUTOX-DEV/Tree-miniapp/shared/protocol"
)

var ErrUnknownAction = errors.New("unknown action")

// Dispatch decodes one action request and applies it to e. applied is false for
// refused actions, which are not errors. send receives side events such as
// DailyClaimed; it may be nil.
func Dispatch(e *Engine, env protocol.MsgEnvelope, send func(typ string, v any)) (applied bool, err error) {
	switch env.Type {
	case protocol.TypeTap:
		e.Tap()
		return true, nil

	case protocol.TypeBuyUpgrade:
		var m protocol.BuyUpgrade
		if err := decode(env, &m); err != nil {
			return false, err
		}
		kind, err := types.ParseUpgradeKind(m.Kind)
		if err != nil {
			return false, err
		}
		return e.BuyUpgrade(kind), nil

	case protocol.TypeClaimDaily:
		reward, ok := e.ClaimDaily()
		if ok && send != nil {
			send(protocol.TypeDailyClaimed, protocol.DailyClaimed{Reward: reward, XP: reward / 2})
		}
		return ok, nil

	case protocol.TypePrestige:
		return e.Prestige(), nil

	case protocol.TypeSetDisplayName:
		var m protocol.SetDisplayName
		if err := decode(env, &m); err != nil {
			return false, err
		}
		if len(m.Name) > 64 {
			return false, fmt.Errorf("display name too long")
		}
		return e.SetDisplayName(m.Name), nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownAction, env.Type)
}

func decode(env protocol.MsgEnvelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	return nil
}
