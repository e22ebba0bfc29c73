package arena

import (
	"fmt"
	"maps"

	"simpool/internal/config"
	"simpool/internal/ipc"
)

const (
	attrRound           = "round"
	attrHealth          = "health"
	attrPlayersAlive    = "players_alive"
	attrMaxRounds       = "max_rounds"
	attrOpponentConfigs = "opponent_configs"
)

func (e *Env) HasAttr(name string) bool {
	switch name {
	case attrRound, attrHealth, attrPlayersAlive, attrMaxRounds, attrOpponentConfigs:
		return true
	}
	return false
}

func (e *Env) Attr(name string) (any, error) {
	switch name {
	case attrRound:
		return e.round, nil
	case attrHealth:
		if e.players == nil {
			return e.cfg.StartHealth, nil
		}
		return e.players[0].health, nil
	case attrPlayersAlive:
		return e.alivePlayers(), nil
	case attrMaxRounds:
		return e.maxRounds, nil
	case attrOpponentConfigs:
		return maps.Clone(e.opponents), nil
	}
	return nil, fmt.Errorf("arena: no attribute %q", name)
}

func (e *Env) SetAttr(name string, value ipc.Value) error {
	switch name {
	case attrMaxRounds:
		var n int
		if err := value.Decode(&n); err != nil {
			return fmt.Errorf("arena: max_rounds: %w", err)
		}
		if n < 1 {
			return fmt.Errorf("arena: max_rounds must be >= 1, got %d", n)
		}
		e.maxRounds = n
		return nil
	case attrOpponentConfigs:
		return e.setOpponents(value)
	}
	return fmt.Errorf("arena: attribute %q is read-only or unknown", name)
}

func (e *Env) CallMethod(name string, args ipc.Value) (any, error) {
	switch name {
	case "action_masks":
		if e.players == nil {
			return make([]bool, actionCount), nil
		}
		return e.players[0].mask(e.cfg.Roster, e.cfg.MaxUnits), nil
	case "set_opponent_configs":
		if err := e.setOpponents(args); err != nil {
			return nil, err
		}
		return len(e.opponents), nil
	case "policy_cache":
		return e.cache.Len(), nil
	}
	return nil, fmt.Errorf("arena: no method %q", name)
}

// setOpponents replaces the configs of the listed players. Player 0 is the
// agent and cannot be assigned a policy.
func (e *Env) setOpponents(value ipc.Value) error {
	var cfgs map[int]config.OpponentConfig
	if err := value.Decode(&cfgs); err != nil {
		return fmt.Errorf("arena: opponent configs: %w", err)
	}
	for id, oc := range cfgs {
		if id <= 0 || id >= e.cfg.Players {
			return fmt.Errorf("arena: opponent %d out of range", id)
		}
		switch oc.Source {
		case "", SourceRandom, SourceScript:
		default:
			return fmt.Errorf("arena: opponent %d: unknown source %q", id, oc.Source)
		}
	}
	maps.Copy(e.opponents, cfgs)
	return nil
}
