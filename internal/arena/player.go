package arena

import (
	"math/rand"

	"simpool/internal/config"
)

// Actions available to every player each round.
const (
	ActionHold = iota
	ActionRecruit
	ActionSell
	actionCount
)

type player struct {
	id     int
	health int
	gold   int
	units  []config.UnitDef
	// last is +1 after a round win, -1 after a loss, 0 otherwise.
	last int
}

func (p *player) alive() bool { return p.health > 0 }

func (p *player) mask(roster []config.UnitDef, maxUnits int) []bool {
	m := make([]bool, actionCount)
	m[ActionHold] = true
	m[ActionRecruit] = len(p.units) < maxUnits && len(affordable(roster, p.gold)) > 0
	m[ActionSell] = len(p.units) > 0
	return m
}

func affordable(roster []config.UnitDef, gold int) []config.UnitDef {
	var out []config.UnitDef
	for _, u := range roster {
		if u.Cost <= gold {
			out = append(out, u)
		}
	}
	return out
}

// act applies an action and reports whether it was valid. Invalid actions
// leave the player unchanged.
func (p *player) act(action int, roster []config.UnitDef, maxUnits int, rng *rand.Rand) bool {
	if action < 0 || action >= actionCount || !p.mask(roster, maxUnits)[action] {
		return false
	}
	switch action {
	case ActionRecruit:
		choices := affordable(roster, p.gold)
		u := choices[rng.Intn(len(choices))]
		p.gold -= u.Cost
		p.units = append(p.units, u)
	case ActionSell:
		u := p.units[len(p.units)-1]
		p.units = p.units[:len(p.units)-1]
		p.gold += max(u.Cost-1, 0)
	}
	return true
}
