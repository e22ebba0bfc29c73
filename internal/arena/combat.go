package arena

import (
	"math/rand"

	"simpool/internal/battle"
)

type Event struct {
	T       float64        `json:"t"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Entity is one unit on a duel board.
type Entity struct {
	ID     string
	Team   string
	HP     int
	MaxHP  int
	Attack int

	Pos     Vec2
	Speed   float64
	Range   float64
	AtkCD   float64
	nextAtk float64
}

func (e *Entity) alive() bool { return e.HP > 0 }

// Sim is the clock of one duel.
type Sim struct {
	Time    float64
	Delta   float64
	MaxTime float64
	Rng     *rand.Rand
}

type DuelResult struct {
	Winner       string             `json:"winner"`
	Duration     float64            `json:"duration"`
	Survivors    map[string]int     `json:"survivors"`
	DamageByUnit map[string]float64 `json:"damage_by_unit"`
	Events       []Event            `json:"events,omitempty"`
}

// RunDuel advances every unit tick by tick: move toward the nearest enemy,
// strike when in range and off cooldown. A side with no units left loses;
// running out of time is a draw.
func RunDuel(sim *Sim, units []*Entity, record bool) DuelResult {
	var events []Event
	emit := func(ev Event) {
		if record {
			events = append(events, ev)
		}
	}
	damage := map[string]float64{}

	for sim.Time < sim.MaxTime {
		sim.Time += sim.Delta
		for _, u := range units {
			if !u.alive() {
				continue
			}
			target := nearestEnemy(u, units)
			if target == nil {
				break
			}
			if u.Pos.Dist(target.Pos) > u.Range {
				u.Pos = u.Pos.stepToward(target.Pos, u.Speed*sim.Delta)
				continue
			}
			if sim.Time < u.nextAtk {
				continue
			}
			dmg := u.Attack
			if u.Attack >= 4 {
				dmg += sim.Rng.Intn(u.Attack/4+1) - u.Attack/8
			}
			target.HP -= dmg
			damage[u.ID] += float64(dmg)
			u.nextAtk = sim.Time + u.AtkCD
			emit(Event{T: sim.Time, Type: "Hit", Payload: map[string]any{"src": u.ID, "dst": target.ID, "dmg": dmg}})
			if !target.alive() {
				emit(Event{T: sim.Time, Type: "Death", Payload: map[string]any{"id": target.ID}})
			}
		}
		if teamAlive(units, battle.TeamBlue) == 0 || teamAlive(units, battle.TeamRed) == 0 {
			break
		}
	}

	blue, red := teamAlive(units, battle.TeamBlue), teamAlive(units, battle.TeamRed)
	res := DuelResult{
		Winner:       battle.Draw,
		Duration:     sim.Time,
		Survivors:    map[string]int{battle.TeamBlue: blue, battle.TeamRed: red},
		DamageByUnit: damage,
	}
	switch {
	case blue > 0 && red == 0:
		res.Winner = battle.TeamBlue
	case red > 0 && blue == 0:
		res.Winner = battle.TeamRed
	}
	if record {
		res.Events = events
	}
	return res
}

func nearestEnemy(u *Entity, units []*Entity) *Entity {
	var best *Entity
	bestDist := 0.0
	for _, o := range units {
		if o.Team == u.Team || !o.alive() {
			continue
		}
		d := u.Pos.Dist(o.Pos)
		if best == nil || d < bestDist {
			best, bestDist = o, d
		}
	}
	return best
}

func teamAlive(units []*Entity, team string) int {
	n := 0
	for _, u := range units {
		if u.Team == team && u.alive() {
			n++
		}
	}
	return n
}
