package arena

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"simpool/internal/battle"
	"simpool/internal/config"
	"simpool/internal/util"
)

const battleFileVersion = 20

// BattleFile is the board handed to the resolver: player one's units are
// Blue, player two's are Red.
type BattleFile struct {
	Version     int          `json:"Version"`
	Key         string       `json:"Key"`
	CombatUnits []CombatUnit `json:"CombatUnits"`
}

type CombatUnit struct {
	ID       string `json:"ID"`
	Name     string `json:"Name"`
	Team     string `json:"Team"`
	MaxHP    int    `json:"MaxHP"`
	Attack   int    `json:"Attack"`
	Ranged   bool   `json:"Ranged"`
	Position Vec2   `json:"Position"`
}

func combatUnits(team string, units []config.UnitDef, x float64) []CombatUnit {
	out := make([]CombatUnit, len(units))
	for i, u := range units {
		out[i] = CombatUnit{
			ID:       fmt.Sprintf("%s_%d_%s", team, i, u.ID),
			Name:     u.Name,
			Team:     team,
			MaxHP:    u.MaxHP,
			Attack:   u.Attack,
			Ranged:   slices.Contains(u.Tags, "ranged"),
			Position: Vec2{X: x, Y: float64(i) * 2},
		}
	}
	return out
}

func writeBattleFile(dir, key string, blue, red []config.UnitDef) (string, error) {
	bf := BattleFile{Version: battleFileVersion, Key: key}
	bf.CombatUnits = append(combatUnits(battle.TeamBlue, blue, 0), combatUnits(battle.TeamRed, red, 10)...)
	b, err := json.MarshalIndent(bf, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, key+".json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func ReadBattleFile(path string) (*BattleFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bf BattleFile
	if err := json.Unmarshal(b, &bf); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if bf.Version != battleFileVersion {
		return nil, fmt.Errorf("%s: unsupported battle file version %d", path, bf.Version)
	}
	return &bf, nil
}

// ResolveBattle settles one battle file with RunDuel. The duel is seeded
// from the battle key so the same board always has the same outcome.
func ResolveBattle(ctx context.Context, d battle.Descriptor) (battle.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return battle.Outcome{}, err
	}
	bf, err := ReadBattleFile(d.Path)
	if err != nil {
		return battle.Outcome{}, err
	}
	units := make([]*Entity, 0, len(bf.CombatUnits))
	for _, cu := range bf.CombatUnits {
		e := &Entity{
			ID: cu.ID, Team: cu.Team, HP: cu.MaxHP, MaxHP: cu.MaxHP, Attack: cu.Attack,
			Pos: cu.Position, Speed: 2, Range: 1.5, AtkCD: 1.0,
		}
		if cu.Ranged {
			e.Range, e.AtkCD = 6, 1.4
		}
		units = append(units, e)
	}
	sim := &Sim{Delta: 0.1, MaxTime: 60, Rng: util.New(util.SeedFor(d.ResolvedKey()))}
	res := RunDuel(sim, units, false)
	return battle.Outcome{
		WinningTeam: res.Winner,
		Details: map[string]any{
			"duration":       res.Duration,
			"blue_survivors": res.Survivors[battle.TeamBlue],
			"red_survivors":  res.Survivors[battle.TeamRed],
		},
	}, nil
}
