// Package arena is a small auto-battler used to exercise the pool: each
// round every player buys or sells units, players are paired, and boards
// that both hold units are written as battle files for the resolver.
// Player 0 is the agent.
package arena

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"

	"simpool/internal/battle"
	"simpool/internal/config"
	"simpool/internal/ipc"
	"simpool/internal/util"
)

const (
	obsPerPlayer = 3
	goldScale    = 20.0
)

type pairing struct{ p1, p2 int }

type Env struct {
	index   int
	cfg     config.ArenaConfig
	logger  *log.Logger
	rng     *rand.Rand
	cache   *PolicyCache
	players []*player

	opponents map[int]config.OpponentConfig
	maxRounds int
	round     int
	episodes  int
	finished  bool

	pending   []battle.Descriptor
	awaiting  map[string]pairing
	simReward float64
}

// New prepares the env for worker index. Reset must be called before Step.
func New(index int, cfg config.ArenaConfig, logger *log.Logger) (*Env, error) {
	if cfg.Players < 2 {
		return nil, fmt.Errorf("arena: need at least 2 players, got %d", cfg.Players)
	}
	if len(cfg.Roster) == 0 {
		return nil, errors.New("arena: empty roster")
	}
	if cfg.BattleDir == "" {
		return nil, errors.New("arena: battle_dir is required")
	}
	if err := os.MkdirAll(cfg.BattleDir, 0o755); err != nil {
		return nil, fmt.Errorf("arena: create battle dir: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, fmt.Sprintf("[W%d] ", index), log.LstdFlags)
	}
	e := &Env{
		index:     index,
		cfg:       cfg,
		logger:    logger,
		cache:     NewPolicyCache(cfg.EvictAfter, logger),
		opponents: map[int]config.OpponentConfig{},
		maxRounds: cfg.MaxRounds,
	}
	for id, oc := range cfg.Opponents {
		e.opponents[id] = oc
	}
	return e, nil
}

func (e *Env) Spaces() ipc.Spaces {
	return ipc.Spaces{ObsShape: []int{e.cfg.Players*obsPerPlayer + 1}, ActionCount: actionCount}
}

func (e *Env) Reset(seed *int64, options map[string]any) ([]float32, map[string]any, error) {
	s := util.Derive(int64(e.episodes), e.index)
	if seed != nil {
		s = *seed
	}
	e.rng = util.New(s)
	e.episodes++
	e.maxRounds = e.cfg.MaxRounds
	if v, ok := toInt(options["max_rounds"]); ok && v > 0 {
		e.maxRounds = v
	}
	e.round, e.finished, e.simReward = 0, false, 0
	e.pending, e.awaiting = nil, nil
	e.players = make([]*player, e.cfg.Players)
	for i := range e.players {
		e.players[i] = &player{id: i, health: e.cfg.StartHealth, gold: e.cfg.StartGold}
	}
	return e.observe(), map[string]any{"seed": s, "max_rounds": e.maxRounds}, nil
}

func (e *Env) Step(action int) (ipc.StepReply, error) {
	if e.players == nil {
		return ipc.StepReply{}, errors.New("arena: step before reset")
	}
	if e.finished {
		return ipc.StepReply{Obs: e.observe(), Terminated: true, Info: map[string]any{"finished": true}}, nil
	}
	if len(e.awaiting) > 0 {
		e.logger.Printf("round %d: %d battles never received results", e.round, len(e.awaiting))
	}
	e.round++
	e.pending, e.awaiting = nil, map[string]pairing{}
	reward := 0.0
	info := map[string]any{}

	agent := e.players[0]
	if !agent.act(action, e.cfg.Roster, e.cfg.MaxUnits, e.rng) {
		info["invalid_action"] = true
	}
	for _, p := range e.players[1:] {
		if p.alive() {
			e.opponentAct(p)
		}
	}
	for _, p := range e.players {
		if p.alive() {
			p.gold += e.cfg.Income
		}
	}

	for _, pr := range e.pairings() {
		a, b := e.players[pr.p1], e.players[pr.p2]
		if len(a.units) == 0 || len(b.units) == 0 {
			reward += e.presimulate(a, b)
			continue
		}
		key := battle.Key(e.index, e.round, pr.p1, pr.p2)
		path, err := writeBattleFile(e.cfg.BattleDir, key, a.units, b.units)
		if err != nil {
			e.logger.Printf("write battle %s: %v; both players lose", key, err)
			reward += e.settle(pr, false, false)
			continue
		}
		e.pending = append(e.pending, battle.Descriptor{Key: key, Path: path, Worker: e.index})
		e.awaiting[key] = pr
	}

	info["round"] = e.round
	info["health"] = agent.health
	info["gold"] = agent.gold
	info["units"] = len(agent.units)
	info["battles"] = len(e.pending)
	return ipc.StepReply{
		Obs:        e.observe(),
		Reward:     reward,
		Terminated: !agent.alive(),
		Truncated:  e.round >= e.maxRounds,
		Info:       info,
	}, nil
}

func (e *Env) opponentAct(p *player) {
	oc := e.opponents[p.id]
	pol := e.cache.Get(oc)
	a, err := pol.Act(e.rng, e.round, p.mask(e.cfg.Roster, e.cfg.MaxUnits))
	if oc.Source == SourceScript {
		if e.cache.Report(oc.Identifier, err) {
			e.opponents[p.id] = config.OpponentConfig{Source: SourceRandom}
		}
	}
	if err != nil {
		e.logger.Printf("opponent %d: %v", p.id, err)
		return
	}
	p.act(a, e.cfg.Roster, e.cfg.MaxUnits, e.rng)
}

// pairings shuffles the alive players into pairs; an odd one out sits the
// round out.
func (e *Env) pairings() []pairing {
	var alive []int
	for _, p := range e.players {
		if p.alive() {
			alive = append(alive, p.id)
		}
	}
	e.rng.Shuffle(len(alive), func(i, j int) { alive[i], alive[j] = alive[j], alive[i] })
	var out []pairing
	for i := 0; i+1 < len(alive); i += 2 {
		a, b := alive[i], alive[i+1]
		if a > b {
			a, b = b, a
		}
		out = append(out, pairing{a, b})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].p1 < out[j].p1 })
	return out
}

// presimulate settles a pairing where at least one board is empty and
// returns the agent's reward for it.
func (e *Env) presimulate(a, b *player) float64 {
	pr := pairing{a.id, b.id}
	switch {
	case len(a.units) == 0 && len(b.units) == 0:
		a.last, b.last = 0, 0
		if a.id == 0 || b.id == 0 {
			return e.cfg.Rewards.EmptyBoard
		}
		return 0
	case len(a.units) == 0:
		r := e.settle(pr, false, true)
		if a.id == 0 {
			r += e.cfg.Rewards.EmptyBoard
		}
		return r
	default:
		r := e.settle(pr, true, false)
		if b.id == 0 {
			r += e.cfg.Rewards.EmptyBoard
		}
		return r
	}
}

// settle applies a pairing result and returns the agent's share of it.
func (e *Env) settle(pr pairing, p1Won, p2Won bool) float64 {
	reward := 0.0
	for _, side := range []struct {
		id  int
		won bool
	}{{pr.p1, p1Won}, {pr.p2, p2Won}} {
		p := e.players[side.id]
		if side.won {
			p.last = 1
		} else {
			p.last = -1
			p.health -= e.cfg.LossDamage
		}
		if side.id == 0 {
			if side.won {
				reward += e.cfg.Rewards.RoundWin
			} else {
				reward += e.cfg.Rewards.RoundLoss
			}
		}
	}
	return reward
}

func (e *Env) BattleFilesAndClear() ([]battle.Descriptor, error) {
	out := e.pending
	e.pending = nil
	return out, nil
}

// ApplyResults settles every battle of the round. Red winning means player
// one lost, Blue means player two lost; anything else, including a missing
// result, counts as a loss for both.
func (e *Env) ApplyResults(results battle.Results) error {
	missing := 0
	for key, pr := range e.awaiting {
		out, ok := results[key]
		if !ok {
			missing++
		}
		switch out.WinningTeam {
		case battle.TeamBlue:
			e.simReward += e.settle(pr, true, false)
		case battle.TeamRed:
			e.simReward += e.settle(pr, false, true)
		default:
			e.simReward += e.settle(pr, false, false)
		}
	}
	if missing > 0 {
		e.logger.Printf("round %d: %d battles without a result, scored as losses", e.round, missing)
	}
	e.awaiting = nil
	return nil
}

func (e *Env) FinalStepData() (ipc.FinalReply, error) {
	if e.players == nil {
		return ipc.FinalReply{}, errors.New("arena: final data before reset")
	}
	delta := e.simReward
	e.simReward = 0
	agent := e.players[0]
	alive := e.alivePlayers()
	done := !agent.alive() || alive <= 1 || e.round >= e.maxRounds
	info := map[string]any{"health": agent.health, "alive_players": alive}
	if done && !e.finished {
		e.finished = true
		place := e.placement()
		info["final_placement"] = place
		info["agent_won_episode"] = place == 1
		if place-1 < len(e.cfg.Rewards.Placement) {
			delta += e.cfg.Rewards.Placement[place-1]
		}
	}
	return ipc.FinalReply{RewardDelta: delta, Done: done, Info: info}, nil
}

func (e *Env) Close() error { return nil }

func (e *Env) alivePlayers() int {
	n := 0
	for _, p := range e.players {
		if p.alive() {
			n++
		}
	}
	return n
}

func (e *Env) placement() int {
	agent := e.players[0]
	place := 1
	for _, p := range e.players[1:] {
		if p.health > agent.health {
			place++
		}
	}
	return place
}

func (e *Env) observe() []float32 {
	obs := make([]float32, 0, len(e.players)*obsPerPlayer+1)
	start := float32(max(e.cfg.StartHealth, 1))
	for _, p := range e.players {
		obs = append(obs,
			float32(max(p.health, 0))/start,
			float32(len(p.units))/float32(max(e.cfg.MaxUnits, 1)),
			float32(p.gold)/goldScale,
		)
	}
	return append(obs, float32(e.round)/float32(max(e.maxRounds, 1)))
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
