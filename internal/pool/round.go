package pool

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"simpool/internal/battle"
	"simpool/internal/ipc"
)

// round is the scratch state of one StepWait.
type round struct {
	obs     Batch
	rewards []float64
	dones   []bool
	infos   []map[string]any
	// live workers answered every command so far this round.
	live []bool
	// harvested workers submitted battles and are owed results.
	harvested []bool
	battles   []battle.Descriptor
	owners    map[string]int
	parts     []battle.Results
}

func (p *Pool) newRound() *round {
	n := len(p.workers)
	r := &round{
		obs:       newBatch(n, p.spaces),
		rewards:   make([]float64, n),
		dones:     make([]bool, n),
		infos:     make([]map[string]any, n),
		live:      make([]bool, n),
		harvested: make([]bool, n),
		owners:    map[string]int{},
	}
	for i := range r.infos {
		r.infos[i] = map[string]any{}
	}
	return r
}

// fail marks a worker that produced no usable transition this round.
func (r *round) fail(i int, reason string, err error) {
	r.dones[i] = true
	r.live[i] = false
	r.infos[i]["error"] = reason
	if err != nil {
		r.infos[i]["fault"] = err.Error()
	}
}

// drop removes a worker from the rest of the round after a fault in a
// later phase.
func (r *round) drop(i int, cmd ipc.Command, err error) {
	r.fail(i, ipc.FaultReason(err), err)
	r.infos[i]["fault_phase"] = cmd.String()
}

func (r *round) result() RoundResult {
	return RoundResult{Obs: r.obs, Rewards: r.rewards, Dones: r.dones, Infos: r.infos}
}

// StepAsync sends one action to every alive worker. Nothing is sent if a
// round is already pending.
func (p *Pool) StepAsync(actions []int) error {
	if p.closed {
		return ErrClosed
	}
	if p.phase != PhaseIdle {
		return fmt.Errorf("%w: step_async in phase %s", ErrPhaseDesync, p.phase)
	}
	if len(actions) != len(p.workers) {
		return fmt.Errorf("pool: got %d actions for %d workers", len(actions), len(p.workers))
	}
	p.round++
	for i, h := range p.workers {
		if h.state != Alive {
			continue
		}
		_ = p.send(h, ipc.CmdStep, ipc.StepArgs{Action: actions[i]}, p.cfg.Timeouts.Step)
	}
	p.phase = PhaseStepSent
	return nil
}

// StepWait runs the rest of the round: collect transitions, harvest
// battles, resolve them in one batch, apply outcomes, finalize and reset
// finished workers. A resolver failure closes the pool and is returned
// wrapped in ErrResolverFatal. Without a pending StepAsync it returns a
// round that marks every worker done.
func (p *Pool) StepWait(ctx context.Context) (RoundResult, error) {
	if p.closed {
		return RoundResult{}, ErrClosed
	}
	if p.phase != PhaseStepSent {
		p.logger.Printf("step_wait in phase %s without a pending step; forcing reset round", p.phase)
		return p.desyncRound(), nil
	}
	ctx, span := p.tracer.Start(ctx, "pool.round", trace.WithAttributes(
		attribute.Int("round", p.round),
		attribute.Int("workers", len(p.workers)),
	))
	defer span.End()

	r := p.newRound()
	p.collectSteps(ctx, r)
	p.harvest(ctx, r)
	if err := p.resolve(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Printf("round %d: %v; closing pool", p.round, err)
		p.Close()
		return RoundResult{}, err
	}
	p.applyAndFinalize(ctx, r)
	p.resetDone(ctx, r)
	p.phase = PhaseIdle

	res := r.result()
	span.SetAttributes(attribute.Int("workers.alive", p.countAlive()), attribute.Int("battles", len(r.battles)))
	p.record(ctx, res)
	return res, nil
}

// Step is StepAsync followed by StepWait.
func (p *Pool) Step(ctx context.Context, actions []int) (RoundResult, error) {
	if err := p.StepAsync(actions); err != nil {
		return RoundResult{}, err
	}
	return p.StepWait(ctx)
}

func (p *Pool) collectSteps(ctx context.Context, r *round) {
	_, span := p.tracer.Start(ctx, "pool.collect_steps")
	defer span.End()

	for i, h := range p.workers {
		if h.state != Alive || h.pending == 0 {
			r.fail(i, p.faultOf(h), nil)
			continue
		}
		var reply ipc.StepReply
		err := p.await(h, ipc.CmdStep, &reply, p.cfg.Timeouts.Step)
		if err == nil && len(reply.Obs) != p.spaces.ObsSize() {
			err = p.shapeErr(len(reply.Obs))
			p.demote(h, ipc.CmdStep, err)
		}
		if err != nil {
			r.fail(i, ipc.FaultReason(err), err)
			continue
		}
		ipc.Sanitize(reply.Obs)
		r.obs.set(i, reply.Obs)
		r.rewards[i] = sanitizeReward(reply.Reward)
		r.dones[i] = reply.Terminated || reply.Truncated
		r.infos[i] = cloneInfo(reply.Info)
		r.live[i] = true
		h.episodeLen++
	}
	p.phase = PhasePreliminaryCollected
}

func (p *Pool) harvest(ctx context.Context, r *round) {
	_, span := p.tracer.Start(ctx, "pool.harvest")
	defer span.End()

	timeout := p.cfg.Timeouts.BattleFiles
	for i, h := range p.workers {
		if !r.live[i] {
			continue
		}
		if err := p.send(h, ipc.CmdBattleFiles, nil, timeout); err != nil {
			r.drop(i, ipc.CmdBattleFiles, err)
		}
	}
	for i, h := range p.workers {
		if !r.live[i] {
			continue
		}
		var files []battle.Descriptor
		if err := p.await(h, ipc.CmdBattleFiles, &files, timeout); err != nil {
			r.drop(i, ipc.CmdBattleFiles, err)
			continue
		}
		r.harvested[i] = true
		for _, d := range files {
			key := d.ResolvedKey()
			if key == "" {
				p.logger.Printf("W%d submitted a battle without key or path", i)
				continue
			}
			if owner, dup := r.owners[key]; dup {
				p.logger.Printf("W%d battle %s collides with W%d, dropped", i, key, owner)
				continue
			}
			if p.cfg.VerifyBattleFiles && d.Path != "" {
				if _, err := os.Stat(d.Path); err != nil {
					p.logger.Printf("W%d battle file %s: %v, dropped", i, d.Path, err)
					continue
				}
			}
			d.Key = key
			d.Worker = i
			r.owners[key] = i
			r.battles = append(r.battles, d)
		}
	}
	span.SetAttributes(attribute.Int("battles", len(r.battles)))
	p.phase = PhaseBattlesHarvested
}

func (p *Pool) resolve(ctx context.Context, r *round) (err error) {
	ctx, span := p.tracer.Start(ctx, "pool.resolve", trace.WithAttributes(attribute.Int("battles", len(r.battles))))
	defer span.End()

	n := len(p.workers)
	if len(r.battles) == 0 {
		r.parts, _ = battle.Split(nil, nil, n)
		p.phase = PhaseResolverInvoked
		return nil
	}
	if p.resolver == nil {
		return fmt.Errorf("%w: %d battles and no resolver configured", ErrResolverFatal, len(r.battles))
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", ErrResolverFatal, rec)
		}
	}()

	start := time.Now()
	results, err := p.resolver.Resolve(ctx, r.battles)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResolverFatal, err)
	}
	parts, unknown := battle.Split(results, r.owners, n)
	if len(unknown) > 0 {
		p.debugf("round %d: ignoring %d outcomes for battles nobody submitted", p.round, len(unknown))
	}
	p.debugf("round %d: resolved %d/%d battles in %s", p.round, len(results)-len(unknown), len(r.battles), time.Since(start))
	r.parts = parts
	p.phase = PhaseResolverInvoked
	return nil
}

func (p *Pool) applyAndFinalize(ctx context.Context, r *round) {
	_, span := p.tracer.Start(ctx, "pool.apply")
	defer span.End()

	t := p.cfg.Timeouts
	for i, h := range p.workers {
		if !r.harvested[i] || !r.live[i] {
			continue
		}
		if err := p.send(h, ipc.CmdApplyResults, r.parts[i], t.Apply); err != nil {
			r.drop(i, ipc.CmdApplyResults, err)
		}
	}
	for i, h := range p.workers {
		if !r.harvested[i] || !r.live[i] {
			continue
		}
		var ack bool
		if err := p.await(h, ipc.CmdApplyResults, &ack, t.Apply); err != nil {
			r.drop(i, ipc.CmdApplyResults, err)
		}
	}
	p.phase = PhaseResultsApplied

	for i, h := range p.workers {
		if !r.live[i] {
			continue
		}
		if err := p.send(h, ipc.CmdFinalData, nil, t.Final); err != nil {
			r.drop(i, ipc.CmdFinalData, err)
		}
	}
	for i, h := range p.workers {
		if !r.live[i] {
			continue
		}
		var final ipc.FinalReply
		if err := p.await(h, ipc.CmdFinalData, &final, t.Final); err != nil {
			r.drop(i, ipc.CmdFinalData, err)
			continue
		}
		r.rewards[i] += sanitizeReward(final.RewardDelta)
		r.dones[i] = r.dones[i] || final.Done
		for k, v := range final.Info {
			r.infos[i][k] = v
		}
	}

	elapsed := math.Round(time.Since(p.started).Seconds()*1e6) / 1e6
	for i, h := range p.workers {
		if h.state != Alive {
			r.dones[i] = true
		}
		h.episodeReward += r.rewards[i]
		if r.dones[i] {
			if _, ok := r.infos[i]["episode"]; !ok {
				r.infos[i]["episode"] = map[string]any{"r": h.episodeReward, "l": h.episodeLen, "t": elapsed}
			}
		}
	}
	p.phase = PhaseFinalized
}

func (p *Pool) resetDone(ctx context.Context, r *round) {
	_, span := p.tracer.Start(ctx, "pool.reset_done")
	defer span.End()
	p.phase = PhaseResetPending

	timeout := p.cfg.Timeouts.Reset
	sent := make([]bool, len(p.workers))
	for i, h := range p.workers {
		if !r.dones[i] {
			continue
		}
		if _, ok := r.infos[i]["terminal_observation"]; !ok {
			r.infos[i]["terminal_observation"] = append([]float32(nil), r.obs.Row(i)...)
		}
		if h.state != Alive {
			continue
		}
		sent[i] = p.send(h, ipc.CmdReset, ipc.ResetArgs{Seed: p.seeds[i], Options: p.options[i]}, timeout) == nil
	}

	resets := 0
	for i, h := range p.workers {
		if !r.dones[i] {
			continue
		}
		if !sent[i] {
			r.obs.zero(i)
			if _, ok := r.infos[i]["error"]; !ok {
				r.infos[i]["error"] = reasonResetSkipped
			}
			continue
		}
		var reply ipc.ResetReply
		err := p.await(h, ipc.CmdReset, &reply, timeout)
		if err == nil && !r.obs.set(i, reply.Obs) {
			err = p.shapeErr(len(reply.Obs))
		}
		if err != nil {
			p.demote(h, ipc.CmdReset, err)
			r.obs.zero(i)
			r.infos[i]["reset_failed"] = true
			r.infos[i]["reset_error"] = err.Error()
			continue
		}
		ipc.Sanitize(r.obs.Row(i))
		h.episodeReward, h.episodeLen = 0, 0
		resets++
	}
	span.SetAttributes(attribute.Int("resets", resets))
}

// desyncRound reports every worker as done with a zero observation so the
// caller resets its view of each episode.
func (p *Pool) desyncRound() RoundResult {
	n := len(p.workers)
	res := RoundResult{
		Obs:     newBatch(n, p.spaces),
		Rewards: make([]float64, n),
		Dones:   make([]bool, n),
		Infos:   make([]map[string]any, n),
	}
	for i := range res.Dones {
		res.Dones[i] = true
		res.Infos[i] = map[string]any{
			"error":            reasonDesync,
			"env_forced_reset": true,
			"episode":          map[string]any{"r": 0.0, "l": 0, "t": 0.0},
		}
	}
	return res
}

func sanitizeReward(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return 1e6
	case math.IsInf(v, -1):
		return -1e6
	}
	return v
}
