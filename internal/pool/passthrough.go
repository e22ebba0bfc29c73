package pool

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"simpool/internal/ipc"
)

// Reply is one worker's answer to a pass-through call. Logic errors are
// reported here without changing the worker's state.
type Reply struct {
	Index int
	Value ipc.Value
	Err   error
}

// Decode decodes the reply value, or returns the reply error.
func (r Reply) Decode(out any) error {
	if r.Err != nil {
		return r.Err
	}
	return r.Value.Decode(out)
}

const (
	methodActionMasks     = "action_masks"
	methodOpponentConfigs = "set_opponent_configs"
)

func (p *Pool) targets(indices []int) ([]int, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if p.phase != PhaseIdle {
		return nil, fmt.Errorf("%w: pass-through call in phase %s", ErrPhaseDesync, p.phase)
	}
	if indices == nil {
		out := make([]int, len(p.workers))
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	seen := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(p.workers) {
			return nil, fmt.Errorf("pool: worker index %d out of range [0,%d)", i, len(p.workers))
		}
		if seen[i] {
			return nil, fmt.Errorf("pool: worker index %d listed twice", i)
		}
		seen[i] = true
	}
	return indices, nil
}

func (p *Pool) fanOut(ctx context.Context, cmd ipc.Command, indices []int, payload any, timeout time.Duration) ([]Reply, error) {
	idx, err := p.targets(indices)
	if err != nil {
		return nil, err
	}
	_, span := p.tracer.Start(ctx, "pool."+cmd.String(), trace.WithAttributes(attribute.Int("workers", len(idx))))
	defer span.End()

	replies := make([]Reply, len(idx))
	for k, i := range idx {
		replies[k].Index = i
		if err := p.send(p.workers[i], cmd, payload, timeout); err != nil {
			replies[k].Err = err
		}
	}
	for k, i := range idx {
		if replies[k].Err != nil {
			continue
		}
		var v ipc.Value
		if err := p.await(p.workers[i], cmd, &v, timeout); err != nil {
			replies[k].Err = fmt.Errorf("worker %d: %w", i, err)
			continue
		}
		replies[k].Value = v
	}
	return replies, nil
}

// GetAttr reads a named attribute from the given workers; nil means all.
func (p *Pool) GetAttr(ctx context.Context, name string, indices []int) ([]Reply, error) {
	return p.fanOut(ctx, ipc.CmdGetAttr, indices, ipc.AttrArgs{Name: name}, p.cfg.Timeouts.GetAttr)
}

func (p *Pool) SetAttr(ctx context.Context, name string, value any, indices []int) ([]Reply, error) {
	val, err := ipc.NewValue(value)
	if err != nil {
		return nil, fmt.Errorf("encode attribute %s: %w", name, err)
	}
	return p.fanOut(ctx, ipc.CmdSetAttr, indices, ipc.AttrArgs{Name: name, Value: val}, p.cfg.Timeouts.SetAttr)
}

// HasAttr reports per worker whether the attribute exists. Failing workers
// report false.
func (p *Pool) HasAttr(ctx context.Context, name string, indices []int) ([]bool, error) {
	replies, err := p.fanOut(ctx, ipc.CmdHasAttr, indices, ipc.AttrArgs{Name: name}, p.cfg.Timeouts.HasAttr)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(replies))
	for k, r := range replies {
		var ok bool
		if r.Decode(&ok) == nil {
			out[k] = ok
		}
	}
	return out, nil
}

func (p *Pool) CallMethod(ctx context.Context, method string, args any, indices []int) ([]Reply, error) {
	return p.callMethod(ctx, method, args, indices, p.cfg.Timeouts.CallMethod)
}

func (p *Pool) callMethod(ctx context.Context, method string, args any, indices []int, timeout time.Duration) ([]Reply, error) {
	val, err := ipc.NewValue(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s args: %w", method, err)
	}
	return p.fanOut(ctx, ipc.CmdCallMethod, indices, ipc.CallArgs{Method: method, Args: val}, timeout)
}

// ActionMasks asks every worker for its valid actions. A worker that fails
// or answers with the wrong length gets an all-false mask.
func (p *Pool) ActionMasks(ctx context.Context) ([][]bool, error) {
	replies, err := p.CallMethod(ctx, methodActionMasks, nil, nil)
	if err != nil {
		return nil, err
	}
	masks := make([][]bool, len(replies))
	for k, r := range replies {
		var mask []bool
		if err := r.Decode(&mask); err != nil || len(mask) != p.spaces.ActionCount {
			if err == nil {
				err = fmt.Errorf("mask has %d entries, want %d", len(mask), p.spaces.ActionCount)
			}
			p.debugf("W%d action mask: %v; using empty mask", r.Index, err)
			mask = make([]bool, p.spaces.ActionCount)
		}
		masks[k] = mask
	}
	return masks, nil
}

// SetOpponentConfigs broadcasts opponent settings to every worker.
func (p *Pool) SetOpponentConfigs(ctx context.Context, configs any) ([]Reply, error) {
	replies, err := p.callMethod(ctx, methodOpponentConfigs, configs, nil, p.cfg.Timeouts.OpponentConfigs)
	if err != nil {
		return nil, err
	}
	for _, r := range replies {
		if r.Err != nil {
			p.logger.Printf("W%d opponent configs: %v", r.Index, r.Err)
		}
	}
	return replies, nil
}
