// Package pool drives a fixed set of simulation workers through
// synchronized rounds. A Pool is owned by one goroutine; its methods are
// not safe for concurrent use.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"simpool/internal/battle"
	"simpool/internal/ipc"
)

const tracerName = "simpool/internal/pool"

type handle struct {
	index   int
	state   State
	conn    *ipc.Conn
	proc    Process
	fault   string
	pending uint64

	episodeReward float64
	episodeLen    int
}

type Pool struct {
	cfg      Config
	spawner  Spawner
	resolver battle.Resolver
	recorder Recorder
	logger   *log.Logger
	tracer   trace.Tracer

	workers []*handle
	spaces  ipc.Spaces
	seeds   []*int64
	options []map[string]any
	phase   Phase
	round   int
	started time.Time
	closed  bool
}

type Option func(*Pool)

func WithLogger(l *log.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(p *Pool) { p.recorder = r }
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Pool) {
		if t != nil {
			p.tracer = t
		}
	}
}

// New spawns cfg.Workers workers and asks worker 0 for the spaces every
// worker shares. On any failure the workers already started are shut down.
func New(ctx context.Context, cfg Config, spawner Spawner, resolver battle.Resolver, opts ...Option) (*Pool, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("pool: need at least one worker, got %d", cfg.Workers)
	}
	if spawner == nil {
		return nil, errors.New("pool: spawner is required")
	}
	p := &Pool{
		cfg:      cfg.normalized(),
		spawner:  spawner,
		resolver: resolver,
		logger:   log.New(os.Stderr, "[POOL] ", log.LstdFlags),
		tracer:   otel.Tracer(tracerName),
		workers:  make([]*handle, 0, cfg.Workers),
		seeds:    make([]*int64, cfg.Workers),
		options:  make([]map[string]any, cfg.Workers),
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(p)
	}

	ctx, span := p.tracer.Start(ctx, "pool.start", trace.WithAttributes(attribute.Int("workers", cfg.Workers)))
	defer span.End()

	for i := 0; i < cfg.Workers; i++ {
		conn, proc, err := spawner.Spawn(ctx, i)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("spawn worker %d: %w", i, err)
		}
		p.workers = append(p.workers, &handle{index: i, state: Alive, conn: conn, proc: proc})
		p.debugf("W%d started (pid %d)", i, proc.PID())
	}

	var spaces ipc.Spaces
	if err := p.call(p.workers[0], ipc.CmdSpaces, nil, &spaces, p.cfg.Timeouts.Spaces); err != nil {
		p.Close()
		return nil, fmt.Errorf("query spaces from worker 0: %w", err)
	}
	if spaces.ObsSize() <= 0 || spaces.ActionCount <= 0 {
		p.Close()
		return nil, fmt.Errorf("pool: worker 0 declared unusable spaces %+v", spaces)
	}
	p.spaces = spaces
	p.logger.Printf("started %d workers, obs shape %v, %d actions", cfg.Workers, spaces.ObsShape, spaces.ActionCount)
	return p, nil
}

func (p *Pool) debugf(format string, args ...any) {
	if p.cfg.Debug {
		p.logger.Printf(format, args...)
	}
}

func (p *Pool) Spaces() ipc.Spaces { return p.spaces }

func (p *Pool) Phase() Phase { return p.phase }

// Round is the number of rounds started so far.
func (p *Pool) Round() int { return p.round }

func (p *Pool) Len() int { return len(p.workers) }

func (p *Pool) States() []State {
	out := make([]State, len(p.workers))
	for i, h := range p.workers {
		out[i] = h.state
	}
	return out
}

func (p *Pool) send(h *handle, cmd ipc.Command, payload any, timeout time.Duration) error {
	if h.state != Alive {
		return fmt.Errorf("worker %d: %w", h.index, ErrNotAlive)
	}
	if h.pending != 0 {
		return fmt.Errorf("%w: worker %d already has request %d in flight", ErrPhaseDesync, h.index, h.pending)
	}
	seq, err := h.conn.Send(cmd, payload, timeout)
	if err != nil {
		p.demote(h, cmd, err)
		return err
	}
	h.pending = seq
	return nil
}

// await collects the reply to the request in flight. Transport faults
// demote the worker; logic errors leave it alive.
func (p *Pool) await(h *handle, cmd ipc.Command, out any, timeout time.Duration) error {
	if h.pending == 0 {
		return fmt.Errorf("%w: no %s in flight for worker %d", ErrPhaseDesync, cmd, h.index)
	}
	seq := h.pending
	h.pending = 0
	err := h.conn.Await(seq, out, timeout)
	switch {
	case err == nil:
	case ipc.IsRemote(err):
		p.logger.Printf("W%d %s: %v", h.index, cmd, err)
	default:
		p.demote(h, cmd, err)
	}
	return err
}

func (p *Pool) call(h *handle, cmd ipc.Command, payload, out any, timeout time.Duration) error {
	if err := p.send(h, cmd, payload, timeout); err != nil {
		return err
	}
	return p.await(h, cmd, out, timeout)
}

func (p *Pool) demote(h *handle, cmd ipc.Command, err error) {
	h.pending = 0
	if h.state != Alive {
		return
	}
	h.state = Errored
	h.fault = ipc.FaultReason(err)
	p.logger.Printf("W%d %s failed: %v; marking errored", h.index, cmd, err)
}

func (p *Pool) faultOf(h *handle) string {
	if h.fault != "" {
		return h.fault
	}
	return reasonPrevErrored
}

// SeedsFrom gives worker i the seed base+i.
func SeedsFrom(base int64, n int) []*int64 {
	out := make([]*int64, n)
	for i := range out {
		s := base + int64(i)
		out[i] = &s
	}
	return out
}

// ResetAll respawns errored workers and resets every worker. seeds and
// options are stored and reused by in-round resets; nil means none.
func (p *Pool) ResetAll(ctx context.Context, seeds []*int64, options []map[string]any) (Batch, []map[string]any, error) {
	if p.closed {
		return Batch{}, nil, ErrClosed
	}
	if p.phase != PhaseIdle {
		return Batch{}, nil, fmt.Errorf("%w: reset in phase %s", ErrPhaseDesync, p.phase)
	}
	n := len(p.workers)
	if seeds != nil && len(seeds) != n {
		return Batch{}, nil, fmt.Errorf("pool: got %d seeds for %d workers", len(seeds), n)
	}
	if options != nil && len(options) != n {
		return Batch{}, nil, fmt.Errorf("pool: got %d option sets for %d workers", len(options), n)
	}
	ctx, span := p.tracer.Start(ctx, "pool.reset_all")
	defer span.End()

	timeout := p.cfg.Timeouts.ResetAll
	for i, h := range p.workers {
		p.seeds[i], p.options[i] = nil, nil
		if seeds != nil {
			p.seeds[i] = seeds[i]
		}
		if options != nil {
			p.options[i] = options[i]
		}
		if h.state == Errored {
			if err := p.respawn(ctx, h); err != nil {
				continue
			}
		}
		_ = p.send(h, ipc.CmdReset, ipc.ResetArgs{Seed: p.seeds[i], Options: p.options[i]}, timeout)
	}

	obs := newBatch(n, p.spaces)
	infos := make([]map[string]any, n)
	for i, h := range p.workers {
		if h.state != Alive || h.pending == 0 {
			infos[i] = map[string]any{"error": p.faultOf(h)}
			continue
		}
		var reply ipc.ResetReply
		err := p.await(h, ipc.CmdReset, &reply, timeout)
		if err == nil && !obs.set(i, reply.Obs) {
			err = p.shapeErr(len(reply.Obs))
		}
		if err != nil {
			p.demote(h, ipc.CmdReset, err)
			infos[i] = map[string]any{"error": ipc.FaultReason(err), "fault": err.Error(), "reset_failed": true}
			continue
		}
		h.episodeReward, h.episodeLen = 0, 0
		infos[i] = cloneInfo(reply.Info)
	}
	span.SetAttributes(attribute.Int("workers.alive", p.countAlive()))
	return obs, infos, nil
}

func (p *Pool) shapeErr(got int) error {
	return fmt.Errorf("%w: observation has %d values, want %d", ipc.ErrMalformedResponse, got, p.spaces.ObsSize())
}

func (p *Pool) countAlive() int {
	n := 0
	for _, h := range p.workers {
		if h.state == Alive {
			n++
		}
	}
	return n
}

func (p *Pool) respawn(ctx context.Context, h *handle) error {
	p.retire(h)
	conn, proc, err := p.spawner.Spawn(ctx, h.index)
	if err != nil {
		h.fault = "respawn_failed"
		p.logger.Printf("W%d respawn failed: %v", h.index, err)
		return err
	}
	h.conn, h.proc = conn, proc
	h.state, h.fault, h.pending = Alive, "", 0
	h.episodeReward, h.episodeLen = 0, 0
	p.logger.Printf("W%d respawned (pid %d)", h.index, proc.PID())
	return nil
}

// retire cuts a worker loose without a graceful close.
func (p *Pool) retire(h *handle) {
	h.conn.Close()
	if h.proc.Alive() {
		h.proc.Kill()
		if !h.proc.Wait(p.cfg.Timeouts.KillJoin) {
			p.logger.Printf("W%d (pid %d) still running after kill", h.index, h.proc.PID())
		}
	}
}

// Close shuts every worker down. Alive workers get a close command and
// CloseJoin to exit before they are killed. Calling Close again is a no-op.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	for _, h := range p.workers {
		if h.state == Alive && h.pending == 0 {
			if _, err := h.conn.Send(ipc.CmdClose, nil, time.Second); err != nil {
				p.debugf("W%d close: %v", h.index, err)
			}
		}
	}
	var errs []error
	for _, h := range p.workers {
		h.conn.Close()
		exited := true
		if h.state == Alive {
			exited = h.proc.Wait(p.cfg.Timeouts.CloseJoin)
		}
		if !exited || h.proc.Alive() {
			p.logger.Printf("W%d did not exit, killing pid %d", h.index, h.proc.PID())
			h.proc.Kill()
			if !h.proc.Wait(p.cfg.Timeouts.KillJoin) {
				errs = append(errs, fmt.Errorf("worker %d: still running after kill", h.index))
			}
		}
		h.state = Closed
		h.pending = 0
	}
	p.phase = PhaseIdle
	p.logger.Printf("closed %d workers", len(p.workers))
	return errors.Join(errs...)
}
