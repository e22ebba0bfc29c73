package ipc

import (
	"errors"
	"io"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type pipePair struct {
	conn *Conn
	peer *Endpoint
	raw  io.WriteCloser
	done func()
}

func newPipePair(t *testing.T, alive func() bool) pipePair {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	conn := NewConn(respR, reqW, alive)
	t.Cleanup(func() {
		conn.Close()
		reqR.Close()
		respW.Close()
	})
	return pipePair{
		conn: conn,
		peer: NewEndpoint(reqR, respW),
		raw:  respW,
		done: func() { respW.Close() },
	}
}

func TestCallRoundTrip(t *testing.T) {
	p := newPipePair(t, nil)
	go func() {
		req, err := p.peer.Next()
		if err != nil {
			return
		}
		var args StepArgs
		_ = req.Payload.Decode(&args)
		p.peer.Reply(req.Seq, StepReply{
			Obs:    []float32{float32(args.Action), 2},
			Reward: 1.5,
			Info:   map[string]any{"round": 3, "nested": map[string]any{"k": "v"}},
		})
	}()

	var reply StepReply
	require.NoError(t, p.conn.Call(CmdStep, StepArgs{Action: 7}, &reply, time.Second))
	require.Equal(t, []float32{7, 2}, reply.Obs)
	require.Equal(t, 1.5, reply.Reward)
	require.EqualValues(t, 3, reply.Info["round"])
	require.Equal(t, map[string]any{"k": "v"}, reply.Info["nested"])
}

func TestReceiveTimesOut(t *testing.T) {
	p := newPipePair(t, nil)
	go func() { _, _ = p.peer.Next() }()

	seq, err := p.conn.Send(CmdStep, StepArgs{}, time.Second)
	require.NoError(t, err)
	start := time.Now()
	_, err = p.conn.Receive(seq, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, "ipc_timeout", FaultReason(err))
}

func TestReceiveDropsStaleReplies(t *testing.T) {
	p := newPipePair(t, nil)
	go func() {
		first, _ := p.peer.Next()
		second, _ := p.peer.Next()
		p.peer.Reply(first.Seq, true)
		p.peer.Reply(second.Seq, false)
	}()

	_, err := p.conn.Send(CmdHasAttr, AttrArgs{Name: "a"}, time.Second)
	require.NoError(t, err)
	seq, err := p.conn.Send(CmdHasAttr, AttrArgs{Name: "b"}, time.Second)
	require.NoError(t, err)

	var got bool
	got = true
	require.NoError(t, p.conn.Await(seq, &got, time.Second))
	require.False(t, got)
}

func TestRemoteErrorIsReturned(t *testing.T) {
	p := newPipePair(t, nil)
	go func() {
		req, _ := p.peer.Next()
		p.peer.ReplyError(req.Seq, &RemoteError{Kind: KindEnv, Message: "boom", Trace: "stack"})
	}()

	err := p.conn.Call(CmdFinalData, nil, nil, time.Second)
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	require.Equal(t, "boom", re.Message)
	require.Equal(t, "worker_logic_error", FaultReason(err))
}

func TestUnsolicitedErrorFrame(t *testing.T) {
	p := newPipePair(t, nil)
	go func() {
		p.peer.ReplyError(0, &RemoteError{Kind: KindEnvInit, Message: "no env"})
		_, _ = p.peer.Next()
	}()

	seq, err := p.conn.Send(CmdSpaces, nil, time.Second)
	require.NoError(t, err)
	_, err = p.conn.Receive(seq, time.Second)
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	require.Equal(t, KindEnvInit, re.Kind)
}

func TestClosedPeerIsBrokenChannel(t *testing.T) {
	p := newPipePair(t, nil)
	go func() {
		_, _ = p.peer.Next()
		p.done()
	}()

	err := p.conn.Call(CmdStep, StepArgs{}, nil, time.Second)
	require.ErrorIs(t, err, ErrBrokenChannel)
}

func TestGarbageFrameIsMalformed(t *testing.T) {
	p := newPipePair(t, nil)
	go func() {
		_, _ = p.peer.Next()
		p.raw.Write(MustValue("not a response"))
	}()

	err := p.conn.Call(CmdStep, StepArgs{}, nil, time.Second)
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestPayloadShapeMismatchIsMalformed(t *testing.T) {
	p := newPipePair(t, nil)
	go func() {
		req, _ := p.peer.Next()
		p.peer.Reply(req.Seq, "a string")
	}()

	var reply StepReply
	err := p.conn.Call(CmdStep, StepArgs{}, &reply, time.Second)
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestDeadWorker(t *testing.T) {
	p := newPipePair(t, func() bool { return false })
	go func() {
		_, _ = p.peer.Next()
		p.done()
	}()

	seq, err := p.conn.Send(CmdStep, StepArgs{}, time.Second)
	require.NoError(t, err)
	_, err = p.conn.Receive(seq, time.Hour)
	require.ErrorIs(t, err, ErrWorkerDead)
}

func TestDeadWorkerLastReplyIsKept(t *testing.T) {
	p := newPipePair(t, func() bool { return false })
	go func() {
		req, err := p.peer.Next()
		if err != nil {
			return
		}
		_ = p.peer.ReplyError(req.Seq, &RemoteError{Kind: KindEnv, Message: "reset blew up"})
		p.done()
	}()

	seq, err := p.conn.Send(CmdReset, ResetArgs{}, time.Second)
	require.NoError(t, err)
	_, err = p.conn.Receive(seq, time.Second)
	var rerr *RemoteError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, "reset blew up", rerr.Message)
}

func TestDeadWorkerWithOpenChannelGivesUp(t *testing.T) {
	p := newPipePair(t, func() bool { return false })
	go func() { _, _ = p.peer.Next() }()

	seq, err := p.conn.Send(CmdStep, StepArgs{}, time.Second)
	require.NoError(t, err)
	start := time.Now()
	_, err = p.conn.Receive(seq, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrWorkerDead)
	require.Less(t, time.Since(start), time.Second)
}

func TestWorkerDyingDuringWaitIsDead(t *testing.T) {
	var gone atomic.Bool
	p := newPipePair(t, func() bool { return !gone.Load() })
	go func() {
		_, _ = p.peer.Next()
		gone.Store(true)
	}()

	seq, err := p.conn.Send(CmdStep, StepArgs{}, time.Second)
	require.NoError(t, err)
	_, err = p.conn.Receive(seq, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrWorkerDead)
}

func TestSendAfterClose(t *testing.T) {
	p := newPipePair(t, nil)
	require.NoError(t, p.conn.Close())
	require.NoError(t, p.conn.Close())
	_, err := p.conn.Send(CmdClose, nil, time.Second)
	require.ErrorIs(t, err, ErrBrokenChannel)
}

func TestSanitize(t *testing.T) {
	obs := []float32{1, float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1))}
	require.True(t, Sanitize(obs))
	require.Equal(t, []float32{1, 0, 1e6, -1e6}, obs)
	require.False(t, Sanitize([]float32{0.5, -2}))
}

func TestValueDecodeEmpty(t *testing.T) {
	var v Value
	require.True(t, v.Empty())
	out := StepArgs{Action: 4}
	require.NoError(t, v.Decode(&out))
	require.Equal(t, 4, out.Action)

	val := MustValue(map[string]any{"a": 1})
	got, err := val.Any()
	require.NoError(t, err)
	require.EqualValues(t, 1, got.(map[string]any)["a"])
}

func TestCommandString(t *testing.T) {
	require.Equal(t, "get_battle_files", CmdBattleFiles.String())
	require.Equal(t, "command(99)", Command(99).String())
	require.False(t, Command(0).Valid())
}
