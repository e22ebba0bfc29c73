package worker

import (
	"errors"
	"io"
	"log"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"simpool/internal/battle"
	"simpool/internal/ipc"
)

type fakeEnv struct {
	resetErr error
	stepErr  error
	panicOn  int
	pending  []battle.Descriptor
	applied  []battle.Results
	attrs    map[string]any
	closed   bool
}

func (f *fakeEnv) Spaces() ipc.Spaces { return ipc.Spaces{ObsShape: []int{2}, ActionCount: 3} }

func (f *fakeEnv) Reset(seed *int64, _ map[string]any) ([]float32, map[string]any, error) {
	if f.resetErr != nil {
		return nil, nil, f.resetErr
	}
	s := int64(0)
	if seed != nil {
		s = *seed
	}
	return []float32{float32(s), float32(math.NaN())}, map[string]any{"seed": s}, nil
}

func (f *fakeEnv) Step(action int) (ipc.StepReply, error) {
	if f.stepErr != nil {
		return ipc.StepReply{}, f.stepErr
	}
	if action == f.panicOn {
		panic("bad action")
	}
	f.pending = append(f.pending, battle.Descriptor{Key: battle.Key(0, 1, 0, action)})
	return ipc.StepReply{Obs: []float32{float32(action), float32(math.Inf(1))}, Reward: 0.5}, nil
}

func (f *fakeEnv) BattleFilesAndClear() ([]battle.Descriptor, error) {
	out := f.pending
	f.pending = nil
	return out, nil
}

func (f *fakeEnv) ApplyResults(r battle.Results) error {
	f.applied = append(f.applied, r)
	return nil
}

func (f *fakeEnv) FinalStepData() (ipc.FinalReply, error) {
	return ipc.FinalReply{RewardDelta: float64(len(f.applied)), Done: len(f.applied) > 1}, nil
}

func (f *fakeEnv) Close() error {
	f.closed = true
	return nil
}

type attrEnv struct{ fakeEnv }

func (a *attrEnv) Attr(name string) (any, error) {
	v, ok := a.attrs[name]
	if !ok {
		return nil, errors.New("no attribute " + name)
	}
	return v, nil
}

func (a *attrEnv) SetAttr(name string, value ipc.Value) error {
	v, err := value.Any()
	if err != nil {
		return err
	}
	a.attrs[name] = v
	return nil
}

func (a *attrEnv) HasAttr(name string) bool {
	_, ok := a.attrs[name]
	return ok
}

type harness struct {
	conn *ipc.Conn
	done chan error
}

func startServe(t *testing.T, env Env, envErr error) *harness {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	h := &harness{conn: ipc.NewConn(respR, reqW, nil), done: make(chan error, 1)}
	go func() {
		err := Serve(reqR, respW, func() (Env, error) {
			if envErr != nil {
				return nil, envErr
			}
			return env, nil
		}, Options{Logger: log.New(io.Discard, "", 0), Debug: true})
		respW.Close()
		reqR.Close()
		h.done <- err
	}()
	t.Cleanup(func() { h.conn.Close() })
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("worker loop did not exit")
		return nil
	}
}

func TestServeRoundCommands(t *testing.T) {
	env := &fakeEnv{panicOn: -1}
	h := startServe(t, env, nil)

	var spaces ipc.Spaces
	require.NoError(t, h.conn.Call(ipc.CmdSpaces, nil, &spaces, time.Second))
	require.Equal(t, 2, spaces.ObsSize())

	seed := int64(9)
	var reset ipc.ResetReply
	require.NoError(t, h.conn.Call(ipc.CmdReset, ipc.ResetArgs{Seed: &seed}, &reset, time.Second))
	require.Equal(t, []float32{9, 0}, reset.Obs)

	var step ipc.StepReply
	require.NoError(t, h.conn.Call(ipc.CmdStep, ipc.StepArgs{Action: 2}, &step, time.Second))
	require.Equal(t, []float32{2, 1e6}, step.Obs)

	var files []battle.Descriptor
	require.NoError(t, h.conn.Call(ipc.CmdBattleFiles, nil, &files, time.Second))
	require.Len(t, files, 1)
	require.Equal(t, "Env0_Round1_P0vP2", files[0].Key)

	require.NoError(t, h.conn.Call(ipc.CmdBattleFiles, nil, &files, time.Second))
	require.Empty(t, files)

	var ack bool
	require.NoError(t, h.conn.Call(ipc.CmdApplyResults, battle.Results{}, &ack, time.Second))
	require.True(t, ack)
	require.NoError(t, h.conn.Call(ipc.CmdApplyResults, nil, &ack, time.Second))

	var final ipc.FinalReply
	require.NoError(t, h.conn.Call(ipc.CmdFinalData, nil, &final, time.Second))
	require.Equal(t, 2.0, final.RewardDelta)
	require.True(t, final.Done)
	require.Len(t, env.applied, 2)
	require.NotNil(t, env.applied[1])

	_, err := h.conn.Send(ipc.CmdClose, nil, time.Second)
	require.NoError(t, err)
	require.NoError(t, h.wait(t))
	require.True(t, env.closed)
}

func TestServeRecoversPanics(t *testing.T) {
	h := startServe(t, &fakeEnv{panicOn: 1}, nil)

	err := h.conn.Call(ipc.CmdStep, ipc.StepArgs{Action: 1}, nil, time.Second)
	var re *ipc.RemoteError
	require.True(t, errors.As(err, &re))
	require.Equal(t, ipc.KindPanic, re.Kind)
	require.Contains(t, re.Message, "bad action")
	require.NotEmpty(t, re.Trace)

	var step ipc.StepReply
	require.NoError(t, h.conn.Call(ipc.CmdStep, ipc.StepArgs{Action: 0}, &step, time.Second))
}

func TestServeStepErrorKeepsLoop(t *testing.T) {
	env := &fakeEnv{panicOn: -1, stepErr: errors.New("rules broke")}
	h := startServe(t, env, nil)

	err := h.conn.Call(ipc.CmdStep, ipc.StepArgs{}, nil, time.Second)
	require.True(t, ipc.IsRemote(err))

	var spaces ipc.Spaces
	require.NoError(t, h.conn.Call(ipc.CmdSpaces, nil, &spaces, time.Second))
}

func TestServeResetFailureIsFatal(t *testing.T) {
	h := startServe(t, &fakeEnv{resetErr: errors.New("no map")}, nil)

	err := h.conn.Call(ipc.CmdReset, ipc.ResetArgs{}, nil, time.Second)
	require.True(t, ipc.IsRemote(err))
	require.ErrorIs(t, h.wait(t), ErrResetFailed)
}

func TestServeEnvInitFailure(t *testing.T) {
	h := startServe(t, nil, errors.New("missing data"))

	_, err := h.conn.Receive(1, time.Second)
	var re *ipc.RemoteError
	require.True(t, errors.As(err, &re))
	require.Equal(t, ipc.KindEnvInit, re.Kind)
	require.Error(t, h.wait(t))
}

func TestServeUnsupportedAndUnknown(t *testing.T) {
	h := startServe(t, &fakeEnv{panicOn: -1}, nil)

	err := h.conn.Call(ipc.CmdGetAttr, ipc.AttrArgs{Name: "x"}, nil, time.Second)
	var re *ipc.RemoteError
	require.True(t, errors.As(err, &re))
	require.Equal(t, ipc.KindUnsupported, re.Kind)

	err = h.conn.Call(ipc.Command(200), nil, nil, time.Second)
	require.True(t, errors.As(err, &re))
	require.Equal(t, ipc.KindUnknownCommand, re.Kind)
}

func TestServeAttributes(t *testing.T) {
	env := &attrEnv{fakeEnv{panicOn: -1, attrs: map[string]any{"round": 4}}}
	h := startServe(t, env, nil)

	var has bool
	require.NoError(t, h.conn.Call(ipc.CmdHasAttr, ipc.AttrArgs{Name: "round"}, &has, time.Second))
	require.True(t, has)

	require.NoError(t, h.conn.Call(ipc.CmdSetAttr, ipc.AttrArgs{Name: "mode", Value: ipc.MustValue("eval")}, nil, time.Second))
	var mode string
	require.NoError(t, h.conn.Call(ipc.CmdGetAttr, ipc.AttrArgs{Name: "mode"}, &mode, time.Second))
	require.Equal(t, "eval", mode)

	err := h.conn.Call(ipc.CmdGetAttr, ipc.AttrArgs{Name: "missing"}, nil, time.Second)
	require.True(t, ipc.IsRemote(err))
}

func TestServeExitsOnEOF(t *testing.T) {
	env := &fakeEnv{panicOn: -1}
	h := startServe(t, env, nil)
	require.NoError(t, h.conn.Close())
	require.NoError(t, h.wait(t))
	require.True(t, env.closed)
}
