package worker

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"

	"simpool/internal/battle"
	"simpool/internal/ipc"
)

// Options configures a worker loop.
type Options struct {
	Index  int
	Logger *log.Logger
	Debug  bool
}

// ErrResetFailed is returned by Serve when a reset failed and the loop
// stopped.
var ErrResetFailed = errors.New("worker: reset failed")

type server struct {
	env    Env
	conn   *ipc.Endpoint
	opts   Options
	logger *log.Logger
}

// Serve runs the command loop until close, end of input or a failed reset.
// Handler errors and panics are reported to the controller and the loop
// continues.
func Serve(r io.Reader, w io.Writer, newEnv func() (Env, error), opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, fmt.Sprintf("[W%d] ", opts.Index), log.LstdFlags)
	}
	conn := ipc.NewEndpoint(r, w)

	env, err := newEnv()
	if err != nil {
		logger.Printf("env construction failed: %v", err)
		_ = conn.ReplyError(0, &ipc.RemoteError{Kind: ipc.KindEnvInit, Message: err.Error()})
		return fmt.Errorf("construct env: %w", err)
	}
	s := &server{env: env, conn: conn, opts: opts, logger: logger}
	closed := false
	defer func() {
		if !closed {
			if err := env.Close(); err != nil {
				logger.Printf("close env: %v", err)
			}
		}
	}()

	for {
		req, err := conn.Next()
		if err != nil {
			if isEOF(err) {
				s.debugf("channel closed, exiting")
				return nil
			}
			logger.Printf("read request: %v", err)
			return fmt.Errorf("read request: %w", err)
		}
		s.debugf("seq=%d cmd=%s", req.Seq, req.Cmd)

		if req.Cmd == ipc.CmdClose {
			closed = true
			if err := env.Close(); err != nil {
				logger.Printf("close env: %v", err)
			}
			return nil
		}

		reply, rerr := s.handle(req)
		if rerr != nil {
			logger.Printf("%s failed: %s", req.Cmd, rerr.Message)
			if err := conn.ReplyError(req.Seq, rerr); err != nil {
				return fmt.Errorf("write error reply: %w", err)
			}
			if req.Cmd == ipc.CmdReset {
				return fmt.Errorf("%w: %s", ErrResetFailed, rerr.Message)
			}
			continue
		}
		if err := conn.Reply(req.Seq, reply); err != nil {
			if isEOF(err) {
				return nil
			}
			return fmt.Errorf("write reply: %w", err)
		}
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed)
}

func (s *server) debugf(format string, args ...any) {
	if s.opts.Debug {
		s.logger.Printf(format, args...)
	}
}

func (s *server) handle(req ipc.Request) (reply any, rerr *ipc.RemoteError) {
	defer func() {
		if r := recover(); r != nil {
			reply = nil
			rerr = &ipc.RemoteError{Kind: ipc.KindPanic, Message: fmt.Sprint(r), Trace: string(debug.Stack())}
		}
	}()
	out, err := s.exec(req)
	if err != nil {
		var re *ipc.RemoteError
		if errors.As(err, &re) {
			return nil, re
		}
		return nil, &ipc.RemoteError{Kind: ipc.KindEnv, Message: err.Error(), Trace: string(debug.Stack())}
	}
	return out, nil
}

func badRequest(cmd ipc.Command, err error) error {
	return &ipc.RemoteError{Kind: ipc.KindBadRequest, Message: fmt.Sprintf("decode %s args: %v", cmd, err)}
}

func unsupported(what string) error {
	return &ipc.RemoteError{Kind: ipc.KindUnsupported, Message: "env does not support " + what}
}

func (s *server) exec(req ipc.Request) (any, error) {
	switch req.Cmd {
	case ipc.CmdSpaces:
		return s.env.Spaces(), nil

	case ipc.CmdReset:
		var args ipc.ResetArgs
		if err := req.Payload.Decode(&args); err != nil {
			return nil, badRequest(req.Cmd, err)
		}
		obs, info, err := s.env.Reset(args.Seed, args.Options)
		if err != nil {
			return nil, err
		}
		if ipc.Sanitize(obs) {
			s.logger.Printf("reset produced non-finite observation values")
		}
		return ipc.ResetReply{Obs: obs, Info: info}, nil

	case ipc.CmdStep:
		var args ipc.StepArgs
		if err := req.Payload.Decode(&args); err != nil {
			return nil, badRequest(req.Cmd, err)
		}
		out, err := s.env.Step(args.Action)
		if err != nil {
			return nil, err
		}
		if ipc.Sanitize(out.Obs) {
			s.logger.Printf("step produced non-finite observation values")
		}
		return out, nil

	case ipc.CmdBattleFiles:
		files, err := s.env.BattleFilesAndClear()
		if err != nil {
			return nil, err
		}
		if files == nil {
			files = []battle.Descriptor{}
		}
		return files, nil

	case ipc.CmdApplyResults:
		var results battle.Results
		if err := req.Payload.Decode(&results); err != nil {
			return nil, badRequest(req.Cmd, err)
		}
		if len(results) == 0 {
			results = battle.Results{}
		}
		if err := s.env.ApplyResults(results); err != nil {
			return nil, err
		}
		return true, nil

	case ipc.CmdFinalData:
		return s.env.FinalStepData()

	case ipc.CmdGetAttr, ipc.CmdSetAttr, ipc.CmdHasAttr:
		attrs, ok := s.env.(Attributes)
		if !ok {
			return nil, unsupported("attributes")
		}
		var args ipc.AttrArgs
		if err := req.Payload.Decode(&args); err != nil {
			return nil, badRequest(req.Cmd, err)
		}
		switch req.Cmd {
		case ipc.CmdGetAttr:
			return attrs.Attr(args.Name)
		case ipc.CmdSetAttr:
			if err := attrs.SetAttr(args.Name, args.Value); err != nil {
				return nil, err
			}
			return true, nil
		default:
			return attrs.HasAttr(args.Name), nil
		}

	case ipc.CmdCallMethod:
		methods, ok := s.env.(Methods)
		if !ok {
			return nil, unsupported("methods")
		}
		var args ipc.CallArgs
		if err := req.Payload.Decode(&args); err != nil {
			return nil, badRequest(req.Cmd, err)
		}
		return methods.CallMethod(args.Method, args.Args)
	}
	return nil, &ipc.RemoteError{Kind: ipc.KindUnknownCommand, Message: req.Cmd.String()}
}
