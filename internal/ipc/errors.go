package ipc

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout           = errors.New("ipc: timed out waiting for worker")
	ErrBrokenChannel     = errors.New("ipc: broken channel")
	ErrMalformedResponse = errors.New("ipc: malformed response")
	ErrWorkerDead        = errors.New("ipc: worker process is not alive")
)

// Kinds of RemoteError reported by workers.
const (
	KindEnvInit        = "env_init"
	KindEnv            = "env_error"
	KindPanic          = "panic"
	KindUnknownCommand = "unknown_command"
	KindBadRequest     = "bad_request"
	KindUnsupported    = "unsupported"
)

// RemoteError is a failure raised inside a worker's handler. The worker
// survives it unless it happened during construction or reset.
type RemoteError struct {
	Kind    string `cbor:"kind"`
	Message string `cbor:"message"`
	Trace   string `cbor:"trace,omitempty"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("worker %s: %s", e.Kind, e.Message)
}

// IsRemote reports whether err is a worker logic error.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// FaultReason maps an error to the short label stored in round infos.
func FaultReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "ipc_timeout"
	case errors.Is(err, ErrWorkerDead):
		return "worker_process_dead"
	case errors.Is(err, ErrBrokenChannel):
		return "ipc_broken_channel"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case IsRemote(err):
		return "worker_logic_error"
	default:
		return "unexpected_error"
	}
}
