package pool

import "errors"

var (
	// ErrResolverFatal wraps any failure of the batch resolver. The pool is
	// closed before it is returned.
	ErrResolverFatal = errors.New("pool: batch resolver failed")
	// ErrPhaseDesync is returned when a call does not fit the round state.
	ErrPhaseDesync = errors.New("pool: phase desync")
	ErrClosed      = errors.New("pool: closed")
	ErrNotAlive    = errors.New("pool: worker not alive")
)

// Info values written by the controller.
const (
	reasonDesync       = "step_wait_desync_detected"
	reasonResetSkipped = "reset_skipped_due_to_error_flag"
	reasonPrevErrored  = "worker_previously_errored"
)
