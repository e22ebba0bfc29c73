package ipc

// Request is a controller to worker frame.
type Request struct {
	Seq     uint64  `cbor:"seq"`
	Cmd     Command `cbor:"cmd"`
	Payload Value   `cbor:"payload,omitempty"`
}

// Response is a worker to controller frame. Seq 0 marks an unsolicited
// error written before the worker exits.
type Response struct {
	Seq     uint64       `cbor:"seq"`
	Payload Value        `cbor:"payload,omitempty"`
	Err     *RemoteError `cbor:"err,omitempty"`
}

// Spaces describes the observation and action layout of an env.
type Spaces struct {
	ObsShape    []int `cbor:"obs_shape"`
	ActionCount int   `cbor:"action_count"`
}

// ObsSize is the number of scalars in one observation.
func (s Spaces) ObsSize() int {
	if len(s.ObsShape) == 0 {
		return 0
	}
	n := 1
	for _, d := range s.ObsShape {
		n *= d
	}
	return n
}

type ResetArgs struct {
	Seed    *int64         `cbor:"seed,omitempty"`
	Options map[string]any `cbor:"options,omitempty"`
}

type ResetReply struct {
	Obs  []float32      `cbor:"obs"`
	Info map[string]any `cbor:"info,omitempty"`
}

type StepArgs struct {
	Action int `cbor:"action"`
}

// StepReply is the preliminary transition of one round.
type StepReply struct {
	Obs        []float32      `cbor:"obs"`
	Reward     float64        `cbor:"reward"`
	Terminated bool           `cbor:"terminated"`
	Truncated  bool           `cbor:"truncated"`
	Info       map[string]any `cbor:"info,omitempty"`
}

// FinalReply carries what changed after battle outcomes were applied.
type FinalReply struct {
	RewardDelta float64        `cbor:"reward_delta"`
	Done        bool           `cbor:"done"`
	Info        map[string]any `cbor:"info,omitempty"`
}

type AttrArgs struct {
	Name  string `cbor:"name"`
	Value Value  `cbor:"value,omitempty"`
}

type CallArgs struct {
	Method string `cbor:"method"`
	Args   Value  `cbor:"args,omitempty"`
}
