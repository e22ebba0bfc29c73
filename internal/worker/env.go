package worker

import (
	"simpool/internal/battle"
	"simpool/internal/ipc"
)

// Env is the simulation a worker owns. Battles produced by Step are only
// queued; they are resolved by the controller between Step and
// FinalStepData.
type Env interface {
	Spaces() ipc.Spaces
	Reset(seed *int64, options map[string]any) ([]float32, map[string]any, error)
	Step(action int) (ipc.StepReply, error)
	BattleFilesAndClear() ([]battle.Descriptor, error)
	ApplyResults(results battle.Results) error
	FinalStepData() (ipc.FinalReply, error)
	Close() error
}

// Attributes is implemented by envs that expose named attributes.
type Attributes interface {
	Attr(name string) (any, error)
	SetAttr(name string, value ipc.Value) error
	HasAttr(name string) bool
}

// Methods is implemented by envs that expose callable methods.
type Methods interface {
	CallMethod(name string, args ipc.Value) (any, error)
}
