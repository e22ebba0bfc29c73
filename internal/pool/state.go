package pool

// State is the lifecycle of one worker slot.
type State uint8

const (
	Alive State = iota
	Errored
	Closed
)

func (s State) String() string {
	switch s {
	case Alive:
		return "alive"
	case Errored:
		return "errored"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Phase tracks where the pool is inside a round.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseStepSent
	PhasePreliminaryCollected
	PhaseBattlesHarvested
	PhaseResolverInvoked
	PhaseResultsApplied
	PhaseFinalized
	PhaseResetPending
)

var phaseNames = [...]string{
	PhaseIdle:                 "idle",
	PhaseStepSent:             "step_sent",
	PhasePreliminaryCollected: "preliminary_collected",
	PhaseBattlesHarvested:     "battles_harvested",
	PhaseResolverInvoked:      "resolver_invoked",
	PhaseResultsApplied:       "results_applied",
	PhaseFinalized:            "finalized",
	PhaseResetPending:         "reset_pending",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}
