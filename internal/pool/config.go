package pool

import "time"

// Timeouts bounds every controller wait, per command.
type Timeouts struct {
	Spaces          time.Duration
	Step            time.Duration
	BattleFiles     time.Duration
	Apply           time.Duration
	Final           time.Duration
	Reset           time.Duration
	ResetAll        time.Duration
	GetAttr         time.Duration
	SetAttr         time.Duration
	HasAttr         time.Duration
	CallMethod      time.Duration
	OpponentConfigs time.Duration
	CloseJoin       time.Duration
	KillJoin        time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Spaces:          240 * time.Second,
		Step:            20 * time.Second,
		BattleFiles:     30 * time.Second,
		Apply:           30 * time.Second,
		Final:           30 * time.Second,
		Reset:           60 * time.Second,
		ResetAll:        90 * time.Second,
		GetAttr:         30 * time.Second,
		SetAttr:         30 * time.Second,
		HasAttr:         5 * time.Second,
		CallMethod:      30 * time.Second,
		OpponentConfigs: 120 * time.Second,
		CloseJoin:       10 * time.Second,
		KillJoin:        2 * time.Second,
	}
}

// Config is fixed for the life of a pool.
type Config struct {
	Workers int
	Debug   bool
	// VerifyBattleFiles drops harvested descriptors whose file is missing.
	VerifyBattleFiles bool
	Timeouts          Timeouts
}

func (c Config) normalized() Config {
	d := DefaultTimeouts()
	t := &c.Timeouts
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.Spaces, d.Spaces)
	fill(&t.Step, d.Step)
	fill(&t.BattleFiles, d.BattleFiles)
	fill(&t.Apply, d.Apply)
	fill(&t.Final, d.Final)
	fill(&t.Reset, d.Reset)
	fill(&t.ResetAll, d.ResetAll)
	fill(&t.GetAttr, d.GetAttr)
	fill(&t.SetAttr, d.SetAttr)
	fill(&t.HasAttr, d.HasAttr)
	fill(&t.CallMethod, d.CallMethod)
	fill(&t.OpponentConfigs, d.OpponentConfigs)
	fill(&t.CloseJoin, d.CloseJoin)
	fill(&t.KillJoin, d.KillJoin)
	return c
}
