package config

import "time"

const (
	ResolverSandbox = "sandbox"
	ResolverCLI     = "cli"
)

type File struct {
	Pool     PoolSection     `yaml:"pool"`
	Timeouts TimeoutSection  `yaml:"timeouts"`
	Resolver ResolverSection `yaml:"resolver"`
	Arena    ArenaConfig     `yaml:"arena"`
	Journal  JournalSection  `yaml:"journal"`
}

type PoolSection struct {
	Workers           int    `yaml:"workers" env:"SIMPOOL_WORKERS"`
	Debug             bool   `yaml:"debug" env:"SIMPOOL_DEBUG"`
	VerifyBattleFiles bool   `yaml:"verify_battle_files" env:"SIMPOOL_VERIFY_BATTLE_FILES"`
	InProcess         bool   `yaml:"in_process" env:"SIMPOOL_IN_PROCESS"`
	LogDir            string `yaml:"log_dir" env:"SIMPOOL_LOG_DIR"`
	Seed              int64  `yaml:"seed" env:"SIMPOOL_SEED"`
}

// TimeoutSection overrides per-command waits. Zero keeps the default.
type TimeoutSection struct {
	Spaces          time.Duration `yaml:"spaces" env:"SIMPOOL_TIMEOUT_SPACES"`
	Step            time.Duration `yaml:"step" env:"SIMPOOL_TIMEOUT_STEP"`
	BattleFiles     time.Duration `yaml:"battle_files" env:"SIMPOOL_TIMEOUT_BATTLE_FILES"`
	Apply           time.Duration `yaml:"apply" env:"SIMPOOL_TIMEOUT_APPLY"`
	Final           time.Duration `yaml:"final" env:"SIMPOOL_TIMEOUT_FINAL"`
	Reset           time.Duration `yaml:"reset" env:"SIMPOOL_TIMEOUT_RESET"`
	ResetAll        time.Duration `yaml:"reset_all" env:"SIMPOOL_TIMEOUT_RESET_ALL"`
	GetAttr         time.Duration `yaml:"get_attr"`
	SetAttr         time.Duration `yaml:"set_attr"`
	HasAttr         time.Duration `yaml:"has_attr"`
	CallMethod      time.Duration `yaml:"call_method"`
	OpponentConfigs time.Duration `yaml:"opponent_configs"`
	CloseJoin       time.Duration `yaml:"close_join" env:"SIMPOOL_TIMEOUT_CLOSE_JOIN"`
	KillJoin        time.Duration `yaml:"kill_join"`
}

type ResolverSection struct {
	Kind        string        `yaml:"kind" env:"SIMPOOL_RESOLVER"`
	Parallelism int           `yaml:"parallelism" env:"SIMPOOL_RESOLVER_PARALLELISM"`
	Binary      string        `yaml:"binary" env:"SIMPOOL_SIM_CLI"`
	BattleDir   string        `yaml:"battle_dir"`
	ResultsDir  string        `yaml:"results_dir"`
	LogDir      string        `yaml:"log_dir"`
	Timeout     time.Duration `yaml:"timeout" env:"SIMPOOL_RESOLVER_TIMEOUT"`
	SetTimeout  time.Duration `yaml:"set_timeout"`
	Settings    []Setting     `yaml:"settings"`
}

type Setting struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type JournalSection struct {
	Path string `yaml:"path" env:"SIMPOOL_JOURNAL"`
}

type ArenaConfig struct {
	Players     int    `yaml:"players"`
	MaxRounds   int    `yaml:"max_rounds" env:"SIMPOOL_ARENA_MAX_ROUNDS"`
	StartHealth int    `yaml:"start_health"`
	StartGold   int    `yaml:"start_gold"`
	Income      int    `yaml:"income"`
	MaxUnits    int    `yaml:"max_units"`
	LossDamage  int    `yaml:"loss_damage"`
	BattleDir   string `yaml:"battle_dir" env:"SIMPOOL_BATTLE_DIR"`
	// EvictAfter drops a cached opponent policy after this many
	// consecutive failures.
	EvictAfter int                    `yaml:"evict_after"`
	Rewards    RewardConfig           `yaml:"rewards"`
	Opponents  map[int]OpponentConfig `yaml:"opponents"`
	RosterPath string                 `yaml:"roster_path"`
	Roster     []UnitDef              `yaml:"roster"`
}

type RewardConfig struct {
	RoundWin   float64   `yaml:"round_win"`
	RoundLoss  float64   `yaml:"round_loss"`
	EmptyBoard float64   `yaml:"empty_board"`
	Placement  []float64 `yaml:"placement"`
}

// OpponentConfig picks the policy of one non-agent player.
type OpponentConfig struct {
	Source     string `yaml:"source" cbor:"source"`
	Identifier string `yaml:"identifier" cbor:"identifier"`
}

// PolicyScript is a scripted opponent: it cycles through Actions.
type PolicyScript struct {
	Name    string `yaml:"name"`
	Actions []int  `yaml:"actions"`
}

func Default() *File {
	return &File{
		Pool: PoolSection{Workers: 4, LogDir: "logs", Seed: 1},
		Resolver: ResolverSection{
			Kind:       ResolverSandbox,
			BattleDir:  "battle",
			ResultsDir: "battle_results",
			Timeout:    180 * time.Second,
			SetTimeout: 15 * time.Second,
		},
		Arena: ArenaConfig{
			Players:     4,
			MaxRounds:   30,
			StartHealth: 20,
			StartGold:   3,
			Income:      2,
			MaxUnits:    6,
			LossDamage:  4,
			BattleDir:   "battle",
			EvictAfter:  3,
			Rewards: RewardConfig{
				RoundWin:   0.1,
				RoundLoss:  -0.1,
				EmptyBoard: -0.2,
				Placement:  []float64{1, 0.5, -0.5, -1},
			},
			Roster: DefaultRoster(),
		},
	}
}
