package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"simpool/internal/arena"
	"simpool/internal/battle"
	"simpool/internal/config"
	"simpool/internal/pool"
	"simpool/internal/resolver"
	"simpool/internal/worker"
)

func poolConfig(f *config.File) pool.Config {
	t := f.Timeouts
	return pool.Config{
		Workers:           f.Pool.Workers,
		Debug:             f.Pool.Debug,
		VerifyBattleFiles: f.Pool.VerifyBattleFiles,
		Timeouts: pool.Timeouts{
			Spaces:          t.Spaces,
			Step:            t.Step,
			BattleFiles:     t.BattleFiles,
			Apply:           t.Apply,
			Final:           t.Final,
			Reset:           t.Reset,
			ResetAll:        t.ResetAll,
			GetAttr:         t.GetAttr,
			SetAttr:         t.SetAttr,
			HasAttr:         t.HasAttr,
			CallMethod:      t.CallMethod,
			OpponentConfigs: t.OpponentConfigs,
			CloseJoin:       t.CloseJoin,
			KillJoin:        t.KillJoin,
		},
	}
}

func newResolver(f *config.File, logger *log.Logger) (battle.Resolver, error) {
	rc := f.Resolver
	switch rc.Kind {
	case config.ResolverSandbox, "":
		return resolver.Parallel{Fight: arena.ResolveBattle, Limit: rc.Parallelism, Logger: logger}, nil
	case config.ResolverCLI:
		dir := rc.BattleDir
		if dir == "" {
			dir = f.Arena.BattleDir
		}
		settings := make([]resolver.Setting, len(rc.Settings))
		for i, s := range rc.Settings {
			settings[i] = resolver.Setting{Name: s.Name, Value: s.Value}
		}
		return &resolver.CLI{
			Binary:     rc.Binary,
			BattleDir:  dir,
			ResultsDir: rc.ResultsDir,
			Settings:   settings,
			Timeout:    rc.Timeout,
			SetTimeout: rc.SetTimeout,
			LogDir:     rc.LogDir,
			Logger:     logger,
			Debug:      f.Pool.Debug,
		}, nil
	}
	return nil, fmt.Errorf("unknown resolver kind %q", rc.Kind)
}

func workerLogger(index int, w io.Writer) *log.Logger {
	return log.New(w, fmt.Sprintf("[W%d] ", index), log.LstdFlags)
}

// newSpawner runs workers on goroutines when in_process is set and as
// "simpool worker" children otherwise. In-process workers log to stderr.
func newSpawner(f *config.File, configPath string) (pool.Spawner, error) {
	if f.Pool.InProcess {
		var out io.Writer = os.Stderr
		arenaCfg := f.Arena
		return pool.LocalSpawner{
			NewEnv: func(i int) (worker.Env, error) {
				return arena.New(i, arenaCfg, workerLogger(i, out))
			},
			Logger: log.New(out, "[POOL] ", log.LstdFlags),
			Debug:  f.Pool.Debug,
		}, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	if configPath != "" {
		if configPath, err = filepath.Abs(configPath); err != nil {
			return nil, err
		}
	}
	return pool.ExecSpawner{
		Path: exe,
		Args: func(i int) []string {
			args := []string{"worker", "--index", strconv.Itoa(i)}
			if configPath != "" {
				args = append(args, "--config", configPath)
			}
			return args
		},
		LogDir: f.Pool.LogDir,
	}, nil
}
