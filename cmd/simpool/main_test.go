package main

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"simpool/internal/config"
	"simpool/internal/pool"
	"simpool/internal/resolver"
	"simpool/internal/telemetry"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	body := `
pool:
  workers: 2
  in_process: true
  seed: 3
timeouts:
  step: 5s
arena:
  max_rounds: 4
  battle_dir: ` + filepath.Join(dir, "battle") + `
journal:
  path: ` + filepath.Join(dir, "journal.db") + `
`
	path := filepath.Join(dir, "simpool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestRunInProcessWritesSummaryAndJournal(t *testing.T) {
	t.Setenv(telemetry.EnvEndpoint, "")
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	outPath := filepath.Join(dir, "summary.json")

	execute(t, "--config", cfgPath, "run", "--rounds", "6", "--out", outPath)

	b, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var sum summary
	require.NoError(t, json.Unmarshal(b, &sum))
	require.Equal(t, "finished", sum.Status)
	require.Equal(t, 2, sum.Workers)
	require.Equal(t, 6, sum.Rounds)
	require.Equal(t, []string{"alive", "alive"}, sum.States)
	require.GreaterOrEqual(t, sum.Episodes, 2)
	require.NotEmpty(t, sum.RunID)
	require.Empty(t, sum.Faults)

	runs := execute(t, "--config", cfgPath, "history")
	require.Contains(t, runs, sum.RunID)
	require.Contains(t, runs, "finished")

	rounds := execute(t, "--config", cfgPath, "history", sum.RunID, "--limit", "4")
	require.Contains(t, rounds, "ROUND")
	require.Contains(t, rounds, "alive")
}

func TestRunRejectsZeroRounds(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"run", "--rounds", "0"})
	require.Error(t, root.Execute())
}

func TestHistoryWithoutJournal(t *testing.T) {
	t.Setenv("SIMPOOL_JOURNAL", "")
	root := newRootCmd()
	root.SetArgs([]string{"history"})
	require.ErrorContains(t, root.Execute(), "no journal configured")
}

func TestPoolConfigCarriesTimeouts(t *testing.T) {
	f := config.Default()
	f.Pool.Workers = 3
	f.Pool.VerifyBattleFiles = true
	f.Timeouts.Step = 2 * time.Second
	f.Timeouts.OpponentConfigs = time.Minute

	pc := poolConfig(f)
	require.Equal(t, 3, pc.Workers)
	require.True(t, pc.VerifyBattleFiles)
	require.Equal(t, 2*time.Second, pc.Timeouts.Step)
	require.Equal(t, time.Minute, pc.Timeouts.OpponentConfigs)
	require.Zero(t, pc.Timeouts.Reset)
}

func TestNewResolverKinds(t *testing.T) {
	f := config.Default()
	r, err := newResolver(f, nil)
	require.NoError(t, err)
	require.IsType(t, resolver.Parallel{}, r)

	f.Resolver.Kind = config.ResolverCLI
	f.Resolver.Binary = "/opt/sim/simulation-cli"
	f.Resolver.BattleDir = ""
	f.Resolver.Settings = []config.Setting{{Name: "seed", Value: "4"}}
	r, err = newResolver(f, nil)
	require.NoError(t, err)
	cli, ok := r.(*resolver.CLI)
	require.True(t, ok)
	require.Equal(t, f.Arena.BattleDir, cli.BattleDir)
	require.Equal(t, []resolver.Setting{{Name: "seed", Value: "4"}}, cli.Settings)

	f.Resolver.Kind = "oracle"
	_, err = newResolver(f, nil)
	require.Error(t, err)
}

func TestPickActionsHonoursMasks(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	masks := [][]bool{
		{false, false, true},
		{false, false, false},
		{true, true, false},
	}
	for range 20 {
		a := pickActions(rng, masks)
		require.Equal(t, 2, a[0])
		require.Equal(t, 0, a[1])
		require.Contains(t, []int{0, 1}, a[2])
	}
}

func TestSummaryCountsEpisodesAndFaults(t *testing.T) {
	s := newSummary(2)
	s.add(pool.RoundResult{
		Rewards: []float64{1, 0},
		Dones:   []bool{true, true},
		Infos: []map[string]any{
			{"episode": map[string]any{"r": 3.0, "l": 2, "t": 0.1}},
			{"error": "ipc_timeout", "episode": map[string]any{"r": 1.0}},
		},
	})
	s.add(pool.RoundResult{
		Rewards: []float64{0.5, 0.5},
		Dones:   []bool{false, false},
		Infos:   []map[string]any{{}, {}},
	})
	require.Equal(t, 2, s.Rounds)
	require.Equal(t, 2, s.Episodes)
	require.InDelta(t, 2.0, s.MeanEpisode, 1e-9)
	require.Equal(t, []float64{1.5, 0.5}, s.Rewards)
	require.Equal(t, map[string]int{"ipc_timeout": 1}, s.Faults)

	s.finish([]pool.State{pool.Alive, pool.Errored})
	require.Equal(t, []string{"alive", "errored"}, s.States)
}
