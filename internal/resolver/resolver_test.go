package resolver

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"simpool/internal/battle"
)

var quiet = log.New(io.Discard, "", 0)

func TestParallelResolvesAndOmitsFailures(t *testing.T) {
	var inFlight, peak int32
	p := Parallel{
		Limit:  2,
		Logger: quiet,
		Fight: func(_ context.Context, d battle.Descriptor) (battle.Outcome, error) {
			n := atomic.AddInt32(&inFlight, 1)
			defer atomic.AddInt32(&inFlight, -1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			if d.Key == "bad" {
				return battle.Outcome{}, errors.New("corrupt board")
			}
			return battle.Outcome{WinningTeam: battle.TeamBlue}, nil
		},
	}
	battles := []battle.Descriptor{{Key: "a"}, {Key: "b"}, {Key: "bad"}, {Key: "c"}, {Key: "d"}}

	out, err := p.Resolve(context.Background(), battles)
	require.NoError(t, err)
	require.Len(t, out, 4)
	require.NotContains(t, out, "bad")
	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestParallelCancelledContextFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Parallel{Logger: quiet, Fight: func(context.Context, battle.Descriptor) (battle.Outcome, error) {
		return battle.Outcome{WinningTeam: battle.TeamRed}, nil
	}}
	_, err := p.Resolve(ctx, []battle.Descriptor{{Key: "a"}})
	require.ErrorIs(t, err, context.Canceled)
}

const fakeSimulator = `#!/bin/sh
case "$1" in
set)
  echo "$2=$3" >> "$(dirname "$0")/settings.log"
  exit 0 ;;
run_batch)
  if [ -n "$SIM_SLEEP" ]; then sleep "$SIM_SLEEP"; fi
  for f in "$2"/*.json; do
    [ -e "$f" ] || continue
    stem=$(basename "$f" .json)
    mkdir -p "$3/$stem"
    case "$stem" in
      *P0vP2) ;;
      *P0vP3) printf 'no winner here\n' > "$3/$stem/stdout.txt" ;;
      *) printf '{"winningteam" : "Red"}\n' > "$3/$stem/stdout.txt" ;;
    esac
  done
  echo "batch done"
  exit "${SIM_EXIT:-0}" ;;
esac
exit 2
`

func newFakeCLI(t *testing.T) (*CLI, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake simulator is a shell script")
	}
	root := t.TempDir()
	bin := filepath.Join(root, "bin", "simulation-cli")
	require.NoError(t, os.MkdirAll(filepath.Dir(bin), 0o755))
	require.NoError(t, os.WriteFile(bin, []byte(fakeSimulator), 0o755))
	c := &CLI{
		Binary:     bin,
		BattleDir:  filepath.Join(root, "battle"),
		ResultsDir: filepath.Join(root, "battle_results"),
		Settings:   []Setting{{Name: "--json_data_path", Value: "/data"}, {Name: "--enable_debug_logs", Value: "false"}},
		Logger:     quiet,
		Debug:      true,
	}
	require.NoError(t, os.MkdirAll(c.BattleDir, 0o755))
	return c, root
}

func writeBattles(t *testing.T, dir string, keys ...string) []battle.Descriptor {
	t.Helper()
	var out []battle.Descriptor
	for _, k := range keys {
		path := filepath.Join(dir, k+".json")
		require.NoError(t, os.WriteFile(path, []byte(`{"Version":20}`), 0o644))
		out = append(out, battle.Descriptor{Key: k, Path: path})
	}
	return out
}

func TestCLIResolvesBatch(t *testing.T) {
	c, root := newFakeCLI(t)
	stale := filepath.Join(c.BattleDir, "Env9_Round1_P0vP1.json")
	require.NoError(t, os.WriteFile(stale, []byte("{}"), 0o644))
	staleResult := filepath.Join(c.ResultsDir, "Env9_Round1_P0vP1")
	require.NoError(t, os.MkdirAll(staleResult, 0o755))

	battles := writeBattles(t, c.BattleDir, "Env0_Round1_P0vP1", "Env1_Round1_P0vP2", "Env1_Round1_P0vP3")
	out, err := c.Resolve(context.Background(), battles)
	require.NoError(t, err)
	require.Equal(t, battle.Results{"Env0_Round1_P0vP1": {WinningTeam: "Red"}}, out)

	require.NoFileExists(t, stale)
	require.NoDirExists(t, staleResult)

	settings, err := os.ReadFile(filepath.Join(root, "bin", "settings.log"))
	require.NoError(t, err)
	require.Equal(t, "--json_data_path=/data\n--enable_debug_logs=false\n", string(settings))

	stdout, err := os.ReadFile(filepath.Join(root, "simulation_stdout.log"))
	require.NoError(t, err)
	require.True(t, strings.Contains(string(stdout), "batch done"))
}

func TestCLINonZeroExitIsNotFatal(t *testing.T) {
	c, _ := newFakeCLI(t)
	t.Setenv("SIM_EXIT", "3")
	out, err := c.Resolve(context.Background(), writeBattles(t, c.BattleDir, "Env0_Round2_P0vP1"))
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestCLITimeoutIsFatal(t *testing.T) {
	c, _ := newFakeCLI(t)
	t.Setenv("SIM_SLEEP", "5")
	c.Timeout = 200 * time.Millisecond
	_, err := c.Resolve(context.Background(), writeBattles(t, c.BattleDir, "Env0_Round1_P0vP1"))
	require.ErrorContains(t, err, "timed out")
}

func TestCLIMissingBinaryIsFatal(t *testing.T) {
	c, _ := newFakeCLI(t)
	c.Binary = filepath.Join(t.TempDir(), "nope")
	_, err := c.Resolve(context.Background(), writeBattles(t, c.BattleDir, "Env0_Round1_P0vP1"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCLIEmptyBatchSkipsSimulator(t *testing.T) {
	c := &CLI{Binary: "/does/not/exist"}
	out, err := c.Resolve(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, out)
}
