package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"simpool/internal/battle"
)

const (
	defaultRunTimeout = 180 * time.Second
	defaultSetTimeout = 15 * time.Second
	resultFile        = "stdout.txt"
)

var winnerPattern = regexp.MustCompile(`(?i)"WinningTeam"\s*:\s*"(\w+)"`)

// Setting is one `set <name> <value>` call made before each batch.
type Setting struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// CLI drives an external simulator binary:
//
//	<binary> set <name> <value>
//	<binary> run_batch <battle_dir> <results_dir>
//
// The simulator writes <results_dir>/<key>/stdout.txt per battle, holding
// a "WinningTeam" field. Battles without a readable result are omitted.
type CLI struct {
	Binary     string
	BattleDir  string
	ResultsDir string
	Settings   []Setting
	Timeout    time.Duration
	SetTimeout time.Duration
	// LogDir receives simulation_stdout.log and simulation_stderr.log.
	LogDir string
	Logger *log.Logger
	Debug  bool
}

func (c *CLI) logger() *log.Logger {
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "[RESOLVER] ", log.LstdFlags)
	}
	return c.Logger
}

func (c *CLI) debugf(format string, args ...any) {
	if c.Debug {
		c.logger().Printf(format, args...)
	}
}

// Resolve returns an error when the simulator cannot be run at all or
// exceeds its timeout. A non-zero exit status is only logged.
func (c *CLI) Resolve(ctx context.Context, battles []battle.Descriptor) (battle.Results, error) {
	if len(battles) == 0 {
		return battle.Results{}, nil
	}
	if err := c.checkPaths(); err != nil {
		return nil, err
	}

	expected := make(map[string]bool, len(battles))
	files := make(map[string]bool, len(battles))
	for _, d := range battles {
		if key := d.ResolvedKey(); key != "" {
			expected[key] = true
		}
		if d.Path != "" {
			files[filepath.Base(d.Path)] = true
			if _, err := os.Stat(d.Path); err != nil {
				c.logger().Printf("battle file for %s missing: %v", d.Key, err)
			}
		}
	}
	c.cleanStale(files, expected)

	for _, s := range c.Settings {
		c.set(ctx, s)
	}

	start := time.Now()
	if err := c.run(ctx); err != nil {
		return nil, err
	}
	c.debugf("run_batch finished %d battles in %s", len(battles), time.Since(start))
	return c.collect(expected), nil
}

func (c *CLI) checkPaths() error {
	info, err := os.Stat(c.Binary)
	if err != nil {
		return fmt.Errorf("simulator binary: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("simulator binary %s is not a regular file", c.Binary)
	}
	for _, dir := range []string{c.BattleDir, c.ResultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("prepare %s: %w", dir, err)
		}
		probe, err := os.CreateTemp(dir, ".probe-*")
		if err != nil {
			return fmt.Errorf("directory %s is not writable: %w", dir, err)
		}
		probe.Close()
		os.Remove(probe.Name())
	}
	return nil
}

// cleanStale removes battle files and result directories left over from
// earlier batches so the simulator only sees this round.
func (c *CLI) cleanStale(files, expected map[string]bool) {
	removed := 0
	entries, err := os.ReadDir(c.BattleDir)
	if err != nil {
		c.logger().Printf("list %s: %v", c.BattleDir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || files[e.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(c.BattleDir, e.Name())); err != nil {
			c.logger().Printf("remove stale battle %s: %v", e.Name(), err)
			continue
		}
		removed++
	}

	entries, err = os.ReadDir(c.ResultsDir)
	if err != nil {
		c.logger().Printf("list %s: %v", c.ResultsDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() || expected[e.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.ResultsDir, e.Name())); err != nil {
			c.logger().Printf("remove stale result %s: %v", e.Name(), err)
			continue
		}
		removed++
	}
	c.debugf("removed %d stale battle files and result dirs", removed)
}

func (c *CLI) set(ctx context.Context, s Setting) {
	timeout := c.SetTimeout
	if timeout <= 0 {
		timeout = defaultSetTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, c.Binary, "set", s.Name, s.Value)
	cmd.Dir = filepath.Dir(c.Binary)
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger().Printf("set %s failed: %v: %s; proceeding", s.Name, err, tail(out, 500))
	}
}

func (c *CLI) run(ctx context.Context) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logDir := c.LogDir
	if logDir == "" {
		logDir = filepath.Dir(c.ResultsDir)
	}
	stdout, err := os.Create(filepath.Join(logDir, "simulation_stdout.log"))
	if err != nil {
		return fmt.Errorf("create simulator log: %w", err)
	}
	defer stdout.Close()
	var stderr bytes.Buffer

	cmd := exec.CommandContext(runCtx, c.Binary, "run_batch", c.BattleDir, c.ResultsDir)
	cmd.Dir = filepath.Dir(c.Binary)
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	err = cmd.Run()
	if errLog := os.WriteFile(filepath.Join(logDir, "simulation_stderr.log"), stderr.Bytes(), 0o644); errLog != nil {
		c.logger().Printf("write simulator stderr log: %v", errLog)
	}

	if runCtx.Err() != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("simulator timed out after %s", timeout)
		}
		return fmt.Errorf("simulator interrupted: %w", runCtx.Err())
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		c.logger().Printf("simulator exited with status %d: %s", exitErr.ExitCode(), tail(stderr.Bytes(), 1000))
	default:
		return fmt.Errorf("run simulator: %w", err)
	}
	if _, err := os.Stat(c.ResultsDir); err != nil {
		c.logger().Printf("results directory missing after run: %v", err)
	}
	return nil
}

func (c *CLI) collect(expected map[string]bool) battle.Results {
	results := make(battle.Results, len(expected))
	var missing []string
	for key := range expected {
		path := filepath.Join(c.ResultsDir, key, resultFile)
		b, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				c.logger().Printf("read %s: %v", path, err)
			}
			missing = append(missing, key)
			continue
		}
		m := winnerPattern.FindSubmatch(b)
		if m == nil {
			missing = append(missing, key)
			continue
		}
		results[key] = battle.Outcome{WinningTeam: string(m[1])}
	}
	if len(missing) > 0 {
		c.debugf("%d/%d battles without a result: %v", len(missing), len(expected), missing)
	}
	return results
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}
