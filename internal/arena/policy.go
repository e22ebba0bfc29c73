package arena

import (
	"errors"
	"fmt"
	"log"
	"math/rand"

	"simpool/internal/config"
)

const (
	SourceRandom = "random"
	SourceScript = "script"
)

// Policy picks an opponent's action for a round.
type Policy interface {
	Act(rng *rand.Rand, round int, mask []bool) (int, error)
}

type randomPolicy struct{}

func (randomPolicy) Act(rng *rand.Rand, _ int, mask []bool) (int, error) {
	var valid []int
	for a, ok := range mask {
		if ok {
			valid = append(valid, a)
		}
	}
	if len(valid) == 0 {
		return ActionHold, nil
	}
	return valid[rng.Intn(len(valid))], nil
}

var errScriptAction = errors.New("scripted action not allowed")

type scriptPolicy struct {
	name    string
	actions []int
}

func (s *scriptPolicy) Act(_ *rand.Rand, round int, mask []bool) (int, error) {
	a := s.actions[round%len(s.actions)]
	if a < 0 || a >= len(mask) || !mask[a] {
		return ActionHold, fmt.Errorf("%w: %s wants %d in round %d", errScriptAction, s.name, a, round)
	}
	return a, nil
}

type cacheEntry struct {
	policy   *scriptPolicy
	failures int
}

// PolicyCache keeps loaded opponent scripts by path. An entry that fails
// EvictAfter times in a row is dropped and its users fall back to random.
type PolicyCache struct {
	entries    map[string]*cacheEntry
	evictAfter int
	load       func(path string) (*config.PolicyScript, error)
	logger     *log.Logger
}

func NewPolicyCache(evictAfter int, logger *log.Logger) *PolicyCache {
	if evictAfter <= 0 {
		evictAfter = 1
	}
	return &PolicyCache{
		entries:    map[string]*cacheEntry{},
		evictAfter: evictAfter,
		load:       config.LoadPolicyScript,
		logger:     logger,
	}
}

func (c *PolicyCache) Len() int { return len(c.entries) }

// Get returns the policy for cfg. Unknown sources and scripts that fail
// to load resolve to the random policy.
func (c *PolicyCache) Get(cfg config.OpponentConfig) Policy {
	switch cfg.Source {
	case "", SourceRandom:
		return randomPolicy{}
	case SourceScript:
	default:
		c.logger.Printf("unknown opponent source %q, using random", cfg.Source)
		return randomPolicy{}
	}
	if e, ok := c.entries[cfg.Identifier]; ok {
		return e.policy
	}
	ps, err := c.load(cfg.Identifier)
	if err != nil {
		c.logger.Printf("load policy %s: %v; using random", cfg.Identifier, err)
		return randomPolicy{}
	}
	name := ps.Name
	if name == "" {
		name = cfg.Identifier
	}
	e := &cacheEntry{policy: &scriptPolicy{name: name, actions: ps.Actions}}
	c.entries[cfg.Identifier] = e
	return e.policy
}

// Report records the outcome of using a cached script and reports whether
// the entry was evicted.
func (c *PolicyCache) Report(id string, err error) bool {
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	if err == nil {
		e.failures = 0
		return false
	}
	e.failures++
	if e.failures < c.evictAfter {
		return false
	}
	delete(c.entries, id)
	c.logger.Printf("evicting policy %s after %d failures: %v", id, e.failures, err)
	return true
}
