package battle

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	TeamBlue = "Blue"
	TeamRed  = "Red"
	Draw     = "Draw"
)

// Descriptor names one battle a worker queued during a round. Worker is
// overwritten by the controller with the index that submitted it.
type Descriptor struct {
	Key    string `cbor:"key" json:"key"`
	Path   string `cbor:"path" json:"path"`
	Worker int    `cbor:"worker" json:"worker"`
}

// Outcome is the resolved result of one battle.
type Outcome struct {
	WinningTeam string         `cbor:"winning_team" json:"winning_team"`
	Details     map[string]any `cbor:"details,omitempty" json:"details,omitempty"`
}

// Results maps battle keys to outcomes. Keys the resolver could not settle
// are omitted.
type Results map[string]Outcome

// Resolver settles every battle of a round in one call. An error aborts
// the whole batch.
type Resolver interface {
	Resolve(ctx context.Context, battles []Descriptor) (Results, error)
}

type ResolverFunc func(ctx context.Context, battles []Descriptor) (Results, error)

func (f ResolverFunc) Resolve(ctx context.Context, battles []Descriptor) (Results, error) {
	return f(ctx, battles)
}

// Key builds the battle key for a pairing in a worker's round.
func Key(worker, round, p1, p2 int) string {
	return fmt.Sprintf("Env%d_Round%d_P%dvP%d", worker, round, p1, p2)
}

type KeyParts struct {
	Worker, Round, P1, P2 int
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (KeyParts, error) {
	var kp KeyParts
	n, err := fmt.Sscanf(key, "Env%d_Round%d_P%dvP%d", &kp.Worker, &kp.Round, &kp.P1, &kp.P2)
	if err != nil || n != 4 {
		return KeyParts{}, fmt.Errorf("battle: malformed key %q", key)
	}
	if Key(kp.Worker, kp.Round, kp.P1, kp.P2) != key {
		return KeyParts{}, fmt.Errorf("battle: malformed key %q", key)
	}
	return kp, nil
}

// KeyFromPath returns the file stem of a battle file path.
func KeyFromPath(path string) string {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ResolvedKey is the descriptor key, falling back to the path stem.
func (d Descriptor) ResolvedKey() string {
	if d.Key != "" {
		return d.Key
	}
	if d.Path == "" {
		return ""
	}
	return KeyFromPath(d.Path)
}

// Split partitions results by owning worker. Every partition is non-nil.
// Keys without an owner are returned separately.
func Split(results Results, owners map[string]int, workers int) ([]Results, []string) {
	parts := make([]Results, workers)
	for i := range parts {
		parts[i] = Results{}
	}
	var unknown []string
	for key, out := range results {
		idx, ok := owners[key]
		if !ok || idx < 0 || idx >= workers {
			unknown = append(unknown, key)
			continue
		}
		parts[idx][key] = out
	}
	return parts, unknown
}
