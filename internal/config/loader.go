package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

func loadYAML(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, out)
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and SIMPOOL_* environment variables, in that order.
func Load(path string) (*File, error) {
	cfg := Default()
	if path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Arena.RosterPath != "" {
		var rc RosterConfig
		if err := loadYAML(cfg.Arena.RosterPath, &rc); err != nil {
			return nil, fmt.Errorf("load roster %s: %w", cfg.Arena.RosterPath, err)
		}
		cfg.Arena.Roster = rc.Units
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadPolicyScript reads a scripted opponent policy.
func LoadPolicyScript(path string) (*PolicyScript, error) {
	var ps PolicyScript
	if err := loadYAML(path, &ps); err != nil {
		return nil, err
	}
	if len(ps.Actions) == 0 {
		return nil, fmt.Errorf("policy %s has no actions", path)
	}
	return &ps, nil
}

func (f *File) Validate() error {
	var errs []error
	if f.Pool.Workers < 1 {
		errs = append(errs, fmt.Errorf("pool.workers must be >= 1, got %d", f.Pool.Workers))
	}
	switch f.Resolver.Kind {
	case ResolverSandbox:
	case ResolverCLI:
		if f.Resolver.Binary == "" {
			errs = append(errs, errors.New("resolver.binary is required for the cli resolver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown resolver kind %q", f.Resolver.Kind))
	}
	if f.Arena.Players < 2 {
		errs = append(errs, fmt.Errorf("arena.players must be >= 2, got %d", f.Arena.Players))
	}
	if f.Arena.MaxRounds < 1 {
		errs = append(errs, fmt.Errorf("arena.max_rounds must be >= 1, got %d", f.Arena.MaxRounds))
	}
	if len(f.Arena.Roster) == 0 {
		errs = append(errs, errors.New("arena roster is empty"))
	}
	return errors.Join(errs...)
}
