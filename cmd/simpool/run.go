package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"simpool/internal/config"
	"simpool/internal/journal"
	"simpool/internal/pool"
	"simpool/internal/telemetry"
	"simpool/internal/util"
)

type runOptions struct {
	rounds int
	inProc bool
	out    string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the pool and play random valid actions for a number of rounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if opts.inProc {
				cfg.Pool.InProcess = true
			}
			return runPool(cmd.Context(), cfg, root.configPath, opts)
		},
	}
	cmd.Flags().IntVar(&opts.rounds, "rounds", 50, "rounds to play")
	cmd.Flags().BoolVar(&opts.inProc, "inproc", false, "run workers on goroutines instead of child processes")
	cmd.Flags().StringVar(&opts.out, "out", "", "write a JSON run summary here")
	return cmd
}

func runPool(ctx context.Context, cfg *config.File, configPath string, opts *runOptions) (err error) {
	if opts.rounds < 1 {
		return fmt.Errorf("--rounds must be >= 1, got %d", opts.rounds)
	}
	shutdown, err := telemetry.Setup(ctx, "simpool")
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer shutdown(context.Background())

	logger := log.New(os.Stderr, "[POOL] ", log.LstdFlags)
	popts := []pool.Option{pool.WithLogger(logger)}
	sum := newSummary(cfg.Pool.Workers)
	start := time.Now()

	if cfg.Journal.Path != "" {
		store, oerr := journal.Open(cfg.Journal.Path)
		if oerr != nil {
			return oerr
		}
		defer store.Close()
		runID, serr := store.StartRun(ctx, cfg.Pool.Workers)
		if serr != nil {
			return serr
		}
		sum.RunID = runID
		popts = append(popts, pool.WithRecorder(store.Recorder(runID)))
		defer func() {
			status := journal.StatusFinished
			if err != nil {
				status = journal.StatusFailed
			}
			if ferr := store.FinishRun(context.Background(), runID, sum.Rounds, status); ferr != nil {
				logger.Printf("journal: %v", ferr)
			}
		}()
	}

	res, err := newResolver(cfg, log.New(os.Stderr, "[RESOLVER] ", log.LstdFlags))
	if err != nil {
		return err
	}
	spawner, err := newSpawner(cfg, configPath)
	if err != nil {
		return err
	}
	p, err := pool.New(ctx, poolConfig(cfg), spawner, res, popts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			logger.Printf("close: %v", cerr)
		}
	}()

	if len(cfg.Arena.Opponents) > 0 {
		if _, err := p.SetOpponentConfigs(ctx, cfg.Arena.Opponents); err != nil {
			return err
		}
	}
	if _, _, err := p.ResetAll(ctx, pool.SeedsFrom(cfg.Pool.Seed, p.Len()), nil); err != nil {
		return err
	}

	rng := util.New(cfg.Pool.Seed)
	for r := 0; r < opts.rounds; r++ {
		masks, merr := p.ActionMasks(ctx)
		if merr != nil {
			err = merr
			break
		}
		rr, serr := p.Step(ctx, pickActions(rng, masks))
		if serr != nil {
			err = serr
			break
		}
		sum.add(rr)
	}

	sum.Status = journal.StatusFinished
	if err != nil {
		sum.Status = journal.StatusFailed
		sum.Error = err.Error()
	}
	sum.finish(p.States())
	sum.Seconds = time.Since(start).Seconds()
	logger.Printf("%d rounds, %d episodes, mean episode reward %.3f", sum.Rounds, sum.Episodes, sum.MeanEpisode)

	if opts.out != "" {
		if werr := writeSummary(opts.out, sum); werr != nil {
			return errors.Join(err, fmt.Errorf("write summary: %w", werr))
		}
	}
	return err
}
