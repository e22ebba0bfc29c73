// Package resolver settles a round's battles in one batch.
package resolver

import (
	"context"
	"log"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"simpool/internal/battle"
)

// Fight settles a single battle.
type Fight func(ctx context.Context, d battle.Descriptor) (battle.Outcome, error)

// Parallel runs Fight for every battle with at most Limit in flight.
// A battle whose Fight fails is omitted from the results; only a
// cancelled context fails the batch.
type Parallel struct {
	Fight  Fight
	Limit  int
	Logger *log.Logger
}

func (p Parallel) Resolve(ctx context.Context, battles []battle.Descriptor) (battle.Results, error) {
	logger := p.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[RESOLVER] ", log.LstdFlags)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	var mu sync.Mutex
	out := make(battle.Results, len(battles))
	for _, d := range battles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			o, err := p.Fight(gctx, d)
			if err != nil {
				logger.Printf("battle %s: %v", d.Key, err)
				return nil
			}
			mu.Lock()
			out[d.Key] = o
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
