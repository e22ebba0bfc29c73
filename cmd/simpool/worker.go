package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"simpool/internal/arena"
	"simpool/internal/config"
	"simpool/internal/worker"
)

func newWorkerCmd(root *rootOptions) *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Serve one arena env over stdin/stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if index < 0 {
				return fmt.Errorf("--index must be >= 0, got %d", index)
			}
			logger := workerLogger(index, os.Stderr)
			cfg, err := config.Load(root.configPath)
			if err != nil {
				// still answer the controller so it fails fast
				logger.Printf("load config: %v", err)
			}
			newEnv := func() (worker.Env, error) {
				if err != nil {
					return nil, err
				}
				return arena.New(index, cfg.Arena, logger)
			}
			return worker.Serve(os.Stdin, os.Stdout, newEnv, worker.Options{
				Index:  index,
				Logger: logger,
				Debug:  cfg != nil && cfg.Pool.Debug,
			})
		},
	}
	cmd.Flags().IntVar(&index, "index", 0, "worker slot")
	return cmd
}
