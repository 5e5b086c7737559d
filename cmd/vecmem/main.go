// Command vecmem inspects and maintains a vecmem data directory.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecmem"
)

type cli struct {
	configPath string
	dir        string
	dimension  int
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "vecmem",
		Short:         "Maintenance tool for tiered vecmem stores",
		Long:          `Inspect write-ahead logs and snapshots, and run sync or tier management on a vecmem data directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVarP(&c.dir, "dir", "d", "", "data directory (overrides config)")
	root.PersistentFlags().IntVar(&c.dimension, "dimension", 0, "vector dimension (overrides config)")

	root.AddCommand(
		newWALCmd(c),
		newSnapshotCmd(c),
		newStatsCmd(c),
		newSyncCmd(c),
		newManageCmd(c),
	)
	return root
}

// config loads the config file and applies flag overrides.
func (c *cli) config() (Config, error) {
	cfg, err := LoadConfig(c.configPath)
	if err != nil {
		return cfg, err
	}
	if c.dir != "" {
		cfg.Dir = c.dir
	}
	if c.dimension > 0 {
		cfg.Dimension = c.dimension
	}
	return cfg, cfg.Validate()
}

func (c *cli) openStore(ctx context.Context) (*vecmem.Store, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension is required")
	}
	opts, err := cfg.Options(ctx)
	if err != nil {
		return nil, err
	}
	s, err := vecmem.Open(cfg.Dir, cfg.Dimension, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return s, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
