package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecmem"
	"github.com/hupe1980/vecmem/tier/hot"
)

func newSnapshotCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect or upgrade the hot-tier snapshot",
	}
	cmd.AddCommand(newSnapshotInspectCmd(c), newSnapshotUpgradeCmd(c))
	return cmd
}

func (c *cli) snapshotPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := c.config()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg.Dir, vecmem.SnapshotFile), nil
}

func newSnapshotInspectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [path]",
		Short: "Validate a snapshot and print its header",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.snapshotPath(args)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the command line
			if err != nil {
				return err
			}
			h, err := hot.ReadHeader(data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Path:       %s\n", path)
			fmt.Fprintf(out, "Size:       %d bytes\n", len(data))
			fmt.Fprintf(out, "Version:    %d\n", h.Version)
			fmt.Fprintf(out, "Nodes:      %d\n", h.Count)
			if h.Checksum {
				fmt.Fprintf(out, "Watermark:  %d\n", h.Watermark)
				fmt.Fprintln(out, "Checksum:   OK")
			} else {
				fmt.Fprintln(out, "Checksum:   none (legacy, run snapshot upgrade)")
			}
			return nil
		},
	}
}

func newSnapshotUpgradeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade [path]",
		Short: "Rewrite a legacy snapshot in the current format",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.snapshotPath(args)
			if err != nil {
				return err
			}
			cfg, err := c.config()
			if err != nil {
				return err
			}
			if cfg.Dimension <= 0 {
				return fmt.Errorf("dimension is required")
			}

			t := hot.New(cfg.Dimension, func(o *hot.Options) {
				o.Logger = cfg.Logger().Logger
			})
			watermark, err := t.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !t.Legacy() {
				fmt.Fprintf(out, "%s is already version %d\n", path, hot.Version)
				return nil
			}
			if err := t.Save(path, watermark); err != nil {
				return err
			}
			fmt.Fprintf(out, "upgraded %s to version %d (%d nodes)\n", path, hot.Version, t.Len())
			return nil
		},
	}
}
