package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatsCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show tier sizes and WAL state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.Stats()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			fmt.Fprintf(out, "Directory:  %s\n", s.Dir())
			fmt.Fprintf(out, "Dimension:  %d\n", st.Dimension)
			fmt.Fprintf(out, "Owner:      %t\n", st.Owner)
			fmt.Fprintf(out, "Hot:        %d / %d\n", st.Hot, st.HotCapacity)
			fmt.Fprintf(out, "Warm:       %d / %d\n", st.Warm, st.WarmCapacity)
			fmt.Fprintf(out, "Cold:       %d\n", st.Cold)
			fmt.Fprintf(out, "Last seq:   %d\n", st.LastSeq)
			fmt.Fprintf(out, "WAL bytes:  %d\n", st.WALBytes)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newSyncCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Write the hot snapshot and truncate the WAL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if !s.IsOwner() {
				return fmt.Errorf("another process owns %s", s.Dir())
			}
			start := time.Now()
			if err := s.Sync(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %s in %s\n", s.Dir(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func newManageCmd(c *cli) *cobra.Command {
	var sync bool
	cmd := &cobra.Command{
		Use:   "manage",
		Short: "Run one tier management pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if !s.IsOwner() {
				return fmt.Errorf("another process owns %s", s.Dir())
			}
			before, err := s.Stats()
			if err != nil {
				return err
			}
			if err := s.ManageTiers(); err != nil {
				return err
			}
			if sync {
				if err := s.Sync(); err != nil {
					return err
				}
			}
			after, err := s.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hot %d -> %d, warm %d -> %d, cold %d -> %d\n",
				before.Hot, after.Hot, before.Warm, after.Warm, before.Cold, after.Cold)
			return nil
		},
	}
	cmd.Flags().BoolVar(&sync, "sync", true, "sync after moving nodes")
	return cmd
}
