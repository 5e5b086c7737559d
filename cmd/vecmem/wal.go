package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecmem"
	"github.com/hupe1980/vecmem/wal"
)

func newWALCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wal",
		Short: "Inspect the write-ahead log",
	}
	cmd.AddCommand(newWALDumpCmd(c), newWALVerifyCmd(c))
	return cmd
}

func (c *cli) walPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := c.config()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg.Dir, vecmem.WALFile), nil
}

// openWAL opens an existing log. wal.Open would create a missing one.
func openWAL(path string) (*wal.WAL, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return wal.Open(path)
}

func newWALDumpCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "dump [path]",
		Short: "Print every entry of the log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.walPath(args)
			if err != nil {
				return err
			}
			w, err := openWAL(path)
			if err != nil {
				return err
			}
			defer w.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-8s %-10s %-10s %-24s %s\n", "OFFSET", "SEQ", "OP", "FORMAT", "TIME", "DETAIL")
			return w.Inspect(func(off int64, e wal.Entry, entryErr error) error {
				printEntry(out, off, e, entryErr)
				return nil
			})
		},
	}
}

func printEntry(out io.Writer, off int64, e wal.Entry, entryErr error) {
	ts := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339Nano)
	fmt.Fprintf(out, "%-10d %-8d %-10s %-10s %-24s %s\n", off, e.Seq, e.Op, e.Format, ts, entryDetail(e, entryErr))
}

func entryDetail(e wal.Entry, entryErr error) string {
	switch {
	case entryErr != nil:
		return "ERROR: " + entryErr.Error()
	case e.Op == wal.OpCheckpoint:
		return fmt.Sprintf("watermark=%d", e.Watermark)
	case e.Op == wal.OpDelete:
		return fmt.Sprintf("id=%s", e.ID)
	}
	switch e.Format {
	case wal.FormatTouch:
		return fmt.Sprintf("id=%s accessed=%d", e.ID, e.AccessedAt)
	case wal.FormatConfidence:
		return fmt.Sprintf("id=%s mu=%.3f sigma2=%.3f n=%d", e.ID, e.Confidence.Mu, e.Confidence.SigmaSq, e.Confidence.N)
	case wal.FormatEdge:
		return fmt.Sprintf("id=%s target=%s weight=%.3f", e.ID, e.Edge.Target, e.Edge.Weight)
	}
	if e.Node != nil {
		return fmt.Sprintf("id=%s dim=%d payload=%dB edges=%d tags=%d",
			e.ID, len(e.Node.Vector), len(e.Node.Payload), len(e.Node.Edges), len(e.Node.Tags))
	}
	return fmt.Sprintf("id=%s", e.ID)
}

func newWALVerifyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [path]",
		Short: "Check every entry checksum of the log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.walPath(args)
			if err != nil {
				return err
			}
			w, err := openWAL(path)
			if err != nil {
				return err
			}
			defer w.Close()

			var entries, bad int
			err = w.Inspect(func(off int64, e wal.Entry, entryErr error) error {
				entries++
				if entryErr != nil {
					bad++
					fmt.Fprintf(cmd.ErrOrStderr(), "offset %d seq %d: %v\n", off, e.Seq, entryErr)
				}
				return nil
			})
			var ce *wal.CorruptionError
			if errors.As(err, &ce) {
				return fmt.Errorf("%s: %d entries readable, then %w", path, entries, err)
			}
			if err != nil {
				return err
			}
			if bad > 0 {
				return fmt.Errorf("%s: %d of %d entries corrupted: %w", path, bad, entries, wal.ErrCorrupted)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries OK, last seq %d\n", path, entries, w.LastSeq())
			return nil
		},
	}
}
