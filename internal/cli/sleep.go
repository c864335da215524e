package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lazypower/tiermem/internal/engine"
)

func newSleepCmd(opts *rootOptions) *cobra.Command {
	var day int
	cmd := &cobra.Command{
		Use:   "sleep <entity-id>",
		Short: "Run a sleep cycle, consolidating memories for a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := b.Sleep(cmd.Context(), args[0], day)
			if res != nil {
				printRun(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&day, "day", 0, "Current day")
	cmd.MarkFlagRequired("day")
	return cmd
}

func printRun(out io.Writer, res *engine.RunResult) {
	if !res.Success {
		fmt.Fprintf(out, "day %d: failed: %s\n", res.CurrentDay, res.Error)
		return
	}
	if res.Count == 0 {
		fmt.Fprintf(out, "day %d: nothing to consolidate\n", res.CurrentDay)
		return
	}
	fmt.Fprintf(out, "day %d: %d %s (%s)\n", res.CurrentDay, res.Count,
		plural(res.Count, "record"), strings.Join(res.TiersTouched, ", "))
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func newSimulateCmd(opts *rootOptions) *cobra.Command {
	var (
		from, to  int
		keepGoing bool
	)
	cmd := &cobra.Command{
		Use:   "simulate <entity-id>",
		Short: "Run one sleep cycle per day over a range of days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if from < 0 || to < from {
				return fmt.Errorf("invalid range %d..%d", from, to)
			}
			b, closeFn, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			out := cmd.OutOrStdout()
			var created, failed int
			for day := from; day <= to; day++ {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				res, err := b.Sleep(cmd.Context(), args[0], day)
				if res != nil && (res.Count > 0 || !res.Success) {
					printRun(out, res)
				}
				if err != nil {
					failed++
					if !keepGoing {
						return err
					}
					continue
				}
				created += res.Count
			}
			fmt.Fprintf(out, "simulated %s days, %s records created",
				humanize.Comma(int64(to-from+1)), humanize.Comma(int64(created)))
			if failed > 0 {
				fmt.Fprintf(out, ", %d failed", failed)
			}
			fmt.Fprintln(out)
			if failed > 0 {
				return errors.New("some sleep cycles failed")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&from, "from", 1, "First day")
	cmd.Flags().IntVar(&to, "to", 0, "Last day")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "Continue past failed cycles")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newSessionCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage processing sessions",
	}
	reset := &cobra.Command{
		Use:   "reset <entity-id>",
		Short: "Force-complete an entity's active sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := b.ResetSessions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "closed %d %s\n", n, plural(n, "session"))
			return nil
		},
	}
	cmd.AddCommand(reset)
	return cmd
}
