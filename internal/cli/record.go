package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/tiermem/internal/store"
	"github.com/lazypower/tiermem/internal/tier"
)

func newRecordCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Add and inspect memory records",
	}

	var day int
	add := &cobra.Command{
		Use:   "add <entity-id> <content>",
		Short: "Add a daily_raw record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			r, err := b.AddRecord(cmd.Context(), args[0], day, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.ID)
			return nil
		},
	}
	add.Flags().IntVar(&day, "day", 0, "Day the record belongs to")
	add.MarkFlagRequired("day")

	var (
		tierName         string
		startDay, endDay int
		limit            int
	)
	list := &cobra.Command{
		Use:   "list <entity-id>",
		Short: "List records, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := store.RecordQuery{EntityID: args[0], Limit: limit}
			if tierName != "" {
				t, err := tier.Parse(tierName)
				if err != nil {
					return err
				}
				q.Tier = &t
			}
			if cmd.Flags().Changed("start") {
				q.StartDay = store.Int(startDay)
			}
			if cmd.Flags().Changed("end") {
				q.EndDay = store.Int(endDay)
			}

			b, closeFn, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			recs, err := b.ListRecords(cmd.Context(), q)
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), recs)
			return nil
		},
	}
	list.Flags().StringVarP(&tierName, "tier", "t", "", "Only this tier")
	list.Flags().IntVar(&startDay, "start", 0, "Records starting on or after this day")
	list.Flags().IntVar(&endDay, "end", 0, "Records ending on or before this day")
	list.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of records")

	cmd.AddCommand(add, list)
	return cmd
}

func printRecords(out io.Writer, recs []store.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(out, "No records.")
		return
	}
	for _, r := range recs {
		fmt.Fprintf(out, "[%s] day %s  %s\n", r.Tier, dayRange(r), snippet(r.Content, 100))
	}
}

func dayRange(r store.Record) string {
	if r.StartDay == r.EndDay {
		return fmt.Sprint(r.StartDay)
	}
	return fmt.Sprintf("%d-%d", r.StartDay, r.EndDay)
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var (
		day  int
		file string
	)
	cmd := &cobra.Command{
		Use:   "ingest <entity-id>",
		Short: "Turn a conversation transcript into a diary record",
		Long:  "Reads a plain-text (Speaker: text) or JSONL transcript from --file or stdin and stores the generated diary entry as the day's raw record.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if file != "" && file != "-" {
				data, err = os.ReadFile(file)
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}
			if strings.TrimSpace(string(data)) == "" {
				return errors.New("transcript is empty")
			}

			b, closeFn, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := b.Ingest(cmd.Context(), args[0], day, string(data))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !res.Created {
				fmt.Fprintln(out, "Nothing worth remembering; no record created.")
				return nil
			}
			fmt.Fprintf(out, "%s\n%s\n", res.Record.ID, res.Record.Content)
			return nil
		},
	}
	cmd.Flags().IntVar(&day, "day", 0, "Day the conversation happened")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Transcript file (default stdin)")
	cmd.MarkFlagRequired("day")
	return cmd
}
