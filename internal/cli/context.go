package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newContextCmd(opts *rootOptions) *cobra.Command {
	var (
		day    int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "context <entity-id>",
		Short: "Print the memory context for a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			v, err := b.Context(cmd.Context(), args[0], day)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			}
			fmt.Fprint(out, v.Formatted)
			return nil
		},
	}
	cmd.Flags().IntVar(&day, "day", 0, "Current day")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print buckets and entries as JSON")
	cmd.MarkFlagRequired("day")
	return cmd
}
