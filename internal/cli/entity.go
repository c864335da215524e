package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lazypower/tiermem/internal/server"
	"github.com/lazypower/tiermem/internal/tier"
)

func newEntityCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Manage entities",
	}

	var owner, configJSON string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg map[string]any
			if configJSON != "" {
				if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
					return fmt.Errorf("--config-json: %w", err)
				}
			}
			b, closeFn, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			e, err := b.CreateEntity(cmd.Context(), owner, args[0], cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.ID)
			return nil
		},
	}
	create.Flags().StringVar(&owner, "owner", "", "Owner id (UUID, generated when empty)")
	create.Flags().StringVar(&configJSON, "config-json", "", "Entity configuration as a JSON object")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an entity and its record counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			v, err := b.GetEntity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printEntity(cmd.OutOrStdout(), v)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			entities, err := b.ListEntities(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entities) == 0 {
				fmt.Fprintln(out, "No entities.")
				return nil
			}
			for _, e := range entities {
				day := "-"
				if e.LastDay != nil {
					day = fmt.Sprint(*e.LastDay)
				}
				fmt.Fprintf(out, "%s  %-20s  last day %s\n", e.ID, e.Name, day)
			}
			return nil
		},
	}

	cmd.AddCommand(create, show, list)
	return cmd
}

func printEntity(out io.Writer, v *server.EntityView) {
	fmt.Fprintf(out, "%s (%s)\n", v.Name, v.ID)
	fmt.Fprintf(out, "  owner:      %s\n", v.OwnerID)
	fmt.Fprintf(out, "  created:    %s\n", humanize.Time(time.UnixMilli(v.CreatedAt)))
	if v.LastDay != nil {
		fmt.Fprintf(out, "  last day:   %d\n", *v.LastDay)
	}
	if v.LastProcessedAt != nil {
		fmt.Fprintf(out, "  last sleep: %s\n", humanize.Time(time.UnixMilli(*v.LastProcessedAt)))
	}
	if v.IsProcessing {
		fmt.Fprintln(out, "  processing: yes")
	}
	fmt.Fprintln(out, "  records:")
	for _, t := range tier.All() {
		fmt.Fprintf(out, "    %-14s %s\n", t, humanize.Comma(int64(v.RecordCounts[t])))
	}
}
