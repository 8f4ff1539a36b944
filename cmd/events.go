package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ticketbay/internal/presentation"
)

func (c *cli) newEventsCmd() *cobra.Command {
	var (
		after   uint64
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the committed event outbox",
		Long: `Print committed events in sequence order.

With the memory driver the outbox only lives for one process, so this is
useful with the sqlite driver or after 'exec --events'.

Examples:
  ticketbay events
  ticketbay events --after 120 --limit 20
  ticketbay events --json | jq '.[] | select(.type == "escrow_completed")'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := openBackend(c.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			evts, err := b.store.Events(cmd.Context(), after, limit)
			if err != nil {
				return fmt.Errorf("reading events: %w", err)
			}
			return c.formatter(jsonOut).FormatEvents(presentation.FromEvents(evts))
		},
	}

	cmd.Flags().Uint64Var(&after, "after", 0, "only events with a sequence number above this")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of events (0 = all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func (c *cli) formatter(jsonOut bool) *presentation.Formatter {
	if jsonOut {
		return presentation.NewJSONFormatter(c.out)
	}
	return presentation.NewFormatter(c.out)
}
