package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ticketbay/internal/escrow/command"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
	"github.com/zjrosen/ticketbay/internal/presentation"
)

func (c *cli) newShowCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <asset-id>",
		Short: "Show an asset with its listing and escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("asset id %q: %w", args[0], types.ErrInvalidValue)
			}

			m, err := newMarketplace(cmd.Context(), c.cfg, nil, command.SourceCLI)
			if err != nil {
				return err
			}
			defer m.Close()

			view, err := m.svc.View(cmd.Context(), types.AssetID(n))
			if err != nil {
				return err
			}
			return c.formatter(jsonOut).FormatView(presentation.FromView(view.Asset, view.Listing, view.Escrow, m.period))
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func (c *cli) newBalancesCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Print funds ledger balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := openBackend(c.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			dtos, err := balanceDTOs(cmd.Context(), b.funds)
			if err != nil {
				return fmt.Errorf("reading balances: %w", err)
			}
			return c.formatter(jsonOut).FormatBalances(dtos)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}
