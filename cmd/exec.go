package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ticketbay/internal/escrow/command"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
	"github.com/zjrosen/ticketbay/internal/log"
	"github.com/zjrosen/ticketbay/internal/presentation"
)

func (c *cli) newExecCmd() *cobra.Command {
	var (
		showEvents bool
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "exec <script.yaml>",
		Short: "Run a scripted sequence of marketplace operations",
		Long: `Run a YAML script of marketplace operations against the configured store.

The script drives a simulated clock: it starts at 'start' (default: now) and only
moves on an 'advance' step, so confirmation periods can be exercised without
waiting. 'deposits' seeds ledger balances before the first step.

A step with 'expect' passes only when it fails with that error kind:
any, unauthorized, invalid_state, invalid_value, not_found, reentrant,
transfer_failed, insufficient_funds.

Example:
  start: 2025-06-01T09:00:00Z
  deposits:
    bob: "5"
  steps:
    - {op: mint, as: alice, event: Cup Final, venue: Arena, seat: C3, save: t}
    - {op: verify, as: carol, asset: $t}
    - {op: list, as: alice, asset: $t, price: "0.1"}
    - {op: purchase, as: bob, asset: $t}
    - {op: confirm, as: alice, asset: $t, expect: any}
    - {op: advance, duration: 168h}
    - {op: auto_release, as: mallory, asset: $t}
    - {op: show, asset: $t}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading script: %w", err)
			}
			script, err := ParseScript(data)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.runScript(ctx, script, showEvents, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&showEvents, "events", false, "print the events committed by the script")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "render show, balances and events as JSON")
	return cmd
}

func (c *cli) runScript(ctx context.Context, script *Script, showEvents, jsonOut bool) error {
	start := script.Start
	if start.IsZero() {
		start = time.Now()
	}
	clock := &simClock{now: start}

	m, err := startMarketplace(ctx, c.cfg, clock.Now, command.SourceScript)
	if err != nil {
		return err
	}
	defer m.Close()

	history, err := m.svc.History(ctx, 0, 0)
	if err != nil {
		return err
	}
	var firstSeq uint64
	if len(history) > 0 {
		firstSeq = history[len(history)-1].Seq
	}

	format := presentation.NewFormatter(c.out)
	if jsonOut {
		format = presentation.NewJSONFormatter(c.out)
	}
	r := &runner{
		m:      m,
		clock:  clock,
		names:  make(map[string]types.AssetID),
		out:    c.out,
		format: format,
	}

	log.Info(log.CatCLI, "running script", "steps", len(script.Steps), "start", start)
	runErr := r.run(ctx, script)
	fmt.Fprintf(c.out, "%d of %d steps ran, %d failed as expected\n", r.done, len(script.Steps), r.expected)

	if showEvents {
		evts, err := m.svc.History(ctx, firstSeq, 0)
		if err != nil {
			return err
		}
		if err := format.FormatEvents(presentation.FromEvents(evts)); err != nil {
			return err
		}
	}
	return runErr
}
