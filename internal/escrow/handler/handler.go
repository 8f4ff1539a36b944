// Package handler provides the command handlers for the marketplace.
// Each handler runs exactly one store transaction: it calls into the registry or
// the engine, and on success returns the committed events so the processor can
// publish them. Any error rolls the transaction back.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/ticketbay/internal/escrow/command"
	"github.com/zjrosen/ticketbay/internal/escrow/events"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
)

// ErrInvalidCommandType is returned when a handler receives a command it does not handle.
var ErrInvalidCommandType = errors.New("invalid command type")

// transact runs fn in a store transaction and packages the outcome.
// data is read after fn returns, so fn may fill it in.
func transact(ctx context.Context, store repository.Store, data func() any, fn func(tx repository.Tx) error) (*command.CommandResult, error) {
	committed, err := store.Update(ctx, fn)
	if err != nil {
		return nil, err
	}

	evts := make([]any, len(committed))
	for i, e := range committed {
		evts[i] = e
	}

	var payload any
	if data != nil {
		payload = data()
	}
	return &command.CommandResult{Success: true, Events: evts, Data: payload}, nil
}

func wrongType(expected string, cmd command.Command) error {
	return fmt.Errorf("%w: expected %s, got %T", ErrInvalidCommandType, expected, cmd)
}

// EventsOf extracts the committed domain events from a handler result.
func EventsOf(result *command.CommandResult) []events.Event {
	if result == nil {
		return nil
	}
	out := make([]events.Event, 0, len(result.Events))
	for _, e := range result.Events {
		if ev, ok := e.(events.Event); ok {
			out = append(out, ev)
		}
	}
	return out
}
