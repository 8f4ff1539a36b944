package processor

import (
	"errors"
	"time"

	"github.com/zjrosen/ticketbay/internal/escrow/command"
)

// ErrUnknownCommandType is returned when no handler is registered for a command type.
var ErrUnknownCommandType = errors.New("unknown command type")

// CommandLogEvent is emitted after each command is processed.
// The CLI event tail renders these next to the committed domain events.
type CommandLogEvent struct {
	CommandID   string
	CommandType command.CommandType
	Source      command.CommandSource
	Success     bool
	Error       error
	Duration    time.Duration
	Timestamp   time.Time
	// TraceID is empty when tracing is disabled.
	TraceID string
}

// CommandErrorEvent is published when a command fails validation, routing or handling.
type CommandErrorEvent struct {
	CommandID   string
	CommandType command.CommandType
	Error       error
}
