package processor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zjrosen/ticketbay/internal/escrow/command"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
	"github.com/zjrosen/ticketbay/internal/log"
	"github.com/zjrosen/ticketbay/internal/pubsub"
)

// Middleware wraps a CommandHandler to add additional behavior.
type Middleware func(CommandHandler) CommandHandler

// ChainMiddleware applies middlewares to a handler in reverse order.
// The first middleware in the list will be the outermost wrapper:
// ChainMiddleware(h, guard, logging, timeout) is guard(logging(timeout(h))).
func ChainMiddleware(handler CommandHandler, middlewares ...Middleware) CommandHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

func traceIDOf(cmd command.Command) string {
	if hasTraceID, ok := cmd.(interface{ TraceID() string }); ok {
		return hasTraceID.TraceID()
	}
	return ""
}

func sourceOf(cmd command.Command) command.CommandSource {
	if hasSource, ok := cmd.(interface{ Source() command.CommandSource }); ok {
		return hasSource.Source()
	}
	return ""
}

// ===========================================================================
// Reentrancy Guard
// ===========================================================================

type handlerKey struct{}

// InHandler reports whether ctx belongs to a handler currently executing under
// the reentrancy guard.
func InHandler(ctx context.Context) bool {
	v, _ := ctx.Value(handlerKey{}).(bool)
	return v
}

// ReentrancyGuard rejects any command handler entered while another guarded
// handler is still running, whether the nested call arrives through the
// handler context or directly.
type ReentrancyGuard struct {
	inFlight atomic.Bool
	rejected atomic.Int64
}

// NewReentrancyGuard creates a guard. One guard must be shared by every handler
// of a processor.
func NewReentrancyGuard() *ReentrancyGuard {
	return &ReentrancyGuard{}
}

// Rejected returns how many nested entries were refused.
func (g *ReentrancyGuard) Rejected() int64 {
	return g.rejected.Load()
}

// Middleware returns the middleware function.
func (g *ReentrancyGuard) Middleware() Middleware {
	return func(next CommandHandler) CommandHandler {
		return HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			if InHandler(ctx) || !g.inFlight.CompareAndSwap(false, true) {
				g.rejected.Add(1)
				log.Warn(log.CatCommands, "reentrant command rejected",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
				)
				return nil, fmt.Errorf("%s: %w", cmd.Type(), types.ErrReentrantCall)
			}
			defer g.inFlight.Store(false)

			return next.Handle(context.WithValue(ctx, handlerKey{}, true), cmd)
		})
	}
}

// ===========================================================================
// Logging Middleware
// ===========================================================================

// LoggingMiddlewareConfig configures the logging middleware.
type LoggingMiddlewareConfig struct {
	// ExpectedFailuresAtInfo logs domain rejections (unauthorized, bad state) at
	// info instead of warn. Infrastructure failures are always errors.
	ExpectedFailuresAtInfo bool
}

// NewLoggingMiddleware creates a middleware that logs command execution.
func NewLoggingMiddleware(cfg LoggingMiddlewareConfig) Middleware {
	return func(next CommandHandler) CommandHandler {
		return HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)
			duration := time.Since(start)

			fields := []any{
				"command_id", cmd.ID(),
				"command_type", cmd.Type().String(),
				"trace_id", traceIDOf(cmd),
				"duration", duration,
				"source", string(sourceOf(cmd)),
			}

			failure := err
			if failure == nil && result != nil && !result.Success {
				failure = result.Error
			}

			switch {
			case failure == nil:
				log.Debug(log.CatCommands, "command completed", fields...)
			case types.KindOf(failure) == nil:
				log.ErrorErr(log.CatCommands, "command failed", failure, fields...)
			case cfg.ExpectedFailuresAtInfo:
				log.Info(log.CatCommands, "command rejected", append(fields, "error", failure.Error())...)
			default:
				log.Warn(log.CatCommands, "command rejected", append(fields, "error", failure.Error())...)
			}

			return result, err
		})
	}
}

// ===========================================================================
// Command Log Middleware
// ===========================================================================

// EventPublisher is the subset of *pubsub.Broker[any] the command log needs.
type EventPublisher interface {
	Publish(eventType pubsub.EventType, payload any)
}

// CommandLogMiddlewareConfig configures the command log middleware.
type CommandLogMiddlewareConfig struct {
	// EventBus receives one CommandLogEvent per command. Nil disables the middleware.
	EventBus EventPublisher
}

// NewCommandLogMiddleware creates a middleware that emits a CommandLogEvent for each
// processed command.
func NewCommandLogMiddleware(cfg CommandLogMiddlewareConfig) Middleware {
	return func(next CommandHandler) CommandHandler {
		if cfg.EventBus == nil {
			return next
		}
		return HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)

			cmdErr := err
			if cmdErr == nil && result != nil && !result.Success {
				cmdErr = result.Error
			}

			cfg.EventBus.Publish(pubsub.UpdatedEvent, CommandLogEvent{
				CommandID:   cmd.ID(),
				CommandType: cmd.Type(),
				Source:      sourceOf(cmd),
				Success:     err == nil && (result == nil || result.Success),
				Error:       cmdErr,
				Duration:    time.Since(start),
				Timestamp:   time.Now(),
				TraceID:     traceIDOf(cmd),
			})

			return result, err
		})
	}
}

// ===========================================================================
// Timeout Middleware
// ===========================================================================

// DefaultTimeoutWarningThreshold is the default threshold for logging slow handler warnings.
const DefaultTimeoutWarningThreshold = 100 * time.Millisecond

// TimeoutMiddlewareConfig configures the timeout middleware.
type TimeoutMiddlewareConfig struct {
	WarningThreshold time.Duration
}

// NewTimeoutMiddleware creates a middleware that logs warnings when handlers
// exceed the configured threshold. It never aborts a handler.
func NewTimeoutMiddleware(cfg TimeoutMiddlewareConfig) Middleware {
	threshold := cfg.WarningThreshold
	if threshold == 0 {
		threshold = DefaultTimeoutWarningThreshold
	}

	return func(next CommandHandler) CommandHandler {
		return HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)

			if duration := time.Since(start); duration > threshold {
				log.Warn(log.CatCommands, "handler exceeded time threshold",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"trace_id", traceIDOf(cmd),
					"duration", duration,
					"threshold", threshold,
				)
			}

			return result, err
		})
	}
}
