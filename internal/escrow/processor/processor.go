// Package processor provides the FIFO command processor for the marketplace.
// A single goroutine executes commands in submission order, so registry and
// engine state is only ever touched by one handler at a time.
package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/ticketbay/internal/escrow/command"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
	"github.com/zjrosen/ticketbay/internal/log"
	"github.com/zjrosen/ticketbay/internal/pubsub"
)

// DefaultQueueCapacity is the default buffer size for the command queue.
const DefaultQueueCapacity = 1000

// CommandHandler is an alias for command.CommandHandler.
type CommandHandler = command.CommandHandler

// HandlerFunc is an alias for command.HandlerFunc.
type HandlerFunc = command.HandlerFunc

// Option configures the CommandProcessor.
type Option func(*CommandProcessor)

// WithQueueCapacity sets the command queue buffer capacity.
func WithQueueCapacity(capacity int) Option {
	return func(p *CommandProcessor) {
		p.queueCapacity = capacity
	}
}

// WithEventBus sets the event bus for publishing committed events.
func WithEventBus(bus *pubsub.Broker[any]) Option {
	return func(p *CommandProcessor) {
		p.eventBus = bus
	}
}

// WithMiddleware adds middleware to be applied to all handlers.
// Middleware is applied in order: first middleware wraps outermost.
func WithMiddleware(middlewares ...Middleware) Option {
	return func(p *CommandProcessor) {
		p.middlewares = append(p.middlewares, middlewares...)
	}
}

// CommandProcessor processes commands sequentially in FIFO order.
type CommandProcessor struct {
	queue         chan queueItem
	queueCapacity int

	handlers    map[command.CommandType]CommandHandler
	middlewares []Middleware

	eventBus *pubsub.Broker[any]

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running  atomic.Bool
	started  atomic.Bool
	readyCh  chan struct{}
	readyMu  sync.Mutex
	readySet bool

	processedCount atomic.Int64
	errorCount     atomic.Int64
}

// queueItem wraps a command with an optional result channel for SubmitAndWait.
type queueItem struct {
	cmd      command.Command
	resultCh chan *command.CommandResult // nil for fire-and-forget Submit
}

// NewCommandProcessor creates a new CommandProcessor with the given options.
func NewCommandProcessor(opts ...Option) *CommandProcessor {
	p := &CommandProcessor{
		queueCapacity: DefaultQueueCapacity,
		handlers:      make(map[command.CommandType]CommandHandler),
		readyCh:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// RegisterHandler registers a handler for a command type.
// Must be called before Run(). The handler is wrapped with all configured middleware.
func (p *CommandProcessor) RegisterHandler(cmdType command.CommandType, handler CommandHandler) {
	p.handlers[cmdType] = ChainMiddleware(handler, p.middlewares...)
}

// Run starts the command processing loop.
// It blocks until ctx is cancelled, Stop() is called or a Drain completes.
// Only the first call runs; later calls return immediately.
func (p *CommandProcessor) Run(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.queue = make(chan queueItem, p.queueCapacity)

	// Add to wait group BEFORE setting running to avoid race with Drain()
	p.wg.Add(1)
	p.running.Store(true)

	p.readyMu.Lock()
	if !p.readySet {
		close(p.readyCh)
		p.readySet = true
	}
	p.readyMu.Unlock()

	defer func() {
		p.running.Store(false)
		p.wg.Done()
	}()

	for {
		select {
		case <-p.ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			p.processItem(item)
		}
	}
}

// WaitForReady blocks until the processor is ready to accept commands.
func (p *CommandProcessor) WaitForReady(ctx context.Context) error {
	select {
	case <-p.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit adds a command to the queue for asynchronous processing.
// Returns ErrQueueFull if the queue is at capacity or the processor is not running.
func (p *CommandProcessor) Submit(cmd command.Command) error {
	if !p.running.Load() {
		return command.ErrQueueFull
	}

	select {
	case p.queue <- queueItem{cmd: cmd}:
		return nil
	default:
		return command.ErrQueueFull
	}
}

// SubmitAndWait adds a command to the queue and waits for its result.
// Calling it from inside a handler would wait on itself, so a context that
// carries the handler marker is rejected with types.ErrReentrantCall.
func (p *CommandProcessor) SubmitAndWait(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	if InHandler(ctx) {
		return nil, fmt.Errorf("submit %s: %w", cmd.Type(), types.ErrReentrantCall)
	}
	if !p.running.Load() {
		return nil, command.ErrQueueFull
	}

	resultCh := make(chan *command.CommandResult, 1)
	item := queueItem{cmd: cmd, resultCh: resultCh}

	select {
	case p.queue <- item:
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, command.ErrQueueFull
	}

	select {
	case result := <-resultCh:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, context.Canceled
	}
}

// Stop cancels the processing context and waits for shutdown.
// Pending commands in the queue are NOT processed.
func (p *CommandProcessor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Drain processes all remaining commands in the queue before stopping.
func (p *CommandProcessor) Drain() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.queue)
	p.wg.Wait()
}

// IsRunning returns true if the processor is currently accepting commands.
func (p *CommandProcessor) IsRunning() bool {
	return p.running.Load()
}

// ProcessedCount returns the total number of commands processed.
func (p *CommandProcessor) ProcessedCount() int64 {
	return p.processedCount.Load()
}

// ErrorCount returns the total number of commands that failed.
func (p *CommandProcessor) ErrorCount() int64 {
	return p.errorCount.Load()
}

// QueueLength returns the current number of pending commands.
func (p *CommandProcessor) QueueLength() int {
	if p.queue == nil {
		return 0
	}
	return len(p.queue)
}

func (p *CommandProcessor) processItem(item queueItem) {
	result := p.processCommand(item.cmd)

	p.processedCount.Add(1)
	if !result.Success {
		p.errorCount.Add(1)
	}

	if item.resultCh != nil {
		item.resultCh <- result
		close(item.resultCh)
	}
}

// processCommand runs validate, route, handle, publish, follow-up.
// Errors are wrapped in the CommandResult, never returned separately.
func (p *CommandProcessor) processCommand(cmd command.Command) *command.CommandResult {
	if err := cmd.Validate(); err != nil {
		return p.fail(cmd, err)
	}

	handler, ok := p.handlers[cmd.Type()]
	if !ok {
		return p.fail(cmd, fmt.Errorf("%s: %w", cmd.Type(), ErrUnknownCommandType))
	}

	result, err := handler.Handle(p.ctx, cmd)
	if err != nil {
		return p.fail(cmd, err)
	}
	if result == nil {
		result = command.SuccessResult(nil)
	}
	if !result.Success {
		if result.Error == nil {
			result.Error = fmt.Errorf("%s failed without error details", cmd.Type())
		}
		p.emitErrorEvent(cmd, result.Error)
		return result
	}

	// Events are already committed by the handler's transaction.
	p.emitEvents(result.Events)

	for _, followUp := range result.FollowUp {
		select {
		case p.queue <- queueItem{cmd: followUp}:
		default:
			log.Warn(log.CatCommands, "follow-up dropped, queue full",
				"command_id", followUp.ID(),
				"command_type", followUp.Type().String(),
			)
		}
	}

	return result
}

func (p *CommandProcessor) fail(cmd command.Command, err error) *command.CommandResult {
	p.emitErrorEvent(cmd, err)
	return command.ErrorResult(err)
}

func (p *CommandProcessor) emitEvents(evts []any) {
	if p.eventBus == nil {
		return
	}
	for _, ev := range evts {
		p.eventBus.Publish(pubsub.CreatedEvent, ev)
	}
}

func (p *CommandProcessor) emitErrorEvent(cmd command.Command, err error) {
	if p.eventBus == nil {
		return
	}
	p.eventBus.Publish(pubsub.UpdatedEvent, CommandErrorEvent{
		CommandID:   cmd.ID(),
		CommandType: cmd.Type(),
		Error:       err,
	})
}
