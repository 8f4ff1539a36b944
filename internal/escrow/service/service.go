// Package service is the typed entry point to the marketplace. It owns the
// command processor, registers the handlers, and turns each public operation
// into a command submitted with SubmitAndWait. Reads go straight to the store,
// with per-asset snapshots cached and evicted from committed events.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zjrosen/ticketbay/internal/escrow/command"
	"github.com/zjrosen/ticketbay/internal/escrow/handler"
	"github.com/zjrosen/ticketbay/internal/escrow/ledger"
	"github.com/zjrosen/ticketbay/internal/escrow/market"
	"github.com/zjrosen/ticketbay/internal/escrow/processor"
	"github.com/zjrosen/ticketbay/internal/escrow/registry"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
	"github.com/zjrosen/ticketbay/internal/log"
	"github.com/zjrosen/ticketbay/internal/pubsub"
)

// ErrNotStarted is returned by operations submitted before Start or after Close.
var ErrNotStarted = errors.New("marketplace service is not running")

// Config configures a Service.
type Config struct {
	// Marketplace is the identity the engine presents to the registry.
	Marketplace types.Identity
	// ConfirmationPeriod defaults to market.DefaultConfirmationPeriod.
	ConfirmationPeriod time.Duration
	// OpenMinting lets anyone mint; false restricts minting to admins.
	OpenMinting bool
	// Now defaults to time.Now.
	Now func() time.Time

	// CacheTTL of zero uses cachemanager.DefaultExpiration. A negative value disables caching.
	CacheTTL             time.Duration
	CacheCleanupInterval time.Duration

	// QueueCapacity defaults to processor.DefaultQueueCapacity.
	QueueCapacity int
	// SlowCommandThreshold is passed to the timeout middleware.
	SlowCommandThreshold time.Duration
	// Middleware runs just inside the reentrancy guard (tracing, for example).
	Middleware []processor.Middleware
	// Source tags every command the service builds.
	Source command.CommandSource
}

// Service is the marketplace facade.
type Service struct {
	store     repository.Store
	registry  *registry.Registry
	engine    *market.Engine
	processor *processor.CommandProcessor
	guard     *processor.ReentrancyGuard
	bus       *pubsub.Broker[any]
	views     *viewCache
	source    command.CommandSource

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New wires a Service over store and funds ledger l. Call Start before submitting.
func New(store repository.Store, l ledger.Ledger, cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Source == "" {
		cfg.Source = command.SourceAPI
	}

	reg := registry.New(registry.WithClock(cfg.Now), registry.WithOpenMinting(cfg.OpenMinting))
	engine := market.NewEngine(reg, l, market.Config{
		Identity:           cfg.Marketplace,
		ConfirmationPeriod: cfg.ConfirmationPeriod,
		Now:                cfg.Now,
	})

	s := &Service{
		store:    store,
		registry: reg,
		engine:   engine,
		guard:    processor.NewReentrancyGuard(),
		bus:      pubsub.NewBroker[any](),
		source:   cfg.Source,
	}
	s.views = newViewCache(store, cfg.CacheTTL, cfg.CacheCleanupInterval)

	// guard(extra(logging(commandLog(timeout(views(handler))))))
	chain := append([]processor.Middleware{s.guard.Middleware()}, cfg.Middleware...)
	chain = append(chain,
		processor.NewLoggingMiddleware(processor.LoggingMiddlewareConfig{ExpectedFailuresAtInfo: true}),
		processor.NewCommandLogMiddleware(processor.CommandLogMiddlewareConfig{EventBus: s.bus}),
		processor.NewTimeoutMiddleware(processor.TimeoutMiddlewareConfig{WarningThreshold: cfg.SlowCommandThreshold}),
		s.views.middleware(),
	)

	opts := []processor.Option{
		processor.WithEventBus(s.bus),
		processor.WithMiddleware(chain...),
	}
	if cfg.QueueCapacity > 0 {
		opts = append(opts, processor.WithQueueCapacity(cfg.QueueCapacity))
	}

	s.processor = processor.NewCommandProcessor(opts...)
	handler.RegisterAll(s.processor, store, reg, engine)
	return s
}

// Start runs the command processor until ctx is cancelled or Close is called.
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.processor.Run(runCtx)
	}()

	if err := s.processor.WaitForReady(ctx); err != nil {
		cancel()
		return fmt.Errorf("start command processor: %w", err)
	}
	s.started = true
	log.Debug(log.CatCommands, "marketplace service started", "marketplace", s.engine.Identity())
	return nil
}

// Close drains queued commands, stops the processor and closes the event bus.
// The store is left open; it belongs to the caller.
func (s *Service) Close() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.started {
		return
	}
	s.processor.Drain()
	s.cancel()
	<-s.done
	s.bus.Close()
	s.started = false
	log.Debug(log.CatCommands, "marketplace service stopped",
		"processed", s.processor.ProcessedCount(),
		"failed", s.processor.ErrorCount(),
	)
}

// Events returns the broker carrying committed events.Event values,
// processor.CommandLogEvent and processor.CommandErrorEvent.
func (s *Service) Events() *pubsub.Broker[any] {
	return s.bus
}

// Engine exposes the engine for read-only accessors such as ConfirmationPeriod.
func (s *Service) Engine() *market.Engine {
	return s.engine
}

// Processor exposes processor counters.
func (s *Service) Processor() *processor.CommandProcessor {
	return s.processor
}

// submit runs cmd through the processor and unwraps a failed result into an error.
func (s *Service) submit(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	if processor.InHandler(ctx) {
		return nil, fmt.Errorf("%s: %w", cmd.Type(), types.ErrReentrantCall)
	}
	if !s.processor.IsRunning() {
		return nil, fmt.Errorf("%s: %w", cmd.Type(), ErrNotStarted)
	}

	result, err := s.processor.SubmitAndWait(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.Type(), err)
	}
	if !result.Success {
		return result, result.Error
	}
	return result, nil
}

func (s *Service) exec(ctx context.Context, cmd command.Command) error {
	_, err := s.submit(ctx, cmd)
	return err
}
