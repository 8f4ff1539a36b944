package pubsub

import "context"

// Listener wraps one broker subscription for pull-style consumers such as
// the CLI event tail.
type Listener[T any] struct {
	ctx context.Context
	ch  <-chan Event[T]
}

// NewListener subscribes to broker for the lifetime of ctx.
func NewListener[T any](ctx context.Context, broker *Broker[T]) *Listener[T] {
	return &Listener[T]{ctx: ctx, ch: broker.Subscribe(ctx)}
}

// Next blocks until an event arrives. It returns false once the subscription
// ends or either context is done.
func (l *Listener[T]) Next(ctx context.Context) (Event[T], bool) {
	select {
	case <-ctx.Done():
		return Event[T]{}, false
	case <-l.ctx.Done():
		return Event[T]{}, false
	case ev, ok := <-l.ch:
		return ev, ok
	}
}

// Drain collects events already buffered without waiting.
func (l *Listener[T]) Drain() []Event[T] {
	var out []Event[T]
	for {
		select {
		case ev, ok := <-l.ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}
