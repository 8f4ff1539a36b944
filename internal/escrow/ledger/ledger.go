// Package ledger defines the Funds Ledger the escrow engine moves value through,
// an in-memory implementation, and helpers for decimal amounts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

// ErrTransferFailed wraps every ledger failure. Any such failure aborts the
// enclosing operation.
var ErrTransferFailed = errors.New("ledger transfer failed")

// ErrInsufficientFunds is returned when a balance cannot cover a debit.
var ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", ErrTransferFailed)

// Ledger moves value between accounts and the engine's custody account.
type Ledger interface {
	// Collect debits amount from the payer into custody.
	Collect(ctx context.Context, from types.Identity, amount *uint256.Int) error
	// Transfer pays amount out of custody to the payee.
	Transfer(ctx context.Context, to types.Identity, amount *uint256.Int) error
}

// Hook observes ledger calls; returning an error fails the call before any balance moves.
type Hook func(ctx context.Context, op string, who types.Identity, amount *uint256.Int) error

// MemoryLedger is a thread-safe in-memory Ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[types.Identity]*uint256.Int
	custody  *uint256.Int
	hook     Hook
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[types.Identity]*uint256.Int),
		custody:  new(uint256.Int),
	}
}

// SetHook installs a hook consulted before every Collect and Transfer.
func (l *MemoryLedger) SetHook(h Hook) {
	l.mu.Lock()
	l.hook = h
	l.mu.Unlock()
}

// Deposit credits an account from outside the system.
func (l *MemoryLedger) Deposit(who types.Identity, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account(who).Add(l.account(who), amount)
}

// Balance returns a copy of the account balance.
func (l *MemoryLedger) Balance(who types.Identity) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[who]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Custody returns a copy of the value held by the engine.
func (l *MemoryLedger) Custody() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.custody.Clone()
}

// Accounts returns the identities holding a balance, sorted.
func (l *MemoryLedger) Accounts() []types.Identity {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Identity, 0, len(l.balances))
	for id := range l.balances {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Collect moves amount from the payer's balance into custody.
func (l *MemoryLedger) Collect(ctx context.Context, from types.Identity, amount *uint256.Int) error {
	if err := l.runHook(ctx, "collect", from, amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[from]
	if !ok || bal.Lt(amount) {
		return fmt.Errorf("collect %s from %s: %w", amount.Dec(), from, ErrInsufficientFunds)
	}
	bal.Sub(bal, amount)
	l.custody.Add(l.custody, amount)
	return nil
}

// Transfer pays amount out of custody.
func (l *MemoryLedger) Transfer(ctx context.Context, to types.Identity, amount *uint256.Int) error {
	if err := l.runHook(ctx, "transfer", to, amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.custody.Lt(amount) {
		return fmt.Errorf("transfer %s to %s: custody short: %w", amount.Dec(), to, ErrInsufficientFunds)
	}
	l.custody.Sub(l.custody, amount)
	bal := l.account(to)
	bal.Add(bal, amount)
	return nil
}

// runHook calls the hook without holding the lock so it may re-enter the ledger.
func (l *MemoryLedger) runHook(ctx context.Context, op string, who types.Identity, amount *uint256.Int) error {
	l.mu.Lock()
	h := l.hook
	l.mu.Unlock()
	if h == nil {
		return nil
	}
	if err := h(ctx, op, who, amount); err != nil {
		if errors.Is(err, ErrTransferFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// account returns the live balance for who, creating it. Caller holds l.mu.
func (l *MemoryLedger) account(who types.Identity) *uint256.Int {
	b, ok := l.balances[who]
	if !ok {
		b = new(uint256.Int)
		l.balances[who] = b
	}
	return b
}
