// Package command defines the intents that enter the marketplace: one Command per
// public registry or engine operation, plus the BaseCommand, CommandResult and
// CommandHandler types shared by the processor and the handlers.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

// Command represents an explicit intent entering the marketplace.
// All commands must implement this interface to be processed by the FIFO processor.
type Command interface {
	// ID returns unique command identifier for tracing/correlation
	ID() string
	// Type returns the command type for routing to handlers
	Type() CommandType
	// Validate checks command preconditions that need no state
	Validate() error
	// Priority returns execution priority (0=normal, 1=urgent)
	Priority() int
	// CreatedAt returns when command was created
	CreatedAt() time.Time
}

// CommandType identifies the kind of command for handler routing.
type CommandType string

const (
	// Directory Commands

	// CmdGenesis seeds the authorization directory once.
	CmdGenesis CommandType = "genesis"
	// CmdAddAdmin grants the admin role.
	CmdAddAdmin CommandType = "add_admin"
	// CmdRemoveAdmin revokes the admin role.
	CmdRemoveAdmin CommandType = "remove_admin"
	// CmdAuthorizeMarketplace replaces the authorized marketplace identity.
	CmdAuthorizeMarketplace CommandType = "authorize_marketplace"

	// Asset Registry Commands

	// CmdMint creates a Pending asset.
	CmdMint CommandType = "mint"
	// CmdVerify moves an asset from Pending to Verified.
	CmdVerify CommandType = "verify"
	// CmdLock freezes ordinary transfers of an asset.
	CmdLock CommandType = "lock"
	// CmdUnlock releases a locked asset.
	CmdUnlock CommandType = "unlock"
	// CmdMarkDisputed flags a locked asset as disputed.
	CmdMarkDisputed CommandType = "mark_disputed"
	// CmdApprove delegates ordinary transfer rights to an operator.
	CmdApprove CommandType = "approve"
	// CmdTransfer moves an unlocked asset between holders.
	CmdTransfer CommandType = "transfer"
	// CmdPrivilegedTransfer moves an asset regardless of lock state.
	CmdPrivilegedTransfer CommandType = "privileged_transfer"

	// Marketplace Commands

	// CmdList offers an asset for sale.
	CmdList CommandType = "list"
	// CmdUnlist withdraws an active listing.
	CmdUnlist CommandType = "unlist"
	// CmdPurchase buys a listed asset into escrow.
	CmdPurchase CommandType = "purchase"
	// CmdConfirm records one party's confirmation.
	CmdConfirm CommandType = "confirm"
	// CmdAutoRelease settles an escrow after the confirmation period.
	CmdAutoRelease CommandType = "auto_release"
	// CmdRaiseDispute freezes an escrow for admin resolution.
	CmdRaiseDispute CommandType = "raise_dispute"
	// CmdResolveDispute settles a disputed escrow.
	CmdResolveDispute CommandType = "resolve_dispute"
	// CmdWithdrawFees pays out the fee pool.
	CmdWithdrawFees CommandType = "withdraw_fees"
	// CmdUpdateFee changes the marketplace fee.
	CmdUpdateFee CommandType = "update_fee"
)

// String returns the string representation of the CommandType.
func (ct CommandType) String() string {
	return string(ct)
}

// CommandSource identifies where the command originated.
type CommandSource string

const (
	// SourceCLI indicates the command came from a ticketbay CLI invocation.
	SourceCLI CommandSource = "cli"
	// SourceScript indicates the command came from an exec script step.
	SourceScript CommandSource = "script"
	// SourceInternal indicates the command was system-generated (e.g., genesis at startup).
	SourceInternal CommandSource = "internal"
	// SourceAPI indicates the command came from a library caller.
	SourceAPI CommandSource = "api"
)

// String returns the string representation of the CommandSource.
func (cs CommandSource) String() string {
	return string(cs)
}

// BaseCommand provides common fields for all commands.
// Concrete command types should embed this struct.
type BaseCommand struct {
	id          string
	cmdType     CommandType
	priority    int
	createdAt   time.Time
	source      CommandSource
	traceID     string
	spanContext trace.SpanContext
}

// NewBaseCommand creates a BaseCommand with a generated UUID and current timestamp.
func NewBaseCommand(cmdType CommandType, source CommandSource) BaseCommand {
	return BaseCommand{
		id:        uuid.New().String(),
		cmdType:   cmdType,
		createdAt: time.Now(),
		source:    source,
	}
}

// ID returns the unique command identifier.
func (b *BaseCommand) ID() string {
	return b.id
}

// Type returns the command type for handler routing.
func (b *BaseCommand) Type() CommandType {
	return b.cmdType
}

// Priority returns the execution priority (0=normal, 1=urgent).
func (b *BaseCommand) Priority() int {
	return b.priority
}

// CreatedAt returns when the command was created.
func (b *BaseCommand) CreatedAt() time.Time {
	return b.createdAt
}

// Source returns the origin of this command.
func (b *BaseCommand) Source() CommandSource {
	return b.source
}

// TraceID returns the correlation ID for related commands.
// A valid SpanContext wins over a manually set trace id.
func (b *BaseCommand) TraceID() string {
	if b.spanContext.IsValid() {
		return b.spanContext.TraceID().String()
	}
	return b.traceID
}

// SetTraceID sets the correlation ID for command tracing.
func (b *BaseCommand) SetTraceID(traceID string) {
	b.traceID = traceID
}

// SpanContext returns the OpenTelemetry span context for trace propagation.
func (b *BaseCommand) SpanContext() trace.SpanContext {
	return b.spanContext
}

// SetSpanContext sets the OpenTelemetry span context for trace propagation.
func (b *BaseCommand) SetSpanContext(sc trace.SpanContext) {
	b.spanContext = sc
}

// SetPriority sets the execution priority.
func (b *BaseCommand) SetPriority(priority int) {
	b.priority = priority
}

// Validate is a no-op for BaseCommand. Concrete commands should override this.
func (b *BaseCommand) Validate() error {
	return nil
}

// CommandResult contains the outcome of command execution.
type CommandResult struct {
	// Success indicates whether the command executed successfully.
	Success bool
	// Events contains the committed domain events, published after the handler returns.
	Events []any
	// FollowUp contains commands to enqueue after the current one.
	FollowUp []Command
	// Error contains the error if Success is false.
	Error error
	// Data contains optional result data for the caller.
	Data any
}

// ErrQueueFull is returned when the command queue has reached capacity.
var ErrQueueFull = errors.New("command queue is full")

// CommandHandler executes one command type.
type CommandHandler interface {
	Handle(ctx context.Context, cmd Command) (*CommandResult, error)
}

// HandlerFunc adapts a function to CommandHandler.
type HandlerFunc func(ctx context.Context, cmd Command) (*CommandResult, error)

// Handle calls f(ctx, cmd).
func (f HandlerFunc) Handle(ctx context.Context, cmd Command) (*CommandResult, error) {
	return f(ctx, cmd)
}

// SuccessResult builds a successful result carrying data and events.
func SuccessResult(data any, evts ...any) *CommandResult {
	return &CommandResult{Success: true, Data: data, Events: evts}
}

// ErrorResult builds a failed result.
func ErrorResult(err error) *CommandResult {
	return &CommandResult{Success: false, Error: err}
}

// ===========================================================================
// Validation helpers
// ===========================================================================

func requireIdentity(field string, id types.Identity) error {
	if id.IsZero() {
		return fmt.Errorf("%s is required: %w", field, types.ErrEmptyIdentity)
	}
	return nil
}

func requireAsset(id types.AssetID) error {
	if id == 0 {
		return fmt.Errorf("asset id is required: %w", types.ErrInvalidValue)
	}
	return nil
}

// TargetAsset returns the asset a command operates on. Directory, mint and
// treasury commands have no target.
func TargetAsset(cmd Command) (types.AssetID, bool) {
	switch c := cmd.(type) {
	case *ListCommand:
		return c.AssetID, true
	case *UnlistCommand:
		return c.AssetID, true
	case *PurchaseCommand:
		return c.AssetID, true
	case *EscrowCommand:
		return c.AssetID, true
	case *RaiseDisputeCommand:
		return c.AssetID, true
	case *ResolveDisputeCommand:
		return c.AssetID, true
	case *AssetCommand:
		return c.AssetID, true
	case *ApproveCommand:
		return c.AssetID, true
	case *TransferCommand:
		return c.AssetID, true
	default:
		return 0, false
	}
}
