package types

import "errors"

// ===========================================================================
// Error Kinds
// ===========================================================================

// Every failure returned by the registry or the engine unwraps to exactly one of
// these kinds, so callers can branch with errors.Is.
var (
	// ErrUnauthorized means the caller lacks the required role or identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidState means the operation is not valid for the entity's current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidValue means an argument was rejected (price, fee, payment amount).
	ErrInvalidValue = errors.New("invalid value")
	// ErrNotFound means the referenced asset, listing or escrow does not exist.
	ErrNotFound = errors.New("not found")
	// ErrReentrant means a guarded operation was entered while another was in flight.
	ErrReentrant = errors.New("reentrant call")
)

// kindError is a specific failure that belongs to one of the error kinds.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// KindOf returns the error kind err belongs to, or nil when err is not a domain error.
func KindOf(err error) error {
	for _, kind := range []error{ErrUnauthorized, ErrInvalidState, ErrInvalidValue, ErrNotFound, ErrReentrant} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// ===========================================================================
// Authorization Errors
// ===========================================================================

var (
	ErrNotAdmin       = newError(ErrUnauthorized, "caller is not an admin")
	ErrNotOwner       = newError(ErrUnauthorized, "caller is not the directory owner")
	ErrNotMarketplace = newError(ErrUnauthorized, "caller is not the authorized marketplace")
	ErrNotAssetOwner  = newError(ErrUnauthorized, "caller is not the asset owner")
	ErrNotApproved    = newError(ErrUnauthorized, "caller is neither owner nor approved operator")
	ErrNotSeller      = newError(ErrUnauthorized, "caller is not the listing seller")
	ErrNotParty       = newError(ErrUnauthorized, "caller is not a party to the escrow")
	ErrMintRestricted = newError(ErrUnauthorized, "minting is restricted to admins")
)

// ===========================================================================
// State Errors
// ===========================================================================

var (
	ErrNotPending         = newError(ErrInvalidState, "asset is not pending")
	ErrNotLockable        = newError(ErrInvalidState, "asset is not verified or unlocked")
	ErrNotLocked          = newError(ErrInvalidState, "asset is not locked")
	ErrAssetLocked        = newError(ErrInvalidState, "asset is locked")
	ErrNotListable        = newError(ErrInvalidState, "asset status does not allow listing")
	ErrAlreadyListed      = newError(ErrInvalidState, "asset already has an active listing")
	ErrListedTransfer     = newError(ErrInvalidState, "asset with an active listing cannot be transferred")
	ErrNotListed          = newError(ErrInvalidState, "listing is not active")
	ErrStaleListing       = newError(ErrInvalidState, "listing seller no longer owns the asset")
	ErrEscrowOpen         = newError(ErrInvalidState, "asset has an open escrow")
	ErrEscrowCompleted    = newError(ErrInvalidState, "escrow is already completed")
	ErrEscrowDisputed     = newError(ErrInvalidState, "escrow is disputed")
	ErrNotDisputed        = newError(ErrInvalidState, "escrow is not disputed")
	ErrAlreadyConfirmed   = newError(ErrInvalidState, "party already confirmed")
	ErrConfirmationWindow = newError(ErrInvalidState, "confirmation period has not elapsed")
	ErrNoFees             = newError(ErrInvalidState, "fee pool is empty")
	ErrAlreadyAdmin       = newError(ErrInvalidState, "identity is already an admin")
	ErrNotAnAdmin         = newError(ErrInvalidState, "identity is not an admin")
	ErrGenesisApplied     = newError(ErrInvalidState, "directory already initialized")
)

// ===========================================================================
// Value Errors
// ===========================================================================

var (
	ErrInvalidPrice    = newError(ErrInvalidValue, "price must be greater than zero")
	ErrPaymentMismatch = newError(ErrInvalidValue, "payment does not equal listing price")
	ErrFeeTooHigh      = newError(ErrInvalidValue, "fee exceeds ceiling")
	ErrSelfPurchase    = newError(ErrInvalidValue, "buyer is the seller")
	ErrEmptyIdentity   = newError(ErrInvalidValue, "identity is empty")
	ErrWrongFrom       = newError(ErrInvalidValue, "from is not the current owner")
	ErrSelfApproval    = newError(ErrInvalidValue, "operator is the owner")
)

// ===========================================================================
// Not Found Errors
// ===========================================================================

var (
	ErrAssetNotFound   = newError(ErrNotFound, "asset not found")
	ErrListingNotFound = newError(ErrNotFound, "listing not found")
	ErrEscrowNotFound  = newError(ErrNotFound, "escrow not found")
)

// ErrReentrantCall is returned when a guarded operation is entered from inside another.
var ErrReentrantCall = newError(ErrReentrant, "operation already in progress")
