// Package types provides the identities, statuses, and error sentinels shared by
// the asset registry and the escrow engine.
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Identity is an opaque account identifier (seller, buyer, admin, marketplace).
type Identity string

// NoIdentity is the zero Identity.
const NoIdentity Identity = ""

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

func (id Identity) String() string {
	return string(id)
}

// AssetID identifies an asset in the registry. IDs are assigned sequentially from 1.
type AssetID uint64

func (id AssetID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseAssetID parses the decimal form produced by String.
func ParseAssetID(s string) (AssetID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: asset id %q", ErrInvalidValue, s)
	}
	return AssetID(n), nil
}

// AssetStatus is the registry lifecycle status of an asset.
type AssetStatus string

const (
	StatusPending  AssetStatus = "pending"
	StatusVerified AssetStatus = "verified"
	StatusLocked   AssetStatus = "locked"
	StatusUnlocked AssetStatus = "unlocked"
	StatusDisputed AssetStatus = "disputed"
)

// IsLockedStatus reports whether an asset in this status must carry the lock flag.
// A disputed asset stays locked until the dispute is resolved.
func (s AssetStatus) IsLockedStatus() bool {
	return s == StatusLocked || s == StatusDisputed
}

// IsListable reports whether an asset in this status may be listed or locked for sale.
func (s AssetStatus) IsListable() bool {
	return s == StatusVerified || s == StatusUnlocked
}

// IsValid reports whether s is one of the known statuses.
func (s AssetStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusLocked, StatusUnlocked, StatusDisputed:
		return true
	}
	return false
}

func (s AssetStatus) String() string {
	return string(s)
}

// Authorizer answers the role questions every privileged entry point asks.
type Authorizer interface {
	IsAdmin(id Identity) bool
	IsAuthorizedMarketplace(id Identity) bool
	Owner() Identity
}

// BasisPoints is a fee rate in hundredths of a percent.
type BasisPoints uint16

// MaxFeeBps is the ceiling for the marketplace fee (10%).
const MaxFeeBps BasisPoints = 1000

// DefaultFeeBps is the fee applied when none is configured (2.5%).
const DefaultFeeBps BasisPoints = 250

func (b BasisPoints) String() string {
	return fmt.Sprintf("%d.%02d%%", b/100, b%100)
}
