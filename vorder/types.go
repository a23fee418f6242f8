/*
Package vorder provides the core visit order balance engine types.

PURPOSE:
  This package contains the domain entities and algorithms for tracking a
  prisoner's visit entitlement. A prisoner holds visit orders (VO) and
  privileged visit orders (PVO); orders are generated on a cadence, consumed
  by visit bookings, accumulated, capped, and expired. The balance is never
  stored - it is always derived from the order collections.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind: VO vs PVO - the two entitlement currencies
  - VisitOrder: One unit of entitlement with a lifecycle status
  - NegativeVisitOrder: Entitlement borrowed against a future allocation
  - HistoryEntry: An immutable audit record of a balance change
  - Rules: The configured cadences, ages, and caps

DESIGN PRINCIPLES:
  1. Derived balance: counts are computed from the collections, never cached
  2. Append-only history: HistoryEntry is never mutated or deleted
  3. Aggregate ownership: children carry the prisoner identifier, never a
     live reference back to the ledger (no entity cycles)
  4. Whole orders: balances are integer counts - there is no fractional VO

SEE ALSO:
  - ledger.go: PrisonerLedger aggregate and its mutation helpers
  - balance.go: Balance calculation and next-allocation-due dates
  - errors.go: Error taxonomy
*/
package vorder

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// KIND - The two entitlement currencies
// =============================================================================

// Kind identifies which entitlement a visit order belongs to.
type Kind string

const (
	KindVO  Kind = "VO"  // standard visit order, 14-day cadence
	KindPVO Kind = "PVO" // privileged visit order, 28-day cadence
)

// Kinds lists both kinds in a stable order, VO first.
func Kinds() []Kind { return []Kind{KindVO, KindPVO} }

// =============================================================================
// VISIT ORDER - One unit of entitlement
// =============================================================================

// Status is the lifecycle state of a VisitOrder.
//
// VO:  AVAILABLE -> ACCUMULATED -> EXPIRED
//      AVAILABLE/ACCUMULATED -> USED -> AVAILABLE (on refund)
// PVO: AVAILABLE -> USED | EXPIRED (PVO never accumulates)
type Status string

const (
	StatusAvailable   Status = "AVAILABLE"
	StatusAccumulated Status = "ACCUMULATED"
	StatusUsed        Status = "USED"
	StatusExpired     Status = "EXPIRED"
)

// VisitOrder is a single unit of visit entitlement.
//
// VisitRef is set exactly while the order is USED by a visit booking and
// cleared when the booking is cancelled. A USED order created by a manual
// adjustment carries no VisitRef.
type VisitOrder struct {
	ID         string
	PrisonerID string
	Kind       Kind
	Status     Status
	CreatedAt  time.Time
	ExpiryDate *time.Time
	VisitRef   string
}

// NewVisitOrder creates an AVAILABLE order of the given kind.
func NewVisitOrder(prisonerID string, kind Kind, createdAt time.Time) VisitOrder {
	return VisitOrder{
		ID:         uuid.NewString(),
		PrisonerID: prisonerID,
		Kind:       kind,
		Status:     StatusAvailable,
		CreatedAt:  createdAt,
	}
}

// =============================================================================
// NEGATIVE VISIT ORDER - Entitlement borrowed against a future allocation
// =============================================================================

// NegativeStatus is the lifecycle state of a NegativeVisitOrder.
type NegativeStatus string

const (
	NegativeUsed   NegativeStatus = "USED"   // outstanding debt
	NegativeRepaid NegativeStatus = "REPAID" // settled by a later allocation
)

// NegativeVisitOrder records that a visit was booked with no order to
// consume. The balance goes negative and the debt is repaid oldest-first
// out of future allocations.
type NegativeVisitOrder struct {
	ID         string
	PrisonerID string
	Kind       Kind
	Status     NegativeStatus
	CreatedAt  time.Time
	RepaidAt   *time.Time
	VisitRef   string
}

// NewNegativeVisitOrder creates an outstanding (USED) negative order.
func NewNegativeVisitOrder(prisonerID string, kind Kind, visitRef string, createdAt time.Time) NegativeVisitOrder {
	return NegativeVisitOrder{
		ID:         uuid.NewString(),
		PrisonerID: prisonerID,
		Kind:       kind,
		Status:     NegativeUsed,
		CreatedAt:  createdAt,
		VisitRef:   visitRef,
	}
}

// =============================================================================
// HISTORY ENTRY - Immutable audit record
// =============================================================================

// ChangeType enumerates the causes of a balance change.
type ChangeType string

const (
	ChangeBatchProcess     ChangeType = "BATCH_PROCESS"
	ChangeUsedByVisit      ChangeType = "ALLOCATION_USED_BY_VISIT"
	ChangeRefundedByCancel ChangeType = "ALLOCATION_REFUNDED_BY_VISIT_CANCELLED"
	ChangeManualAdjustment ChangeType = "MANUAL_PRISONER_BALANCE_ADJUSTMENT"
	ChangeMigration        ChangeType = "MIGRATION"
	ChangeSync             ChangeType = "SYNC"
	ChangeMergeTopUp       ChangeType = "ALLOCATION_ADDED_AFTER_PRISONER_MERGE"
)

// HistoryEntry is an append-only snapshot of the ledger after a change.
// Ordering is by Seq, the per-ledger creation sequence. Entries are never
// mutated or deleted; the difference between two consecutive entries is the
// effect of the operation that produced the later one.
type HistoryEntry struct {
	ID             string
	PrisonerID     string
	Seq            int
	Type           ChangeType
	Actor          string
	Comment        string
	VOBalance      int
	PVOBalance     int
	Timestamp      time.Time
	CorrelationRef string
	Attributes     map[string]string
}

// HistoryDelta is the per-kind difference between a history entry and its
// immediate predecessor.
type HistoryDelta struct {
	EntryID  string
	Type     ChangeType
	VODelta  int
	PVODelta int
}

// =============================================================================
// RULES - Cadences, ages, and caps
// =============================================================================

// Rules holds the configured allocation parameters. Zero-value fields are
// not meaningful; use DefaultRules and override explicitly.
type Rules struct {
	// VOCadenceDays is the days between VO allocations.
	VOCadenceDays int
	// PVOCadenceDays is the days between PVO allocations.
	PVOCadenceDays int
	// AccumulationAgeDays is the age at which an AVAILABLE VO becomes
	// ACCUMULATED.
	AccumulationAgeDays int
	// PVOExpiryAgeDays is the age at which an AVAILABLE PVO expires.
	PVOExpiryAgeDays int
	// AccumulatedVOCap is the maximum number of ACCUMULATED VOs held;
	// the oldest excess is expired by the allocation pass.
	AccumulatedVOCap int
	// MaxVOBalance and MaxPVOBalance bound manual adjustments.
	MaxVOBalance  int
	MaxPVOBalance int
}

// DefaultRules returns the standard prison service parameters.
func DefaultRules() Rules {
	return Rules{
		VOCadenceDays:       14,
		PVOCadenceDays:      28,
		AccumulationAgeDays: 28,
		PVOExpiryAgeDays:    28,
		AccumulatedVOCap:    26,
		MaxVOBalance:        26,
		MaxPVOBalance:       26,
	}
}

// =============================================================================
// TIME HELPERS
// =============================================================================

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfMonth returns the first instant of t's month in UTC. Used when a
// refunded PVO is re-dated so it is not expired by the next allocation pass.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// OlderThan reports whether createdAt is more than ageDays before now.
func OlderThan(createdAt, now time.Time, ageDays int) bool {
	return createdAt.Before(now.AddDate(0, 0, -ageDays))
}
