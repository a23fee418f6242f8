/*
ledger.go - PrisonerLedger aggregate

PURPOSE:
  The PrisonerLedger is the aggregate root for one prisoner's entitlement:
  it owns the visit orders, the negative visit orders, and the append-only
  history. Every mutating operation in the engine loads the whole aggregate
  under the prisoner's lock, mutates it in memory, and saves it back in one
  transaction.

CRITICAL INVARIANTS:
  1. History is APPEND-ONLY: entries get a monotonically increasing Seq and
     are never edited or removed.
  2. Only VO may be ACCUMULATED; PVO moves AVAILABLE -> {USED, EXPIRED}.
  3. Children reference the ledger by PrisonerID only - no back-pointers.
  4. "Oldest-first" selection is by CreatedAt, insertion order as tiebreak.

LAZY CREATION:
  A ledger is created on first touch by any operation. The only path that
  deletes one is migration's reset-then-recreate step.

SEE ALSO:
  - balance.go: Derived counts and next-due dates
  - store.go: Persistence contract for the aggregate
*/
package vorder

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// PRISONER LEDGER - Aggregate root
// =============================================================================

// PrisonerLedger owns one prisoner's visit orders, negative orders, and
// history. Identity is the prisoner identifier, the stable external key.
type PrisonerLedger struct {
	PrisonerID           string
	VisitOrders          []VisitOrder
	NegativeVisitOrders  []NegativeVisitOrder
	History              []HistoryEntry
	LastVOAllocatedDate  *time.Time
	LastPVOAllocatedDate *time.Time
}

// NewPrisonerLedger creates an empty ledger for a prisoner.
func NewPrisonerLedger(prisonerID string) *PrisonerLedger {
	return &PrisonerLedger{PrisonerID: prisonerID}
}

// =============================================================================
// ORDER SELECTION - Oldest-first by CreatedAt
// =============================================================================

// OldestOrderIndex returns the index of the oldest order of the given kind
// and status, or -1. Oldest means smallest CreatedAt; ties resolve to the
// earlier slice position.
func (l *PrisonerLedger) OldestOrderIndex(kind Kind, status Status) int {
	best := -1
	for i, o := range l.VisitOrders {
		if o.Kind != kind || o.Status != status {
			continue
		}
		if best == -1 || o.CreatedAt.Before(l.VisitOrders[best].CreatedAt) {
			best = i
		}
	}
	return best
}

// OldestNegativeIndex returns the index of the oldest outstanding negative
// order of the given kind, or -1.
func (l *PrisonerLedger) OldestNegativeIndex(kind Kind) int {
	best := -1
	for i, n := range l.NegativeVisitOrders {
		if n.Kind != kind || n.Status != NegativeUsed {
			continue
		}
		if best == -1 || n.CreatedAt.Before(l.NegativeVisitOrders[best].CreatedAt) {
			best = i
		}
	}
	return best
}

// CountOrders counts visit orders of the given kind in any of the statuses.
func (l *PrisonerLedger) CountOrders(kind Kind, statuses ...Status) int {
	count := 0
	for _, o := range l.VisitOrders {
		if o.Kind != kind {
			continue
		}
		for _, s := range statuses {
			if o.Status == s {
				count++
				break
			}
		}
	}
	return count
}

// CountOutstandingNegatives counts USED negative orders of the given kind.
func (l *PrisonerLedger) CountOutstandingNegatives(kind Kind) int {
	count := 0
	for _, n := range l.NegativeVisitOrders {
		if n.Kind == kind && n.Status == NegativeUsed {
			count++
		}
	}
	return count
}

// =============================================================================
// MUTATION HELPERS
// =============================================================================

// AddOrders appends n AVAILABLE orders of the given kind.
func (l *PrisonerLedger) AddOrders(kind Kind, n int, createdAt time.Time) {
	for i := 0; i < n; i++ {
		l.VisitOrders = append(l.VisitOrders, NewVisitOrder(l.PrisonerID, kind, createdAt))
	}
}

// RepayNegatives marks up to max outstanding negatives of the given kind
// REPAID, oldest-first, and returns how many were repaid.
func (l *PrisonerLedger) RepayNegatives(kind Kind, max int, repaidAt time.Time) int {
	repaid := 0
	for repaid < max {
		i := l.OldestNegativeIndex(kind)
		if i == -1 {
			break
		}
		at := repaidAt
		l.NegativeVisitOrders[i].Status = NegativeRepaid
		l.NegativeVisitOrders[i].RepaidAt = &at
		repaid++
	}
	return repaid
}

// RemoveNegative deletes the negative order at index i outright. Used only
// by refund, where the borrowed "use" never really happened.
func (l *PrisonerLedger) RemoveNegative(i int) {
	l.NegativeVisitOrders = append(l.NegativeVisitOrders[:i], l.NegativeVisitOrders[i+1:]...)
}

// FindUsedOrderByVisitRef returns the index of the USED visit order linked
// to the given visit reference, or -1.
func (l *PrisonerLedger) FindUsedOrderByVisitRef(visitRef string) int {
	for i, o := range l.VisitOrders {
		if o.Status == StatusUsed && o.VisitRef == visitRef {
			return i
		}
	}
	return -1
}

// FindNegativeByVisitRef returns the index of the outstanding negative order
// linked to the given visit reference, or -1.
func (l *PrisonerLedger) FindNegativeByVisitRef(visitRef string) int {
	for i, n := range l.NegativeVisitOrders {
		if n.Status == NegativeUsed && n.VisitRef == visitRef {
			return i
		}
	}
	return -1
}

// =============================================================================
// HISTORY
// =============================================================================

// AppendHistory records a snapshot of the current balances with the given
// cause. Seq is assigned from the current history length; the entry carries
// the post-change balances.
func (l *PrisonerLedger) AppendHistory(changeType ChangeType, actor, comment, correlationRef string, at time.Time, attrs map[string]string) *HistoryEntry {
	entry := HistoryEntry{
		ID:             uuid.NewString(),
		PrisonerID:     l.PrisonerID,
		Seq:            len(l.History) + 1,
		Type:           changeType,
		Actor:          actor,
		Comment:        comment,
		VOBalance:      CountsFor(l, KindVO).Balance,
		PVOBalance:     CountsFor(l, KindPVO).Balance,
		Timestamp:      at,
		CorrelationRef: correlationRef,
		Attributes:     attrs,
	}
	l.History = append(l.History, entry)
	return &l.History[len(l.History)-1]
}

// HistorySince returns entries with a timestamp at or after since, in
// creation order.
func (l *PrisonerLedger) HistorySince(since time.Time) []HistoryEntry {
	var out []HistoryEntry
	for _, e := range l.History {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

// HistoryDeltaFor finds the entry with the given ID and returns its per-kind
// delta against the immediate predecessor (by Seq). An entry with no
// predecessor diffs against a zero baseline.
func (l *PrisonerLedger) HistoryDeltaFor(entryID string) (HistoryDelta, error) {
	idx := -1
	for i, e := range l.History {
		if e.ID == entryID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return HistoryDelta{}, ErrHistoryEntryNotFound
	}

	entry := l.History[idx]
	prevVO, prevPVO := 0, 0
	if idx > 0 {
		prevVO = l.History[idx-1].VOBalance
		prevPVO = l.History[idx-1].PVOBalance
	}
	return HistoryDelta{
		EntryID:  entry.ID,
		Type:     entry.Type,
		VODelta:  entry.VOBalance - prevVO,
		PVODelta: entry.PVOBalance - prevPVO,
	}, nil
}

// =============================================================================
// CHANGE DETECTION
// =============================================================================

// Fingerprint summarizes the order and negative-order sets. The allocation
// pass compares fingerprints before and after to decide whether a no-op pass
// should skip its history entry.
func (l *PrisonerLedger) Fingerprint() string {
	var b strings.Builder
	for _, o := range l.VisitOrders {
		fmt.Fprintf(&b, "o:%s:%s:%s;", o.ID, o.Status, o.VisitRef)
	}
	for _, n := range l.NegativeVisitOrders {
		fmt.Fprintf(&b, "n:%s:%s;", n.ID, n.Status)
	}
	return b.String()
}
