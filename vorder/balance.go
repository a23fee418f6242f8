/*
balance.go - Derived balance calculation

PURPOSE:
  Computes the available/accumulated/negative counts, the net balance per
  kind, and the next-allocation-due dates from a ledger snapshot. This is a
  pure function: no side effects, no errors, and the result is never stored.

THE PVO DUE-DATE RULE:
  PVO rides the VO cadence until the first PVO is issued. After that it has
  its own 28-day cadence, but it can never come due before the VO date if
  waiting would be later - concretely:

    nextVODue  = lastVOAllocatedDate + 14d   (zero time if never allocated)
    nextPVODue = nextVODue                    if lastPVOAllocatedDate is nil
               = lastPVOAllocatedDate + 28d   if that is after nextVODue
               = nextVODue                    otherwise

SEE ALSO:
  - ledger.go: The aggregate these counts are derived from
  - engine/allocation.go: The consumer of the due dates
*/
package vorder

import "time"

// =============================================================================
// BALANCE - Always derived, never stored
// =============================================================================

// KindBalance is the derived position for a single kind.
//
// Balance = Available + Accumulated - Negative.
type KindBalance struct {
	Available   int
	Accumulated int
	Negative    int
	Balance     int
}

// Balance is the full derived position for a prisoner.
type Balance struct {
	PrisonerID string
	VO         KindBalance
	PVO        KindBalance

	// NextVODue is the zero time if no VO has ever been allocated,
	// meaning an allocation is immediately due.
	NextVODue  time.Time
	NextPVODue time.Time
}

// DueAt reports whether a next-due date has been reached at now. The zero
// time (never allocated) is always due.
func DueAt(due, now time.Time) bool {
	return !due.After(now)
}

// =============================================================================
// CALCULATION
// =============================================================================

// CountsFor derives the position for one kind from the ledger collections.
func CountsFor(l *PrisonerLedger, kind Kind) KindBalance {
	kb := KindBalance{
		Available:   l.CountOrders(kind, StatusAvailable),
		Accumulated: l.CountOrders(kind, StatusAccumulated),
		Negative:    l.CountOutstandingNegatives(kind),
	}
	kb.Balance = kb.Available + kb.Accumulated - kb.Negative
	return kb
}

// Calculate derives the full balance, including next-due dates, from a
// ledger snapshot. Pure: the ledger is not touched.
func Calculate(l *PrisonerLedger, rules Rules) Balance {
	bal := Balance{
		PrisonerID: l.PrisonerID,
		VO:         CountsFor(l, KindVO),
		PVO:        CountsFor(l, KindPVO),
	}

	if l.LastVOAllocatedDate != nil {
		bal.NextVODue = l.LastVOAllocatedDate.AddDate(0, 0, rules.VOCadenceDays)
	}

	if l.LastPVOAllocatedDate == nil {
		// PVO has never been issued: it rides the VO cadence.
		bal.NextPVODue = bal.NextVODue
	} else {
		pvoDue := l.LastPVOAllocatedDate.AddDate(0, 0, rules.PVOCadenceDays)
		if pvoDue.After(bal.NextVODue) {
			bal.NextPVODue = pvoDue
		} else {
			bal.NextPVODue = bal.NextVODue
		}
	}

	return bal
}
