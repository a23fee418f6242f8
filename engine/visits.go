/*
visits.go - Consumption/refund protocol

PURPOSE:
  The visit-booked / visit-cancelled state machine, keyed by the external
  visit reference. Consumption always succeeds: when no order is available
  the balance goes negative by borrowing against the next allocation.

CONSUMPTION PRIORITY:
  Oldest AVAILABLE PVO first, then oldest AVAILABLE VO, then a borrowed
  NegativeVisitOrder(VO). PVOs are spent first because they expire faster
  and cannot accumulate.

REFUND:
  A refunded PVO is re-dated to the first instant of the current month so
  the next allocation pass does not immediately expire it. A refund with no
  matching order deletes the matching negative order outright (the borrow
  never really happened). A refund matching nothing at all compensates with
  a brand-new AVAILABLE VO.
*/
package engine

import (
	"context"

	"github.com/gatehouse/visit-order-engine/vorder"
)

// =============================================================================
// CONSUME - visit booked
// =============================================================================

// Consume marks one order USED for a visit booking. Always succeeds for a
// reachable store: if the prisoner holds no available order, entitlement is
// borrowed and the balance goes negative.
func (e *Engine) Consume(ctx context.Context, prisonerID, visitRef string) (*vorder.HistoryEntry, error) {
	unlock := e.locks.acquire(prisonerID)
	defer unlock()

	ledger, err := e.loadOrCreate(ctx, prisonerID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	usedKind := ""

	if i := ledger.OldestOrderIndex(vorder.KindPVO, vorder.StatusAvailable); i != -1 {
		ledger.VisitOrders[i].Status = vorder.StatusUsed
		ledger.VisitOrders[i].VisitRef = visitRef
		usedKind = string(vorder.KindPVO)
	} else if i := ledger.OldestOrderIndex(vorder.KindVO, vorder.StatusAvailable); i != -1 {
		ledger.VisitOrders[i].Status = vorder.StatusUsed
		ledger.VisitOrders[i].VisitRef = visitRef
		usedKind = string(vorder.KindVO)
	} else {
		ledger.NegativeVisitOrders = append(ledger.NegativeVisitOrders,
			vorder.NewNegativeVisitOrder(prisonerID, vorder.KindVO, visitRef, now))
		usedKind = "NEGATIVE_VO"
	}
	visitsConsumed.WithLabelValues(usedKind).Inc()

	entry := ledger.AppendHistory(vorder.ChangeUsedByVisit, "SYSTEM", "", visitRef, now, map[string]string{
		"visitRef": visitRef,
		"usedKind": usedKind,
	})
	if err := e.store.SaveLedger(ctx, ledger); err != nil {
		return nil, err
	}
	return entry, nil
}

// ConsumeByRef resolves a visit reference through the visit registry and then
// consumes an order for the booked prisoner. Used when the caller only knows
// the reference.
func (e *Engine) ConsumeByRef(ctx context.Context, visitRef string) (*vorder.HistoryEntry, error) {
	visit, err := e.visits.Lookup(ctx, visitRef)
	if err != nil {
		return nil, &vorder.UpstreamError{System: "visit-registry", Err: err}
	}
	return e.Consume(ctx, visit.PrisonerID, visitRef)
}

// =============================================================================
// REFUND - visit cancelled
// =============================================================================

// Refund restores the order consumed by a cancelled visit.
func (e *Engine) Refund(ctx context.Context, prisonerID, visitRef string) (*vorder.HistoryEntry, error) {
	unlock := e.locks.acquire(prisonerID)
	defer unlock()

	ledger, err := e.loadOrCreate(ctx, prisonerID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	outcome := ""

	switch i := ledger.FindUsedOrderByVisitRef(visitRef); {
	case i != -1:
		order := &ledger.VisitOrders[i]
		if order.Kind == vorder.KindPVO {
			// Re-date to the start of the current month so the returned PVO is
			// not expired on the very next allocation pass. Late in a month
			// longer than the expiry window the 1st is already too old, so
			// clamp the re-date inside the window.
			redate := vorder.StartOfMonth(now)
			if floor := now.AddDate(0, 0, -(e.rules.PVOExpiryAgeDays - 1)); redate.Before(floor) {
				redate = floor
			}
			order.CreatedAt = redate
		}
		order.Status = vorder.StatusAvailable
		order.VisitRef = ""
		outcome = "restored_" + string(order.Kind)

	case ledger.FindNegativeByVisitRef(visitRef) != -1:
		// The booking only ever borrowed; delete the debt outright.
		ledger.RemoveNegative(ledger.FindNegativeByVisitRef(visitRef))
		outcome = "negative_removed"

	default:
		// Inconsistent state: nothing matches the reference. Compensate the
		// prisoner with a fresh order rather than losing entitlement.
		ledger.AddOrders(vorder.KindVO, 1, now)
		outcome = "compensated"
	}
	visitsRefunded.Inc()

	entry := ledger.AppendHistory(vorder.ChangeRefundedByCancel, "SYSTEM", "", visitRef, now, map[string]string{
		"visitRef": visitRef,
		"outcome":  outcome,
	})
	if err := e.store.SaveLedger(ctx, ledger); err != nil {
		return nil, err
	}
	return entry, nil
}

// RefundByRef resolves a visit reference through the visit registry and then
// refunds the cancelled visit for the booked prisoner.
func (e *Engine) RefundByRef(ctx context.Context, visitRef string) (*vorder.HistoryEntry, error) {
	visit, err := e.visits.Lookup(ctx, visitRef)
	if err != nil {
		return nil, &vorder.UpstreamError{System: "visit-registry", Err: err}
	}
	return e.Refund(ctx, visit.PrisonerID, visitRef)
}
