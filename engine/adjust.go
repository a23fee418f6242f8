/*
adjust.go - Manual adjustment validator and applier

PURPOSE:
  Bounded signed-delta application for staff corrections. Validation
  collects EVERY violated rule before rejecting - a request breaching both
  the VO cap and the PVO floor reports both codes in one response.

APPLY RULES (per kind):
  delta > 0: repay outstanding negatives oldest-first (always, even when the
             repayment alone does not bring the balance positive), then
             create the remainder as AVAILABLE orders.
  delta < 0: consume oldest-first - VO from the ACCUMULATED bucket before
             AVAILABLE, PVO from AVAILABLE only - marking orders USED.
  delta = 0: no-op for that kind.

Exactly one MANUAL_PRISONER_BALANCE_ADJUSTMENT history entry is appended,
and one notification event is emitted after commit.
*/
package engine

import (
	"context"
	"strconv"

	"github.com/gatehouse/visit-order-engine/vorder"
)

// Adjustment is a staff-initiated balance correction. Either delta may be
// nil (untouched), but not both.
type Adjustment struct {
	VODelta        *int
	PVODelta       *int
	Actor          string
	Reason         string
	Comment        string
	CorrelationRef string
}

// AdjustBalance validates and applies a manual adjustment. Validation
// failures are returned as *vorder.ValidationError carrying the complete
// list of breached rules. On success the returned error, if any, is a
// *vorder.PublishError: the mutation is committed and only the
// notification failed.
func (e *Engine) AdjustBalance(ctx context.Context, prisonerID string, adj Adjustment) (*vorder.HistoryEntry, error) {
	voDelta := deref(adj.VODelta)
	pvoDelta := deref(adj.PVODelta)
	if voDelta == 0 && pvoDelta == 0 {
		return nil, vorder.ErrNoAdjustment
	}

	unlock := e.locks.acquire(prisonerID)
	defer unlock()

	ledger, err := e.loadOrCreate(ctx, prisonerID)
	if err != nil {
		return nil, err
	}

	if verr := e.validateAdjustment(ledger, voDelta, pvoDelta); verr != nil {
		return nil, verr
	}

	now := e.now()
	e.applyDelta(ledger, vorder.KindVO, voDelta, now)
	e.applyDelta(ledger, vorder.KindPVO, pvoDelta, now)

	entry := ledger.AppendHistory(vorder.ChangeManualAdjustment, adj.Actor, adj.Comment, adj.CorrelationRef, now, map[string]string{
		"reason":   adj.Reason,
		"voDelta":  strconv.Itoa(voDelta),
		"pvoDelta": strconv.Itoa(pvoDelta),
	})
	if err := e.store.SaveLedger(ctx, ledger); err != nil {
		return nil, err
	}

	// Post-commit: a publish failure is reported, never rolled back on.
	if perr := e.publish(ctx, prisonerID, adj.CorrelationRef, true); perr != nil {
		return entry, perr
	}
	return entry, nil
}

// validateAdjustment checks the cap and zero-floor rules for both kinds and
// returns every violation at once, or nil.
func (e *Engine) validateAdjustment(ledger *vorder.PrisonerLedger, voDelta, pvoDelta int) *vorder.ValidationError {
	var violations []vorder.Violation

	// An increase is only ever blamed for breaching the cap and a decrease
	// for breaching the floor: a positive delta that repays debt without
	// bringing the balance positive is legitimate.
	vo := vorder.CountsFor(ledger, vorder.KindVO).Balance + voDelta
	if voDelta > 0 && vo > e.rules.MaxVOBalance {
		violations = append(violations, vorder.ViolationVOAboveMax)
	}
	if voDelta < 0 && vo < 0 {
		violations = append(violations, vorder.ViolationVOBelowZero)
	}

	pvo := vorder.CountsFor(ledger, vorder.KindPVO).Balance + pvoDelta
	if pvoDelta > 0 && pvo > e.rules.MaxPVOBalance {
		violations = append(violations, vorder.ViolationPVOAboveMax)
	}
	if pvoDelta < 0 && pvo < 0 {
		violations = append(violations, vorder.ViolationPVOBelowZero)
	}

	if len(violations) == 0 {
		return nil
	}
	return &vorder.ValidationError{PrisonerID: ledger.PrisonerID, Violations: violations}
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
