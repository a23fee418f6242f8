/*
reconcile.go - Migration, sync, booking move, and prisoner merge

PURPOSE:
  Reconciliation against the external system of record.

  Migrate:  bulk onboarding. Any existing ledger is discarded entirely, so
            re-migrating the same prisoner is idempotent - only the latest
            declaration survives. Balances are recreated synthetically and
            backdated so the prisoner becomes allocation-eligible soon.
  Sync:     ongoing drift correction. The declared old balance is compared
            with what we hold; disagreement raises a drift signal
            (observability only) and the delta is applied regardless, using
            the adjustment apply-rules WITHOUT cap/floor validation - the
            system of record is always trusted.
  Move:     a visit booking moved between prisoners is two independent
            syncs; no value transfers between the ledgers.
  Merge:    when two identities merge, the surviving ledger is topped up to
            the removed identity's balance per kind - never reduced.
*/
package engine

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/gatehouse/visit-order-engine/vorder"
)

// =============================================================================
// MIGRATE - bulk onboarding (reset then recreate)
// =============================================================================

// Migration declares a prisoner's balances in the system of record.
type Migration struct {
	VOBalance           int
	PVOBalance          int
	LastVOAllocatedDate *time.Time
	CorrelationRef      string
}

// Migrate discards any existing ledger for the prisoner and recreates it
// from the declared balances. Positive balances become AVAILABLE orders
// backdated to the declared allocation date (default today minus the
// accumulation age, forcing near-term re-eligibility); negative balances
// become outstanding negative orders dated today.
func (e *Engine) Migrate(ctx context.Context, prisonerID string, m Migration) error {
	unlock := e.locks.acquire(prisonerID)
	defer unlock()

	if err := e.store.DeleteLedger(ctx, prisonerID); err != nil {
		return err
	}

	now := e.now()
	backdate := vorder.StartOfDay(now).AddDate(0, 0, -e.rules.AccumulationAgeDays)
	if m.LastVOAllocatedDate != nil {
		backdate = *m.LastVOAllocatedDate
	}

	ledger := vorder.NewPrisonerLedger(prisonerID)
	seedKind(ledger, vorder.KindVO, m.VOBalance, backdate, now)
	seedKind(ledger, vorder.KindPVO, m.PVOBalance, backdate, now)

	ledger.LastVOAllocatedDate = &backdate
	if m.PVOBalance != 0 {
		ledger.LastPVOAllocatedDate = &backdate
	}

	ledger.AppendHistory(vorder.ChangeMigration, "SYSTEM", "", m.CorrelationRef, now, map[string]string{
		"voBalance":  strconv.Itoa(m.VOBalance),
		"pvoBalance": strconv.Itoa(m.PVOBalance),
	})
	if err := e.store.SaveLedger(ctx, ledger); err != nil {
		return err
	}

	// Migration is a reset: notify like an adjustment.
	return e.publish(ctx, prisonerID, m.CorrelationRef, true)
}

func seedKind(ledger *vorder.PrisonerLedger, kind vorder.Kind, balance int, backdate, now time.Time) {
	switch {
	case balance > 0:
		ledger.AddOrders(kind, balance, backdate)
	case balance < 0:
		for i := 0; i < -balance; i++ {
			ledger.NegativeVisitOrders = append(ledger.NegativeVisitOrders,
				vorder.NewNegativeVisitOrder(ledger.PrisonerID, kind, "", now))
		}
	}
}

// =============================================================================
// SYNC - ongoing drift correction
// =============================================================================

// SyncRequest carries the system of record's view of a change: the balance
// it believed we held before the change, and the delta to apply. A nil
// delta leaves that kind untouched.
type SyncRequest struct {
	OldVOBalance   int
	VODelta        *int
	OldPVOBalance  int
	PVODelta       *int
	CorrelationRef string
}

// Sync applies the system of record's delta without cap/floor validation.
// Drift between the declared old balance and the stored balance is signalled
// and counted but never blocks the sync.
func (e *Engine) Sync(ctx context.Context, prisonerID string, req SyncRequest) (*vorder.HistoryEntry, error) {
	unlock := e.locks.acquire(prisonerID)
	defer unlock()

	ledger, err := e.loadOrCreate(ctx, prisonerID)
	if err != nil {
		return nil, err
	}

	pre := vorder.Calculate(ledger, e.rules)
	if req.VODelta != nil && pre.VO.Balance != req.OldVOBalance {
		log.Printf("[Sync] drift detected for %s VO: held %d, declared %d", prisonerID, pre.VO.Balance, req.OldVOBalance)
		syncDriftDetected.WithLabelValues(string(vorder.KindVO)).Inc()
	}
	if req.PVODelta != nil && pre.PVO.Balance != req.OldPVOBalance {
		log.Printf("[Sync] drift detected for %s PVO: held %d, declared %d", prisonerID, pre.PVO.Balance, req.OldPVOBalance)
		syncDriftDetected.WithLabelValues(string(vorder.KindPVO)).Inc()
	}

	now := e.now()
	e.applyDelta(ledger, vorder.KindVO, deref(req.VODelta), now)
	e.applyDelta(ledger, vorder.KindPVO, deref(req.PVODelta), now)

	entry := ledger.AppendHistory(vorder.ChangeSync, "SYSTEM", "", req.CorrelationRef, now, map[string]string{
		"voDelta":  strconv.Itoa(deref(req.VODelta)),
		"pvoDelta": strconv.Itoa(deref(req.PVODelta)),
	})
	if err := e.store.SaveLedger(ctx, ledger); err != nil {
		return nil, err
	}
	return entry, nil
}

// MoveVisitBooking reconciles both prisoners affected by a booking moved
// between them. Each side is an independent sync under its own lock; no
// value is transferred.
func (e *Engine) MoveVisitBooking(ctx context.Context, fromPrisonerID string, from SyncRequest, toPrisonerID string, to SyncRequest) error {
	if _, err := e.Sync(ctx, fromPrisonerID, from); err != nil {
		return err
	}
	_, err := e.Sync(ctx, toPrisonerID, to)
	return err
}

// =============================================================================
// MERGE - identity consolidation
// =============================================================================

// MergePrisoners tops the surviving identity's balance up to the removed
// identity's, per kind. The surviving balance is never reduced. Returns the
// history entry, or nil when no top-up was needed (including when the
// removed identity has no ledger at all).
func (e *Engine) MergePrisoners(ctx context.Context, survivingID, removedID string) (*vorder.HistoryEntry, error) {
	removed, err := e.store.LoadLedger(ctx, removedID)
	if vorder.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	removedBal := vorder.Calculate(removed, e.rules)

	unlock := e.locks.acquire(survivingID)
	defer unlock()

	ledger, err := e.loadOrCreate(ctx, survivingID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	bal := vorder.Calculate(ledger, e.rules)
	voTopUp := shortfall(bal.VO.Balance, removedBal.VO.Balance)
	pvoTopUp := shortfall(bal.PVO.Balance, removedBal.PVO.Balance)
	if voTopUp == 0 && pvoTopUp == 0 {
		return nil, nil
	}

	ledger.AddOrders(vorder.KindVO, voTopUp, now)
	ledger.AddOrders(vorder.KindPVO, pvoTopUp, now)

	entry := ledger.AppendHistory(vorder.ChangeMergeTopUp, "SYSTEM", "", removedID, now, map[string]string{
		"removedPrisonerId": removedID,
		"voTopUp":           strconv.Itoa(voTopUp),
		"pvoTopUp":          strconv.Itoa(pvoTopUp),
	})
	if err := e.store.SaveLedger(ctx, ledger); err != nil {
		return nil, err
	}
	return entry, nil
}

func shortfall(surviving, removed int) int {
	if removed > surviving {
		return removed - surviving
	}
	return 0
}
