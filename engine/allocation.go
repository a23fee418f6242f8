/*
allocation.go - Periodic allocation pass and prison-wide batch

PURPOSE:
  The allocation pass is the periodic path: generate new orders when the
  cadence is due, repay outstanding negatives out of the generation, age
  available VOs into the accumulated bucket, and enforce the cap and PVO
  expiry. Each step is independently idempotent; a pass that changes nothing
  appends no history entry.

BATCH SEMANTICS:
  RunPrisonAllocation walks a prison's population one prisoner per
  lock+transaction, so one prisoner's failure never rolls back another's
  committed pass. Failed prisoners are retried exactly once within the run;
  prisoners still failing are handed back to the transport layer in the
  report for its own redelivery/dead-letter handling.
*/
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gatehouse/visit-order-engine/vorder"
)

// =============================================================================
// SINGLE-PRISONER PASS
// =============================================================================

// RunAllocationPass runs one allocation pass for a prisoner: generate,
// accumulate, expire, snapshot. Returns the BATCH_PROCESS history entry, or
// nil when the pass was a no-op.
func (e *Engine) RunAllocationPass(ctx context.Context, prisonerID string) (*vorder.HistoryEntry, error) {
	unlock := e.locks.acquire(prisonerID)
	defer unlock()

	entry, err := e.allocateLocked(ctx, prisonerID)
	if err != nil {
		allocationPasses.WithLabelValues("failed").Inc()
		return nil, err
	}
	if entry == nil {
		allocationPasses.WithLabelValues("noop").Inc()
	} else {
		allocationPasses.WithLabelValues("changed").Inc()
	}
	return entry, nil
}

func (e *Engine) allocateLocked(ctx context.Context, prisonerID string) (*vorder.HistoryEntry, error) {
	ledger, err := e.loadOrCreate(ctx, prisonerID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	before := ledger.Fingerprint()
	datesBefore := allocationDates(ledger)

	bal := vorder.Calculate(ledger, e.rules)
	voDue := vorder.DueAt(bal.NextVODue, now)
	pvoDue := vorder.DueAt(bal.NextPVODue, now)

	// 1. Generate. The entitlement lookup is only needed when something is
	// due; it requires the prisoner's current prison.
	if voDue || pvoDue {
		details, err := e.prisoners.Lookup(ctx, prisonerID)
		if err != nil {
			return nil, &vorder.UpstreamError{System: "prisoner-registry", Err: err}
		}
		ent, err := e.incentives.Entitlement(ctx, prisonerID, details.PrisonID)
		if err != nil {
			return nil, &vorder.UpstreamError{System: "incentives", Err: err}
		}

		if voDue {
			e.generate(ledger, vorder.KindVO, ent.VOCount, now)
			at := now
			ledger.LastVOAllocatedDate = &at
		}
		// PVO generation is additionally gated by a non-zero entitlement:
		// prisoners on a tier without privileged visits keep riding the VO
		// cadence until their tier grants some.
		if pvoDue && ent.PVOCount > 0 {
			e.generate(ledger, vorder.KindPVO, ent.PVOCount, now)
			at := now
			ledger.LastPVOAllocatedDate = &at
		}
	}

	// 2. Accumulate: VO only. PVO never accumulates.
	for i, o := range ledger.VisitOrders {
		if o.Kind == vorder.KindVO && o.Status == vorder.StatusAvailable &&
			vorder.OlderThan(o.CreatedAt, now, e.rules.AccumulationAgeDays) {
			ledger.VisitOrders[i].Status = vorder.StatusAccumulated
			ordersAccumulated.Inc()
		}
	}

	// 3a. Expire the oldest accumulated VOs over the cap.
	excess := ledger.CountOrders(vorder.KindVO, vorder.StatusAccumulated) - e.rules.AccumulatedVOCap
	for ; excess > 0; excess-- {
		i := ledger.OldestOrderIndex(vorder.KindVO, vorder.StatusAccumulated)
		if i == -1 {
			break
		}
		at := now
		ledger.VisitOrders[i].Status = vorder.StatusExpired
		ledger.VisitOrders[i].ExpiryDate = &at
		ordersExpired.WithLabelValues(string(vorder.KindVO)).Inc()
	}

	// 3b. Expire aged available PVOs directly, uncapped.
	for i, o := range ledger.VisitOrders {
		if o.Kind == vorder.KindPVO && o.Status == vorder.StatusAvailable &&
			vorder.OlderThan(o.CreatedAt, now, e.rules.PVOExpiryAgeDays) {
			at := now
			ledger.VisitOrders[i].Status = vorder.StatusExpired
			ledger.VisitOrders[i].ExpiryDate = &at
			ordersExpired.WithLabelValues(string(vorder.KindPVO)).Inc()
		}
	}

	// 4. Snapshot only when the order sets changed; a no-op pass produces
	// no audit noise. Allocation-date bumps without set changes still save.
	var entry *vorder.HistoryEntry
	changed := ledger.Fingerprint() != before
	if changed {
		entry = ledger.AppendHistory(vorder.ChangeBatchProcess, "SYSTEM", "", "", now, nil)
	}
	if changed || allocationDates(ledger) != datesBefore {
		if err := e.store.SaveLedger(ctx, ledger); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// generate creates the due allocation for one kind, repaying outstanding
// negatives oldest-first before creating new AVAILABLE orders. If the
// generated count is smaller than the debt, only that much is repaid and
// nothing new is created.
func (e *Engine) generate(ledger *vorder.PrisonerLedger, kind vorder.Kind, generated int, now time.Time) {
	repaid := ledger.RepayNegatives(kind, generated, now)
	if repaid > 0 {
		negativesRepaid.WithLabelValues(string(kind)).Add(float64(repaid))
	}
	created := generated - repaid
	ledger.AddOrders(kind, created, now)
	if created > 0 {
		ordersGenerated.WithLabelValues(string(kind)).Add(float64(created))
	}
}

func allocationDates(l *vorder.PrisonerLedger) [2]time.Time {
	var d [2]time.Time
	if l.LastVOAllocatedDate != nil {
		d[0] = *l.LastVOAllocatedDate
	}
	if l.LastPVOAllocatedDate != nil {
		d[1] = *l.LastPVOAllocatedDate
	}
	return d
}

// =============================================================================
// PRISON-WIDE BATCH
// =============================================================================

// BatchReport summarizes one prison-wide allocation run.
type BatchReport struct {
	PrisonID  string
	Processed int
	Changed   int
	Skipped   int
	Failed    map[string]error // prisonerID -> final error after one retry
}

// RunPrisonAllocation runs the allocation pass over a prison's population.
// Prisoners are processed sequentially, one commit each; a failure on one
// prisoner never affects the others. Each failed prisoner is retried once;
// prisoners still failing land in the report for the transport layer.
func (e *Engine) RunPrisonAllocation(ctx context.Context, prisonID string) (*BatchReport, error) {
	population, err := e.prisoners.Population(ctx, prisonID)
	if err != nil {
		return nil, &vorder.UpstreamError{System: "prisoner-registry", Err: err}
	}

	report := &BatchReport{PrisonID: prisonID, Failed: make(map[string]error)}
	var retry []string

	for _, p := range population {
		if p.Status != PrisonerStatusActive {
			report.Skipped++
			continue
		}
		entry, err := e.RunAllocationPass(ctx, p.PrisonerID)
		if err != nil {
			log.Printf("[Allocation] %s: pass failed for %s, queueing retry: %v", prisonID, p.PrisonerID, err)
			retry = append(retry, p.PrisonerID)
			continue
		}
		report.Processed++
		if entry != nil {
			report.Changed++
		}
	}

	// Isolated single retry per failed prisoner. A second failure goes back
	// to the transport layer's own redelivery mechanism.
	for _, prisonerID := range retry {
		entry, err := e.RunAllocationPass(ctx, prisonerID)
		if err != nil {
			report.Failed[prisonerID] = fmt.Errorf("allocation retry failed: %w", err)
			continue
		}
		report.Processed++
		if entry != nil {
			report.Changed++
		}
	}

	return report, nil
}
