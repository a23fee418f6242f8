/*
Package engine implements the visit order balance engine.

PURPOSE:
  The engine is the single mutating surface over a prisoner's ledger. Every
  operation - allocation pass, consume/refund, manual adjustment, migration,
  sync, merge - follows the same shape:

    1. acquire the prisoner's lock
    2. load (or lazily create) the PrisonerLedger aggregate
    3. mutate it in memory
    4. append at most one history entry
    5. save the aggregate in one store transaction
    6. optionally publish a notification event (post-commit, best effort)

CONCURRENCY:
  Operations on the same prisoner serialize on a per-prisoner mutex held for
  the operation's full duration. Operations on different prisoners run fully
  in parallel. No operation ever holds two locks, so there is no deadlock
  risk within the engine.

SEE ALSO:
  - allocation.go: Periodic generation/accumulation/expiry and the batch pass
  - visits.go:     Visit-booked / visit-cancelled state machine
  - adjust.go:     Manual adjustment validator and applier
  - reconcile.go:  Migration, sync, booking move, and prisoner merge
  - queries.go:    Balance and history reads
*/
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/gatehouse/visit-order-engine/vorder"
)

// Engine coordinates all mutations of prisoner ledgers.
type Engine struct {
	store      vorder.Store
	incentives IncentiveLookup
	prisoners  PrisonerRegistry
	visits     VisitRegistry
	events     EventPublisher
	rules      vorder.Rules

	// now is the clock; tests override it to pin allocation cadences.
	now func() time.Time

	locks *prisonerLocks
}

// New creates an engine. A nil publisher disables notifications.
func New(store vorder.Store, incentives IncentiveLookup, prisoners PrisonerRegistry, visits VisitRegistry, events EventPublisher, rules vorder.Rules) *Engine {
	if events == nil {
		events = NopPublisher{}
	}
	return &Engine{
		store:      store,
		incentives: incentives,
		prisoners:  prisoners,
		visits:     visits,
		events:     events,
		rules:      rules,
		now:        time.Now,
		locks:      newPrisonerLocks(),
	}
}

// WithClock replaces the engine's clock. For tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Rules returns the configured allocation parameters.
func (e *Engine) Rules() vorder.Rules { return e.rules }

// =============================================================================
// SHARED INTERNALS
// =============================================================================

// loadOrCreate returns the prisoner's ledger, creating an empty one on
// first touch.
func (e *Engine) loadOrCreate(ctx context.Context, prisonerID string) (*vorder.PrisonerLedger, error) {
	ledger, err := e.store.LoadLedger(ctx, prisonerID)
	if errors.Is(err, vorder.ErrLedgerNotFound) {
		return vorder.NewPrisonerLedger(prisonerID), nil
	}
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

// publish emits a notification event after a committed mutation. Failures
// are counted and wrapped as *vorder.PublishError; the caller decides how
// loudly to report them, but the mutation stands.
func (e *Engine) publish(ctx context.Context, prisonerID, correlationRef string, balanceChanged bool) error {
	err := e.events.Publish(ctx, BalanceEvent{
		PrisonerID:     prisonerID,
		CorrelationRef: correlationRef,
		BalanceChanged: balanceChanged,
	})
	if err != nil {
		publishFailures.Inc()
		return &vorder.PublishError{PrisonerID: prisonerID, CorrelationRef: correlationRef, Err: err}
	}
	return nil
}

// applyDelta applies a signed balance delta to one kind using the manual
// adjustment rules. Shared by AdjustBalance (validated) and Sync
// (unvalidated, trusted).
//
//   delta > 0: repay outstanding negatives oldest-first up to the delta,
//              then create the remainder as AVAILABLE orders. Repayment
//              always runs first, even when it consumes the whole delta.
//   delta < 0: consume |delta| orders oldest-first - for VO the ACCUMULATED
//              bucket before AVAILABLE, for PVO AVAILABLE only - marking
//              them USED. Any shortfall (possible only on the unvalidated
//              sync path) borrows: a USED negative order per missing unit.
//   delta = 0: no-op.
func (e *Engine) applyDelta(ledger *vorder.PrisonerLedger, kind vorder.Kind, delta int, now time.Time) {
	switch {
	case delta > 0:
		repaid := ledger.RepayNegatives(kind, delta, now)
		if repaid > 0 {
			negativesRepaid.WithLabelValues(string(kind)).Add(float64(repaid))
		}
		ledger.AddOrders(kind, delta-repaid, now)

	case delta < 0:
		remaining := -delta
		buckets := []vorder.Status{vorder.StatusAvailable}
		if kind == vorder.KindVO {
			buckets = []vorder.Status{vorder.StatusAccumulated, vorder.StatusAvailable}
		}
		for _, bucket := range buckets {
			for remaining > 0 {
				i := ledger.OldestOrderIndex(kind, bucket)
				if i == -1 {
					break
				}
				ledger.VisitOrders[i].Status = vorder.StatusUsed
				remaining--
			}
		}
		for ; remaining > 0; remaining-- {
			ledger.NegativeVisitOrders = append(ledger.NegativeVisitOrders,
				vorder.NewNegativeVisitOrder(ledger.PrisonerID, kind, "", now))
		}
	}
}
