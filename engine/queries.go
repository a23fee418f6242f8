/*
queries.go - Read-side operations

PURPOSE:
  Balance and history reads. These take no lock: they work on a consistent
  snapshot of the aggregate as loaded, and balances are derived values.
*/
package engine

import (
	"context"
	"time"

	"github.com/gatehouse/visit-order-engine/vorder"
)

// GetBalance returns the derived balance for a prisoner, or
// vorder.ErrLedgerNotFound when the prisoner has never been touched.
func (e *Engine) GetBalance(ctx context.Context, prisonerID string) (vorder.Balance, error) {
	ledger, err := e.store.LoadLedger(ctx, prisonerID)
	if err != nil {
		return vorder.Balance{}, err
	}
	return vorder.Calculate(ledger, e.rules), nil
}

// GetHistory returns the prisoner's history entries created at or after
// since, in creation order.
func (e *Engine) GetHistory(ctx context.Context, prisonerID string, since time.Time) ([]vorder.HistoryEntry, error) {
	ledger, err := e.store.LoadLedger(ctx, prisonerID)
	if err != nil {
		return nil, err
	}
	return ledger.HistorySince(since), nil
}

// HistoryChanges answers "what changed in this specific entry": the
// per-kind delta between the entry and its immediate predecessor.
func (e *Engine) HistoryChanges(ctx context.Context, prisonerID, entryID string) (vorder.HistoryDelta, error) {
	ledger, err := e.store.LoadLedger(ctx, prisonerID)
	if err != nil {
		return vorder.HistoryDelta{}, err
	}
	return ledger.HistoryDeltaFor(entryID)
}
