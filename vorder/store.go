/*
store.go - Persistence contract for the PrisonerLedger aggregate

PURPOSE:
  Defines the interface between the engine and the database. The unit of
  persistence is the whole aggregate: one prisoner's ledger row plus its
  order, negative-order, and history collections, saved atomically.

APPEND-ONLY HISTORY:
  Implementations persist history entries insert-only. SaveLedger may
  rewrite the order collections (statuses change, refunds delete negative
  orders) but must never update or delete a history row.

IMPLEMENTATIONS:
  - store/sqlite: production store (one transaction per save)
  - vorder/store: in-memory store for tests and development
*/
package vorder

import "context"

// Store persists PrisonerLedger aggregates.
//
// SaveLedger writes the whole aggregate atomically: callers mutate a loaded
// ledger in memory under the prisoner's lock and save it back in one call.
// DeleteLedger exists solely for migration's reset-then-recreate step.
type Store interface {
	// LoadLedger returns the aggregate for a prisoner, or ErrLedgerNotFound.
	LoadLedger(ctx context.Context, prisonerID string) (*PrisonerLedger, error)

	// SaveLedger upserts the aggregate in a single transaction. History
	// entries are insert-only.
	SaveLedger(ctx context.Context, ledger *PrisonerLedger) error

	// DeleteLedger removes the ledger and its children. Deleting a
	// non-existent ledger is not an error.
	DeleteLedger(ctx context.Context, prisonerID string) error
}
