/*
collaborators.go - Contracts to the three upstream systems and the event bus

PURPOSE:
  The engine consumes the prisoner registry, the incentive-tier lookup, and
  the visit registry only through these narrow interfaces, and emits balance
  notification events through EventPublisher. All are injected at
  construction so tests substitute fakes.

FAILURE SEMANTICS:
  A failed collaborator call is wrapped in *vorder.UpstreamError. A failed
  event publish is wrapped in *vorder.PublishError and surfaced AFTER the
  ledger mutation has committed - it never rolls anything back.
*/
package engine

import "context"

// =============================================================================
// UPSTREAM LOOKUPS
// =============================================================================

// Entitlement is the per-cadence allocation for a prisoner's current
// incentive tier.
type Entitlement struct {
	VOCount  int
	PVOCount int
}

// IncentiveLookup resolves the entitlement counts for a prisoner at a prison.
type IncentiveLookup interface {
	Entitlement(ctx context.Context, prisonerID, prisonID string) (Entitlement, error)
}

// PrisonerDetails is the registry's view of a prisoner.
type PrisonerDetails struct {
	PrisonerID string
	PrisonID   string
	Status     string
}

// PrisonerStatusActive is the registry status for prisoners the batch pass
// processes; anything else is skipped.
const PrisonerStatusActive = "ACTIVE"

// PrisonerRegistry resolves prisoner details and prison populations.
type PrisonerRegistry interface {
	Lookup(ctx context.Context, prisonerID string) (PrisonerDetails, error)

	// Population returns every prisoner currently held at a prison.
	Population(ctx context.Context, prisonID string) ([]PrisonerDetails, error)
}

// VisitDetails is the visit registry's view of a booking.
type VisitDetails struct {
	VisitRef   string
	PrisonerID string
	PrisonID   string
}

// VisitRegistry resolves a visit reference to its booking.
type VisitRegistry interface {
	Lookup(ctx context.Context, visitRef string) (VisitDetails, error)
}

// =============================================================================
// NOTIFICATION EVENTS
// =============================================================================

// BalanceEvent is emitted once per successful adjustment or migration reset.
type BalanceEvent struct {
	PrisonerID     string
	CorrelationRef string
	BalanceChanged bool
}

// EventPublisher emits balance notification events. Delivery is
// at-least-once; the engine never blocks a committed mutation on it.
type EventPublisher interface {
	Publish(ctx context.Context, event BalanceEvent) error
}

// NopPublisher discards events. Used when notifications are disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, BalanceEvent) error { return nil }
