// Package store provides Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/gatehouse/visit-order-engine/vorder"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	ledgers map[string]*vorder.PrisonerLedger
}

func NewMemory() *Memory {
	return &Memory{ledgers: make(map[string]*vorder.PrisonerLedger)}
}

// LoadLedger returns a deep copy so callers can mutate freely before saving.
func (m *Memory) LoadLedger(_ context.Context, prisonerID string) (*vorder.PrisonerLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ledger, ok := m.ledgers[prisonerID]
	if !ok {
		return nil, vorder.ErrLedgerNotFound
	}
	return clone(ledger), nil
}

func (m *Memory) SaveLedger(_ context.Context, ledger *vorder.PrisonerLedger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ledgers[ledger.PrisonerID] = clone(ledger)
	return nil
}

func (m *Memory) DeleteLedger(_ context.Context, prisonerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.ledgers, prisonerID)
	return nil
}

func clone(l *vorder.PrisonerLedger) *vorder.PrisonerLedger {
	out := &vorder.PrisonerLedger{
		PrisonerID:           l.PrisonerID,
		VisitOrders:          append([]vorder.VisitOrder(nil), l.VisitOrders...),
		NegativeVisitOrders:  append([]vorder.NegativeVisitOrder(nil), l.NegativeVisitOrders...),
		History:              append([]vorder.HistoryEntry(nil), l.History...),
		LastVOAllocatedDate:  cloneTime(l.LastVOAllocatedDate),
		LastPVOAllocatedDate: cloneTime(l.LastPVOAllocatedDate),
	}
	for i, o := range out.VisitOrders {
		out.VisitOrders[i].ExpiryDate = cloneTime(o.ExpiryDate)
	}
	for i, n := range out.NegativeVisitOrders {
		out.NegativeVisitOrders[i].RepaidAt = cloneTime(n.RepaidAt)
	}
	for i, e := range out.History {
		if e.Attributes != nil {
			attrs := make(map[string]string, len(e.Attributes))
			for k, v := range e.Attributes {
				attrs[k] = v
			}
			out.History[i].Attributes = attrs
		}
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
