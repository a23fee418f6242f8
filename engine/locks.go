package engine

import "sync"

// =============================================================================
// PER-PRISONER LOCKS - Serialize mutations on one ledger
// =============================================================================

// prisonerLocks hands out one mutex per prisoner identifier. Every mutating
// engine operation holds the prisoner's lock for its full duration, the
// in-process equivalent of a row-level read-for-update on the ledger root.
// There is never more than one lock held at a time, so no deadlock risk.
type prisonerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPrisonerLocks() *prisonerLocks {
	return &prisonerLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the prisoner's mutex and returns the unlock function.
func (p *prisonerLocks) acquire(prisonerID string) func() {
	p.mu.Lock()
	lock, ok := p.locks[prisonerID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[prisonerID] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
