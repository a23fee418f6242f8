/*
scheduler.go - Automated allocation scheduler

PURPOSE:
  Periodically runs the prison-wide allocation batch for every configured
  prison. Each prison is processed at most once per calendar day; the tick
  interval only controls how promptly the daily run happens.

DESIGN:
  - Background goroutine with a configurable check interval
  - One batch per prison per day, skipped if already done
  - Per-prisoner failures stay inside the engine's BatchReport

USAGE:
  scheduler := NewAllocationScheduler(eng, []string{"MDI", "HEI"}, time.Hour)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - engine/allocation.go: RunPrisonAllocation
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gatehouse/visit-order-engine/engine"
	"github.com/gatehouse/visit-order-engine/vorder"
)

// AllocationScheduler runs the daily batch allocation per prison.
type AllocationScheduler struct {
	Engine        *engine.Engine
	Prisons       []string
	CheckInterval time.Duration

	ticker  *time.Ticker
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun map[string]time.Time // prisonID -> day of last completed run
}

// NewAllocationScheduler creates a scheduler for the given prisons.
func NewAllocationScheduler(eng *engine.Engine, prisons []string, interval time.Duration) *AllocationScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &AllocationScheduler{
		Engine:        eng,
		Prisons:       prisons,
		CheckInterval: interval,
		stop:          make(chan struct{}),
		lastRun:       make(map[string]time.Time),
	}
}

// Start begins the scheduler.
func (s *AllocationScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.Prisons) == 0 {
		log.Println("[Scheduler] No prisons configured, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)
	go s.run()

	log.Printf("[Scheduler] Started for %d prisons, check interval %v", len(s.Prisons), s.CheckInterval)
}

// Stop stops the scheduler. Safe to call more than once.
func (s *AllocationScheduler) Stop() {
	s.mu.Lock()
	running := s.ticker != nil && !s.stopped
	if running {
		s.stopped = true
		s.ticker.Stop()
		close(s.stop)
	}
	// Release before waiting: the run goroutine takes the lock around
	// lastRun while draining.
	s.mu.Unlock()

	if running {
		s.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (s *AllocationScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start.
	s.checkAndProcess()

	for {
		select {
		case <-s.ticker.C:
			s.checkAndProcess()
		case <-s.stop:
			return
		}
	}
}

func (s *AllocationScheduler) checkAndProcess() {
	ctx := context.Background()
	today := vorder.StartOfDay(time.Now())

	for _, prisonID := range s.Prisons {
		s.mu.Lock()
		done := s.lastRun[prisonID].Equal(today)
		s.mu.Unlock()
		if done {
			continue
		}

		report, err := s.Engine.RunPrisonAllocation(ctx, prisonID)
		if err != nil {
			log.Printf("[Scheduler] Batch for %s failed: %v", prisonID, err)
			continue
		}

		s.mu.Lock()
		s.lastRun[prisonID] = today
		s.mu.Unlock()

		log.Printf("[Scheduler] %s: %d processed, %d changed, %d skipped, %d failed",
			prisonID, report.Processed, report.Changed, report.Skipped, len(report.Failed))
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (s *AllocationScheduler) RunNow() {
	s.checkAndProcess()
}
