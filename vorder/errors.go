/*
errors.go - Centralized error types for the balance engine

PURPOSE:
  All error types in one place. The engine and transport layers classify
  errors with the helper predicates rather than matching strings.

ERROR CATEGORIES:
  1. Not-found errors   - unknown prisoner / history entry (404-equivalent)
  2. Validation errors  - adjustment breaches cap or zero floor; carries the
                          FULL list of violated rules, never just the first
  3. Upstream errors    - a collaborator lookup failed (retryable)
  4. Publish errors     - notification emission failed AFTER the ledger
                          mutation committed; never rolls back state

USAGE:
  if vorder.IsNotFound(err) { ... 404 ... }
  var verr *vorder.ValidationError
  if errors.As(err, &verr) { ... verr.Violations ... }

SEE ALSO:
  - engine: produces these errors
  - api/handlers.go: maps them to HTTP status codes
*/
package vorder

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrLedgerNotFound is returned when no ledger exists for a prisoner.
	ErrLedgerNotFound = errors.New("prisoner ledger not found")

	// ErrHistoryEntryNotFound is returned when a history reference does not
	// match any entry on the ledger.
	ErrHistoryEntryNotFound = errors.New("history entry not found")

	// ErrNoAdjustment is returned when an adjustment request carries no
	// delta for either kind.
	ErrNoAdjustment = errors.New("adjustment must change at least one balance")
)

// =============================================================================
// VALIDATION - Complete rule set, not fail-fast
// =============================================================================

// Violation identifies a single breached adjustment rule.
type Violation string

const (
	ViolationVOAboveMax   Violation = "VO_ABOVE_MAX"
	ViolationVOBelowZero  Violation = "VO_BELOW_ZERO"
	ViolationPVOAboveMax  Violation = "PVO_ABOVE_MAX"
	ViolationPVOBelowZero Violation = "PVO_BELOW_ZERO"
)

// ValidationError carries every rule an adjustment breached. Callers get
// the complete set in one round trip.
type ValidationError struct {
	PrisonerID string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	codes := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		codes[i] = string(v)
	}
	return fmt.Sprintf("adjustment validation failed: %s", strings.Join(codes, ", "))
}

// =============================================================================
// UPSTREAM - Collaborator lookup failures
// =============================================================================

// UpstreamError wraps a failed collaborator call. The batch path retries
// the affected prisoner once; the interactive path surfaces a 5xx.
type UpstreamError struct {
	System string // "prisoner-registry", "incentives", "visit-registry"
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %v", e.System, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// =============================================================================
// PUBLISH - Post-commit notification failures
// =============================================================================

// PublishError reports that the notification event could not be emitted
// after the ledger mutation had already committed. Event delivery is
// at-least-once and not required for ledger correctness, so this error is
// reported, never rolled back on.
type PublishError struct {
	PrisonerID     string
	CorrelationRef string
	Err            error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("event publish failed for %s: %v", e.PrisonerID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether err indicates a missing prisoner or entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLedgerNotFound) || errors.Is(err, ErrHistoryEntryNotFound)
}

// IsValidation reports whether err is an adjustment validation failure.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr) || errors.Is(err, ErrNoAdjustment)
}

// IsUpstream reports whether err is a collaborator failure worth retrying.
func IsUpstream(err error) bool {
	var uerr *UpstreamError
	return errors.As(err, &uerr)
}

// IsPublish reports whether err is a post-commit publish failure. The
// mutation is already durable when this is true.
func IsPublish(err error) bool {
	var perr *PublishError
	return errors.As(err, &perr)
}
