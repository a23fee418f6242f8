/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal domain
  model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/gatehouse/visit-order-engine/engine"
	"github.com/gatehouse/visit-order-engine/vorder"
)

// =============================================================================
// RESPONSES
// =============================================================================

// KindBalanceDTO is one kind's derived position.
type KindBalanceDTO struct {
	Available   int `json:"available"`
	Accumulated int `json:"accumulated"`
	Negative    int `json:"negative"`
	Balance     int `json:"balance"`
}

// BalanceDTO is a prisoner's full derived balance.
type BalanceDTO struct {
	PrisonerID string         `json:"prisoner_id"`
	VO         KindBalanceDTO `json:"vo"`
	PVO        KindBalanceDTO `json:"pvo"`
	NextVODue  string         `json:"next_vo_due,omitempty"`
	NextPVODue string         `json:"next_pvo_due,omitempty"`
}

func balanceDTO(b vorder.Balance) BalanceDTO {
	dto := BalanceDTO{
		PrisonerID: b.PrisonerID,
		VO:         KindBalanceDTO(b.VO),
		PVO:        KindBalanceDTO(b.PVO),
	}
	if !b.NextVODue.IsZero() {
		dto.NextVODue = b.NextVODue.Format(time.RFC3339)
	}
	if !b.NextPVODue.IsZero() {
		dto.NextPVODue = b.NextPVODue.Format(time.RFC3339)
	}
	return dto
}

// HistoryEntryDTO is an audit record in API responses.
type HistoryEntryDTO struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	Actor          string            `json:"actor"`
	Comment        string            `json:"comment,omitempty"`
	VOBalance      int               `json:"vo_balance"`
	PVOBalance     int               `json:"pvo_balance"`
	Timestamp      string            `json:"timestamp"`
	CorrelationRef string            `json:"correlation_ref,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

func historyEntryDTO(e *vorder.HistoryEntry) *HistoryEntryDTO {
	if e == nil {
		return nil
	}
	return &HistoryEntryDTO{
		ID:             e.ID,
		Type:           string(e.Type),
		Actor:          e.Actor,
		Comment:        e.Comment,
		VOBalance:      e.VOBalance,
		PVOBalance:     e.PVOBalance,
		Timestamp:      e.Timestamp.Format(time.RFC3339),
		CorrelationRef: e.CorrelationRef,
		Attributes:     e.Attributes,
	}
}

// HistoryDeltaDTO answers "what changed in this entry".
type HistoryDeltaDTO struct {
	EntryID  string `json:"entry_id"`
	Type     string `json:"type"`
	VODelta  int    `json:"vo_delta"`
	PVODelta int    `json:"pvo_delta"`
}

// BatchReportDTO summarizes a prison-wide allocation run.
type BatchReportDTO struct {
	PrisonID  string            `json:"prison_id"`
	Processed int               `json:"processed"`
	Changed   int               `json:"changed"`
	Skipped   int               `json:"skipped"`
	Failed    map[string]string `json:"failed,omitempty"`
}

func batchReportDTO(r *engine.BatchReport) BatchReportDTO {
	dto := BatchReportDTO{
		PrisonID:  r.PrisonID,
		Processed: r.Processed,
		Changed:   r.Changed,
		Skipped:   r.Skipped,
	}
	if len(r.Failed) > 0 {
		dto.Failed = make(map[string]string, len(r.Failed))
		for id, err := range r.Failed {
			dto.Failed[id] = err.Error()
		}
	}
	return dto
}

// MutationResponse wraps a committed mutation's history entry. Warning is
// set when the notification event failed to publish after commit.
type MutationResponse struct {
	Entry   *HistoryEntryDTO `json:"entry,omitempty"`
	Warning string           `json:"warning,omitempty"`
}

// ErrorResponse is the uniform error body. Violations carries the complete
// rule set breached by an invalid adjustment.
type ErrorResponse struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// VisitRequest links a prisoner to a visit booking event.
type VisitRequest struct {
	PrisonerID string `json:"prisoner_id"`
	VisitRef   string `json:"visit_ref"`
}

// AdjustmentRequest is a staff balance correction.
type AdjustmentRequest struct {
	VODelta        *int   `json:"vo_delta,omitempty"`
	PVODelta       *int   `json:"pvo_delta,omitempty"`
	Actor          string `json:"actor"`
	Reason         string `json:"reason"`
	Comment        string `json:"comment,omitempty"`
	CorrelationRef string `json:"correlation_ref,omitempty"`
}

// MigrationRequest declares the system of record's balances for onboarding.
type MigrationRequest struct {
	VOBalance           int    `json:"vo_balance"`
	PVOBalance          int    `json:"pvo_balance"`
	LastVOAllocatedDate string `json:"last_vo_allocated_date,omitempty"` // YYYY-MM-DD
	CorrelationRef      string `json:"correlation_ref,omitempty"`
}

// SyncRequest carries an ongoing reconciliation delta.
type SyncRequest struct {
	OldVOBalance   int    `json:"old_vo_balance"`
	VODelta        *int   `json:"vo_delta,omitempty"`
	OldPVOBalance  int    `json:"old_pvo_balance"`
	PVODelta       *int   `json:"pvo_delta,omitempty"`
	CorrelationRef string `json:"correlation_ref,omitempty"`
}

// MergeRequest consolidates two prisoner identities.
type MergeRequest struct {
	SurvivingPrisonerID string `json:"surviving_prisoner_id"`
	RemovedPrisonerID   string `json:"removed_prisoner_id"`
}

// MoveRequest reconciles both sides of a moved booking.
type MoveRequest struct {
	FromPrisonerID string      `json:"from_prisoner_id"`
	From           SyncRequest `json:"from"`
	ToPrisonerID   string      `json:"to_prisoner_id"`
	To             SyncRequest `json:"to"`
}
