/*
handlers.go - HTTP API handlers for the visit order balance engine

PURPOSE:
  Exposes the engine via REST. Handles HTTP request/response, JSON
  serialization, and delegates every balance rule to the engine.

ENDPOINTS:
  Prisoners:
    GET  /api/prisoners/{prisonerID}/balance
    GET  /api/prisoners/{prisonerID}/history?since=YYYY-MM-DD
    GET  /api/prisoners/{prisonerID}/history/{entryID}/changes
    POST /api/prisoners/{prisonerID}/allocation
    POST /api/prisoners/{prisonerID}/adjustments
    POST /api/prisoners/{prisonerID}/migration
    POST /api/prisoners/{prisonerID}/sync
    POST /api/prisoners/merge

  Visits:
    POST /api/visits/booked
    POST /api/visits/cancelled
    POST /api/visits/moved

  Prisons:
    POST /api/prisons/{prisonID}/allocation

ERROR HANDLING:
  - 400: validation failures; adjustment responses carry the FULL list of
         violated rules, never just the first
  - 404: unknown prisoner or history entry
  - 502: a collaborator lookup failed
  - 200 with "warning": mutation committed but the notification event
         failed to publish - the state change stands
  - 500: everything else

SECURITY NOTE:
  No authentication middleware. Deployment sits behind the gateway, which
  owns auth.

SEE ALSO:
  - dto.go: Request/response types
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse/visit-order-engine/engine"
	"github.com/gatehouse/visit-order-engine/vorder"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
}

// NewHandler creates a handler around the engine.
func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{Engine: eng}
}

// =============================================================================
// BALANCE & HISTORY
// =============================================================================

// GetBalance returns a prisoner's derived balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	prisonerID := chi.URLParam(r, "prisonerID")

	balance, err := h.Engine.GetBalance(r.Context(), prisonerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceDTO(balance))
}

// GetHistory returns a prisoner's audit history, optionally since a date.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	prisonerID := chi.URLParam(r, "prisonerID")

	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid since date, want YYYY-MM-DD"})
			return
		}
		since = parsed
	}

	entries, err := h.Engine.GetHistory(r.Context(), prisonerID, since)
	if err != nil {
		writeError(w, err)
		return
	}

	dtos := make([]*HistoryEntryDTO, 0, len(entries))
	for i := range entries {
		dtos = append(dtos, historyEntryDTO(&entries[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetHistoryChanges returns the per-kind delta of one history entry against
// its immediate predecessor.
func (h *Handler) GetHistoryChanges(w http.ResponseWriter, r *http.Request) {
	prisonerID := chi.URLParam(r, "prisonerID")
	entryID := chi.URLParam(r, "entryID")

	delta, err := h.Engine.HistoryChanges(r.Context(), prisonerID, entryID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryDeltaDTO{
		EntryID:  delta.EntryID,
		Type:     string(delta.Type),
		VODelta:  delta.VODelta,
		PVODelta: delta.PVODelta,
	})
}

// =============================================================================
// ALLOCATION
// =============================================================================

// RunAllocation runs a single-prisoner allocation pass.
func (h *Handler) RunAllocation(w http.ResponseWriter, r *http.Request) {
	prisonerID := chi.URLParam(r, "prisonerID")

	entry, err := h.Engine.RunAllocationPass(r.Context(), prisonerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{Entry: historyEntryDTO(entry)})
}

// RunPrisonAllocation runs the batch allocation pass for a prison.
func (h *Handler) RunPrisonAllocation(w http.ResponseWriter, r *http.Request) {
	prisonID := chi.URLParam(r, "prisonID")

	report, err := h.Engine.RunPrisonAllocation(r.Context(), prisonID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batchReportDTO(report))
}

// =============================================================================
// VISITS
// =============================================================================

// VisitBooked consumes one order for a booking.
func (h *Handler) VisitBooked(w http.ResponseWriter, r *http.Request) {
	var req VisitRequest
	if !decode(w, r, &req) {
		return
	}
	if req.VisitRef == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "visit_ref is required"})
		return
	}

	// Without a prisoner id the booking is resolved via the visit registry.
	var entry *vorder.HistoryEntry
	var err error
	if req.PrisonerID == "" {
		entry, err = h.Engine.ConsumeByRef(r.Context(), req.VisitRef)
	} else {
		entry, err = h.Engine.Consume(r.Context(), req.PrisonerID, req.VisitRef)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{Entry: historyEntryDTO(entry)})
}

// VisitCancelled refunds the order consumed by a cancelled booking.
func (h *Handler) VisitCancelled(w http.ResponseWriter, r *http.Request) {
	var req VisitRequest
	if !decode(w, r, &req) {
		return
	}
	if req.VisitRef == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "visit_ref is required"})
		return
	}

	var entry *vorder.HistoryEntry
	var err error
	if req.PrisonerID == "" {
		entry, err = h.Engine.RefundByRef(r.Context(), req.VisitRef)
	} else {
		entry, err = h.Engine.Refund(r.Context(), req.PrisonerID, req.VisitRef)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{Entry: historyEntryDTO(entry)})
}

// VisitMoved reconciles both prisoners affected by a moved booking.
func (h *Handler) VisitMoved(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !decode(w, r, &req) {
		return
	}
	if req.FromPrisonerID == "" || req.ToPrisonerID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "from_prisoner_id and to_prisoner_id are required"})
		return
	}

	err := h.Engine.MoveVisitBooking(r.Context(),
		req.FromPrisonerID, syncRequest(req.From),
		req.ToPrisonerID, syncRequest(req.To))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{})
}

// =============================================================================
// ADJUSTMENT & RECONCILIATION
// =============================================================================

// CreateAdjustment applies a staff balance correction.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	prisonerID := chi.URLParam(r, "prisonerID")

	var req AdjustmentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Actor == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "actor is required"})
		return
	}

	entry, err := h.Engine.AdjustBalance(r.Context(), prisonerID, engine.Adjustment{
		VODelta:        req.VODelta,
		PVODelta:       req.PVODelta,
		Actor:          req.Actor,
		Reason:         req.Reason,
		Comment:        req.Comment,
		CorrelationRef: req.CorrelationRef,
	})
	if vorder.IsPublish(err) {
		// Committed; only the notification failed.
		log.Printf("[API] adjustment committed for %s, publish failed: %v", prisonerID, err)
		writeJSON(w, http.StatusOK, MutationResponse{Entry: historyEntryDTO(entry), Warning: err.Error()})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{Entry: historyEntryDTO(entry)})
}

// Migrate resets and recreates a prisoner's ledger from declared balances.
func (h *Handler) Migrate(w http.ResponseWriter, r *http.Request) {
	prisonerID := chi.URLParam(r, "prisonerID")

	var req MigrationRequest
	if !decode(w, r, &req) {
		return
	}

	migration := engine.Migration{
		VOBalance:      req.VOBalance,
		PVOBalance:     req.PVOBalance,
		CorrelationRef: req.CorrelationRef,
	}
	if req.LastVOAllocatedDate != "" {
		parsed, err := time.Parse("2006-01-02", req.LastVOAllocatedDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid last_vo_allocated_date, want YYYY-MM-DD"})
			return
		}
		migration.LastVOAllocatedDate = &parsed
	}

	err := h.Engine.Migrate(r.Context(), prisonerID, migration)
	if vorder.IsPublish(err) {
		log.Printf("[API] migration committed for %s, publish failed: %v", prisonerID, err)
		writeJSON(w, http.StatusOK, MutationResponse{Warning: err.Error()})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MutationResponse{})
}

// Sync applies a system-of-record delta without cap/floor validation.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	prisonerID := chi.URLParam(r, "prisonerID")

	var req SyncRequest
	if !decode(w, r, &req) {
		return
	}

	entry, err := h.Engine.Sync(r.Context(), prisonerID, syncRequest(req))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{Entry: historyEntryDTO(entry)})
}

// Merge consolidates two prisoner identities.
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SurvivingPrisonerID == "" || req.RemovedPrisonerID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "surviving_prisoner_id and removed_prisoner_id are required"})
		return
	}

	entry, err := h.Engine.MergePrisoners(r.Context(), req.SurvivingPrisonerID, req.RemovedPrisonerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{Entry: historyEntryDTO(entry)})
}

// =============================================================================
// HELPERS
// =============================================================================

func syncRequest(req SyncRequest) engine.SyncRequest {
	return engine.SyncRequest{
		OldVOBalance:   req.OldVOBalance,
		VODelta:        req.VODelta,
		OldPVOBalance:  req.OldPVOBalance,
		PVODelta:       req.PVODelta,
		CorrelationRef: req.CorrelationRef,
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto the HTTP taxonomy.
func writeError(w http.ResponseWriter, err error) {
	var verr *vorder.ValidationError
	switch {
	case errors.As(err, &verr):
		codes := make([]string, len(verr.Violations))
		for i, v := range verr.Violations {
			codes[i] = string(v)
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "adjustment validation failed", Violations: codes})

	case errors.Is(err, vorder.ErrNoAdjustment):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})

	case vorder.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})

	case vorder.IsUpstream(err):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})

	default:
		log.Printf("[API] internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
