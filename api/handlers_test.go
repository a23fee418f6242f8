package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/visit-order-engine/api"
	"github.com/gatehouse/visit-order-engine/engine"
	"github.com/gatehouse/visit-order-engine/vorder"
	"github.com/gatehouse/visit-order-engine/vorder/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type apiEnv struct {
	server *httptest.Server
	store  *store.Memory
	events *stubPublisher
	now    time.Time
}

type stubPublisher struct{ err error }

func (s *stubPublisher) Publish(context.Context, engine.BalanceEvent) error { return s.err }

type stubIncentives struct{}

func (stubIncentives) Entitlement(context.Context, string, string) (engine.Entitlement, error) {
	return engine.Entitlement{VOCount: 2, PVOCount: 1}, nil
}

type stubRegistry struct{}

func (stubRegistry) Lookup(_ context.Context, prisonerID string) (engine.PrisonerDetails, error) {
	return engine.PrisonerDetails{PrisonerID: prisonerID, PrisonID: "BXI", Status: engine.PrisonerStatusActive}, nil
}

func (stubRegistry) Population(context.Context, string) ([]engine.PrisonerDetails, error) {
	return []engine.PrisonerDetails{
		{PrisonerID: "A0001AA", PrisonID: "BXI", Status: engine.PrisonerStatusActive},
		{PrisonerID: "A0002AA", PrisonID: "BXI", Status: "RELEASED"},
	}, nil
}

type stubVisits struct{ err error }

func (s stubVisits) Lookup(_ context.Context, visitRef string) (engine.VisitDetails, error) {
	if s.err != nil {
		return engine.VisitDetails{}, s.err
	}
	return engine.VisitDetails{VisitRef: visitRef, PrisonerID: "A0001AA", PrisonID: "BXI"}, nil
}

func newTestServer(t *testing.T) *apiEnv {
	t.Helper()

	env := &apiEnv{
		store:  store.NewMemory(),
		events: &stubPublisher{},
		now:    time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC),
	}
	eng := engine.New(env.store, stubIncentives{}, stubRegistry{}, stubVisits{}, env.events, vorder.DefaultRules()).
		WithClock(func() time.Time { return env.now })

	env.server = httptest.NewServer(api.NewRouter(api.NewHandler(eng)))
	t.Cleanup(env.server.Close)
	return env
}

func (env *apiEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, env.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// =============================================================================
// BALANCE & HISTORY
// =============================================================================

func TestAPI_GetBalance_UnknownPrisoner_404(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodGet, "/api/prisoners/A0001AA/balance", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_AllocationThenBalance(t *testing.T) {
	// GIVEN: A fresh prisoner
	// WHEN: An allocation pass runs via the API
	// THEN: The balance endpoint reflects the generated orders and due dates

	env := newTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/prisoners/A0001AA/allocation", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mutation := decodeBody[api.MutationResponse](t, resp)
	require.NotNil(t, mutation.Entry)
	assert.Equal(t, "BATCH_PROCESS", mutation.Entry.Type)

	resp = env.do(t, http.MethodGet, "/api/prisoners/A0001AA/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := decodeBody[api.BalanceDTO](t, resp)
	assert.Equal(t, 2, balance.VO.Balance)
	assert.Equal(t, 1, balance.PVO.Balance)
	assert.NotEmpty(t, balance.NextVODue)
}

func TestAPI_HistoryAndChanges(t *testing.T) {
	env := newTestServer(t)

	env.do(t, http.MethodPost, "/api/prisoners/A0001AA/allocation", nil)
	resp := env.do(t, http.MethodPost, "/api/visits/booked", api.VisitRequest{PrisonerID: "A0001AA", VisitRef: "visit-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	booked := decodeBody[api.MutationResponse](t, resp)
	require.NotNil(t, booked.Entry)

	resp = env.do(t, http.MethodGet, "/api/prisoners/A0001AA/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decodeBody[[]api.HistoryEntryDTO](t, resp)
	require.Len(t, entries, 2)

	resp = env.do(t, http.MethodGet, "/api/prisoners/A0001AA/history/"+booked.Entry.ID+"/changes", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	delta := decodeBody[api.HistoryDeltaDTO](t, resp)
	assert.Equal(t, -1, delta.PVODelta, "the booking consumed the PVO first")
}

func TestAPI_History_BadSinceDate_400(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodGet, "/api/prisoners/A0001AA/history?since=15-06-2025", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// VISITS
// =============================================================================

func TestAPI_VisitBooked_WithoutPrisonerID_ResolvesViaRegistry(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/visits/booked", api.VisitRequest{VisitRef: "visit-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/prisoners/A0001AA/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := decodeBody[api.BalanceDTO](t, resp)
	assert.Equal(t, -1, balance.VO.Balance)
}

func TestAPI_VisitBooked_MissingRef_400(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/visits/booked", api.VisitRequest{PrisonerID: "A0001AA"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_VisitCancelled_RoundTrip(t *testing.T) {
	env := newTestServer(t)

	env.do(t, http.MethodPost, "/api/prisoners/A0001AA/allocation", nil)
	env.do(t, http.MethodPost, "/api/visits/booked", api.VisitRequest{PrisonerID: "A0001AA", VisitRef: "visit-1"})
	resp := env.do(t, http.MethodPost, "/api/visits/cancelled", api.VisitRequest{PrisonerID: "A0001AA", VisitRef: "visit-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/prisoners/A0001AA/balance", nil)
	balance := decodeBody[api.BalanceDTO](t, resp)
	assert.Equal(t, 2, balance.VO.Balance)
	assert.Equal(t, 1, balance.PVO.Balance)
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func TestAPI_Adjustment_ValidationFailure_400WithAllViolations(t *testing.T) {
	// GIVEN: 24 VOs and 4 PVOs
	// WHEN: Staff post +4 VO and -5 PVO
	// THEN: 400 with both violation codes in one response

	env := newTestServer(t)

	ledger := vorder.NewPrisonerLedger("A0001AA")
	ledger.AddOrders(vorder.KindVO, 24, env.now.AddDate(0, 0, -1))
	ledger.AddOrders(vorder.KindPVO, 4, env.now.AddDate(0, 0, -1))
	require.NoError(t, env.store.SaveLedger(context.Background(), ledger))

	voDelta, pvoDelta := 4, -5
	resp := env.do(t, http.MethodPost, "/api/prisoners/A0001AA/adjustments", api.AdjustmentRequest{
		VODelta: &voDelta, PVODelta: &pvoDelta, Actor: "STAFF_USER", Reason: "DATA_FIX",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody[api.ErrorResponse](t, resp)
	assert.ElementsMatch(t, []string{"VO_ABOVE_MAX", "PVO_BELOW_ZERO"}, body.Violations)
}

func TestAPI_Adjustment_MissingActor_400(t *testing.T) {
	env := newTestServer(t)

	voDelta := 1
	resp := env.do(t, http.MethodPost, "/api/prisoners/A0001AA/adjustments", api.AdjustmentRequest{VODelta: &voDelta})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Adjustment_PublishFailure_200WithWarning(t *testing.T) {
	// GIVEN: The event bus is down
	// WHEN: A valid adjustment is posted
	// THEN: 200 with the committed entry and a warning, never an error
	//       status - the state change stands

	env := newTestServer(t)
	env.events.err = errors.New("broker unavailable")

	voDelta := 2
	resp := env.do(t, http.MethodPost, "/api/prisoners/A0001AA/adjustments", api.AdjustmentRequest{
		VODelta: &voDelta, Actor: "STAFF_USER", Reason: "DATA_FIX",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[api.MutationResponse](t, resp)
	require.NotNil(t, body.Entry)
	assert.NotEmpty(t, body.Warning)

	resp = env.do(t, http.MethodGet, "/api/prisoners/A0001AA/balance", nil)
	balance := decodeBody[api.BalanceDTO](t, resp)
	assert.Equal(t, 2, balance.VO.Balance)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestAPI_Migration_201(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/prisoners/A0001AA/migration", api.MigrationRequest{
		VOBalance: 3, PVOBalance: 1, LastVOAllocatedDate: "2025-06-01",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/prisoners/A0001AA/balance", nil)
	balance := decodeBody[api.BalanceDTO](t, resp)
	assert.Equal(t, 3, balance.VO.Balance)
	assert.Equal(t, 1, balance.PVO.Balance)
}

func TestAPI_Migration_BadDate_400(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/prisoners/A0001AA/migration", api.MigrationRequest{
		VOBalance: 1, LastVOAllocatedDate: "01/06/2025",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Sync_AppliesDelta(t *testing.T) {
	env := newTestServer(t)

	voDelta := -2
	resp := env.do(t, http.MethodPost, "/api/prisoners/A0001AA/sync", api.SyncRequest{
		OldVOBalance: 0, VODelta: &voDelta,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/prisoners/A0001AA/balance", nil)
	balance := decodeBody[api.BalanceDTO](t, resp)
	assert.Equal(t, -2, balance.VO.Balance)
	assert.Equal(t, 2, balance.VO.Negative)
}

func TestAPI_Merge(t *testing.T) {
	env := newTestServer(t)

	removed := vorder.NewPrisonerLedger("B0002BB")
	removed.AddOrders(vorder.KindVO, 5, env.now.AddDate(0, 0, -1))
	require.NoError(t, env.store.SaveLedger(context.Background(), removed))

	resp := env.do(t, http.MethodPost, "/api/prisoners/merge", api.MergeRequest{
		SurvivingPrisonerID: "A0001AA", RemovedPrisonerID: "B0002BB",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/prisoners/A0001AA/balance", nil)
	balance := decodeBody[api.BalanceDTO](t, resp)
	assert.Equal(t, 5, balance.VO.Balance)
}

// =============================================================================
// PRISON BATCH
// =============================================================================

func TestAPI_PrisonAllocation_ReportsSkips(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/prisons/BXI/allocation", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	report := decodeBody[api.BatchReportDTO](t, resp)
	assert.Equal(t, "BXI", report.PrisonID)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, report.Failed)
}
