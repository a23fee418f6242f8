package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/visit-order-engine/engine"
	"github.com/gatehouse/visit-order-engine/vorder"
)

// =============================================================================
// MIGRATE - bulk onboarding
// =============================================================================

func TestMigrate_PositiveBalances_BackdatedForEligibility(t *testing.T) {
	// GIVEN: The system of record declares 3 VOs and 2 PVOs, no allocation
	//        date
	// WHEN: The prisoner is migrated
	// THEN: Orders are recreated backdated by the accumulation age, so the
	//       next cadence comes due almost immediately

	eng, env := newTestEngine(t)
	ctx := context.Background()

	err := eng.Migrate(ctx, "A0001AA", engine.Migration{VOBalance: 3, PVOBalance: 2, CorrelationRef: "mig-1"})
	require.NoError(t, err)

	backdate := vorder.StartOfDay(env.now).AddDate(0, 0, -28)
	saved := loadLedger(t, env, "A0001AA")
	assert.Equal(t, 3, saved.CountOrders(vorder.KindVO, vorder.StatusAvailable))
	assert.Equal(t, 2, saved.CountOrders(vorder.KindPVO, vorder.StatusAvailable))
	assert.Equal(t, backdate, saved.VisitOrders[0].CreatedAt)
	require.NotNil(t, saved.LastVOAllocatedDate)
	assert.Equal(t, backdate, *saved.LastVOAllocatedDate)
	require.NotNil(t, saved.LastPVOAllocatedDate)

	bal, err := eng.GetBalance(ctx, "A0001AA")
	require.NoError(t, err)
	assert.True(t, vorder.DueAt(bal.NextVODue, env.now), "backdating makes the next allocation due")
}

func TestMigrate_DeclaredAllocationDate_Honoured(t *testing.T) {
	// GIVEN: The system of record declares when it last allocated
	// WHEN: The prisoner is migrated
	// THEN: That date, not the synthetic backdate, drives the next cadence

	eng, env := newTestEngine(t)
	ctx := context.Background()

	declared := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)
	err := eng.Migrate(ctx, "A0001AA", engine.Migration{VOBalance: 2, LastVOAllocatedDate: &declared})
	require.NoError(t, err)

	saved := loadLedger(t, env, "A0001AA")
	require.NotNil(t, saved.LastVOAllocatedDate)
	assert.Equal(t, declared, *saved.LastVOAllocatedDate)
	assert.Equal(t, declared, saved.VisitOrders[0].CreatedAt)
	assert.Nil(t, saved.LastPVOAllocatedDate, "no PVO balance, PVO rides the VO cadence")
}

func TestMigrate_NegativeBalance_RecreatesDebt(t *testing.T) {
	// GIVEN: The system of record declares a VO balance of -2
	// WHEN: The prisoner is migrated
	// THEN: Two outstanding negative orders are created

	eng, env := newTestEngine(t)
	ctx := context.Background()

	err := eng.Migrate(ctx, "A0001AA", engine.Migration{VOBalance: -2})
	require.NoError(t, err)

	bal, err := eng.GetBalance(ctx, "A0001AA")
	require.NoError(t, err)
	assert.Equal(t, -2, bal.VO.Balance)

	saved := loadLedger(t, env, "A0001AA")
	assert.Equal(t, 2, saved.CountOutstandingNegatives(vorder.KindVO))
	assert.Empty(t, saved.VisitOrders)
}

func TestMigrate_Rerun_DiscardsPreviousLedger(t *testing.T) {
	// GIVEN: A prisoner already migrated with 5 VOs and some later activity
	// WHEN: Migration runs again declaring 1 VO
	// THEN: Only the latest declaration survives; history restarts with one
	//       migration entry

	eng, env := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Migrate(ctx, "A0001AA", engine.Migration{VOBalance: 5}))
	_, err := eng.Consume(ctx, "A0001AA", "visit-1")
	require.NoError(t, err)

	require.NoError(t, eng.Migrate(ctx, "A0001AA", engine.Migration{VOBalance: 1}))

	saved := loadLedger(t, env, "A0001AA")
	assert.Len(t, saved.VisitOrders, 1)
	require.Len(t, saved.History, 1)
	assert.Equal(t, vorder.ChangeMigration, saved.History[0].Type)
	assert.Equal(t, 1, saved.History[0].VOBalance)
}

func TestMigrate_PublishesResetEvent(t *testing.T) {
	// GIVEN: A migration
	// WHEN: It commits
	// THEN: A balance-changed event goes out, like an adjustment

	eng, env := newTestEngine(t)

	err := eng.Migrate(context.Background(), "A0001AA", engine.Migration{VOBalance: 1, CorrelationRef: "mig-9"})
	require.NoError(t, err)

	require.Len(t, env.events.events, 1)
	assert.Equal(t, "mig-9", env.events.events[0].CorrelationRef)
}

// =============================================================================
// SYNC - drift correction
// =============================================================================

func TestSync_AppliesDeltaWithoutValidation(t *testing.T) {
	// GIVEN: A prisoner with no orders at all
	// WHEN: The system of record syncs a -2 VO delta
	// THEN: The delta applies regardless of the floor, borrowing the
	//       shortfall

	eng, env := newTestEngine(t)
	ctx := context.Background()

	entry, err := eng.Sync(ctx, "A0001AA", engine.SyncRequest{OldVOBalance: 0, VODelta: intPtr(-2)})
	require.NoError(t, err)
	assert.Equal(t, vorder.ChangeSync, entry.Type)
	assert.Equal(t, -2, entry.VOBalance)

	saved := loadLedger(t, env, "A0001AA")
	assert.Equal(t, 2, saved.CountOutstandingNegatives(vorder.KindVO))
}

func TestSync_DriftNeverBlocks(t *testing.T) {
	// GIVEN: We hold 2 VOs but the system of record believes 5
	// WHEN: It syncs a -1 delta against its own view
	// THEN: The delta still applies to what we actually hold

	eng, env := newTestEngine(t)
	ctx := context.Background()

	ledger := vorder.NewPrisonerLedger("A0001AA")
	ledger.AddOrders(vorder.KindVO, 2, env.now.AddDate(0, 0, -1))
	seedLedger(t, env, ledger)

	entry, err := eng.Sync(ctx, "A0001AA", engine.SyncRequest{OldVOBalance: 5, VODelta: intPtr(-1)})
	require.NoError(t, err)
	assert.Equal(t, 1, entry.VOBalance)
}

func TestSync_DoesNotNotify(t *testing.T) {
	// GIVEN: A trusted sync from the system of record
	// WHEN: It commits
	// THEN: No balance-changed event goes out; only manual adjustments and
	//       migrations notify

	eng, env := newTestEngine(t)

	_, err := eng.Sync(context.Background(), "A0001AA", engine.SyncRequest{VODelta: intPtr(1)})
	require.NoError(t, err)

	assert.Empty(t, env.events.events)
}

func TestSync_NilDelta_LeavesKindUntouched(t *testing.T) {
	// GIVEN: A prisoner holding VOs and PVOs
	// WHEN: A sync carries only a PVO delta
	// THEN: The VO position is untouched

	eng, env := newTestEngine(t)
	ctx := context.Background()

	ledger := vorder.NewPrisonerLedger("A0001AA")
	ledger.AddOrders(vorder.KindVO, 2, env.now.AddDate(0, 0, -1))
	ledger.AddOrders(vorder.KindPVO, 1, env.now.AddDate(0, 0, -1))
	seedLedger(t, env, ledger)

	_, err := eng.Sync(ctx, "A0001AA", engine.SyncRequest{OldPVOBalance: 1, PVODelta: intPtr(-1)})
	require.NoError(t, err)

	bal, err := eng.GetBalance(ctx, "A0001AA")
	require.NoError(t, err)
	assert.Equal(t, 2, bal.VO.Balance)
	assert.Equal(t, 0, bal.PVO.Balance)
}

func TestMoveVisitBooking_SyncsBothPrisoners(t *testing.T) {
	// GIVEN: A booking moved from one prisoner to another
	// WHEN: The move is reconciled
	// THEN: Each side gets its own independent correction; no value
	//       transfers between ledgers

	eng, env := newTestEngine(t)
	ctx := context.Background()

	from := vorder.NewPrisonerLedger("A0001AA")
	seedLedger(t, env, from)
	to := vorder.NewPrisonerLedger("B0002BB")
	to.AddOrders(vorder.KindVO, 1, env.now.AddDate(0, 0, -1))
	seedLedger(t, env, to)

	err := eng.MoveVisitBooking(ctx,
		"A0001AA", engine.SyncRequest{OldVOBalance: 0, VODelta: intPtr(1)},
		"B0002BB", engine.SyncRequest{OldVOBalance: 1, VODelta: intPtr(-1)})
	require.NoError(t, err)

	fromBal, err := eng.GetBalance(ctx, "A0001AA")
	require.NoError(t, err)
	assert.Equal(t, 1, fromBal.VO.Balance)

	toBal, err := eng.GetBalance(ctx, "B0002BB")
	require.NoError(t, err)
	assert.Equal(t, 0, toBal.VO.Balance)
}

// =============================================================================
// MERGE - identity consolidation
// =============================================================================

func TestMerge_TopsUpToRemovedBalance(t *testing.T) {
	// GIVEN: Surviving identity holds 2 VOs, removed identity held 5
	// WHEN: The identities merge
	// THEN: The surviving ledger is topped up by 3

	eng, env := newTestEngine(t)
	ctx := context.Background()

	surviving := vorder.NewPrisonerLedger("A0001AA")
	surviving.AddOrders(vorder.KindVO, 2, env.now.AddDate(0, 0, -1))
	seedLedger(t, env, surviving)
	removed := vorder.NewPrisonerLedger("B0002BB")
	removed.AddOrders(vorder.KindVO, 5, env.now.AddDate(0, 0, -1))
	seedLedger(t, env, removed)

	entry, err := eng.MergePrisoners(ctx, "A0001AA", "B0002BB")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, vorder.ChangeMergeTopUp, entry.Type)
	assert.Equal(t, 5, entry.VOBalance)
	assert.Equal(t, "B0002BB", entry.Attributes["removedPrisonerId"])

	saved := loadLedger(t, env, "A0001AA")
	assert.Equal(t, 5, saved.CountOrders(vorder.KindVO, vorder.StatusAvailable))
}

func TestMerge_SurvivingAhead_NoOp(t *testing.T) {
	// GIVEN: Surviving identity already holds more than the removed one
	// WHEN: The identities merge
	// THEN: Nothing changes - the surviving balance is never reduced - and
	//       no audit entry is appended

	eng, env := newTestEngine(t)
	ctx := context.Background()

	surviving := vorder.NewPrisonerLedger("A0001AA")
	surviving.AddOrders(vorder.KindVO, 5, env.now.AddDate(0, 0, -1))
	seedLedger(t, env, surviving)
	removed := vorder.NewPrisonerLedger("B0002BB")
	removed.AddOrders(vorder.KindVO, 1, env.now.AddDate(0, 0, -1))
	seedLedger(t, env, removed)

	entry, err := eng.MergePrisoners(ctx, "A0001AA", "B0002BB")
	require.NoError(t, err)
	assert.Nil(t, entry)

	saved := loadLedger(t, env, "A0001AA")
	assert.Len(t, saved.VisitOrders, 5)
	assert.Empty(t, saved.History)
}

func TestMerge_RemovedHasNoLedger_NoOp(t *testing.T) {
	// GIVEN: The removed identity was never tracked here
	// WHEN: The identities merge
	// THEN: Nothing happens and nothing errors

	eng, _ := newTestEngine(t)

	entry, err := eng.MergePrisoners(context.Background(), "A0001AA", "B0002BB")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestMerge_PerKindShortfall(t *testing.T) {
	// GIVEN: Surviving is ahead on VO but behind on PVO
	// WHEN: The identities merge
	// THEN: Only the PVO shortfall is topped up

	eng, env := newTestEngine(t)
	ctx := context.Background()

	surviving := vorder.NewPrisonerLedger("A0001AA")
	surviving.AddOrders(vorder.KindVO, 4, env.now.AddDate(0, 0, -1))
	seedLedger(t, env, surviving)
	removed := vorder.NewPrisonerLedger("B0002BB")
	removed.AddOrders(vorder.KindVO, 1, env.now.AddDate(0, 0, -1))
	removed.AddOrders(vorder.KindPVO, 2, env.now.AddDate(0, 0, -1))
	seedLedger(t, env, removed)

	_, err := eng.MergePrisoners(ctx, "A0001AA", "B0002BB")
	require.NoError(t, err)

	bal, err := eng.GetBalance(ctx, "A0001AA")
	require.NoError(t, err)
	assert.Equal(t, 4, bal.VO.Balance)
	assert.Equal(t, 2, bal.PVO.Balance)
}
