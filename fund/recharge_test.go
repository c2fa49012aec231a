package fund_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fuel-ledger/fund"
	"github.com/warp/fuel-ledger/fund/store"
)

const (
	clerk   fund.Actor = "clerk-1"
	manager fund.Actor = "manager-7"
)

func newRechargeFixture(t *testing.T, balance string) (*store.Memory, *fund.RechargeService) {
	t.Helper()
	s := store.NewMemory()
	seedCard(t, s, "c1", balance, "0")
	svc := fund.NewRechargeService(s, nil)
	svc.Now = func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC) }
	return s, svc
}

func createRecharge(t *testing.T, svc *fund.RechargeService, amount string) *fund.RechargeRequest {
	t.Helper()
	r, err := svc.Create(context.Background(), fund.NewRecharge{CardID: "c1", Amount: dec(amount)}, clerk)
	require.NoError(t, err)
	return r
}

func card(t *testing.T, s *store.Memory) fund.CardAccount {
	t.Helper()
	acc, err := s.GetAccount(context.Background(), "c1")
	require.NoError(t, err)
	return acc
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestRecharge_FullLifecycle(t *testing.T) {
	// GIVEN: card with balance 1000
	// WHEN: a 300 recharge is submitted, approved and posted
	// THEN: pending goes 300 then 0, balance ends at 1300

	ctx := context.Background()
	s, svc := newRechargeFixture(t, "1000")

	r := createRecharge(t, svc, "300")
	assert.Equal(t, fund.RechargeDraft, r.State)
	assert.Equal(t, fund.CompanyID("acme"), r.CompanyID)
	assert.Equal(t, "EUR", r.Currency)
	assert.NotEmpty(t, r.Reference)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), r.RechargeDate)
	assertFunds(t, card(t, s), "1000", "0")

	r, err := svc.Submit(ctx, r.ID, clerk)
	require.NoError(t, err)
	assert.Equal(t, fund.RechargeSubmitted, r.State)
	assertFunds(t, card(t, s), "1000", "300")
	assert.True(t, card(t, s).Available().Equal(dec("700")))

	r, err = svc.Approve(ctx, r.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, fund.RechargeApproved, r.State)
	require.NotNil(t, r.ApprovedBy)
	assert.Equal(t, manager, *r.ApprovedBy)
	require.NotNil(t, r.ApprovedAt)
	assertFunds(t, card(t, s), "1000", "300")

	r, err = svc.Post(ctx, r.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, fund.RechargePosted, r.State)
	require.NotNil(t, r.PostedBy)
	assert.Equal(t, manager, *r.PostedBy)
	assertFunds(t, card(t, s), "1300", "0")
}

func TestRecharge_AuditTrail(t *testing.T) {
	ctx := context.Background()
	s, svc := newRechargeFixture(t, "0")

	r := createRecharge(t, svc, "50")
	_, err := svc.Submit(ctx, r.ID, clerk)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, r.ID, manager)
	require.NoError(t, err)
	_, err = svc.Post(ctx, r.ID, manager)
	require.NoError(t, err)

	entries, err := s.ListAudit(ctx, fund.AuditFilter{RechargeID: &r.ID})
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, fund.AuditRechargeCreated, entries[0].Action)
	assert.Equal(t, clerk, entries[0].Actor)
	assert.Equal(t, fund.AuditRechargeSubmitted, entries[1].Action)
	assert.Equal(t, "draft -> submitted", entries[1].Note)
	assert.Equal(t, fund.AuditRechargeApproved, entries[2].Action)
	assert.Equal(t, manager, entries[2].Actor)
	assert.Equal(t, fund.AuditRechargePosted, entries[3].Action)
}

// =============================================================================
// REFUSED TRANSITIONS
// =============================================================================

func TestRecharge_PostRequiresApproved(t *testing.T) {
	// GIVEN: a draft and a submitted request
	// WHEN: posting either
	// THEN: InvalidTransition, no ledger change

	ctx := context.Background()
	s, svc := newRechargeFixture(t, "1000")

	draft := createRecharge(t, svc, "100")
	_, err := svc.Post(ctx, draft.ID, manager)
	require.ErrorIs(t, err, fund.ErrInvalidTransition)

	submitted := createRecharge(t, svc, "200")
	_, err = svc.Submit(ctx, submitted.ID, clerk)
	require.NoError(t, err)
	_, err = svc.Post(ctx, submitted.ID, manager)
	require.ErrorIs(t, err, fund.ErrInvalidTransition)

	var ite *fund.InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, fund.RechargeSubmitted, ite.From)
	assert.Equal(t, fund.ActionPost, ite.Action)

	assertFunds(t, card(t, s), "1000", "200")
	got, err := svc.Get(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, fund.RechargeSubmitted, got.State)
}

func TestRecharge_DoubleSubmitRefused(t *testing.T) {
	ctx := context.Background()
	s, svc := newRechargeFixture(t, "0")

	r := createRecharge(t, svc, "80")
	_, err := svc.Submit(ctx, r.ID, clerk)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, r.ID, clerk)
	require.ErrorIs(t, err, fund.ErrInvalidTransition)
	assertFunds(t, card(t, s), "0", "80")
}

func TestRecharge_ConcurrentSubmitsReserveOnce(t *testing.T) {
	// GIVEN: one draft recharge of 80
	// WHEN: ten goroutines submit it at once
	// THEN: one succeeds, the rest see the submitted state, pending is 80

	ctx := context.Background()
	s, svc := newRechargeFixture(t, "0")
	r := createRecharge(t, svc, "80")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		refusals int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(ctx, r.ID, clerk)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, fund.ErrInvalidTransition):
				refusals++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 9, refusals)
	assertFunds(t, card(t, s), "0", "80")
}

func TestRecharge_CancelPostedRefused(t *testing.T) {
	ctx := context.Background()
	s, svc := newRechargeFixture(t, "0")

	r := createRecharge(t, svc, "40")
	_, err := svc.Approve(ctx, r.ID, manager)
	require.NoError(t, err)
	_, err = svc.Post(ctx, r.ID, manager)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, r.ID, manager)
	require.ErrorIs(t, err, fund.ErrInvalidTransition)
	assertFunds(t, card(t, s), "40", "0")
}

func TestRecharge_ApproveAfterPostRefused(t *testing.T) {
	ctx := context.Background()
	_, svc := newRechargeFixture(t, "0")

	r := createRecharge(t, svc, "40")
	_, err := svc.Approve(ctx, r.ID, manager)
	require.NoError(t, err)
	_, err = svc.Post(ctx, r.ID, manager)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, r.ID, manager)
	assert.ErrorIs(t, err, fund.ErrInvalidTransition)
	_, err = svc.Submit(ctx, r.ID, manager)
	assert.ErrorIs(t, err, fund.ErrInvalidTransition)
}

// =============================================================================
// CANCEL
// =============================================================================

func TestRecharge_CancelSubmittedReleasesHold(t *testing.T) {
	// GIVEN: a submitted request of 250 (pending 250)
	// WHEN: cancelled
	// THEN: pending back to 0, balance unchanged

	ctx := context.Background()
	s, svc := newRechargeFixture(t, "500")

	r := createRecharge(t, svc, "250")
	_, err := svc.Submit(ctx, r.ID, clerk)
	require.NoError(t, err)
	assertFunds(t, card(t, s), "500", "250")

	r, err = svc.Cancel(ctx, r.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, fund.RechargeCancelled, r.State)
	assertFunds(t, card(t, s), "500", "0")
}

func TestRecharge_CancelApprovedReleasesHold(t *testing.T) {
	ctx := context.Background()
	s, svc := newRechargeFixture(t, "0")

	r := createRecharge(t, svc, "60")
	_, err := svc.Submit(ctx, r.ID, clerk)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, r.ID, manager)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, r.ID, manager)
	require.NoError(t, err)
	assertFunds(t, card(t, s), "0", "0")
}

func TestRecharge_CancelDraftHasNoLedgerEffect(t *testing.T) {
	ctx := context.Background()
	s, svc := newRechargeFixture(t, "100")

	other := createRecharge(t, svc, "30")
	_, err := svc.Submit(ctx, other.ID, clerk)
	require.NoError(t, err)

	r := createRecharge(t, svc, "70")
	_, err = svc.Cancel(ctx, r.ID, clerk)
	require.NoError(t, err)

	assertFunds(t, card(t, s), "100", "30")
}

func TestRecharge_CancelTwiceIsNoOp(t *testing.T) {
	ctx := context.Background()
	s, svc := newRechargeFixture(t, "0")

	r := createRecharge(t, svc, "10")
	_, err := svc.Submit(ctx, r.ID, clerk)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, r.ID, clerk)
	require.NoError(t, err)

	r, err = svc.Cancel(ctx, r.ID, clerk)
	require.NoError(t, err)
	assert.Equal(t, fund.RechargeCancelled, r.State)
	assertFunds(t, card(t, s), "0", "0")
}

// =============================================================================
// APPROVE FROM DRAFT
// =============================================================================

func TestRecharge_ApproveFromDraftThenPost(t *testing.T) {
	// GIVEN: another request holding 100 on the card
	// WHEN: a 40 request goes draft -> approved -> posted, never reserving
	// THEN: balance +40 and the other request's hold is reduced by the
	//       unconditional release of 40

	ctx := context.Background()
	s, svc := newRechargeFixture(t, "0")

	other := createRecharge(t, svc, "100")
	_, err := svc.Submit(ctx, other.ID, clerk)
	require.NoError(t, err)

	r := createRecharge(t, svc, "40")
	_, err = svc.Approve(ctx, r.ID, manager)
	require.NoError(t, err)
	assertFunds(t, card(t, s), "0", "100")

	_, err = svc.Post(ctx, r.ID, manager)
	require.NoError(t, err)
	assertFunds(t, card(t, s), "40", "60")
}

func TestRecharge_ApproveFromDraftOnIdleCard(t *testing.T) {
	ctx := context.Background()
	s, svc := newRechargeFixture(t, "5")

	r := createRecharge(t, svc, "40")
	_, err := svc.Approve(ctx, r.ID, manager)
	require.NoError(t, err)
	_, err = svc.Post(ctx, r.ID, manager)
	require.NoError(t, err)

	assertFunds(t, card(t, s), "45", "0")
}

// =============================================================================
// CREATE / DELETE
// =============================================================================

func TestRecharge_CreateValidation(t *testing.T) {
	ctx := context.Background()
	_, svc := newRechargeFixture(t, "0")

	_, err := svc.Create(ctx, fund.NewRecharge{CardID: "c1", Amount: dec("0")}, clerk)
	assert.ErrorIs(t, err, fund.ErrInvalidAmount)

	_, err = svc.Create(ctx, fund.NewRecharge{CardID: "c1", Amount: dec("-3")}, clerk)
	assert.ErrorIs(t, err, fund.ErrInvalidAmount)

	_, err = svc.Create(ctx, fund.NewRecharge{CardID: "nope", Amount: dec("3")}, clerk)
	assert.ErrorIs(t, err, fund.ErrAccountNotFound)

	_, err = svc.Create(ctx, fund.NewRecharge{CardID: "c1", Amount: dec("3")}, "")
	assert.ErrorIs(t, err, fund.ErrMissingActor)
}

func TestRecharge_DeleteOnlyDraft(t *testing.T) {
	ctx := context.Background()
	_, svc := newRechargeFixture(t, "0")

	draft := createRecharge(t, svc, "10")
	require.NoError(t, svc.Delete(ctx, draft.ID, clerk))
	_, err := svc.Get(ctx, draft.ID)
	assert.ErrorIs(t, err, fund.ErrRechargeNotFound)

	submitted := createRecharge(t, svc, "10")
	_, err = svc.Submit(ctx, submitted.ID, clerk)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Delete(ctx, submitted.ID, clerk), fund.ErrInvalidTransition)
}

func TestRecharge_UnknownRequest(t *testing.T) {
	_, svc := newRechargeFixture(t, "0")
	_, err := svc.Submit(context.Background(), "missing", clerk)
	assert.ErrorIs(t, err, fund.ErrRechargeNotFound)
	assert.True(t, fund.IsNotFound(err))
}

func TestRecharge_ListByState(t *testing.T) {
	ctx := context.Background()
	_, svc := newRechargeFixture(t, "0")

	a := createRecharge(t, svc, "1")
	createRecharge(t, svc, "2")
	_, err := svc.Submit(ctx, a.ID, clerk)
	require.NoError(t, err)

	submitted, err := svc.List(ctx, fund.RechargeFilter{States: []fund.RechargeState{fund.RechargeSubmitted}})
	require.NoError(t, err)
	require.Len(t, submitted, 1)
	assert.Equal(t, a.ID, submitted[0].ID)

	all, err := svc.List(ctx, fund.RechargeFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
