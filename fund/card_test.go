package fund_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fuel-ledger/fund"
	"github.com/warp/fuel-ledger/fund/store"
)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestCard_CreateStartsInDraft(t *testing.T) {
	ctx := context.Background()
	svc := fund.NewCardService(store.NewMemory(), nil)

	acc, err := svc.Create(ctx, fund.NewCard{
		CardUID:        " 7001-22 ",
		CompanyID:      "acme",
		Currency:       "EUR",
		OpeningBalance: dec("150"),
	}, "admin")
	require.NoError(t, err)

	assert.Equal(t, "7001-22", acc.CardUID)
	assert.Equal(t, "7001-22", acc.Name, "name defaults to card number")
	assert.Equal(t, fund.CardDraft, acc.State)
	assertFunds(t, *acc, "150", "0")
}

func TestCard_DuplicateUIDRefused(t *testing.T) {
	ctx := context.Background()
	svc := fund.NewCardService(store.NewMemory(), nil)

	_, err := svc.Create(ctx, fund.NewCard{CardUID: "X1", CompanyID: "acme"}, "admin")
	require.NoError(t, err)

	_, err = svc.Create(ctx, fund.NewCard{CardUID: "X1", CompanyID: "globex"}, "admin")
	assert.ErrorIs(t, err, fund.ErrDuplicateCard)
}

func TestCard_CreateValidation(t *testing.T) {
	ctx := context.Background()
	svc := fund.NewCardService(store.NewMemory(), nil)

	_, err := svc.Create(ctx, fund.NewCard{CardUID: "  "}, "admin")
	assert.ErrorIs(t, err, fund.ErrMissingCardUID)

	_, err = svc.Create(ctx, fund.NewCard{CardUID: "A", OpeningBalance: dec("-1")}, "admin")
	assert.ErrorIs(t, err, fund.ErrNegativeBalance)

	_, err = svc.Create(ctx, fund.NewCard{
		CardUID:        "B",
		ActivationDate: day(2025, 6, 1),
		ExpirationDate: day(2025, 5, 31),
	}, "admin")
	assert.ErrorIs(t, err, fund.ErrInvalidCardDates)
}

func TestCard_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	svc := fund.NewCardService(s, nil)

	acc, err := svc.Create(ctx, fund.NewCard{CardUID: "L1", CompanyID: "acme"}, "admin")
	require.NoError(t, err)

	acc, err = svc.Activate(ctx, acc.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, fund.CardActive, acc.State)

	acc, err = svc.Suspend(ctx, acc.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, fund.CardSuspended, acc.State)

	acc, err = svc.Activate(ctx, acc.ID, "admin")
	require.NoError(t, err)

	acc, err = svc.MarkExpired(ctx, acc.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, fund.CardExpired, acc.State)

	_, err = svc.Activate(ctx, acc.ID, "admin")
	assert.True(t, errors.Is(err, fund.ErrInvalidCardTransition))

	entries, err := s.ListAudit(ctx, fund.AuditFilter{CardID: &acc.ID})
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestCard_StateChangesStampDates(t *testing.T) {
	// GIVEN: a card with no dates, and one that expired before it was activated
	ctx := context.Background()
	s := store.NewMemory()
	svc := fund.NewCardService(s, nil)
	svc.Now = func() time.Time { return time.Date(2025, 7, 10, 15, 0, 0, 0, time.UTC) }

	plain, err := svc.Create(ctx, fund.NewCard{CardUID: "D1", CompanyID: "acme"}, "admin")
	require.NoError(t, err)
	late, err := svc.Create(ctx, fund.NewCard{CardUID: "D2", CompanyID: "acme", ExpirationDate: day(2025, 7, 1)}, "admin")
	require.NoError(t, err)

	// WHEN: both are activated
	plainAcc, err := svc.Activate(ctx, plain.ID, "admin")
	require.NoError(t, err)
	lateAcc, err := svc.Activate(ctx, late.ID, "admin")
	require.NoError(t, err)

	// THEN: activation defaults to today, clamped to the expiration date
	assert.Equal(t, *day(2025, 7, 10), *plainAcc.ActivationDate)
	assert.Equal(t, *day(2025, 7, 1), *lateAcc.ActivationDate)

	// WHEN: the plain card is expired without an expiration date
	plainAcc, err = svc.MarkExpired(ctx, plain.ID, "admin")
	require.NoError(t, err)

	// THEN: expiration defaults to today
	assert.Equal(t, *day(2025, 7, 10), *plainAcc.ExpirationDate)

	// AND: dates already set are kept
	svc.Now = func() time.Time { return time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC) }
	lateAcc, err = svc.MarkExpired(ctx, late.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, *day(2025, 7, 1), *lateAcc.ExpirationDate)
}

func TestCard_ExpireDue(t *testing.T) {
	// GIVEN: three active cards expiring yesterday, today, and never
	// WHEN: ExpireDue runs today
	// THEN: only the card that expired yesterday is marked expired

	ctx := context.Background()
	s := store.NewMemory()
	svc := fund.NewCardService(s, nil)
	today := time.Date(2025, 7, 10, 15, 0, 0, 0, time.UTC)

	mk := func(uid string, exp *time.Time) fund.CardID {
		acc, err := svc.Create(ctx, fund.NewCard{CardUID: uid, CompanyID: "acme", ExpirationDate: exp}, "admin")
		require.NoError(t, err)
		_, err = svc.Activate(ctx, acc.ID, "admin")
		require.NoError(t, err)
		return acc.ID
	}
	past := mk("P", day(2025, 7, 9))
	sameDay := mk("T", day(2025, 7, 10))
	never := mk("N", nil)

	n, err := svc.ExpireDue(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[fund.CardID]fund.CardState{
		past:    fund.CardExpired,
		sameDay: fund.CardActive,
		never:   fund.CardActive,
	} {
		acc, err := s.GetAccount(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, acc.State, acc.CardUID)
	}
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedCard(t, s, "c1", "10", "0")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx fund.Store) error {
		if _, err := fund.NewLedger(tx).CommitDelta(ctx, "c1", dec("5")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	acc, err := s.GetAccount(ctx, "c1")
	require.NoError(t, err)
	assertFunds(t, acc, "10", "0")
}
