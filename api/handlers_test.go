/*
handlers_test.go - HTTP tests for card, recharge and error handling

Tests for:
- Card registration, lookup, listing and state changes
- Recharge workflow end to end and its effect on card funds
- Status codes for validation, missing actor, unknown ids and refused
  transitions
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fuel-ledger/store/sqlite"
)

const testActor = "fleet-manager"

type testServer struct {
	h      *Handler
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, HandlerConfig{}, nil)
	return &testServer{h: h, router: NewRouter(h, RouterOptions{})}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return ts.doAs(t, testActor, method, path, body)
}

func (ts *testServer) doAs(t *testing.T, actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// createActiveCard registers a card through the API and activates it.
func (ts *testServer) createActiveCard(t *testing.T, uid, company, opening string) CardDTO {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/cards", CreateCardRequest{
		CardUID:        uid,
		CompanyID:      company,
		Currency:       "EUR",
		ExpirationDate: "2030-12-31",
		OpeningBalance: dec(opening),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	card := decodeAs[CardDTO](t, rec)

	rec = ts.do(t, http.MethodPost, "/api/cards/"+card.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeAs[CardDTO](t, rec)
}

func (ts *testServer) getCard(t *testing.T, id string) CardDTO {
	t.Helper()
	rec := ts.do(t, http.MethodGet, "/api/cards/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeAs[CardDTO](t, rec)
}

func assertFunds(t *testing.T, c CardDTO, balance, pending, available string) {
	t.Helper()
	assert.True(t, c.Balance.Equal(dec(balance)), "balance: want %s, got %s", balance, c.Balance)
	assert.True(t, c.Pending.Equal(dec(pending)), "pending: want %s, got %s", pending, c.Pending)
	assert.True(t, c.Available.Equal(dec(available)), "available: want %s, got %s", available, c.Available)
}

// =============================================================================
// HEALTH / ROUTING
// =============================================================================

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No such route", decodeAs[ErrorResponse](t, rec).Error)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/cards", nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fuel_http_requests_total")
}

// =============================================================================
// CARDS
// =============================================================================

func TestCards_CreateActivateAndList(t *testing.T) {
	// GIVEN: A new card with an opening balance
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/cards", CreateCardRequest{
		CardUID:        "7001",
		Name:           "Truck 12",
		CompanyID:      "acme",
		OpeningBalance: dec("250.50"),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	card := decodeAs[CardDTO](t, rec)

	// THEN: It starts in draft with everything available
	assert.Equal(t, "draft", card.State)
	assertFunds(t, card, "250.50", "0", "250.50")

	// WHEN: It is activated
	rec = ts.do(t, http.MethodPost, "/api/cards/"+card.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", decodeAs[CardDTO](t, rec).State)

	// THEN: Filtering by state finds it, filtering by another company does not
	rec = ts.do(t, http.MethodGet, "/api/cards?state=active", nil)
	assert.Len(t, decodeAs[[]CardDTO](t, rec), 1)
	rec = ts.do(t, http.MethodGet, "/api/cards?company_id=other", nil)
	assert.Empty(t, decodeAs[[]CardDTO](t, rec))

	// AND: The audit trail shows creation and activation
	rec = ts.do(t, http.MethodGet, "/api/cards/"+card.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeAs[[]AuditEntryDTO](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, testActor, entries[1].Actor)
}

func TestCards_ExpiredIsTerminal(t *testing.T) {
	ts := newTestServer(t)
	card := ts.createActiveCard(t, "7001", "acme", "0")

	rec := ts.do(t, http.MethodPost, "/api/cards/"+card.ID+"/expire", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/cards/"+card.ID+"/activate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCards_RequestErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.createActiveCard(t, "7001", "acme", "0")

	tests := []struct {
		name   string
		actor  string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing card number", testActor, http.MethodPost, "/api/cards",
			CreateCardRequest{CompanyID: "acme"}, http.StatusBadRequest},
		{"bad date format", testActor, http.MethodPost, "/api/cards",
			CreateCardRequest{CardUID: "7002", CompanyID: "acme", ExpirationDate: "31/12/2030"}, http.StatusBadRequest},
		{"lowercase currency", testActor, http.MethodPost, "/api/cards",
			CreateCardRequest{CardUID: "7002", CompanyID: "acme", Currency: "eur"}, http.StatusBadRequest},
		{"missing actor", "", http.MethodPost, "/api/cards",
			CreateCardRequest{CardUID: "7002", CompanyID: "acme"}, http.StatusBadRequest},
		{"duplicate card number", testActor, http.MethodPost, "/api/cards",
			CreateCardRequest{CardUID: "7001", CompanyID: "other"}, http.StatusConflict},
		{"negative opening balance", testActor, http.MethodPost, "/api/cards",
			CreateCardRequest{CardUID: "7003", CompanyID: "acme", OpeningBalance: dec("-1")}, http.StatusUnprocessableEntity},
		{"expiration before activation", testActor, http.MethodPost, "/api/cards",
			CreateCardRequest{CardUID: "7004", CompanyID: "acme", ActivationDate: "2030-01-01", ExpirationDate: "2029-01-01"}, http.StatusUnprocessableEntity},
		{"unknown card", testActor, http.MethodGet, "/api/cards/missing", nil, http.StatusNotFound},
		{"unknown card audit", testActor, http.MethodGet, "/api/cards/missing/audit", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.doAs(t, tt.actor, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCards_MalformedJSON(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/cards", bytes.NewBufferString("{not json"))
	req.Header.Set(ActorHeader, testActor)
	rec := httptest.NewRecorder()

	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decodeAs[ErrorResponse](t, rec).Error)
}

// =============================================================================
// RECHARGES
// =============================================================================

func (ts *testServer) createRecharge(t *testing.T, cardID, amount string) RechargeDTO {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/recharges", CreateRechargeRequest{
		CardID: cardID,
		Amount: dec(amount),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeAs[RechargeDTO](t, rec)
}

func (ts *testServer) rechargeAction(t *testing.T, id, action string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, "/api/recharges/"+id+"/"+action, nil)
}

func TestRecharge_FullLifecycleOverHTTP(t *testing.T) {
	// GIVEN: A card at balance 1000
	ts := newTestServer(t)
	card := ts.createActiveCard(t, "7001", "acme", "1000")

	// WHEN: A 300 recharge is drafted
	rc := ts.createRecharge(t, card.ID, "300")
	assert.Equal(t, "draft", rc.State)
	assert.Equal(t, testActor, rc.RequestedBy)
	assertFunds(t, ts.getCard(t, card.ID), "1000", "0", "1000")

	// AND: Submitted
	rec := ts.rechargeAction(t, rc.ID, "submit")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertFunds(t, ts.getCard(t, card.ID), "1000", "300", "700")

	// AND: Approved by someone else
	rec = ts.doAs(t, "controller", http.MethodPost, "/api/recharges/"+rc.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeAs[RechargeDTO](t, rec)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, "controller", *approved.ApprovedBy)

	// AND: Posted
	rec = ts.rechargeAction(t, rc.ID, "post")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	posted := decodeAs[RechargeDTO](t, rec)

	// THEN: The amount moved from pending into balance
	assert.Equal(t, "posted", posted.State)
	assert.NotNil(t, posted.PostedAt)
	assertFunds(t, ts.getCard(t, card.ID), "1300", "0", "1300")

	// AND: Listing by state finds it
	rec = ts.do(t, http.MethodGet, "/api/recharges?state=posted&card_id="+card.ID, nil)
	assert.Len(t, decodeAs[[]RechargeDTO](t, rec), 1)
}

func TestRecharge_CancelReleasesHold(t *testing.T) {
	ts := newTestServer(t)
	card := ts.createActiveCard(t, "7001", "acme", "100")
	rc := ts.createRecharge(t, card.ID, "40")
	require.Equal(t, http.StatusOK, ts.rechargeAction(t, rc.ID, "submit").Code)

	rec := ts.rechargeAction(t, rc.ID, "cancel")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decodeAs[RechargeDTO](t, rec).State)
	assertFunds(t, ts.getCard(t, card.ID), "100", "0", "100")
}

func TestRecharge_RefusedTransitions(t *testing.T) {
	ts := newTestServer(t)
	card := ts.createActiveCard(t, "7001", "acme", "100")

	// Post straight from draft
	rc := ts.createRecharge(t, card.ID, "10")
	rec := ts.rechargeAction(t, rc.ID, "post")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Submit twice
	require.Equal(t, http.StatusOK, ts.rechargeAction(t, rc.ID, "submit").Code)
	assert.Equal(t, http.StatusConflict, ts.rechargeAction(t, rc.ID, "submit").Code)

	// Cancel after post
	require.Equal(t, http.StatusOK, ts.rechargeAction(t, rc.ID, "approve").Code)
	require.Equal(t, http.StatusOK, ts.rechargeAction(t, rc.ID, "post").Code)
	assert.Equal(t, http.StatusConflict, ts.rechargeAction(t, rc.ID, "cancel").Code)

	// Funds reflect only the single successful post
	assertFunds(t, ts.getCard(t, card.ID), "110", "0", "110")
}

func TestRecharge_RequestErrors(t *testing.T) {
	ts := newTestServer(t)
	card := ts.createActiveCard(t, "7001", "acme", "100")

	tests := []struct {
		name string
		body CreateRechargeRequest
		want int
	}{
		{"zero amount", CreateRechargeRequest{CardID: card.ID, Amount: decimal.Zero}, http.StatusUnprocessableEntity},
		{"negative amount", CreateRechargeRequest{CardID: card.ID, Amount: dec("-5")}, http.StatusUnprocessableEntity},
		{"unknown card", CreateRechargeRequest{CardID: "missing", Amount: dec("5")}, http.StatusNotFound},
		{"missing card", CreateRechargeRequest{Amount: dec("5")}, http.StatusBadRequest},
		{"bad date", CreateRechargeRequest{CardID: card.ID, Amount: dec("5"), RechargeDate: "tomorrow"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/recharges", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec := ts.rechargeAction(t, "missing", "submit")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.doAs(t, "", http.MethodPost, "/api/recharges", CreateRechargeRequest{CardID: card.ID, Amount: dec("5")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecharge_DeleteOnlyDraft(t *testing.T) {
	ts := newTestServer(t)
	card := ts.createActiveCard(t, "7001", "acme", "100")

	draft := ts.createRecharge(t, card.ID, "10")
	rec := ts.do(t, http.MethodDelete, "/api/recharges/"+draft.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/recharges/"+draft.ID, nil).Code)

	submitted := ts.createRecharge(t, card.ID, "10")
	require.Equal(t, http.StatusOK, ts.rechargeAction(t, submitted.ID, "submit").Code)
	rec = ts.do(t, http.MethodDelete, "/api/recharges/"+submitted.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecharge_CustomReferenceAndDate(t *testing.T) {
	ts := newTestServer(t)
	card := ts.createActiveCard(t, "7001", "acme", "0")

	rec := ts.do(t, http.MethodPost, "/api/recharges", CreateRechargeRequest{
		CardID:       card.ID,
		Amount:       dec("12.34"),
		RechargeDate: "2026-03-01",
		Reference:    "PO-991",
		Description:  "Quarterly top-up",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rc := decodeAs[RechargeDTO](t, rec)
	assert.Equal(t, "PO-991", rc.Reference)
	assert.Equal(t, "2026-03-01", rc.RechargeDate)
	assert.Equal(t, "EUR", rc.Currency)
	assert.True(t, rc.Amount.Equal(dec("12.34")))

	fetched := ts.do(t, http.MethodGet, "/api/recharges/"+rc.ID, nil)
	assert.Equal(t, "Quarterly top-up", decodeAs[RechargeDTO](t, fetched).Description)
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestExpiryScheduler_RunNowExpiresDueCards(t *testing.T) {
	// GIVEN: The expiring-cards scenario (two cards past expiry, one valid)
	ts := newTestServer(t)
	require.NoError(t, ts.h.loadExpiringCardsScenario(context.Background()))

	// WHEN: The scheduler runs once
	s := NewExpiryScheduler(ts.h.Cards, nil)
	n := s.RunNow(context.Background())

	// THEN: Only the overdue cards expired, funds untouched
	assert.Equal(t, 2, n)
	rec := ts.do(t, http.MethodGet, "/api/cards?state=expired", nil)
	expired := decodeAs[[]CardDTO](t, rec)
	require.Len(t, expired, 2)
	total := decimal.Zero
	for _, c := range expired {
		total = total.Add(c.Balance)
	}
	assert.True(t, total.Equal(dec("40")))

	// AND: A second run finds nothing to do
	assert.Equal(t, 0, s.RunNow(context.Background()))
}

func TestExpiryScheduler_DisabledDoesNotStart(t *testing.T) {
	ts := newTestServer(t)
	s := NewExpiryScheduler(ts.h.Cards, nil)
	s.Enabled = false

	s.Start()
	s.Stop()

	assert.Nil(t, s.ticker)
}
