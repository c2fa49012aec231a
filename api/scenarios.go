/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a small
	fleet: cards with funds, recharge requests in every workflow state, and
	optionally an imported expense file. Everything goes through the same
	services the API uses, so the audit trail looks like real usage.

AVAILABLE SCENARIOS:

	demo-fleet:     Three cards of one company, recharges in each state
	import-sample:  demo-fleet plus an imported CSV with one bad row and
	                one validated expense
	expiring-cards: Active cards past their expiration date, for the
	                expiry scheduler

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Register cards and activate them
 3. Drive recharges through submit/approve/post/cancel
 4. Optionally import expenses and validate some

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "demo-fleet"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Service wiring
  - scheduler.go: Picks up the expiring-cards scenario
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fuel-ledger/expense"
	"github.com/warp/fuel-ledger/fund"
)

// DemoCompany owns every card the scenarios create.
const DemoCompany fund.CompanyID = "acme-logistics"

const demoActor fund.Actor = "demo"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "demo-fleet",
		Name:        "Demo Fleet",
		Description: "Three cards, recharges posted, pending, approved and cancelled",
	},
	{
		ID:          "import-sample",
		Name:        "Expense Import",
		Description: "Demo fleet plus an imported expense file with one bad row",
	},
	{
		ID:          "expiring-cards",
		Name:        "Expiring Cards",
		Description: "Active cards past their expiration date, ready for the expiry check",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "demo-fleet":
		load = h.loadDemoFleetScenario
	case "import-sample":
		load = h.loadImportSampleScenario
	case "expiring-cards":
		load = h.loadExpiringCardsScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	loggerFrom(ctx).Info("scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type demoCard struct {
	uid     string
	name    string
	opening string
	draft   bool
}

var demoCards = []demoCard{
	{uid: "7001-0001", name: "Truck 12 - Lyon", opening: "1000"},
	{uid: "7001-0002", name: "Van 4 - Marseille", opening: "250"},
	{uid: "7001-0003", name: "Spare card", opening: "0", draft: true},
}

// loadDemoFleetScenario leaves the fleet as:
//
//	7001-0001: balance 1300, pending 0   (300 posted)
//	7001-0002: balance 250,  pending 200 (submitted) + 50 approved
//	7001-0003: draft card, one cancelled recharge
func (h *Handler) loadDemoFleetScenario(ctx context.Context) error {
	cards, err := h.seedCards(ctx, demoCards)
	if err != nil {
		return err
	}

	steps := []struct {
		card    fund.CardID
		amount  string
		desc    string
		actions []fund.RechargeAction
	}{
		{cards[0].ID, "300", "Monthly top-up", []fund.RechargeAction{fund.ActionSubmit, fund.ActionApprove, fund.ActionPost}},
		{cards[1].ID, "200", "Long haul trip", []fund.RechargeAction{fund.ActionSubmit}},
		{cards[1].ID, "50", "Toll buffer", []fund.RechargeAction{fund.ActionSubmit, fund.ActionApprove}},
		{cards[2].ID, "80", "Entered twice", []fund.RechargeAction{fund.ActionSubmit, fund.ActionCancel}},
	}
	for _, s := range steps {
		if err := h.seedRecharge(ctx, s.card, s.amount, s.desc, s.actions...); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadImportSampleScenario(ctx context.Context) error {
	if err := h.loadDemoFleetScenario(ctx); err != nil {
		return err
	}

	day := time.Now().UTC().AddDate(0, 0, -3).Format(dateLayout)
	csv := strings.Join([]string{
		"card_uid,expense_date,amount,liter_qty,station,odometer",
		"7001-0001," + day + ",82.50,45.10,TotalEnergies A7,120345",
		"7001-0001," + day + ",\"1.234,00\",650,Depot Lyon Sud,120780",
		"7001-0002," + day + ",61.20,33.4,Esso Marseille,",
		"9999-0000," + day + ",10,5,Unknown,",
	}, "\n")

	res, err := h.Importer.Import(ctx, expense.ImportRequest{
		Filename:  "station-export.csv",
		Data:      []byte(csv),
		CompanyID: DemoCompany,
		Actor:     demoActor,
		Note:      "Weekly station export",
	})
	if err != nil {
		return err
	}

	// Validate the first imported expense so the card shows a spend.
	for _, line := range res.Lines {
		if line.State == expense.LineDone && line.ExpenseID != "" {
			_, err := h.Expenses.Validate(ctx, line.ExpenseID, demoActor)
			return err
		}
	}
	return nil
}

func (h *Handler) loadExpiringCardsScenario(ctx context.Context) error {
	expired := time.Now().UTC().AddDate(0, 0, -1)
	valid := time.Now().UTC().AddDate(1, 0, 0)

	for _, in := range []fund.NewCard{
		{CardUID: "7002-0001", Name: "Old fleet card", ExpirationDate: &expired, OpeningBalance: decimal.NewFromInt(40)},
		{CardUID: "7002-0002", Name: "Rental car card", ExpirationDate: &expired},
		{CardUID: "7002-0003", Name: "Current card", ExpirationDate: &valid, OpeningBalance: decimal.NewFromInt(500)},
	} {
		in.CompanyID = DemoCompany
		in.Currency = "EUR"
		card, err := h.Cards.Create(ctx, in, demoActor)
		if err != nil {
			return err
		}
		if _, err := h.Cards.Activate(ctx, card.ID, demoActor); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedCards(ctx context.Context, defs []demoCard) ([]*fund.CardAccount, error) {
	from := time.Now().UTC().AddDate(0, -6, 0)
	to := time.Now().UTC().AddDate(2, 0, 0)

	out := make([]*fund.CardAccount, 0, len(defs))
	for _, d := range defs {
		card, err := h.Cards.Create(ctx, fund.NewCard{
			CardUID:        d.uid,
			Name:           d.name,
			CompanyID:      DemoCompany,
			Currency:       "EUR",
			ActivationDate: &from,
			ExpirationDate: &to,
			OpeningBalance: decimal.RequireFromString(d.opening),
		}, demoActor)
		if err != nil {
			return nil, fmt.Errorf("card %s: %w", d.uid, err)
		}
		if !d.draft {
			if card, err = h.Cards.Activate(ctx, card.ID, demoActor); err != nil {
				return nil, fmt.Errorf("activate %s: %w", d.uid, err)
			}
		}
		out = append(out, card)
	}
	return out, nil
}

func (h *Handler) seedRecharge(ctx context.Context, card fund.CardID, amount, desc string, actions ...fund.RechargeAction) error {
	rc, err := h.Recharges.Create(ctx, fund.NewRecharge{
		CardID:      card,
		Amount:      decimal.RequireFromString(amount),
		Description: desc,
	}, demoActor)
	if err != nil {
		return err
	}

	for _, a := range actions {
		var step rechargeAction
		switch a {
		case fund.ActionSubmit:
			step = h.Recharges.Submit
		case fund.ActionApprove:
			step = h.Recharges.Approve
		case fund.ActionPost:
			step = h.Recharges.Post
		case fund.ActionCancel:
			step = h.Recharges.Cancel
		default:
			return fmt.Errorf("scenario step %q not supported", a)
		}
		if _, err := step(ctx, rc.ID, demoActor); err != nil {
			return fmt.Errorf("%s %s: %w", a, rc.Reference, err)
		}
	}
	return nil
}
