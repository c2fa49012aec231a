/*
handlers.go - HTTP API handlers for the fuel card ledger

PURPOSE:
  Exposes card administration, the recharge workflow, expense imports and
  expense validation via REST API. Handles HTTP request/response, JSON
  serialization and validation, and delegates to the fund and expense
  packages.

ENDPOINTS:
  Cards:
    GET    /api/cards                      List cards (?company_id=&state=)
    POST   /api/cards                      Register card
    GET    /api/cards/{id}                 Card with balance, pending, available
    GET    /api/cards/{id}/audit           Card history
    POST   /api/cards/{id}/activate|suspend|expire

  Recharges:
    GET    /api/recharges                  List (?card_id=&company_id=&state=)
    POST   /api/recharges                  Draft a top-up
    GET    /api/recharges/{id}
    DELETE /api/recharges/{id}             Draft only
    POST   /api/recharges/{id}/submit|approve|post|cancel

  Imports and expenses: see imports.go

ACTOR:
  Every write names its actor in the X-Actor-ID header. It is recorded on
  audit entries and workflow stamps. There is no authentication.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body, failed field validation, missing actor
  - 404: Resource not found
  - 409: Transition not allowed from the current state, duplicate
  - 422: Business rule refused (insufficient funds, bad amount, bad file)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/fuel-ledger/expense"
	"github.com/warp/fuel-ledger/fund"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the persistence the API runs on. store/sqlite and
// store/postgres both satisfy it.
type Backend interface {
	fund.TxStore
	expense.ExpenseStore
	expense.BatchStore
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
}

// HandlerConfig carries the settings handlers need beyond the store.
type HandlerConfig struct {
	Import         expense.ImportConfig
	MaxUploadBytes int64
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Backend
	Cards     *fund.CardService
	Recharges *fund.RechargeService
	Importer  *expense.Importer
	Expenses  *expense.ExpenseService
	Logger    *slog.Logger

	MaxUploadBytes int64

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the domain services onto one store.
func NewHandler(store Backend, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}

	importer := expense.NewImporter(store, store, store, cfg.Import, logger)
	importer.OnLine = observeLine

	return &Handler{
		Store:          store,
		Cards:          fund.NewCardService(store, logger),
		Recharges:      fund.NewRechargeService(store, logger),
		Importer:       importer,
		Expenses:       expense.NewExpenseService(store, fund.NewLedger(store), logger),
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CARD HANDLERS
// =============================================================================

// ListCards returns cards, optionally filtered by company and state.
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	filter := fund.AccountFilter{
		CompanyID: queryPtr[fund.CompanyID](r, "company_id"),
		States:    queryList[fund.CardState](r, "state"),
	}
	cards, err := h.Store.ListAccounts(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]CardDTO, len(cards))
	for i, c := range cards {
		dtos[i] = toCardDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCard registers a card in draft state.
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req CreateCardRequest
	if !h.decode(w, r, &req) {
		return
	}

	activation, err := parseOptionalDate(req.ActivationDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid activation_date (use YYYY-MM-DD)", err)
		return
	}
	expiration, err := parseOptionalDate(req.ExpirationDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expiration_date (use YYYY-MM-DD)", err)
		return
	}

	card, err := h.Cards.Create(r.Context(), fund.NewCard{
		CardUID:        req.CardUID,
		Name:           req.Name,
		CompanyID:      fund.CompanyID(req.CompanyID),
		Currency:       req.Currency,
		ActivationDate: activation,
		ExpirationDate: expiration,
		OpeningBalance: req.OpeningBalance,
	}, actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCardDTO(*card))
}

// GetCard returns one card with its funds.
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	card, err := h.Store.GetAccount(r.Context(), fund.CardID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCardDTO(card))
}

// GetCardAudit returns the card's audit trail, oldest first.
func (h *Handler) GetCardAudit(w http.ResponseWriter, r *http.Request) {
	id := fund.CardID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetAccount(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	entries, err := h.Store.ListAudit(r.Context(), fund.AuditFilter{CardID: &id})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

type cardAction func(ctx context.Context, id fund.CardID, actor fund.Actor) (*fund.CardAccount, error)

// cardTransition adapts one CardService state change to a handler.
func (h *Handler) cardTransition(fn cardAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		card, err := fn(r.Context(), fund.CardID(chi.URLParam(r, "id")), actor)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCardDTO(*card))
	}
}

// =============================================================================
// RECHARGE HANDLERS
// =============================================================================

// ListRecharges returns recharge requests in creation order.
func (h *Handler) ListRecharges(w http.ResponseWriter, r *http.Request) {
	filter := fund.RechargeFilter{
		CardID:    queryPtr[fund.CardID](r, "card_id"),
		CompanyID: queryPtr[fund.CompanyID](r, "company_id"),
		States:    queryList[fund.RechargeState](r, "state"),
	}
	recharges, err := h.Recharges.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]RechargeDTO, len(recharges))
	for i, rc := range recharges {
		dtos[i] = toRechargeDTO(rc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRecharge drafts a top-up. Funds are untouched until submit.
func (h *Handler) CreateRecharge(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req CreateRechargeRequest
	if !h.decode(w, r, &req) {
		return
	}

	date, err := parseOptionalDate(req.RechargeDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid recharge_date (use YYYY-MM-DD)", err)
		return
	}
	in := fund.NewRecharge{
		CardID:      fund.CardID(req.CardID),
		Amount:      req.Amount,
		Description: req.Description,
		Reference:   req.Reference,
	}
	if date != nil {
		in.RechargeDate = *date
	}

	rc, err := h.Recharges.Create(r.Context(), in, actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRechargeDTO(*rc))
}

// GetRecharge returns one recharge request.
func (h *Handler) GetRecharge(w http.ResponseWriter, r *http.Request) {
	rc, err := h.Recharges.Get(r.Context(), fund.RechargeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRechargeDTO(*rc))
}

// DeleteRecharge removes a draft request.
func (h *Handler) DeleteRecharge(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	err := h.Recharges.Delete(r.Context(), fund.RechargeID(chi.URLParam(r, "id")), actor)
	rechargeTransitionsTotal.WithLabelValues(string(fund.ActionDelete), outcome(err)).Inc()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type rechargeAction func(ctx context.Context, id fund.RechargeID, actor fund.Actor) (*fund.RechargeRequest, error)

// rechargeTransition adapts one workflow action to a handler.
func (h *Handler) rechargeTransition(action fund.RechargeAction, fn rechargeAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		rc, err := fn(r.Context(), fund.RechargeID(chi.URLParam(r, "id")), actor)
		rechargeTransitionsTotal.WithLabelValues(string(action), outcome(err)).Inc()
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRechargeDTO(*rc))
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps fund and expense errors to a status code. Anything
// unrecognized is logged and reported as 500 without details.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case fund.IsNotFound(err), expense.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, fund.ErrInvalidTransition),
		errors.Is(err, fund.ErrInvalidCardTransition),
		errors.Is(err, fund.ErrDuplicateCard),
		errors.Is(err, expense.ErrInvalidExpenseTransition),
		errors.Is(err, expense.ErrBatchConflict),
		errors.Is(err, expense.ErrDuplicateHash):
		writeError(w, http.StatusConflict, "Conflict", err)
	case errors.Is(err, fund.ErrMissingActor):
		writeError(w, http.StatusBadRequest, "Missing actor", err)
	case fund.IsClientError(err),
		errors.Is(err, expense.ErrValidation),
		errors.Is(err, expense.ErrUnsupportedFormat):
		writeError(w, http.StatusUnprocessableEntity, "Request refused", err)
	default:
		loggerFrom(r.Context()).Error("request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

// decode reads a JSON body and validates it. It writes the 400 itself and
// reports false when the request must stop.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Validation failed", errors.New(describeValidation(verrs)))
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func describeValidation(verrs validator.ValidationErrors) string {
	parts := make([]string, len(verrs))
	for i, fe := range verrs {
		if fe.Param() != "" {
			parts[i] = fe.Field() + ": " + fe.Tag() + "=" + fe.Param()
		} else {
			parts[i] = fe.Field() + ": " + fe.Tag()
		}
	}
	return strings.Join(parts, "; ")
}

func requireActor(w http.ResponseWriter, r *http.Request) (fund.Actor, bool) {
	actor := strings.TrimSpace(r.Header.Get(ActorHeader))
	if actor == "" {
		writeError(w, http.StatusBadRequest, ActorHeader+" header is required", nil)
		return "", false
	}
	return fund.Actor(actor), true
}

func queryPtr[T ~string](r *http.Request, key string) *T {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil
	}
	t := T(v)
	return &t
}

// queryList accepts both ?state=a&state=b and ?state=a,b.
func queryList[T ~string](r *http.Request, key string) []T {
	var out []T
	for _, raw := range r.URL.Query()[key] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, T(v))
			}
		}
	}
	return out
}
