/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  fund and expense domain types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry `validate` tags checked with go-playground/validator
  before the handler calls into the domain. Business rules (positive
  amounts, allowed transitions) stay in the domain packages.

MONEY:
  Amounts are decimal.Decimal, serialized as JSON strings ("123.45") so no
  client ever sees a binary float.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fuel-ledger/expense"
	"github.com/warp/fuel-ledger/fund"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateCardRequest is the request to register a card.
type CreateCardRequest struct {
	CardUID        string          `json:"card_uid" validate:"required,max=64"`
	Name           string          `json:"name" validate:"max=128"`
	CompanyID      string          `json:"company_id" validate:"required,max=64"`
	Currency       string          `json:"currency" validate:"omitempty,len=3,uppercase"`
	ActivationDate string          `json:"activation_date" validate:"omitempty,datetime=2006-01-02"`
	ExpirationDate string          `json:"expiration_date" validate:"omitempty,datetime=2006-01-02"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// CreateRechargeRequest is the request to draft a top-up.
type CreateRechargeRequest struct {
	CardID       string          `json:"card_id" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	RechargeDate string          `json:"recharge_date" validate:"omitempty,datetime=2006-01-02"`
	Description  string          `json:"description" validate:"max=500"`
	Reference    string          `json:"reference" validate:"max=64"`
}

// RejectExpenseRequest carries the reason recorded on a rejected expense.
type RejectExpenseRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// CardDTO represents a card account in API responses.
type CardDTO struct {
	ID             string          `json:"id"`
	CardUID        string          `json:"card_uid"`
	Name           string          `json:"name"`
	CompanyID      string          `json:"company_id"`
	Currency       string          `json:"currency,omitempty"`
	State          string          `json:"state"`
	Balance        decimal.Decimal `json:"balance"`
	Pending        decimal.Decimal `json:"pending"`
	Available      decimal.Decimal `json:"available"`
	ActivationDate string          `json:"activation_date,omitempty"`
	ExpirationDate string          `json:"expiration_date,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

// RechargeDTO represents a recharge request in API responses.
type RechargeDTO struct {
	ID           string          `json:"id"`
	Reference    string          `json:"reference"`
	CardID       string          `json:"card_id"`
	CompanyID    string          `json:"company_id"`
	Currency     string          `json:"currency,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	RechargeDate string          `json:"recharge_date"`
	Description  string          `json:"description,omitempty"`
	State        string          `json:"state"`
	RequestedBy  string          `json:"requested_by"`
	ApprovedBy   *string         `json:"approved_by,omitempty"`
	ApprovedAt   *string         `json:"approved_at,omitempty"`
	PostedBy     *string         `json:"posted_by,omitempty"`
	PostedAt     *string         `json:"posted_at,omitempty"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

// AuditEntryDTO is one line of a card's history.
type AuditEntryDTO struct {
	At         string          `json:"at"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	RechargeID string          `json:"recharge_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Note       string          `json:"note,omitempty"`
}

// BatchDTO represents an import job in API responses.
type BatchDTO struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Filename     string  `json:"filename"`
	CompanyID    string  `json:"company_id"`
	CreatedBy    string  `json:"created_by"`
	Note         string  `json:"note,omitempty"`
	State        string  `json:"state"`
	StartedAt    *string `json:"started_at,omitempty"`
	FinishedAt   *string `json:"finished_at,omitempty"`
	LineCount    int     `json:"line_count"`
	SuccessCount int     `json:"success_count"`
	SkippedCount int     `json:"skipped_count"`
	ErrorCount   int     `json:"error_count"`
	Log          string  `json:"log,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// BatchLineDTO is the outcome of one imported row.
type BatchLineDTO struct {
	Sequence  int    `json:"sequence"`
	State     string `json:"state"`
	Message   string `json:"message"`
	ExpenseID string `json:"expense_id,omitempty"`
}

// ImportResponse is returned by POST /api/imports.
type ImportResponse struct {
	Job     BatchDTO       `json:"job"`
	Lines   []BatchLineDTO `json:"lines"`
	Message string         `json:"message"`
}

// ExpenseDTO represents an imported expense in API responses.
type ExpenseDTO struct {
	ID              string           `json:"id"`
	CardID          string           `json:"card_id"`
	CardUID         string           `json:"card_uid"`
	CompanyID       string           `json:"company_id"`
	Currency        string           `json:"currency,omitempty"`
	ExpenseDate     string           `json:"expense_date"`
	Amount          decimal.Decimal  `json:"amount"`
	Quantity        decimal.Decimal  `json:"quantity"`
	PricePerUnit    decimal.Decimal  `json:"price_per_unit"`
	Odometer        *decimal.Decimal `json:"odometer,omitempty"`
	StationName     string           `json:"station_name,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	HasReceipt      bool             `json:"has_receipt"`
	ReceiptFilename string           `json:"receipt_filename,omitempty"`
	BatchID         string           `json:"batch_id,omitempty"`
	State           string           `json:"state"`
	ValidatedBy     *string          `json:"validated_by,omitempty"`
	ValidatedAt     *string          `json:"validated_at,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	CreatedAt       string           `json:"created_at"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCardDTO(a fund.CardAccount) CardDTO {
	return CardDTO{
		ID:             string(a.ID),
		CardUID:        a.CardUID,
		Name:           a.Name,
		CompanyID:      string(a.CompanyID),
		Currency:       a.Currency,
		State:          string(a.State),
		Balance:        a.Balance,
		Pending:        a.Pending,
		Available:      a.Available(),
		ActivationDate: formatDate(a.ActivationDate),
		ExpirationDate: formatDate(a.ExpirationDate),
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      a.UpdatedAt.Format(time.RFC3339),
	}
}

func toRechargeDTO(r fund.RechargeRequest) RechargeDTO {
	return RechargeDTO{
		ID:           string(r.ID),
		Reference:    r.Reference,
		CardID:       string(r.CardID),
		CompanyID:    string(r.CompanyID),
		Currency:     r.Currency,
		Amount:       r.Amount,
		RechargeDate: r.RechargeDate.Format(dateLayout),
		Description:  r.Description,
		State:        string(r.State),
		RequestedBy:  string(r.RequestedBy),
		ApprovedBy:   actorString(r.ApprovedBy),
		ApprovedAt:   formatTimestamp(r.ApprovedAt),
		PostedBy:     actorString(r.PostedBy),
		PostedAt:     formatTimestamp(r.PostedAt),
		CreatedAt:    r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    r.UpdatedAt.Format(time.RFC3339),
	}
}

func toAuditDTO(e fund.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		At:         e.At.Format(time.RFC3339),
		Actor:      string(e.Actor),
		Action:     string(e.Action),
		RechargeID: string(e.RechargeID),
		Amount:     e.Amount,
		Note:       e.Note,
	}
}

func toBatchDTO(b expense.BatchJob) BatchDTO {
	return BatchDTO{
		ID:           string(b.ID),
		Name:         b.Name,
		Filename:     b.Filename,
		CompanyID:    string(b.CompanyID),
		CreatedBy:    string(b.CreatedBy),
		Note:         b.Note,
		State:        string(b.State),
		StartedAt:    formatTimestamp(b.StartedAt),
		FinishedAt:   formatTimestamp(b.FinishedAt),
		LineCount:    b.LineCount,
		SuccessCount: b.SuccessCount,
		SkippedCount: b.SkippedCount,
		ErrorCount:   b.ErrorCount,
		Log:          b.Log,
		CreatedAt:    b.CreatedAt.Format(time.RFC3339),
	}
}

func toLineDTOs(lines []expense.BatchLine) []BatchLineDTO {
	out := make([]BatchLineDTO, len(lines))
	for i, l := range lines {
		out[i] = BatchLineDTO{
			Sequence:  l.Sequence,
			State:     string(l.State),
			Message:   l.Message,
			ExpenseID: string(l.ExpenseID),
		}
	}
	return out
}

func toExpenseDTO(e expense.ExpenseRecord) ExpenseDTO {
	return ExpenseDTO{
		ID:              string(e.ID),
		CardID:          string(e.CardID),
		CardUID:         e.CardUID,
		CompanyID:       string(e.CompanyID),
		Currency:        e.Currency,
		ExpenseDate:     e.ExpenseDate.Format(dateLayout),
		Amount:          e.Amount,
		Quantity:        e.Quantity,
		PricePerUnit:    e.PricePerUnit(),
		Odometer:        e.Odometer,
		StationName:     e.StationName,
		Notes:           e.Notes,
		HasReceipt:      len(e.Receipt) > 0,
		ReceiptFilename: e.ReceiptFilename,
		BatchID:         string(e.BatchID),
		State:           string(e.State),
		ValidatedBy:     actorString(e.ValidatedBy),
		ValidatedAt:     formatTimestamp(e.ValidatedAt),
		RejectionReason: e.RejectionReason,
		CreatedAt:       e.CreatedAt.Format(time.RFC3339),
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func formatTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func actorString(a *fund.Actor) *string {
	if a == nil {
		return nil
	}
	s := string(*a)
	return &s
}

func parseOptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
