/*
imports.go - Expense import and validation endpoints

ENDPOINTS:
  Imports:
    POST   /api/imports                    multipart: file, company_id, name?, note?, batch_id?
    GET    /api/imports                    List jobs, newest first (?company_id=&state=)
    GET    /api/imports/{id}               One job with its counts
    GET    /api/imports/{id}/lines         Per-row outcomes in file order

  Expenses:
    GET    /api/expenses                   List (?company_id=&card_id=&batch_id=&state=)
    GET    /api/expenses/{id}
    GET    /api/expenses/{id}/receipt      Raw receipt bytes
    POST   /api/expenses/{id}/validate     Spend the amount from the card
    POST   /api/expenses/{id}/reject       {"reason": "..."}
    POST   /api/expenses/{id}/reset        Rejected back to draft

IMPORT RESPONSES:
  201  job finished (done or error); the body carries every line and the
       summary banner
  404  batch_id names no job of the company
  409  batch_id names a job another import is still processing
  422  the file itself was refused (format, missing columns); the body
       still carries the failed job so it can be looked up later
  500  the run stopped part way; the body carries the job, finished in
       error, and the lines stored before the stop
*/
package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warp/fuel-ledger/expense"
	"github.com/warp/fuel-ledger/fund"
)

const multipartMemory = 8 << 20

// =============================================================================
// IMPORT HANDLERS
// =============================================================================

// CreateImport runs one import job over the uploaded file.
func (h *Handler) CreateImport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large", err)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart body", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	company := strings.TrimSpace(r.FormValue("company_id"))
	if company == "" {
		writeError(w, http.StatusBadRequest, "company_id is required", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read file", err)
		return
	}

	res, err := h.Importer.Import(r.Context(), expense.ImportRequest{
		Filename:  header.Filename,
		Data:      data,
		CompanyID: fund.CompanyID(company),
		Actor:     actor,
		Name:      r.FormValue("name"),
		Note:      r.FormValue("note"),
		BatchID:   expense.BatchID(strings.TrimSpace(r.FormValue("batch_id"))),
	})
	if err != nil {
		if res != nil && errors.Is(err, expense.ErrValidation) {
			importJobsTotal.WithLabelValues(string(res.Job.State)).Inc()
			writeJSON(w, http.StatusUnprocessableEntity, ImportResponse{
				Job:     toBatchDTO(res.Job),
				Lines:   []BatchLineDTO{},
				Message: err.Error(),
			})
			return
		}
		if res != nil {
			// The run stopped part way; the job is finished in error.
			importJobsTotal.WithLabelValues(string(res.Job.State)).Inc()
			loggerFrom(r.Context()).Error("import stopped",
				slog.String("batch_id", string(res.Job.ID)), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, ImportResponse{
				Job:     toBatchDTO(res.Job),
				Lines:   toLineDTOs(res.Lines),
				Message: res.Job.Log,
			})
			return
		}
		h.writeDomainError(w, r, err)
		return
	}

	importJobsTotal.WithLabelValues(string(res.Job.State)).Inc()
	loggerFrom(r.Context()).Info("import finished",
		slog.String("batch_id", string(res.Job.ID)),
		slog.String("state", string(res.Job.State)),
		slog.Int("created", res.Summary.Created),
		slog.Int("skipped", res.Summary.Skipped),
		slog.Int("errors", res.Summary.Errors),
	)
	writeJSON(w, http.StatusCreated, ImportResponse{
		Job:     toBatchDTO(res.Job),
		Lines:   toLineDTOs(res.Lines),
		Message: res.Summary.Banner(),
	})
}

// ListImports returns import jobs, newest first.
func (h *Handler) ListImports(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Store.ListBatches(r.Context(), expense.BatchFilter{
		CompanyID: queryPtr[fund.CompanyID](r, "company_id"),
		States:    queryList[expense.BatchState](r, "state"),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]BatchDTO, len(jobs))
	for i, j := range jobs {
		dtos[i] = toBatchDTO(j)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetImport returns one import job.
func (h *Handler) GetImport(w http.ResponseWriter, r *http.Request) {
	job, err := h.Store.GetBatch(r.Context(), expense.BatchID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(job))
}

// GetImportLines returns the job's lines in file order.
func (h *Handler) GetImportLines(w http.ResponseWriter, r *http.Request) {
	lines, err := h.Store.ListLines(r.Context(), expense.BatchID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineDTOs(lines))
}

// =============================================================================
// EXPENSE HANDLERS
// =============================================================================

// ListExpenses returns expenses in creation order.
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListExpenses(r.Context(), expense.ExpenseFilter{
		CompanyID: queryPtr[fund.CompanyID](r, "company_id"),
		CardID:    queryPtr[fund.CardID](r, "card_id"),
		BatchID:   queryPtr[expense.BatchID](r, "batch_id"),
		States:    queryList[expense.ExpenseState](r, "state"),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]ExpenseDTO, len(list))
	for i, e := range list {
		dtos[i] = toExpenseDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetExpense returns one expense without its receipt bytes.
func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := h.Store.GetExpense(r.Context(), expense.ExpenseID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e))
}

// GetExpenseReceipt streams the stored receipt as an attachment.
func (h *Handler) GetExpenseReceipt(w http.ResponseWriter, r *http.Request) {
	e, err := h.Store.GetExpense(r.Context(), expense.ExpenseID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if len(e.Receipt) == 0 {
		writeError(w, http.StatusNotFound, "Expense has no receipt", nil)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(e.Receipt))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", e.ReceiptFilename))
	w.WriteHeader(http.StatusOK)
	w.Write(e.Receipt)
}

// ValidateExpense spends the expense amount from its card.
func (h *Handler) ValidateExpense(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	e, err := h.Expenses.Validate(r.Context(), expense.ExpenseID(chi.URLParam(r, "id")), actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(*e))
}

// RejectExpense marks a draft expense rejected with a reason.
func (h *Handler) RejectExpense(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req RejectExpenseRequest
	if !h.decode(w, r, &req) {
		return
	}
	e, err := h.Expenses.Reject(r.Context(), expense.ExpenseID(chi.URLParam(r, "id")), actor, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(*e))
}

// ResetExpense moves a rejected expense back to draft.
func (h *Handler) ResetExpense(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	e, err := h.Expenses.ResetToDraft(r.Context(), expense.ExpenseID(chi.URLParam(r, "id")), actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(*e))
}
