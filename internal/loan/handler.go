// internal/loan/handler.go
package loan

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loandesk/internal/journal"
	"loandesk/internal/membership"
)

// HistoryReader returns the recorded events of a loan.
type HistoryReader interface {
	History(ctx context.Context, loanID uuid.UUID) ([]journal.Entry, error)
}

type Handler struct {
	service Service
	history HistoryReader
	logger  *slog.Logger
}

// NewHandler creates the loan HTTP handler. history may be nil, in which
// case the history endpoint answers 404.
func NewHandler(service Service, history HistoryReader, logger *slog.Logger) *Handler {
	return &Handler{service: service, history: history, logger: logger}
}

// Routes mounts the loan endpoints. Callers must already be authenticated.
func (h *Handler) Routes() chi.Router {
	librarian := membership.RequireRole(membership.RoleLibrarian)

	r := chi.NewRouter()
	r.With(librarian).Get("/all", h.handleListAll)
	r.Get("/my-loans", h.handleMyLoans)
	r.Get("/fines", h.handleFines)
	r.With(librarian).Post("/reconcile", h.handleReconcile)
	r.Post("/", h.handleCreate)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Get("/history", h.handleHistory)
		r.Post("/renew", h.handleRenew)
		r.Put("/return", h.handleReturn)
		r.With(librarian).Delete("/", h.handleDelete)
	})
	return r
}

func (h *Handler) handleListAll(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.ListLoans(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (h *Handler) handleMyLoans(w http.ResponseWriter, r *http.Request) {
	p, _ := membership.PrincipalFrom(r.Context())
	loans, err := h.service.LoansForBorrower(r.Context(), p.MemberID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

type finesResponse struct {
	BorrowerID uuid.UUID       `json:"borrower_id"`
	Total      decimal.Decimal `json:"total"`
}

func (h *Handler) handleFines(w http.ResponseWriter, r *http.Request) {
	p, _ := membership.PrincipalFrom(r.Context())
	borrowerID := p.MemberID
	if raw := r.URL.Query().Get("borrower"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid borrower ID", http.StatusBadRequest)
			return
		}
		if id != p.MemberID && !p.IsLibrarian() {
			h.writeError(w, r, newError(KindAccessDenied, "Only librarians may view another borrower's fines."))
			return
		}
		borrowerID = id
	}

	total, err := h.service.TotalFinesForBorrower(r.Context(), borrowerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, finesResponse{BorrowerID: borrowerID, Total: total})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	updated, err := h.service.ReconcileAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.BookID == uuid.Nil && req.ISBN == "" {
		http.Error(w, "book_id or isbn is required", http.StatusBadRequest)
		return
	}

	// Members borrow for themselves; librarians may borrow on behalf of anyone.
	p, _ := membership.PrincipalFrom(r.Context())
	if !p.IsLibrarian() || req.BorrowerID == uuid.Nil {
		req.BorrowerID = p.MemberID
	}

	l, err := h.service.CreateLoan(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizeLoan(w, r)
	if !ok {
		return
	}
	l, err := h.service.GetLoan(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizeLoan(w, r)
	if !ok {
		return
	}
	if h.history == nil {
		http.Error(w, "loan history is not recorded", http.StatusNotFound)
		return
	}
	entries, err := h.history.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizeLoan(w, r)
	if !ok {
		return
	}
	l, err := h.service.RenewLoan(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizeLoan(w, r)
	if !ok {
		return
	}
	l, err := h.service.ReturnLoan(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteLoan(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorizeLoan parses the loan ID and lets through librarians and the
// loan's own borrower.
func (h *Handler) authorizeLoan(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	p, _ := membership.PrincipalFrom(r.Context())
	if p.IsLibrarian() || h.service.IsLoanOwner(r.Context(), id, p.MemberID) {
		return id, true
	}
	h.writeError(w, r, newError(KindAccessDenied, "Loan %s does not belong to %s.", id, p.Username))
	return uuid.Nil, false
}

type errorResponse struct {
	Error   Kind   `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := KindOf(err)
	switch kind {
	case KindBorrowerNotFound, KindBookNotFound, KindLoanNotFound:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: kind, Message: err.Error()})
	case KindAccessDenied:
		writeJSON(w, http.StatusForbidden, errorResponse{Error: kind, Message: err.Error()})
	case "":
		if errors.Is(err, ErrConcurrencyConflict) {
			http.Error(w, "the loan was changed by another request, try again", http.StatusConflict)
			return
		}
		h.logger.ErrorContext(r.Context(), "loan request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: kind, Message: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
