// internal/membership/handler.go
package membership

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
	tokens  *TokenIssuer
	logger  *slog.Logger
}

func NewHandler(service Service, tokens *TokenIssuer, logger *slog.Logger) *Handler {
	return &Handler{service: service, tokens: tokens, logger: logger}
}

// Routes mounts the unauthenticated endpoints: registration and login.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	return r
}

// AdminRoutes mounts member administration for librarians. Callers must
// already be authenticated.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequireRole(RoleLibrarian))
	r.Get("/", h.handleListMembers)
	r.Get("/search", h.handleSearchMembers)
	r.Get("/{id}", h.handleGetMember)
	r.Patch("/{id}", h.handleUpdateMember)
	r.Delete("/{id}", h.handleSuspendMember)
	return r
}

// HandleMe returns the authenticated caller's member record.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	member, err := h.service.LookupMember(r.Context(), p.MemberID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.ListMembers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *Handler) handleSearchMembers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "missing search query", http.StatusBadRequest)
		return
	}

	members, err := h.service.SearchMembers(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid member ID", http.StatusBadRequest)
		return
	}

	member, err := h.service.LookupMember(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *Handler) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.otherMemberID(w, r)
	if !ok {
		return
	}

	var req MemberUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	member, err := h.service.UpdateMember(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *Handler) handleSuspendMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.otherMemberID(w, r)
	if !ok {
		return
	}

	if err := h.service.SuspendMember(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// otherMemberID parses the member in the path and refuses the caller's own
// ID, so a librarian cannot demote or suspend themselves.
func (h *Handler) otherMemberID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid member ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	if p, ok := PrincipalFrom(r.Context()); ok && p.MemberID == id {
		http.Error(w, "librarians cannot change their own role or status", http.StatusForbidden)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req Registration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Role = RoleMember

	member, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

type loginResponse struct {
	Token  string  `json:"token"`
	Member *Member `json:"member"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	member, err := h.service.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	token, err := h.tokens.Issue(member)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Member: member})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, ErrRateLimited):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, ErrMemberExists), errors.Is(err, ErrVersionConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrMemberSuspended):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrInvalidRegistration), errors.Is(err, ErrInvalidMemberUpdate):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrMemberNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.ErrorContext(r.Context(), "membership request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
