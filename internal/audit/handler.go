package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/expedio-erp/expedio/internal/platform/httpx"
	"github.com/expedio-erp/expedio/internal/rbac"
	"github.com/expedio-erp/expedio/internal/shared"
)

// Handler exposes the audit trail endpoint.
type Handler struct {
	logger *slog.Logger
	repo   Repository
	rbac   rbac.Middleware
}

func NewHandler(logger *slog.Logger, repo Repository, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, repo: repo, rbac: rbac}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermReportsView))
		r.Get("/", h.trail)
	})
}

func (h *Handler) trail(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	q := r.URL.Query()

	filters := Filters{
		Action: q.Get("action"),
		Entity: q.Get("entity"),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be RFC3339")
			return
		}
		filters.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be RFC3339")
			return
		}
		filters.To = t
	}
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			filters.Limit = v
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			filters.Offset = v
		}
	}

	entries, err := h.repo.Trail(r.Context(), actor.OrgID, filters)
	if err != nil {
		h.logger.Error("audit trail", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}
