package sales

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/expedio-erp/expedio/internal/platform/httpx"
	"github.com/expedio-erp/expedio/internal/rbac"
	"github.com/expedio-erp/expedio/internal/shared"
)

const eligiblePageLimit = 200

// Handler exposes read endpoints over sale records.
type Handler struct {
	logger *slog.Logger
	repo   Repository
	rbac   rbac.Middleware
}

// NewHandler constructs a sales handler.
func NewHandler(logger *slog.Logger, repo Repository, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, repo: repo, rbac: rbac}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSaleView, shared.PermSaleViewAll))
		r.Get("/eligible", h.listEligible)
		r.Get("/{id}", h.getSale)
	})
}

func (h *Handler) listEligible(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	deliveryType := DeliveryType(r.URL.Query().Get("delivery_type"))
	if !deliveryType.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "delivery_type must be pickup, motoboy or carrier")
		return
	}
	limit := eligiblePageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= eligiblePageLimit {
			limit = v
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	sales, err := h.repo.ListEligibleForClosing(r.Context(), actor.OrgID, deliveryType, limit, offset)
	if err != nil {
		h.logger.Error("list eligible sales", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid sale id")
		return
	}
	sale, err := h.repo.GetSale(r.Context(), actor.OrgID, id)
	if err != nil {
		if err == ErrNotFound {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get sale", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}
