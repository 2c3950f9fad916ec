package closing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/expedio-erp/expedio/internal/platform/httpx"
	"github.com/expedio-erp/expedio/internal/policy"
	"github.com/expedio-erp/expedio/internal/rbac"
	"github.com/expedio-erp/expedio/internal/sales"
	"github.com/expedio-erp/expedio/internal/shared"
)

const listPageLimit = 100

// Handler exposes the closing batch endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	idem     *shared.IdempotencyStore
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, idem *shared.IdempotencyStore) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		rbac:     rbac,
		idem:     idem,
		validate: validator.New(),
	}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermClosingView, shared.PermClosingCreate, shared.PermClosingConfirm))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermClosingCreate))
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermClosingConfirm))
		r.Post("/{id}/confirm", h.confirm)
	})
}

type createRequest struct {
	ClosingType string  `json:"closing_type" validate:"required,oneof=pickup motoboy carrier"`
	SaleIDs     []int64 `json:"sale_ids" validate:"required,min=1,max=500,dive,gt=0"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	idemKey, ok := h.reserveIdempotencyKey(w, r, "closing.create")
	if !ok {
		return
	}

	batch, err := h.service.CreateClosing(r.Context(), actor, CreateInput{
		ClosingType: sales.DeliveryType(req.ClosingType),
		SaleIDs:     req.SaleIDs,
	})
	if err != nil {
		h.releaseIdempotencyKey(r.Context(), idemKey)
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

// reserveIdempotencyKey records the request's Idempotency-Key header, if
// present, so that a client retry of the same mutation returns 409 instead
// of stamping twice. Returns ok=false when a response was already written.
func (h *Handler) reserveIdempotencyKey(w http.ResponseWriter, r *http.Request, module string) (string, bool) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idem == nil {
		return "", true
	}
	if err := h.idem.CheckAndInsert(r.Context(), key, module); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
			return "", false
		}
		h.logger.Error("idempotency check", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return "", false
	}
	return key, true
}

// releaseIdempotencyKey frees a reserved key after the mutation failed so
// the client can retry with the same header.
func (h *Handler) releaseIdempotencyKey(ctx context.Context, key string) {
	if key == "" || h.idem == nil {
		return
	}
	if err := h.idem.Delete(ctx, key); err != nil {
		h.logger.Warn("idempotency rollback", slog.Any("error", err))
	}
}

type confirmRequest struct {
	Stage           string `json:"stage" validate:"required,oneof=auxiliar admin"`
	AcknowledgeCash bool   `json:"acknowledge_cash"`
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	batchID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || batchID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid closing id")
		return
	}
	var req confirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	idemKey, ok := h.reserveIdempotencyKey(w, r, "closing.confirm")
	if !ok {
		return
	}

	batch, err := h.service.ConfirmClosing(r.Context(), actor, batchID, policy.ClosingStage(req.Stage), req.AcknowledgeCash)
	if err != nil {
		h.releaseIdempotencyKey(r.Context(), idemKey)
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	batchID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || batchID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid closing id")
		return
	}
	batch, members, err := h.service.GetClosing(r.Context(), actor, batchID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"closing": batch, "members": members})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	closingType := sales.DeliveryType(r.URL.Query().Get("closing_type"))
	if closingType != "" && !closingType.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "closing_type must be pickup, motoboy or carrier")
		return
	}
	limit := listPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= listPageLimit {
			limit = v
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	batches, err := h.service.ListClosings(r.Context(), actor, closingType, limit, offset)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"closings": batches})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, sales.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrUnauthorized):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrEmptySelection), errors.Is(err, ErrMixedDeliveryType), errors.Is(err, ErrInvalidChannel):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrSaleNotDelivered), errors.Is(err, ErrSaleAlreadyClosed),
		errors.Is(err, ErrAlreadyConfirmed), errors.Is(err, ErrPendingAuxiliar),
		errors.Is(err, ErrCashNotAcknowledged), errors.Is(err, ErrDuplicateNumber):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("closing request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
