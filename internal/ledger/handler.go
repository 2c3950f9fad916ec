package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/expedio-erp/expedio/internal/platform/httpx"
	"github.com/expedio-erp/expedio/internal/rbac"
	"github.com/expedio-erp/expedio/internal/shared"
)

const maxBatchSize = 100

// Handler exposes the confirmation ledger endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		rbac:     rbac,
		validate: validator.New(),
	}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermLedgerView, shared.PermLedgerConfirm))
		r.Get("/sales/{saleID}", h.history)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermLedgerConfirm))
		r.Post("/", h.confirm)
		r.Post("/batch", h.confirmBatch)
	})
}

type confirmRequest struct {
	SaleID           int64  `json:"sale_id" validate:"required,gt=0"`
	ConfirmationType string `json:"confirmation_type" validate:"required,oneof=receipt handover final_verification"`
	AmountCents      int64  `json:"amount_cents" validate:"gte=0"`
	Note             string `json:"note" validate:"max=500"`
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req confirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	events, err := h.service.ConfirmPayment(r.Context(), actor, ConfirmInput{
		SaleID:      req.SaleID,
		Type:        ConfirmationType(req.ConfirmationType),
		AmountCents: req.AmountCents,
		Note:        req.Note,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"sale_id": req.SaleID, "events": events})
}

type confirmBatchRequest struct {
	SaleIDs          []int64 `json:"sale_ids" validate:"required,min=1,max=100,dive,gt=0"`
	ConfirmationType string  `json:"confirmation_type" validate:"required,oneof=receipt handover final_verification"`
	Note             string  `json:"note" validate:"max=500"`
}

type batchItemResponse struct {
	SaleID int64              `json:"sale_id"`
	Status string             `json:"status"`
	Event  *ConfirmationEvent `json:"event,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func (h *Handler) confirmBatch(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req confirmBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if len(req.SaleIDs) > maxBatchSize {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "batch exceeds "+strconv.Itoa(maxBatchSize)+" sales")
		return
	}

	results, err := h.service.ConfirmPaymentBatch(r.Context(), actor, req.SaleIDs, ConfirmationType(req.ConfirmationType), req.Note)
	if err != nil {
		h.respondError(w, err)
		return
	}

	confirmed := 0
	items := make([]batchItemResponse, 0, len(results))
	for _, res := range results {
		item := batchItemResponse{SaleID: res.SaleID}
		if res.Err != nil {
			item.Status = "rejected"
			item.Error = res.Err.Error()
		} else {
			item.Status = "confirmed"
			item.Event = res.Event
			confirmed++
		}
		items = append(items, item)
	}
	// 207 signals that individual items may have failed even though
	// the batch itself was accepted.
	status := http.StatusMultiStatus
	if confirmed == len(items) {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, map[string]any{
		"confirmed": confirmed,
		"rejected":  len(items) - confirmed,
		"results":   items,
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	saleID, err := strconv.ParseInt(chi.URLParam(r, "saleID"), 10, 64)
	if err != nil || saleID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid sale id")
		return
	}
	events, err := h.service.History(r.Context(), actor, saleID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sale_id": saleID, "events": events})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSaleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrUnauthorized):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrOutOfOrder), errors.Is(err, ErrAlreadyFinalized), errors.Is(err, ErrSaleCancelled):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidType):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("ledger request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
