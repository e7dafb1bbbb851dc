package transfer

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stockline-erp/stockline/internal/ledger"
	"github.com/stockline-erp/stockline/internal/platform/httpx"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Handler wires HTTP endpoints for transfers.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/dispatch", h.transitionTo(StatusInTransit))
	r.Post("/{id}/receive", h.transitionTo(StatusReceived))
	r.Post("/{id}/cancel", h.transitionTo(StatusCancelled))
}

type createRequest struct {
	ToBranchID int64               `json:"to_branch_id" validate:"required,gt=0"`
	Note       string              `json:"note,omitempty"`
	Items      []createItemRequest `json:"items" validate:"required,min=1,dive"`
}

type createItemRequest struct {
	VariantID   int64  `json:"variant_id" validate:"required,gt=0"`
	BatchNumber string `json:"batch_number" validate:"required,max=64"`
	Qty         int64  `json:"qty" validate:"required,gt=0"`
}

type transferResponse struct {
	ID           int64          `json:"id"`
	Number       string         `json:"number"`
	FromBranchID int64          `json:"from_branch_id"`
	ToBranchID   int64          `json:"to_branch_id"`
	Status       Status         `json:"status"`
	Note         string         `json:"note,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	Items        []itemResponse `json:"items"`
}

type itemResponse struct {
	VariantID   int64  `json:"variant_id"`
	BatchNumber string `json:"batch_number"`
	Qty         int64  `json:"qty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	items := make([]CreateItemInput, len(req.Items))
	for i, item := range req.Items {
		items[i] = CreateItemInput{VariantID: item.VariantID, BatchNumber: item.BatchNumber, Qty: item.Qty}
	}
	t, err := h.service.Create(r.Context(), CreateInput{
		OrgID:        scope.OrgID,
		FromBranchID: scope.BranchID,
		ToBranchID:   req.ToBranchID,
		Items:        items,
		ActorID:      scope.ActorID,
		Note:         req.Note,
	})
	if err != nil {
		h.logger.Error("create transfer failed", slog.Any("error", err))
		respondTransferError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTransferResponse(t))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondTransferError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransferResponse(t))
}

func (h *Handler) transitionTo(target Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
			return
		}
		scope := shared.ScopeFromContext(r.Context())
		t, err := h.service.Transition(r.Context(), id, target, scope.BranchID, scope.ActorID)
		if err != nil {
			h.logger.Error("transfer transition failed",
				slog.Int64("transfer_id", id),
				slog.String("target", string(target)),
				slog.Any("error", err))
			respondTransferError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toTransferResponse(t))
	}
}

func toTransferResponse(t TransferRequest) transferResponse {
	items := make([]itemResponse, len(t.Items))
	for i, item := range t.Items {
		items[i] = itemResponse{VariantID: item.VariantID, BatchNumber: item.BatchNumber, Qty: item.Qty}
	}
	return transferResponse{
		ID:           t.ID,
		Number:       t.Number,
		FromBranchID: t.FromBranchID,
		ToBranchID:   t.ToBranchID,
		Status:       t.Status,
		Note:         t.Note,
		CreatedAt:    t.CreatedAt,
		Items:        items,
	}
}

func respondTransferError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientStockError
	var invalid *InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", invalid.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, ErrBranchNotAllowed):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrSameBranch), errors.Is(err, ErrNoItems), errors.Is(err, ledger.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
