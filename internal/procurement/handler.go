package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stockline-erp/stockline/internal/ledger"
	"github.com/stockline-erp/stockline/internal/platform/httpx"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Handler wires HTTP endpoints for purchases and purchase orders.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/purchases", h.handlePostPurchase)
	r.Get("/purchases/{id}", h.handleGetPurchase)
	r.Post("/orders", h.handleCreatePO)
	r.Get("/orders/{id}", h.handleGetPO)
	r.Post("/orders/{id}/receive", h.handleReceivePO)
	r.Post("/orders/{id}/cancel", h.handleCancelPO)
}

type purchaseLineRequest struct {
	VariantID     int64           `json:"variant_id" validate:"required,gt=0"`
	BatchNumber   string          `json:"batch_number" validate:"required,max=64"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	Qty           int64           `json:"qty" validate:"required,gt=0"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	MRP           decimal.Decimal `json:"mrp"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
}

type postPurchaseRequest struct {
	SupplierID int64                 `json:"supplier_id,omitempty" validate:"gte=0"`
	Note       string                `json:"note,omitempty"`
	Lines      []purchaseLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type purchaseResponse struct {
	ID     int64  `json:"id"`
	Number string `json:"number"`
	Total  string `json:"total"`
	Lines  int    `json:"lines"`
}

func (h *Handler) handlePostPurchase(w http.ResponseWriter, r *http.Request) {
	var req postPurchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	lines := make([]PurchaseLineInput, len(req.Lines))
	for i, line := range req.Lines {
		lines[i] = PurchaseLineInput{
			VariantID:   line.VariantID,
			BatchNumber: line.BatchNumber,
			ExpiryDate:  line.ExpiryDate,
			Qty:         line.Qty,
			Prices: ledger.PriceFields{
				PurchasePrice: line.PurchasePrice,
				MRP:           line.MRP,
				SellingPrice:  line.SellingPrice,
			},
		}
	}
	p, err := h.service.PostPurchase(r.Context(), PostPurchaseInput{
		OrgID:      scope.OrgID,
		BranchID:   scope.BranchID,
		SupplierID: req.SupplierID,
		Lines:      lines,
		ActorID:    scope.ActorID,
		Note:       req.Note,
	})
	if err != nil {
		h.logger.Error("post purchase failed", slog.Any("error", err))
		respondProcurementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, purchaseResponse{ID: p.ID, Number: p.Number, Total: p.Total.String(), Lines: len(p.Lines)})
}

func (h *Handler) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	p, err := h.service.GetPurchase(r.Context(), id)
	if err != nil {
		respondProcurementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

type poLineRequest struct {
	VariantID     int64           `json:"variant_id" validate:"required,gt=0"`
	Qty           int64           `json:"qty" validate:"required,gt=0"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	MRP           decimal.Decimal `json:"mrp"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
}

type createPORequest struct {
	SupplierID   int64           `json:"supplier_id,omitempty" validate:"gte=0"`
	ExpectedDate *time.Time      `json:"expected_date,omitempty"`
	Note         string          `json:"note,omitempty"`
	Lines        []poLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type poResponse struct {
	ID     int64  `json:"id"`
	Number string `json:"number"`
	Status string `json:"status"`
	Lines  int    `json:"lines"`
}

func (h *Handler) handleCreatePO(w http.ResponseWriter, r *http.Request) {
	var req createPORequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	lines := make([]POLineInput, len(req.Lines))
	for i, line := range req.Lines {
		lines[i] = POLineInput{
			VariantID: line.VariantID,
			Qty:       line.Qty,
			Prices: ledger.PriceFields{
				PurchasePrice: line.PurchasePrice,
				MRP:           line.MRP,
				SellingPrice:  line.SellingPrice,
			},
		}
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), CreatePOInput{
		OrgID:        scope.OrgID,
		BranchID:     scope.BranchID,
		SupplierID:   req.SupplierID,
		ExpectedDate: req.ExpectedDate,
		Lines:        lines,
		ActorID:      scope.ActorID,
		Note:         req.Note,
	})
	if err != nil {
		h.logger.Error("create purchase order failed", slog.Any("error", err))
		respondProcurementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, poResponse{ID: po.ID, Number: po.Number, Status: string(po.Status), Lines: len(po.Lines)})
}

func (h *Handler) handleGetPO(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		respondProcurementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

type receiveLineRequest struct {
	POLineID    int64      `json:"po_line_id" validate:"required,gt=0"`
	BatchNumber string     `json:"batch_number" validate:"required,max=64"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
}

type receivePORequest struct {
	Note  string               `json:"note,omitempty"`
	Lines []receiveLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleReceivePO(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req receivePORequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	lines := make([]ReceiveLineInput, len(req.Lines))
	for i, line := range req.Lines {
		lines[i] = ReceiveLineInput{POLineID: line.POLineID, BatchNumber: line.BatchNumber, ExpiryDate: line.ExpiryDate}
	}
	po, err := h.service.ReceivePurchaseOrder(r.Context(), ReceivePOInput{
		POID:    id,
		Lines:   lines,
		ActorID: scope.ActorID,
		Note:    req.Note,
	})
	if err != nil {
		h.logger.Error("receive purchase order failed", slog.Any("error", err), slog.Int64("po_id", id))
		respondProcurementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, poResponse{ID: po.ID, Number: po.Number, Status: string(po.Status), Lines: len(po.Lines)})
}

func (h *Handler) handleCancelPO(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	po, err := h.service.CancelPurchaseOrder(r.Context(), id, scope.ActorID)
	if err != nil {
		respondProcurementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, poResponse{ID: po.ID, Number: po.Number, Status: string(po.Status), Lines: len(po.Lines)})
}

func respondProcurementError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, ErrPONotOpen):
		httpx.Problem(w, http.StatusConflict, "Order Not Open", err.Error())
	case errors.Is(err, ErrNoLines), errors.Is(err, ErrLineMismatch), errors.Is(err, ledger.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
