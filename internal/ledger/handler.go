package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stockline-erp/stockline/internal/platform/httpx"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/receipts", h.handleReceive)
	r.Post("/consumptions", h.handleConsume)
	r.Post("/adjustments", h.handleAdjust)
	r.Get("/levels", h.handleLevel)
	r.Get("/movements", h.handleMovements)
}

type receiveRequest struct {
	VariantID     int64           `json:"variant_id" validate:"required,gt=0"`
	BranchID      int64           `json:"branch_id" validate:"required,gt=0"`
	BatchNumber   string          `json:"batch_number" validate:"required,max=64"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	Qty           int64           `json:"qty" validate:"required,gt=0"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	MRP           decimal.Decimal `json:"mrp"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	RefID         string          `json:"ref_id,omitempty" validate:"omitempty,uuid"`
	Note          string          `json:"note,omitempty"`
}

type consumeRequest struct {
	VariantID   int64  `json:"variant_id" validate:"required,gt=0"`
	BranchID    int64  `json:"branch_id" validate:"required,gt=0"`
	BatchNumber string `json:"batch_number" validate:"required,max=64"`
	Qty         int64  `json:"qty" validate:"required,gt=0"`
	RefID       string `json:"ref_id,omitempty" validate:"omitempty,uuid"`
	Note        string `json:"note,omitempty"`
}

type adjustRequest struct {
	VariantID   int64  `json:"variant_id" validate:"required,gt=0"`
	BranchID    int64  `json:"branch_id" validate:"required,gt=0"`
	BatchNumber string `json:"batch_number" validate:"required,max=64"`
	Delta       int64  `json:"delta" validate:"required"`
	RefID       string `json:"ref_id,omitempty" validate:"omitempty,uuid"`
	Note        string `json:"note,omitempty"`
}

type recordResponse struct {
	VariantID    int64      `json:"variant_id"`
	BranchID     int64      `json:"branch_id"`
	BatchNumber  string     `json:"batch_number"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
	QtyAvailable int64      `json:"qty_available"`
	QtyReserved  int64      `json:"qty_reserved"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	rec, err := h.service.Receive(r.Context(), ReceiveInput{
		VariantID:   req.VariantID,
		BranchID:    req.BranchID,
		BatchNumber: req.BatchNumber,
		ExpiryDate:  req.ExpiryDate,
		Qty:         req.Qty,
		Prices:      PriceFields{PurchasePrice: req.PurchasePrice, MRP: req.MRP, SellingPrice: req.SellingPrice},
		ActorID:     scope.ActorID,
		RefModule:   "LEDGER",
		RefID:       req.RefID,
		Note:        req.Note,
	})
	if err != nil {
		h.logger.Error("post receipt failed", slog.Any("error", err))
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRecordResponse(rec))
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	rec, err := h.service.Consume(r.Context(), ConsumeInput{
		VariantID:   req.VariantID,
		BranchID:    req.BranchID,
		BatchNumber: req.BatchNumber,
		Qty:         req.Qty,
		ActorID:     scope.ActorID,
		RefModule:   "LEDGER",
		RefID:       req.RefID,
		Note:        req.Note,
	})
	if err != nil {
		h.logger.Error("post consumption failed", slog.Any("error", err))
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	rec, err := h.service.Adjust(r.Context(), AdjustInput{
		VariantID:   req.VariantID,
		BranchID:    req.BranchID,
		BatchNumber: req.BatchNumber,
		Delta:       req.Delta,
		ActorID:     scope.ActorID,
		RefModule:   "LEDGER",
		RefID:       req.RefID,
		Note:        req.Note,
	})
	if err != nil {
		h.logger.Error("post adjustment failed", slog.Any("error", err))
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleLevel(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	variantID, _ := strconv.ParseInt(q.Get("variant_id"), 10, 64)
	branchID, _ := strconv.ParseInt(q.Get("branch_id"), 10, 64)
	batch := q.Get("batch_number")
	id := Identity{VariantID: variantID, BranchID: branchID, BatchNumber: batch}
	level, err := h.service.CurrentLevel(r.Context(), id)
	if err != nil {
		h.logger.Error("level read failed", slog.Any("error", err))
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

type movementResponse struct {
	ID            int64     `json:"id"`
	Kind          string    `json:"kind"`
	QtyDelta      int64     `json:"qty_delta"`
	ReservedDelta int64     `json:"reserved_delta"`
	RefModule     string    `json:"ref_module,omitempty"`
	RefID         string    `json:"ref_id,omitempty"`
	ActorID       int64     `json:"actor_id,omitempty"`
	Note          string    `json:"note,omitempty"`
	PostedAt      time.Time `json:"posted_at"`
}

type movementListResponse struct {
	Movements  []movementResponse `json:"movements"`
	Page       int                `json:"page"`
	PerPage    int                `json:"per_page"`
	Total      int                `json:"total"`
	TotalPages int                `json:"total_pages"`
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	variantID, _ := strconv.ParseInt(q.Get("variant_id"), 10, 64)
	branchID, _ := strconv.ParseInt(q.Get("branch_id"), 10, 64)
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	id := Identity{VariantID: variantID, BranchID: branchID, BatchNumber: q.Get("batch_number")}
	movements, p, err := h.service.ListMovements(r.Context(), id, page, perPage)
	if err != nil {
		h.logger.Error("movement listing failed", slog.Any("error", err))
		respondLedgerError(w, err)
		return
	}
	resp := movementListResponse{
		Movements:  make([]movementResponse, 0, len(movements)),
		Page:       p.Page,
		PerPage:    p.PerPage,
		Total:      p.Total,
		TotalPages: p.TotalPages,
	}
	for _, mv := range movements {
		resp.Movements = append(resp.Movements, movementResponse{
			ID:            mv.ID,
			Kind:          string(mv.Kind),
			QtyDelta:      mv.QtyDelta,
			ReservedDelta: mv.ReservedDelta,
			RefModule:     mv.RefModule,
			RefID:         mv.RefID,
			ActorID:       mv.ActorID,
			Note:          mv.Note,
			PostedAt:      mv.PostedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func toRecordResponse(rec StockRecord) recordResponse {
	return recordResponse{
		VariantID:    rec.VariantID,
		BranchID:     rec.BranchID,
		BatchNumber:  rec.BatchNumber,
		ExpiryDate:   rec.ExpiryDate,
		QtyAvailable: rec.QtyAvailable,
		QtyReserved:  rec.QtyReserved,
	}
}

func respondLedgerError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Quantity", err.Error())
	case errors.Is(err, ErrIdentityRequired):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Identity", err.Error())
	case errors.Is(err, ErrRecordNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
