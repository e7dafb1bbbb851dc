package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stockline-erp/stockline/internal/ledger"
	"github.com/stockline-erp/stockline/internal/platform/httpx"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Handler wires HTTP endpoints for sales invoices.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices", h.handleCreate)
	r.Get("/invoices/{id}", h.handleGet)
}

type createRequest struct {
	CustomerID int64         `json:"customer_id,omitempty" validate:"gte=0"`
	Note       string        `json:"note,omitempty"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type lineRequest struct {
	VariantID   int64           `json:"variant_id" validate:"required,gt=0"`
	BatchNumber string          `json:"batch_number" validate:"required,max=64"`
	Qty         int64           `json:"qty" validate:"required,gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type invoiceResponse struct {
	ID     int64  `json:"id"`
	Number string `json:"number"`
	Total  string `json:"total"`
	Lines  int    `json:"lines"`
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
	lines := make([]LineInput, len(req.Lines))
	for i, line := range req.Lines {
		lines[i] = LineInput{
			VariantID:   line.VariantID,
			BatchNumber: line.BatchNumber,
			Qty:         line.Qty,
			UnitPrice:   line.UnitPrice,
		}
	}
	inv, err := h.service.CreateInvoice(r.Context(), CreateInput{
		OrgID:      scope.OrgID,
		BranchID:   scope.BranchID,
		CustomerID: req.CustomerID,
		Lines:      lines,
		ActorID:    scope.ActorID,
		Note:       req.Note,
	})
	if err != nil {
		h.logger.Error("create invoice failed", slog.Any("error", err))
		respondSalesError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoiceResponse{ID: inv.ID, Number: inv.Number, Total: inv.Total.String(), Lines: len(inv.Lines)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondSalesError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func respondSalesError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, ErrNoLines), errors.Is(err, ledger.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
