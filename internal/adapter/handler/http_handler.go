package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/platform/metrics"
	"github.com/rl1809/sales-ledger/internal/port"
)

const (
	sourceHTTP      = "http"
	maxRequestBytes = 1 << 20
)

type HTTPHandler struct {
	processor TransactionProcessor
	query     port.TransactionQuery
	inventory port.InventoryReader
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

type ResponseDTO struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
	Errors  string `json:"errors,omitempty"`
}

type TransactionView struct {
	ID              string     `json:"id"`
	TransactionDate string     `json:"transaction_date"`
	TotalPrice      string     `json:"total_price"`
	CreatedAt       time.Time  `json:"created_at"`
	Lines           []LineView `json:"lines,omitempty"`
}

type LineView struct {
	ID         string `json:"id"`
	ProductID  int64  `json:"product_id"`
	Qty        int    `json:"qty"`
	Price      string `json:"price"`
	TotalPrice string `json:"total_price"`
}

type StockView struct {
	ProductID    int64 `json:"product_id"`
	CurrentStock int   `json:"current_stock"`
}

func NewHTTPHandler(processor TransactionProcessor, query port.TransactionQuery, inventory port.InventoryReader, m *metrics.Metrics, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{processor: processor, query: query, inventory: inventory, metrics: m, logger: logger}
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/transactions", h.CreateTransaction)
	mux.HandleFunc("GET /api/transactions/{id}", h.GetTransaction)
	mux.HandleFunc("GET /api/products/{id}/stock", h.GetStock)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

func (h *HTTPHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		h.metrics.Observe(sourceHTTP, metrics.OutcomeRejected, string(domain.CodeMessageParsing), time.Since(start))
		writeJSON(w, http.StatusBadRequest, ResponseDTO{Message: "invalid request body", Errors: err.Error()})
		return
	}

	req, err := DecodeSalesTransaction(body)
	if errors.Is(err, ErrNotJSON) {
		h.metrics.Observe(sourceHTTP, metrics.OutcomeRejected, string(domain.CodeMessageParsing), time.Since(start))
		writeJSON(w, http.StatusBadRequest, ResponseDTO{Message: "invalid request body", Errors: "payload must be a JSON object"})
		return
	}
	if err != nil {
		_, code := classify(err)
		h.metrics.Observe(sourceHTTP, metrics.OutcomeRejected, code, time.Since(start))
		h.writeError(w, err)
		return
	}
	req.IdempotencyKey = r.Header.Get(IdempotencyHeader)

	header, err := h.processor.ProcessTransaction(r.Context(), req)
	outcome, code := classify(err)
	h.metrics.Observe(sourceHTTP, outcome, code, time.Since(start))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ResponseDTO{
		Message: "Transaction processed successfully",
		Data:    toTransactionView(header, nil),
	})
}

func (h *HTTPHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	header, err := h.query.GetHeader(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if header == nil {
		writeJSON(w, http.StatusNotFound, ResponseDTO{Message: "Transaction not found", Errors: "transaction " + id + " not found"})
		return
	}

	lines, err := h.query.ListLines(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ResponseDTO{Message: "OK", Data: toTransactionView(header, lines)})
}

func (h *HTTPHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.writeError(w, domain.NewBusinessError(domain.CodeValidation, "Validation failed").
			WithDetail("violations", fmt.Sprintf("id: %q is not a product ID", raw)))
		return
	}

	stock, err := h.inventory.CurrentStock(r.Context(), domain.ProductID(id))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ResponseDTO{Message: "OK", Data: StockView{ProductID: id, CurrentStock: stock}})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	be, ok := domain.AsBusinessError(err)
	if !ok {
		h.logger.Error("Unexpected error occurred", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ResponseDTO{
			Message: "An unexpected error occurred",
			Errors:  err.Error(),
		})
		return
	}

	writeJSON(w, httpStatus(be.Code), ResponseDTO{
		Message: be.Message,
		Errors:  fmt.Sprintf("[%s] %s", be.Code, be.DetailedMessage()),
	})
}

func toTransactionView(header *domain.TransactionHeader, lines []domain.TransactionLine) TransactionView {
	view := TransactionView{
		ID:              header.ID,
		TransactionDate: header.TransactionDate.Format(domain.TransactionDateLayout),
		TotalPrice:      header.TotalPrice.StringFixed(2),
		CreatedAt:       header.CreatedAt,
	}
	for _, l := range lines {
		view.Lines = append(view.Lines, LineView{
			ID:         l.ID,
			ProductID:  int64(l.ProductID),
			Qty:        l.Quantity,
			Price:      l.UnitPrice.StringFixed(2),
			TotalPrice: l.LineTotal.StringFixed(2),
		})
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
