// Package handler содержит HTTP-обработчики API кассового сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/gestock-pos/internal/backoffice"
	"github.com/mmeshcher/gestock-pos/internal/cart"
	"github.com/mmeshcher/gestock-pos/internal/metrics"
	"github.com/mmeshcher/gestock-pos/internal/middleware"
	"github.com/mmeshcher/gestock-pos/internal/model"
	"github.com/mmeshcher/gestock-pos/internal/money"
	"github.com/mmeshcher/gestock-pos/internal/pricing"
	"github.com/mmeshcher/gestock-pos/internal/service"
	"github.com/mmeshcher/gestock-pos/internal/submission"
)

const maxBodyBytes = 1 << 16

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	OpenWorkflow() uuid.UUID
	CloseWorkflow(id uuid.UUID) error
	GetCart(id uuid.UUID) (*model.CartView, error)
	SetTransaction(ctx context.Context, id uuid.UUID, txType model.TransactionType, clientID *int64, taxRateID int64) (*model.CartView, error)
	AddProduct(ctx context.Context, id uuid.UUID, productID int64, quantity int, discountPercent decimal.Decimal) (*model.CartView, error)
	ScanBarcode(ctx context.Context, id uuid.UUID, code string) (*model.CartView, error)
	SetQuantity(ctx context.Context, id uuid.UUID, position, quantity int) (*model.CartView, error)
	RemoveProduct(id uuid.UUID, productID int64) (*model.CartView, error)
	Submit(ctx context.Context, id uuid.UUID) (submission.Result, error)
	GetSubmissions(ctx context.Context, id uuid.UUID, limit int) ([]model.SubmissionRecord, error)
	TaxRates() []model.TaxRate
}

// Handler реализует HTTP-обработчики API кассы.
type Handler struct {
	service            Service
	logger             *zap.Logger
	workflowMiddleware *middleware.WorkflowMiddleware
	metrics            *metrics.POSMetrics
	gatherer           prometheus.Gatherer
	validate           *validator.Validate
	now                func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// gatherer может быть nil: тогда /metrics не публикуется.
func NewHandler(s Service, logger *zap.Logger, wf *middleware.WorkflowMiddleware, m *metrics.POSMetrics, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		service:            s,
		logger:             logger,
		workflowMiddleware: wf,
		metrics:            m,
		gatherer:           gatherer,
		validate:           newValidator(),
		now:                time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type transactionRequest struct {
	Type      string `json:"type" validate:"required,oneof=DIRECT_SALE CUSTOMER_ORDER"`
	ClientID  *int64 `json:"client_id" validate:"omitempty,gt=0"`
	TaxRateID int64  `json:"tax_rate_id" validate:"gte=0"`
}

type addItemRequest struct {
	ProductID       int64            `json:"product_id" validate:"required,gt=0"`
	Quantity        json.Number      `json:"quantity" validate:"required"`
	DiscountPercent *decimal.Decimal `json:"discount_percent"`
}

type quantityRequest struct {
	Quantity json.Number `json:"quantity" validate:"required"`
}

type scanRequest struct {
	Code string `json:"code" validate:"required,numeric,min=8,max=13"`
}

type submitResponse struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number,omitempty"`
	Message     string `json:"message"`
}

type submissionResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	ClientID    int64  `json:"client_id"`
	TaxRateID   int64  `json:"tax_rate_id"`
	LineCount   int    `json:"line_count"`
	Total       string `json:"total"`
	Outcome     string `json:"outcome"`
	OrderID     *int64 `json:"order_id,omitempty"`
	Message     string `json:"message"`
	SubmittedAt string `json:"submitted_at"`
}

// OpenSession открывает новый кассовый сценарий и выдаёт cookie.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	id := h.service.OpenWorkflow()

	view, err := h.service.GetCart(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.workflowMiddleware.SetWorkflowCookie(w, id)
	h.writeJSON(w, http.StatusCreated, view)
}

// CloseSession закрывает текущий кассовый сценарий.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.WorkflowIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.service.CloseWorkflow(id); err != nil && !errors.Is(err, service.ErrWorkflowNotFound) {
		h.writeError(w, err)
		return
	}

	h.workflowMiddleware.ClearWorkflowCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// GetCart возвращает текущую корзину.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.WorkflowIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	view, err := h.service.GetCart(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// SetTransaction выбирает вид транзакции, клиента и ставку налога.
func (h *Handler) SetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.WorkflowIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req transactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.service.SetTransaction(r.Context(), id, model.TransactionType(req.Type), req.ClientID, req.TaxRateID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// AddItem добавляет товар из каталога в корзину.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.WorkflowIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req addItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	quantity, err := cart.ParseQuantity(req.Quantity.String())
	if err != nil {
		h.writeError(w, err)
		return
	}

	discount := decimal.Zero
	if req.DiscountPercent != nil {
		discount = *req.DiscountPercent
	}

	view, err := h.service.AddProduct(r.Context(), id, req.ProductID, quantity, discount)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// UpdateItem заменяет количество позиции по её номеру.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.WorkflowIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	position, err := strconv.Atoi(chi.URLParam(r, "position"))
	if err != nil || position < 0 {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid position"})
		return
	}

	var req quantityRequest
	if !h.decode(w, r, &req) {
		return
	}

	quantity, err := cart.ParseQuantity(req.Quantity.String())
	if err != nil {
		h.writeError(w, err)
		return
	}

	view, err := h.service.SetQuantity(r.Context(), id, position, quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// RemoveItem удаляет все позиции товара.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.WorkflowIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	productID, err := backoffice.ParseID(chi.URLParam(r, "productID"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	view, err := h.service.RemoveProduct(id, productID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// Scan добавляет товар по штрихкоду.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.WorkflowIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req scanRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.service.ScanBarcode(r.Context(), id, req.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// Submit отправляет корзину в бэк-офис.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.WorkflowIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	res, err := h.service.Submit(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if !res.OK() {
		status := http.StatusBadGateway
		var fe *submission.FailedError
		if errors.As(res.Err, &fe) && (fe.Status == http.StatusUnauthorized || fe.Status == http.StatusForbidden) {
			status = http.StatusUnauthorized
		}
		h.writeJSON(w, status, errorResponse{Error: res.Message()})
		return
	}

	h.writeJSON(w, http.StatusCreated, submitResponse{
		OrderID:     res.OrderID,
		OrderNumber: res.OrderNumber,
		Message:     res.Message(),
	})
}

// GetSubmissions возвращает историю отправок текущего сценария.
func (h *Handler) GetSubmissions(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.WorkflowIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	records, err := h.service.GetSubmissions(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(records) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]submissionResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, submissionResponse{
			ID:          rec.ID.String(),
			Type:        string(rec.Type),
			ClientID:    rec.ClientID,
			TaxRateID:   rec.TaxRateID,
			LineCount:   rec.LineCount,
			Total:       rec.Total.StringFixed(2),
			Outcome:     string(rec.Outcome),
			OrderID:     rec.OrderID,
			Message:     rec.Message,
			SubmittedAt: rec.SubmittedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetTaxRates возвращает доступные ставки налога.
func (h *Handler) GetTaxRates(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.TaxRates())
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = validationMessage(fe)
			}
			h.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "validation failed", Fields: fields})
			return false
		}
		h.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "validation failed"})
		return false
	}

	return true
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt", "gte":
		return "must be positive"
	case "numeric":
		return "must contain digits only"
	}
	return "is invalid"
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrWorkflowNotFound),
		errors.Is(err, backoffice.ErrNotFound),
		errors.Is(err, cart.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSubmissionInProgress),
		errors.Is(err, submission.ErrAlreadySubmitting):
		return http.StatusConflict
	case errors.Is(err, backoffice.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidPrice),
		errors.Is(err, money.ErrInvalidDiscount),
		errors.Is(err, pricing.ErrUnknownTaxRate),
		errors.Is(err, submission.ErrEmptyCart),
		errors.Is(err, submission.ErrMissingClient),
		errors.Is(err, submission.ErrUnknownTransactionType),
		errors.Is(err, service.ErrProductUnavailable),
		errors.Is(err, service.ErrInvalidBarcode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrJournalDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		h.writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}

	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}
