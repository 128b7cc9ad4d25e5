// Package service реализует кассовые сценарии: корзину, выбор транзакции и отправку заказа.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/gestock-pos/internal/cart"
	"github.com/mmeshcher/gestock-pos/internal/metrics"
	"github.com/mmeshcher/gestock-pos/internal/model"
	"github.com/mmeshcher/gestock-pos/internal/pricing"
	"github.com/mmeshcher/gestock-pos/internal/submission"
	"github.com/mmeshcher/gestock-pos/internal/validation"
)

var (
	// ErrWorkflowNotFound возвращается для неизвестного идентификатора кассового сценария.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrSubmissionInProgress возвращается при попытке изменить корзину во время отправки.
	ErrSubmissionInProgress = errors.New("submission in progress")
	// ErrProductUnavailable возвращается для товара, снятого с продажи.
	ErrProductUnavailable = errors.New("product unavailable")
	// ErrInvalidBarcode возвращается для штрихкода с неверной контрольной цифрой.
	ErrInvalidBarcode = errors.New("invalid barcode")
	// ErrJournalDisabled возвращается, если журнал отправок не настроен.
	ErrJournalDisabled = errors.New("submission journal disabled")
)

// Backoffice описывает обращения сервиса к бэк-офису.
type Backoffice interface {
	submission.OrderCreator
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	FindProductByBarcode(ctx context.Context, code string) (*model.Product, error)
	GetClient(ctx context.Context, id int64) (*model.Client, error)
}

// Journal описывает контракт журнала попыток отправки.
type Journal interface {
	Close() error
	RecordSubmission(ctx context.Context, rec model.SubmissionRecord) error
	GetSubmissionsByWorkflow(ctx context.Context, workflowID uuid.UUID, limit int) ([]model.SubmissionRecord, error)
}

type workflow struct {
	mu sync.Mutex

	id        uuid.UUID
	txType    model.TransactionType
	client    *model.Client
	taxRateID int64
	store     *cart.Store
	submitter *submission.Submitter
	lastUsed  time.Time
}

func (w *workflow) cart() model.Cart {
	return model.Cart{
		Type:      w.txType,
		Client:    w.client,
		TaxRateID: w.taxRateID,
		Items:     w.store.Snapshot(),
	}
}

func (w *workflow) busy() bool {
	return w.submitter.State() == submission.StateSubmitting
}

// Service содержит бизнес-логику кассы.
type Service struct {
	backoffice Backoffice
	journal    Journal
	policy     *pricing.Policy
	adapter    *submission.Adapter
	logger     *zap.Logger
	metrics    *metrics.POSMetrics
	now        func() time.Time

	mu        sync.RWMutex
	workflows map[uuid.UUID]*workflow
}

// Option настраивает Service.
type Option func(*Service)

// WithMetrics подключает метрики Prometheus.
func WithMetrics(m *metrics.POSMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService создаёт сервис. journal может быть nil: тогда история отправок не ведётся.
func NewService(backoffice Backoffice, journal Journal, policy *pricing.Policy, adapter *submission.Adapter, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		backoffice: backoffice,
		journal:    journal,
		policy:     policy,
		adapter:    adapter,
		logger:     logger,
		now:        time.Now,
		workflows:  make(map[uuid.UUID]*workflow),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.journal != nil {
		return s.journal.Close()
	}
	return nil
}

// OpenWorkflow открывает новый кассовый сценарий: прямая продажа со ставкой налога по умолчанию.
func (s *Service) OpenWorkflow() uuid.UUID {
	store := cart.NewStore()
	w := &workflow{
		id:        uuid.New(),
		txType:    model.TransactionDirectSale,
		taxRateID: s.policy.DefaultTaxRateID(),
		store:     store,
		submitter: submission.NewSubmitter(s.adapter, s.backoffice, store),
		lastUsed:  s.now(),
	}

	s.mu.Lock()
	s.workflows[w.id] = w
	s.mu.Unlock()

	s.logger.Debug("workflow opened", zap.String("workflow", w.id.String()))

	return w.id
}

// CloseWorkflow закрывает кассовый сценарий и отбрасывает его корзину.
func (s *Service) CloseWorkflow(id uuid.UUID) error {
	w, err := s.workflow(id)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.busy() {
		return ErrSubmissionInProgress
	}

	s.mu.Lock()
	delete(s.workflows, id)
	s.mu.Unlock()

	s.logger.Debug("workflow closed", zap.String("workflow", id.String()))

	return nil
}

// GetCart возвращает текущее состояние корзины.
func (s *Service) GetCart(id uuid.UUID) (*model.CartView, error) {
	w, err := s.workflow(id)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	return s.view(w), nil
}

// SetTransaction выбирает вид транзакции, клиента и ставку налога.
// taxRateID == 0 оставляет текущую ставку.
func (s *Service) SetTransaction(ctx context.Context, id uuid.UUID, txType model.TransactionType, clientID *int64, taxRateID int64) (*model.CartView, error) {
	w, err := s.workflow(id)
	if err != nil {
		return nil, err
	}

	if !txType.Valid() {
		return nil, fmt.Errorf("%w: %q", submission.ErrUnknownTransactionType, txType)
	}
	if taxRateID != 0 {
		if _, err := s.policy.TaxRate(taxRateID); err != nil {
			return nil, err
		}
	}

	var client *model.Client
	if txType == model.TransactionCustomerOrder && clientID != nil {
		client, err = s.backoffice.GetClient(ctx, *clientID)
		if err != nil {
			return nil, fmt.Errorf("get client %d: %w", *clientID, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.busy() {
		return nil, ErrSubmissionInProgress
	}

	w.txType = txType
	switch {
	case txType == model.TransactionDirectSale:
		w.client = nil
	case client != nil:
		w.client = client
	}
	if taxRateID != 0 {
		w.taxRateID = taxRateID
	}
	w.lastUsed = s.now()

	return s.view(w), nil
}

// AddProduct добавляет товар из каталога по текущей цене с учётом остатка.
func (s *Service) AddProduct(ctx context.Context, id uuid.UUID, productID int64, quantity int, discountPercent decimal.Decimal) (*model.CartView, error) {
	if _, err := s.workflow(id); err != nil {
		return nil, err
	}

	p, err := s.backoffice.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", productID, err)
	}

	return s.addProduct(id, p, quantity, discountPercent, "manual")
}

// ScanBarcode добавляет одну единицу товара по штрихкоду.
func (s *Service) ScanBarcode(ctx context.Context, id uuid.UUID, code string) (*model.CartView, error) {
	if _, err := s.workflow(id); err != nil {
		return nil, err
	}

	if !validation.IsValidBarcode(code) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBarcode, code)
	}

	p, err := s.backoffice.FindProductByBarcode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find barcode %s: %w", code, err)
	}

	return s.addProduct(id, p, 1, decimal.Zero, "scan")
}

func (s *Service) addProduct(id uuid.UUID, p *model.Product, quantity int, discountPercent decimal.Decimal, source string) (*model.CartView, error) {
	if !p.Active {
		return nil, fmt.Errorf("%w: %d", ErrProductUnavailable, p.ID)
	}

	w, err := s.workflow(id)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.busy() {
		return nil, ErrSubmissionInProgress
	}

	if err := w.store.AddOrMerge(p.ID, p.UnitPrice, quantity, discountPercent, cart.WithStock(p.Stock)); err != nil {
		return nil, err
	}
	w.lastUsed = s.now()

	s.metrics.IncLineAdded(source)

	return s.view(w), nil
}

// SetQuantity заменяет количество позиции, сверяясь с актуальным остатком.
func (s *Service) SetQuantity(ctx context.Context, id uuid.UUID, position, quantity int) (*model.CartView, error) {
	w, err := s.workflow(id)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	items := w.store.Snapshot()
	w.mu.Unlock()

	if position < 0 || position >= len(items) {
		return nil, fmt.Errorf("%w: %d", cart.ErrLineNotFound, position)
	}
	productID := items[position].ProductID

	p, err := s.backoffice.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", productID, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.busy() {
		return nil, ErrSubmissionInProgress
	}

	current := w.store.Snapshot()
	if position >= len(current) || current[position].ProductID != productID {
		return nil, fmt.Errorf("%w: %d", cart.ErrLineNotFound, position)
	}

	if err := w.store.SetQuantity(position, quantity, cart.WithStock(p.Stock)); err != nil {
		return nil, err
	}
	w.lastUsed = s.now()

	return s.view(w), nil
}

// RemoveProduct удаляет все позиции товара.
func (s *Service) RemoveProduct(id uuid.UUID, productID int64) (*model.CartView, error) {
	w, err := s.workflow(id)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.busy() {
		return nil, ErrSubmissionInProgress
	}

	w.store.Remove(productID)
	w.lastUsed = s.now()

	return s.view(w), nil
}

// Submit отправляет корзину в бэк-офис. Во время сетевого вызова корзина
// заблокирована для изменений, но доступна для чтения.
func (s *Service) Submit(ctx context.Context, id uuid.UUID) (submission.Result, error) {
	w, err := s.workflow(id)
	if err != nil {
		return submission.Result{}, err
	}

	w.mu.Lock()
	if w.busy() {
		w.mu.Unlock()
		return submission.Result{}, ErrSubmissionInProgress
	}

	c := w.cart()
	payload, err := w.submitter.Begin(c)
	if err != nil {
		w.mu.Unlock()
		return submission.Result{}, err
	}
	total := s.policy.CartTotal(w.store)
	w.mu.Unlock()

	start := s.now()
	status, body, callErr := w.submitter.Send(ctx, payload)
	elapsed := s.now().Sub(start)

	w.mu.Lock()
	res, err := w.submitter.Complete(status, body, callErr)
	w.lastUsed = s.now()
	w.mu.Unlock()
	if err != nil {
		return submission.Result{}, err
	}

	rec := model.SubmissionRecord{
		ID:          uuid.New(),
		WorkflowID:  id,
		Type:        c.Type,
		ClientID:    payload.Client,
		TaxRateID:   payload.TaxRate,
		LineCount:   len(payload.Lines),
		Total:       total,
		Message:     res.Message(),
		SubmittedAt: start,
	}

	if res.OK() {
		rec.Outcome = model.SubmissionSucceeded
		orderID := res.OrderID
		rec.OrderID = &orderID
		s.logger.Info("order submitted",
			zap.String("workflow", id.String()),
			zap.String("type", string(c.Type)),
			zap.Int64("order_id", res.OrderID),
			zap.String("total", total.StringFixed(2)),
		)
	} else {
		rec.Outcome = model.SubmissionFailed
		s.logger.Warn("order submission failed",
			zap.String("workflow", id.String()),
			zap.String("type", string(c.Type)),
			zap.String("message", res.Message()),
			zap.Error(res.Err),
		)
	}

	s.metrics.ObserveSubmission(string(c.Type), string(rec.Outcome), elapsed)
	s.record(ctx, rec)

	return res, nil
}

func (s *Service) record(ctx context.Context, rec model.SubmissionRecord) {
	if s.journal == nil {
		return
	}

	if err := s.journal.RecordSubmission(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("record submission",
			zap.String("workflow", rec.WorkflowID.String()),
			zap.Error(err),
		)
	}
}

// GetSubmissions возвращает историю отправок кассового сценария.
func (s *Service) GetSubmissions(ctx context.Context, id uuid.UUID, limit int) ([]model.SubmissionRecord, error) {
	if s.journal == nil {
		return nil, ErrJournalDisabled
	}
	return s.journal.GetSubmissionsByWorkflow(ctx, id, limit)
}

// TaxRates возвращает доступные ставки налога.
func (s *Service) TaxRates() []model.TaxRate {
	return s.policy.TaxRates()
}

// StartWorkflowReaper запускает фоновое закрытие сценариев, простаивающих дольше ttl.
func (s *Service) StartWorkflowReaper(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.reapIdle(ttl)
			}
		}
	}()
}

func (s *Service) reapIdle(ttl time.Duration) int {
	deadline := s.now().Add(-ttl)

	s.mu.RLock()
	candidates := make([]*workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		candidates = append(candidates, w)
	}
	s.mu.RUnlock()

	reaped := 0
	for _, w := range candidates {
		w.mu.Lock()
		idle := !w.busy() && w.lastUsed.Before(deadline)
		if idle {
			s.mu.Lock()
			delete(s.workflows, w.id)
			s.mu.Unlock()
			reaped++
		}
		w.mu.Unlock()
	}

	if reaped > 0 {
		s.logger.Info("idle workflows closed", zap.Int("count", reaped))
	}

	return reaped
}

func (s *Service) workflow(id uuid.UUID) (*workflow, error) {
	s.mu.RLock()
	w, ok := s.workflows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return w, nil
}

func (s *Service) view(w *workflow) *model.CartView {
	items := w.store.Snapshot()
	lines := make([]model.LineView, 0, len(items))
	for i, it := range items {
		lines = append(lines, model.LineView{
			Position:        i,
			ProductID:       it.ProductID,
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice,
			DiscountPercent: it.DiscountPercent,
			Total:           pricing.LineTotal(it),
		})
	}

	rate, err := s.policy.TaxRate(w.taxRateID)
	if err != nil {
		rate = model.TaxRate{ID: w.taxRateID}
	}

	v := &model.CartView{
		WorkflowID: w.id,
		Type:       w.txType,
		Client:     w.client,
		TaxRate:    rate,
		Lines:      lines,
		Total:      s.policy.CartTotal(w.store),
		State:      w.submitter.State().String(),
	}

	if st := w.submitter.State(); st == submission.StateSucceeded || st == submission.StateFailed {
		v.LastMessage = w.submitter.Last().Message()
	}

	return v
}
