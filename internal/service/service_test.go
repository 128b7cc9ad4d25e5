package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/gestock-pos/internal/backoffice"
	"github.com/mmeshcher/gestock-pos/internal/cart"
	"github.com/mmeshcher/gestock-pos/internal/model"
	"github.com/mmeshcher/gestock-pos/internal/pricing"
	"github.com/mmeshcher/gestock-pos/internal/submission"
)

type stubBackoffice struct {
	mu sync.Mutex

	products map[int64]*model.Product
	clients  map[int64]*model.Client

	status  int
	body    []byte
	callErr error
	calls   int

	// block, если задан, удерживает CreateOrder до закрытия канала.
	block   chan struct{}
	entered chan struct{}
}

func newStubBackoffice() *stubBackoffice {
	return &stubBackoffice{
		products: map[int64]*model.Product{
			1: {ID: 1, Designation: "Riz", UnitPrice: decimal.NewFromInt(1000), Stock: 10, Barcode: "4006381333931", Active: true},
			2: {ID: 2, Designation: "Huile", UnitPrice: decimal.NewFromInt(500), Stock: 2, Barcode: "5901234123457", Active: true},
			3: {ID: 3, Designation: "Retiré", UnitPrice: decimal.NewFromInt(50), Stock: 100, Active: false},
		},
		clients: map[int64]*model.Client{
			42: {ID: 42, Name: "Dupont"},
		},
		status: http.StatusCreated,
		body:   []byte(`{"id":100,"numero_commande":"CMD-100"}`),
	}
}

func (s *stubBackoffice) CreateOrder(ctx context.Context, p *submission.TransactionPayload) (int, []byte, error) {
	s.mu.Lock()
	s.calls++
	block, entered := s.block, s.entered
	s.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		<-block
	}
	return s.status, s.body, s.callErr
}

func (s *stubBackoffice) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, backoffice.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *stubBackoffice) FindProductByBarcode(ctx context.Context, code string) (*model.Product, error) {
	for _, p := range s.products {
		if p.Barcode == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, backoffice.ErrNotFound
}

func (s *stubBackoffice) GetClient(ctx context.Context, id int64) (*model.Client, error) {
	c, ok := s.clients[id]
	if !ok {
		return nil, backoffice.ErrNotFound
	}
	return c, nil
}

type stubJournal struct {
	mu        sync.Mutex
	records   []model.SubmissionRecord
	recordErr error
}

func (j *stubJournal) Close() error { return nil }

func (j *stubJournal) RecordSubmission(ctx context.Context, rec model.SubmissionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.recordErr != nil {
		return j.recordErr
	}
	j.records = append(j.records, rec)
	return nil
}

func (j *stubJournal) GetSubmissionsByWorkflow(ctx context.Context, workflowID uuid.UUID, limit int) ([]model.SubmissionRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var res []model.SubmissionRecord
	for _, r := range j.records {
		if r.WorkflowID == workflowID {
			res = append(res, r)
		}
	}
	return res, nil
}

func newTestService(t *testing.T, bo *stubBackoffice, journal Journal, opts ...Option) *Service {
	t.Helper()

	policy, err := pricing.NewPolicy(pricing.DefaultTaxRates(), 1)
	require.NoError(t, err)

	return NewService(bo, journal, policy, submission.NewAdapter(3), zap.NewNop(), opts...)
}

func TestOpenWorkflow_Defaults(t *testing.T) {
	svc := newTestService(t, newStubBackoffice(), nil)

	id := svc.OpenWorkflow()
	view, err := svc.GetCart(id)
	require.NoError(t, err)

	assert.Equal(t, model.TransactionDirectSale, view.Type)
	assert.Equal(t, int64(1), view.TaxRate.ID)
	assert.Empty(t, view.Lines)
	assert.True(t, view.Total.IsZero())
	assert.Equal(t, "IDLE", view.State)
}

func TestUnknownWorkflow(t *testing.T) {
	svc := newTestService(t, newStubBackoffice(), nil)
	id := uuid.New()

	_, err := svc.GetCart(id)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	_, err = svc.AddProduct(context.Background(), id, 1, 1, decimal.Zero)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	_, err = svc.Submit(context.Background(), id)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	assert.ErrorIs(t, svc.CloseWorkflow(id), ErrWorkflowNotFound)
}

func TestAddProduct_MergesAndTotals(t *testing.T) {
	svc := newTestService(t, newStubBackoffice(), nil)
	id := svc.OpenWorkflow()
	ctx := context.Background()

	_, err := svc.AddProduct(ctx, id, 1, 1, decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, id, 1, 2, decimal.NewFromInt(10))
	require.NoError(t, err)
	view, err := svc.AddProduct(ctx, id, 2, 2, decimal.Zero)
	require.NoError(t, err)

	require.Len(t, view.Lines, 2)
	assert.Equal(t, 3, view.Lines[0].Quantity)
	assert.True(t, view.Lines[0].Total.Equal(decimal.NewFromInt(2700)), view.Lines[0].Total.String())
	assert.True(t, view.Total.Equal(decimal.NewFromInt(3700)), view.Total.String())
}

func TestAddProduct_Rejections(t *testing.T) {
	svc := newTestService(t, newStubBackoffice(), nil)
	id := svc.OpenWorkflow()
	ctx := context.Background()

	_, err := svc.AddProduct(ctx, id, 3, 1, decimal.Zero)
	assert.ErrorIs(t, err, ErrProductUnavailable)

	_, err = svc.AddProduct(ctx, id, 2, 3, decimal.Zero)
	assert.ErrorIs(t, err, cart.ErrInvalidQuantity)

	_, err = svc.AddProduct(ctx, id, 99, 1, decimal.Zero)
	assert.ErrorIs(t, err, backoffice.ErrNotFound)

	view, err := svc.GetCart(id)
	require.NoError(t, err)
	assert.Empty(t, view.Lines)
}

func TestScanBarcode(t *testing.T) {
	svc := newTestService(t, newStubBackoffice(), nil)
	id := svc.OpenWorkflow()
	ctx := context.Background()

	_, err := svc.ScanBarcode(ctx, id, "4006381333931")
	require.NoError(t, err)
	view, err := svc.ScanBarcode(ctx, id, "4006381333931")
	require.NoError(t, err)

	require.Len(t, view.Lines, 1)
	assert.Equal(t, 2, view.Lines[0].Quantity)

	_, err = svc.ScanBarcode(ctx, id, "4006381333932")
	assert.ErrorIs(t, err, ErrInvalidBarcode)

	_, err = svc.ScanBarcode(ctx, id, "96385074")
	assert.ErrorIs(t, err, backoffice.ErrNotFound)
}

func TestSetQuantity_UsesCurrentStock(t *testing.T) {
	bo := newStubBackoffice()
	svc := newTestService(t, bo, nil)
	id := svc.OpenWorkflow()
	ctx := context.Background()

	_, err := svc.AddProduct(ctx, id, 1, 1, decimal.Zero)
	require.NoError(t, err)

	view, err := svc.SetQuantity(ctx, id, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, view.Lines[0].Quantity)

	bo.products[1].Stock = 4
	_, err = svc.SetQuantity(ctx, id, 0, 5)
	assert.ErrorIs(t, err, cart.ErrInvalidQuantity)

	_, err = svc.SetQuantity(ctx, id, 3, 1)
	assert.ErrorIs(t, err, cart.ErrLineNotFound)
}

func TestRemoveProduct(t *testing.T) {
	svc := newTestService(t, newStubBackoffice(), nil)
	id := svc.OpenWorkflow()
	ctx := context.Background()

	_, _ = svc.AddProduct(ctx, id, 1, 1, decimal.Zero)
	_, _ = svc.AddProduct(ctx, id, 1, 1, decimal.NewFromInt(5))
	_, _ = svc.AddProduct(ctx, id, 2, 1, decimal.Zero)

	view, err := svc.RemoveProduct(id, 1)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, int64(2), view.Lines[0].ProductID)

	again, err := svc.RemoveProduct(id, 1)
	require.NoError(t, err)
	assert.Equal(t, view.Lines, again.Lines)
}

func TestSetTransaction(t *testing.T) {
	svc := newTestService(t, newStubBackoffice(), nil)
	id := svc.OpenWorkflow()
	ctx := context.Background()
	clientID := int64(42)

	view, err := svc.SetTransaction(ctx, id, model.TransactionCustomerOrder, &clientID, 2)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionCustomerOrder, view.Type)
	require.NotNil(t, view.Client)
	assert.Equal(t, "Dupont", view.Client.Name)
	assert.Equal(t, int64(2), view.TaxRate.ID)

	view, err = svc.SetTransaction(ctx, id, model.TransactionDirectSale, nil, 0)
	require.NoError(t, err)
	assert.Nil(t, view.Client)
	assert.Equal(t, int64(2), view.TaxRate.ID)

	_, err = svc.SetTransaction(ctx, id, "LAYAWAY", nil, 0)
	assert.ErrorIs(t, err, submission.ErrUnknownTransactionType)

	_, err = svc.SetTransaction(ctx, id, model.TransactionDirectSale, nil, 9)
	assert.ErrorIs(t, err, pricing.ErrUnknownTaxRate)

	missing := int64(7)
	_, err = svc.SetTransaction(ctx, id, model.TransactionCustomerOrder, &missing, 0)
	assert.ErrorIs(t, err, backoffice.ErrNotFound)
}

func TestSubmit_SuccessClearsCartAndRecords(t *testing.T) {
	bo := newStubBackoffice()
	journal := &stubJournal{}
	svc := newTestService(t, bo, journal)
	id := svc.OpenWorkflow()
	ctx := context.Background()

	_, err := svc.AddProduct(ctx, id, 1, 3, decimal.NewFromInt(10))
	require.NoError(t, err)

	res, err := svc.Submit(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, int64(100), res.OrderID)

	view, err := svc.GetCart(id)
	require.NoError(t, err)
	assert.Empty(t, view.Lines)
	assert.Equal(t, "SUCCEEDED", view.State)
	assert.Equal(t, "order CMD-100 created", view.LastMessage)

	history, err := svc.GetSubmissions(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.SubmissionSucceeded, history[0].Outcome)
	assert.Equal(t, int64(3), history[0].ClientID)
	assert.True(t, history[0].Total.Equal(decimal.NewFromInt(2700)))
	require.NotNil(t, history[0].OrderID)
	assert.Equal(t, int64(100), *history[0].OrderID)
}

func TestSubmit_EmptyCartNoCall(t *testing.T) {
	bo := newStubBackoffice()
	svc := newTestService(t, bo, nil)
	id := svc.OpenWorkflow()

	_, err := svc.Submit(context.Background(), id)
	assert.ErrorIs(t, err, submission.ErrEmptyCart)
	assert.Equal(t, 0, bo.calls)
}

func TestSubmit_FailureKeepsCart(t *testing.T) {
	bo := newStubBackoffice()
	bo.status = http.StatusBadRequest
	bo.body = []byte(`{"detail":"Stock insuffisant"}`)
	journal := &stubJournal{recordErr: errors.New("db down")}
	svc := newTestService(t, bo, journal)
	id := svc.OpenWorkflow()
	ctx := context.Background()

	_, err := svc.AddProduct(ctx, id, 1, 1, decimal.Zero)
	require.NoError(t, err)

	res, err := svc.Submit(ctx, id)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err, submission.ErrSubmissionFailed)

	view, err := svc.GetCart(id)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 1)
	assert.Equal(t, "FAILED", view.State)
	assert.Equal(t, "Stock insuffisant", view.LastMessage)

	_, err = svc.AddProduct(ctx, id, 1, 1, decimal.Zero)
	assert.NoError(t, err)
}

func TestSubmit_MutationsRejectedWhileSubmitting(t *testing.T) {
	bo := newStubBackoffice()
	bo.block = make(chan struct{})
	bo.entered = make(chan struct{})
	svc := newTestService(t, bo, nil)
	id := svc.OpenWorkflow()
	ctx := context.Background()

	_, err := svc.AddProduct(ctx, id, 1, 1, decimal.Zero)
	require.NoError(t, err)

	done := make(chan submission.Result)
	go func() {
		res, _ := svc.Submit(ctx, id)
		done <- res
	}()

	<-bo.entered

	_, err = svc.AddProduct(ctx, id, 1, 1, decimal.Zero)
	assert.ErrorIs(t, err, ErrSubmissionInProgress)
	_, err = svc.RemoveProduct(id, 1)
	assert.ErrorIs(t, err, ErrSubmissionInProgress)
	_, err = svc.Submit(ctx, id)
	assert.ErrorIs(t, err, ErrSubmissionInProgress)
	assert.ErrorIs(t, svc.CloseWorkflow(id), ErrSubmissionInProgress)

	view, err := svc.GetCart(id)
	require.NoError(t, err)
	assert.Equal(t, "SUBMITTING", view.State)
	assert.Len(t, view.Lines, 1)

	close(bo.block)

	select {
	case res := <-done:
		assert.True(t, res.OK())
	case <-time.After(time.Second):
		t.Fatalf("Submit did not return")
	}
	assert.Equal(t, 1, bo.calls)
}

func TestGetSubmissions_JournalDisabled(t *testing.T) {
	svc := newTestService(t, newStubBackoffice(), nil)

	_, err := svc.GetSubmissions(context.Background(), uuid.New(), 10)
	assert.ErrorIs(t, err, ErrJournalDisabled)
}

func TestCloseWorkflow(t *testing.T) {
	svc := newTestService(t, newStubBackoffice(), nil)
	id := svc.OpenWorkflow()

	require.NoError(t, svc.CloseWorkflow(id))

	_, err := svc.GetCart(id)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestReapIdle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc := newTestService(t, newStubBackoffice(), nil, WithClock(clock))

	stale := svc.OpenWorkflow()
	now = now.Add(2 * time.Hour)
	fresh := svc.OpenWorkflow()

	assert.Equal(t, 1, svc.reapIdle(time.Hour))

	_, err := svc.GetCart(stale)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	_, err = svc.GetCart(fresh)
	assert.NoError(t, err)
}

func TestStartWorkflowReaper_NoTTL(t *testing.T) {
	svc := newTestService(t, newStubBackoffice(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})

	go func() {
		svc.StartWorkflowReaper(ctx, 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("StartWorkflowReaper did not return without ttl")
	}
}
