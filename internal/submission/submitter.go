package submission

import (
	"context"
	"errors"

	"github.com/mmeshcher/gestock-pos/internal/model"
)

// State описывает состояние попытки отправки.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSubmitting:
		return "SUBMITTING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrNotSubmitting возвращается при попытке завершить отправку, которая не начиналась.
	ErrNotSubmitting = errors.New("no submission in progress")
	// ErrAlreadySubmitting возвращается при повторном Begin до завершения отправки.
	ErrAlreadySubmitting = errors.New("submission already in progress")
)

// OrderCreator выполняет сетевой запрос на создание заказа.
type OrderCreator interface {
	CreateOrder(ctx context.Context, payload *TransactionPayload) (int, []byte, error)
}

// Clearer очищает корзину после успешной отправки.
type Clearer interface {
	Clear()
}

// Submitter ведёт одну корзину через состояния IDLE → SUBMITTING → SUCCEEDED/FAILED.
// Повторную отправку он не запрещает: решение принимает вызывающий код по State.
type Submitter struct {
	adapter *Adapter
	creator OrderCreator
	store   Clearer

	state State
	last  Result
}

// NewSubmitter создаёт автомат отправки для одной корзины.
func NewSubmitter(adapter *Adapter, creator OrderCreator, store Clearer) *Submitter {
	return &Submitter{
		adapter: adapter,
		creator: creator,
		store:   store,
	}
}

// State возвращает текущее состояние.
func (s *Submitter) State() State {
	return s.state
}

// Last возвращает результат последней завершённой попытки.
func (s *Submitter) Last() Result {
	return s.last
}

// Begin проверяет корзину и переводит автомат в SUBMITTING.
// Ошибки проверки возвращаются до любого сетевого вызова, состояние при этом не меняется.
func (s *Submitter) Begin(c model.Cart) (*TransactionPayload, error) {
	if s.state == StateSubmitting {
		return nil, ErrAlreadySubmitting
	}

	payload, err := s.adapter.BuildPayload(c)
	if err != nil {
		return nil, err
	}
	s.state = StateSubmitting
	return payload, nil
}

// Complete разбирает итог сетевого вызова. При успехе корзина очищается,
// при ошибке остаётся нетронутой.
func (s *Submitter) Complete(status int, body []byte, callErr error) (Result, error) {
	if s.state != StateSubmitting {
		return Result{}, ErrNotSubmitting
	}

	var res Result
	if callErr != nil {
		res = s.adapter.Failed(callErr)
	} else {
		res = s.adapter.InterpretResult(status, body)
	}

	s.last = res
	if res.OK() {
		s.state = StateSucceeded
		s.store.Clear()
	} else {
		s.state = StateFailed
	}

	return res, nil
}

// Submit выполняет одну попытку отправки целиком. Повторов нет.
func (s *Submitter) Submit(ctx context.Context, c model.Cart) (Result, error) {
	payload, err := s.Begin(c)
	if err != nil {
		return Result{}, err
	}

	status, body, callErr := s.creator.CreateOrder(ctx, payload)
	return s.Complete(status, body, callErr)
}

// Send выполняет сетевой вызов для уже построенного запроса.
func (s *Submitter) Send(ctx context.Context, payload *TransactionPayload) (int, []byte, error) {
	return s.creator.CreateOrder(ctx, payload)
}
