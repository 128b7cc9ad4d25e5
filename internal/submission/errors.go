package submission

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCart возвращается при попытке отправить корзину без позиций.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrMissingClient возвращается для заказа клиента без выбранного клиента.
	ErrMissingClient = errors.New("client is required for a customer order")
	// ErrUnknownTransactionType возвращается для неизвестного вида транзакции.
	ErrUnknownTransactionType = errors.New("unknown transaction type")
	// ErrSubmissionFailed обозначает неудачную отправку. Конкретная ошибка имеет тип *FailedError.
	ErrSubmissionFailed = errors.New("submission failed")
)

const genericFailureMessage = "submission failed"

// FailedError описывает неудачную отправку: ответ бэк-офиса или сетевую ошибку.
type FailedError struct {
	// Status содержит HTTP-статус ответа; 0 при сетевой ошибке.
	Status int
	// Message содержит сообщение бэк-офиса или общее сообщение.
	Message string
	Err     error
}

func (e *FailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

// Is позволяет сравнивать ошибку с ErrSubmissionFailed через errors.Is.
func (e *FailedError) Is(target error) bool {
	return target == ErrSubmissionFailed
}

func (e *FailedError) Unwrap() error {
	return e.Err
}
