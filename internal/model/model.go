// Package model содержит доменные сущности кассового сервиса gestock-pos.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product описывает товар из каталога бэк-офиса. Сервис его только читает.
type Product struct {
	ID          int64
	Designation string
	UnitPrice   decimal.Decimal
	Stock       int
	Barcode     string
	Active      bool
}

// Client описывает клиента бэк-офиса.
type Client struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsDirect bool   `json:"is_direct"`
}

// TransactionType определяет вид оформляемой транзакции.
type TransactionType string

const (
	TransactionDirectSale    TransactionType = "DIRECT_SALE"
	TransactionCustomerOrder TransactionType = "CUSTOMER_ORDER"
)

// Valid сообщает, является ли значение известным видом транзакции.
func (t TransactionType) Valid() bool {
	return t == TransactionDirectSale || t == TransactionCustomerOrder
}

// OrderStatus описывает статус, с которым заказ создаётся в бэк-офисе.
type OrderStatus string

const (
	OrderStatusValidated OrderStatus = "VALIDEE"
	OrderStatusDraft     OrderStatus = "BROUILLON"
)

// LineItem представляет одну позицию корзины.
// Цена фиксируется в момент добавления и дальше не следит за каталогом.
type LineItem struct {
	ProductID       int64
	Quantity        int
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
}

// TaxRate описывает ставку налога, выбираемую для транзакции.
type TaxRate struct {
	ID      int64           `json:"id"`
	Name    string          `json:"name"`
	Percent decimal.Decimal `json:"percent"`
}

// Cart содержит позиции и параметры транзакции на момент отправки.
type Cart struct {
	Type      TransactionType
	Client    *Client
	TaxRateID int64
	Items     []LineItem
}

// SubmissionOutcome описывает итог попытки отправки корзины.
type SubmissionOutcome string

const (
	SubmissionSucceeded SubmissionOutcome = "SUCCEEDED"
	SubmissionFailed    SubmissionOutcome = "FAILED"
)

// SubmissionRecord описывает запись журнала попыток отправки.
type SubmissionRecord struct {
	ID          uuid.UUID
	WorkflowID  uuid.UUID
	Type        TransactionType
	ClientID    int64
	TaxRateID   int64
	LineCount   int
	Total       decimal.Decimal
	Outcome     SubmissionOutcome
	OrderID     *int64
	Message     string
	SubmittedAt time.Time
}

// LineView описывает позицию корзины вместе с рассчитанной суммой.
type LineView struct {
	Position        int             `json:"position"`
	ProductID       int64           `json:"product_id"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Total           decimal.Decimal `json:"total"`
}

// CartView представляет корзину в том виде, в котором её видит касса.
type CartView struct {
	WorkflowID  uuid.UUID       `json:"workflow_id"`
	Type        TransactionType `json:"type"`
	Client      *Client         `json:"client,omitempty"`
	TaxRate     TaxRate         `json:"tax_rate"`
	Lines       []LineView      `json:"lines"`
	Total       decimal.Decimal `json:"total"`
	State       string          `json:"state"`
	LastMessage string          `json:"last_message,omitempty"`
}
