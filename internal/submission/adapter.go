// Package submission переводит корзину в запрос на создание заказа
// и разбирает ответ бэк-офиса.
package submission

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gestock-pos/internal/model"
)

// TransactionPayload описывает тело запроса на создание заказа клиента.
type TransactionPayload struct {
	Client       int64             `json:"client"`
	IsDirectSale bool              `json:"is_vente_directe"`
	Status       model.OrderStatus `json:"statut"`
	TaxRate      int64             `json:"tva"`
	Lines        []PayloadLine     `json:"lignes"`
}

// PayloadLine описывает одну строку заказа в запросе.
type PayloadLine struct {
	Product         int64           `json:"produit"`
	Quantity        int             `json:"quantite"`
	UnitPrice       decimal.Decimal `json:"prix_unitaire"`
	DiscountPercent decimal.Decimal `json:"remise_ligne"`
}

// Result описывает итог одной попытки отправки.
type Result struct {
	OrderID     int64
	OrderNumber string
	Err         error
}

// OK сообщает, что заказ создан.
func (r Result) OK() bool {
	return r.Err == nil
}

// Message возвращает текст для кассира.
func (r Result) Message() string {
	if r.Err == nil {
		if r.OrderNumber != "" {
			return "order " + r.OrderNumber + " created"
		}
		return fmt.Sprintf("order %d created", r.OrderID)
	}
	var fe *FailedError
	if errors.As(r.Err, &fe) {
		return fe.Message
	}
	return r.Err.Error()
}

// Adapter строит запросы и разбирает ответы эндпоинта создания заказа.
type Adapter struct {
	directClientID int64
}

// NewAdapter создаёт адаптер. directClientID: клиент, на которого оформляются прямые продажи.
func NewAdapter(directClientID int64) *Adapter {
	return &Adapter{directClientID: directClientID}
}

// DirectClientID возвращает идентификатор клиента прямых продаж.
func (a *Adapter) DirectClientID() int64 {
	return a.directClientID
}

// BuildPayload проверяет корзину и строит тело запроса.
func (a *Adapter) BuildPayload(c model.Cart) (*TransactionPayload, error) {
	if len(c.Items) == 0 {
		return nil, ErrEmptyCart
	}

	p := &TransactionPayload{
		TaxRate: c.TaxRateID,
		Lines:   make([]PayloadLine, 0, len(c.Items)),
	}

	switch c.Type {
	case model.TransactionDirectSale:
		p.Client = a.directClientID
		p.IsDirectSale = true
		p.Status = model.OrderStatusValidated
	case model.TransactionCustomerOrder:
		if c.Client == nil {
			return nil, ErrMissingClient
		}
		p.Client = c.Client.ID
		p.Status = model.OrderStatusDraft
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransactionType, c.Type)
	}

	for _, it := range c.Items {
		p.Lines = append(p.Lines, PayloadLine{
			Product:         it.ProductID,
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice,
			DiscountPercent: it.DiscountPercent,
		})
	}

	return p, nil
}

type createdOrder struct {
	ID     int64  `json:"id"`
	Number string `json:"numero_commande"`
}

// InterpretResult разбирает ответ эндпоинта создания заказа.
func (a *Adapter) InterpretResult(status int, body []byte) Result {
	if status != http.StatusCreated {
		return Result{Err: &FailedError{Status: status, Message: backendMessage(body)}}
	}

	var created createdOrder
	if err := json.Unmarshal(body, &created); err != nil {
		return Result{Err: &FailedError{Status: status, Message: genericFailureMessage, Err: fmt.Errorf("decode created order: %w", err)}}
	}
	if created.ID <= 0 {
		return Result{Err: &FailedError{Status: status, Message: genericFailureMessage, Err: errors.New("created order has no id")}}
	}

	return Result{OrderID: created.ID, OrderNumber: created.Number}
}

// Failed строит результат для ошибки, случившейся до получения ответа.
func (a *Adapter) Failed(err error) Result {
	return Result{Err: &FailedError{Message: genericFailureMessage, Err: err}}
}

// backendMessage достаёт человекочитаемое сообщение из ответа об ошибке.
func backendMessage(body []byte) string {
	if len(body) == 0 {
		return genericFailureMessage
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil {
		for _, key := range []string{"detail", "message", "non_field_errors"} {
			if msg := firstString(obj[key]); msg != "" {
				return msg
			}
		}
		return genericFailureMessage
	}

	if msg := firstString(body); msg != "" {
		return msg
	}

	return genericFailureMessage
}

// firstString принимает строку или список строк.
func firstString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if item = strings.TrimSpace(item); item != "" {
				return item
			}
		}
	}

	return ""
}
