// Package cart хранит позиции корзины, собираемой на кассе.
//
// Store не потокобезопасен: корзиной владеет один кассовый сценарий,
// и он не должен изменять её, пока идёт отправка.
package cart

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gestock-pos/internal/model"
	"github.com/mmeshcher/gestock-pos/internal/money"
	"github.com/mmeshcher/gestock-pos/internal/pricing"
)

var (
	// ErrInvalidQuantity возвращается для неположительного количества или количества сверх остатка.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInvalidPrice возвращается для отрицательной цены.
	ErrInvalidPrice = errors.New("invalid unit price")
	// ErrLineNotFound возвращается, если позиции с таким номером нет.
	ErrLineNotFound = errors.New("line not found")
)

type options struct {
	stock *int
}

// Option задаёт дополнительные условия изменения корзины.
type Option func(*options)

// WithStock ограничивает суммарное количество товара в корзине известным остатком.
func WithStock(available int) Option {
	return func(o *options) {
		o.stock = &available
	}
}

// Store содержит упорядоченный список позиций корзины.
type Store struct {
	items []model.LineItem
}

// NewStore создаёт пустую корзину.
func NewStore() *Store {
	return &Store{}
}

// AddOrMerge добавляет товар в корзину. Если позиция с тем же товаром, ценой
// и скидкой уже есть, увеличивается её количество.
func (s *Store) AddOrMerge(productID int64, unitPrice decimal.Decimal, quantity int, discountPercent decimal.Decimal, opts ...Option) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	if unitPrice.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, unitPrice.String())
	}
	if err := money.ValidatePercent(discountPercent); err != nil {
		return err
	}

	o := collect(opts)
	if o.stock != nil {
		if err := checkStock(s.quantityOf(productID)+quantity, *o.stock); err != nil {
			return err
		}
	}

	for i := range s.items {
		it := &s.items[i]
		if it.ProductID == productID && it.UnitPrice.Equal(unitPrice) && it.DiscountPercent.Equal(discountPercent) {
			it.Quantity += quantity
			return nil
		}
	}

	s.items = append(s.items, model.LineItem{
		ProductID:       productID,
		Quantity:        quantity,
		UnitPrice:       unitPrice,
		DiscountPercent: discountPercent,
	})

	return nil
}

// SetQuantity заменяет количество позиции с указанным номером.
func (s *Store) SetQuantity(position, quantity int, opts ...Option) error {
	if position < 0 || position >= len(s.items) {
		return fmt.Errorf("%w: %d", ErrLineNotFound, position)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}

	o := collect(opts)
	if o.stock != nil {
		it := s.items[position]
		if err := checkStock(s.quantityOf(it.ProductID)-it.Quantity+quantity, *o.stock); err != nil {
			return err
		}
	}

	s.items[position].Quantity = quantity
	return nil
}

// Remove удаляет все позиции товара независимо от цены и скидки.
func (s *Store) Remove(productID int64) {
	kept := make([]model.LineItem, 0, len(s.items))
	for _, it := range s.items {
		if it.ProductID != productID {
			kept = append(kept, it)
		}
	}
	s.items = kept
}

// Snapshot возвращает копию позиций в порядке добавления.
func (s *Store) Snapshot() []model.LineItem {
	res := make([]model.LineItem, len(s.items))
	copy(res, s.items)
	return res
}

// Total возвращает итог корзины без налога.
func (s *Store) Total() decimal.Decimal {
	return pricing.Sum(s.items)
}

// Len возвращает число позиций.
func (s *Store) Len() int {
	return len(s.items)
}

// Clear очищает корзину.
func (s *Store) Clear() {
	s.items = nil
}

// ParseQuantity разбирает количество из поля формы.
func ParseQuantity(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, v)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidQuantity, n)
	}
	return n, nil
}

func (s *Store) quantityOf(productID int64) int {
	total := 0
	for _, it := range s.items {
		if it.ProductID == productID {
			total += it.Quantity
		}
	}
	return total
}

func checkStock(requested, available int) error {
	if requested > available {
		return fmt.Errorf("%w: requested %d, in stock %d", ErrInvalidQuantity, requested, available)
	}
	return nil
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
