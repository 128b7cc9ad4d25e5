// Package pricing рассчитывает суммы позиций и корзины и хранит таблицу ставок налога.
package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gestock-pos/internal/model"
	"github.com/mmeshcher/gestock-pos/internal/money"
)

// ErrUnknownTaxRate возвращается, если ставка налога не найдена в таблице.
var ErrUnknownTaxRate = errors.New("unknown tax rate")

// LineTotal возвращает сумму позиции с учётом скидки, округлённую до двух знаков.
func LineTotal(item model.LineItem) decimal.Decimal {
	gross := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
	// Скидка проверяется при добавлении в корзину, здесь её достаточно ограничить.
	net, _ := money.ApplyDiscount(gross, money.ClampPercent(item.DiscountPercent))
	return money.Round2(net)
}

// Sum складывает округлённые суммы позиций и округляет итог.
func Sum(items []model.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(LineTotal(item))
	}
	return money.Round2(total)
}

// Totaler описывает источник итоговой суммы корзины.
type Totaler interface {
	Total() decimal.Decimal
}

// Policy содержит правила расчёта итогов и таблицу ставок налога.
type Policy struct {
	rates       map[int64]model.TaxRate
	defaultRate int64
}

// DefaultTaxRates возвращает ставки, используемые бэк-офисом по умолчанию.
func DefaultTaxRates() []model.TaxRate {
	return []model.TaxRate{
		{ID: 1, Name: "TVA 18%", Percent: decimal.NewFromInt(18)},
		{ID: 2, Name: "TVA 10%", Percent: decimal.NewFromInt(10)},
		{ID: 3, Name: "TVA 5.5%", Percent: decimal.RequireFromString("5.5")},
	}
}

// NewPolicy создаёт политику с указанными ставками и ставкой по умолчанию.
func NewPolicy(rates []model.TaxRate, defaultRateID int64) (*Policy, error) {
	if len(rates) == 0 {
		return nil, errors.New("tax rate table is empty")
	}

	p := &Policy{
		rates:       make(map[int64]model.TaxRate, len(rates)),
		defaultRate: defaultRateID,
	}
	for _, r := range rates {
		p.rates[r.ID] = r
	}

	if _, ok := p.rates[defaultRateID]; !ok {
		return nil, fmt.Errorf("%w: default %d", ErrUnknownTaxRate, defaultRateID)
	}

	return p, nil
}

// CartTotal возвращает итог корзины. Налог к итогу не применяется:
// ставка только передаётся в бэк-офис вместе с заказом.
func (p *Policy) CartTotal(t Totaler) decimal.Decimal {
	return t.Total()
}

// TaxRate возвращает ставку налога по идентификатору.
func (p *Policy) TaxRate(id int64) (model.TaxRate, error) {
	r, ok := p.rates[id]
	if !ok {
		return model.TaxRate{}, fmt.Errorf("%w: %d", ErrUnknownTaxRate, id)
	}
	return r, nil
}

// DefaultTaxRateID возвращает идентификатор ставки по умолчанию.
func (p *Policy) DefaultTaxRateID() int64 {
	return p.defaultRate
}

// TaxRates возвращает все ставки, упорядоченные по идентификатору.
func (p *Policy) TaxRates() []model.TaxRate {
	res := make([]model.TaxRate, 0, len(p.rates))
	for _, r := range p.rates {
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// ParseTaxRates разбирает таблицу ставок вида "1=18,2=10,3=5.5".
func ParseTaxRates(s string) ([]model.TaxRate, error) {
	var rates []model.TaxRate

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		idStr, pctStr, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("parse tax rate %q: missing '='", part)
		}

		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("parse tax rate %q: invalid id", part)
		}

		pct, err := money.Parse(pctStr)
		if err != nil {
			return nil, fmt.Errorf("parse tax rate %q: %w", part, err)
		}
		if err := money.ValidatePercent(pct); err != nil {
			return nil, fmt.Errorf("parse tax rate %q: %w", part, err)
		}

		rates = append(rates, model.TaxRate{
			ID:      id,
			Name:    "TVA " + pct.String() + "%",
			Percent: pct,
		})
	}

	if len(rates) == 0 {
		return nil, errors.New("tax rate table is empty")
	}

	return rates, nil
}
