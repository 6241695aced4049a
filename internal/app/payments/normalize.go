package payments

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"moneyfusion/internal/domain"
)

const defaultArticleName = "Article"

var (
	nameKeys     = []string{"name", "nom"}
	priceKeys    = []string{"price", "montant", "unit_price"}
	quantityKeys = []string{"quantity", "quantite"}

	webhookTokenKeys = []string{"tokenPay", "token", "token_pay"}
)

// NormalizeLineItems accepts articles in either the English or the gateway's
// French vocabulary. A missing quantity defaults to 1.
func NormalizeLineItems(articles []map[string]any) ([]LineItemInput, error) {
	items := make([]LineItemInput, 0, len(articles))
	for i, a := range articles {
		item := LineItemInput{Name: defaultArticleName, Quantity: 1}

		if v, ok := lookup(a, nameKeys); ok {
			name, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: article %d: name must be a string", domain.ErrValidation, i)
			}
			if name = strings.TrimSpace(name); name != "" {
				item.Name = name
			}
		}

		v, ok := lookup(a, priceKeys)
		if !ok {
			return nil, fmt.Errorf("%w: article %d: price is required", domain.ErrValidation, i)
		}
		price, err := ParseDecimal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: article %d: %v", domain.ErrValidation, i, err)
		}
		item.UnitPrice = price

		if v, ok := lookup(a, quantityKeys); ok {
			q, err := parseInt(v)
			if err != nil {
				return nil, fmt.Errorf("%w: article %d: %v", domain.ErrValidation, i, err)
			}
			item.Quantity = q
		}

		items = append(items, item)
	}
	return items, nil
}

// ParseDecimal reads a money amount from a decoded JSON value.
func ParseDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid amount %q", n)
		}
		return d, nil
	}
	return decimal.Zero, fmt.Errorf("invalid amount type %T", v)
}

func parseInt(v any) (int, error) {
	d, err := ParseDecimal(v)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity: %w", err)
	}
	if !d.Equal(d.Truncate(0)) || d.GreaterThan(decimal.NewFromInt(math.MaxInt32)) {
		return 0, fmt.Errorf("invalid quantity %s", d)
	}
	return int(d.IntPart()), nil
}

func lookup(m map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func lookupString(m map[string]any, keys ...string) string {
	v, ok := lookup(m, keys)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case float64:
		return decimal.NewFromFloat(s).String()
	}
	return ""
}

func optionalString(m map[string]any, key string) *string {
	s := lookupString(m, key)
	if s == "" {
		return nil
	}
	return &s
}

// optionalDecimal treats values the fee column cannot hold as absent.
func optionalDecimal(m map[string]any, key string) *decimal.Decimal {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	d, err := ParseDecimal(v)
	if err != nil || d.IsNegative() || !domain.FitsAmountColumn(d) {
		return nil
	}
	return &d
}
