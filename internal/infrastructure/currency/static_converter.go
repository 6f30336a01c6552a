// Package currency provides exchange rates for expense conversion
package currency

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/expense-approval/internal/application/port"
)

// ErrUnknownCurrency is returned for a currency with no configured rate
var ErrUnknownCurrency = fmt.Errorf("%w: unsupported currency", port.ErrInvalidInput)

// StaticConverter converts through a fixed table of rates, each giving
// how many units of the base currency one unit of the currency is worth
type StaticConverter struct {
	base  string
	rates map[string]float64
}

// NewStaticConverter builds a converter. The base currency always has rate 1.
func NewStaticConverter(base string, rates map[string]float64) (*StaticConverter, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	if len(base) != 3 {
		return nil, fmt.Errorf("invalid base currency %q", base)
	}

	table := map[string]float64{base: 1}
	for code, rate := range rates {
		code = strings.ToUpper(strings.TrimSpace(code))
		if rate <= 0 {
			return nil, fmt.Errorf("rate for %s must be positive, got %v", code, rate)
		}
		if code == base && rate != 1 {
			return nil, fmt.Errorf("base currency %s must have rate 1", base)
		}
		table[code] = rate
	}
	return &StaticConverter{base: base, rates: table}, nil
}

// Rate returns the multiplier converting an amount in from into to
func (c *StaticConverter) Rate(ctx context.Context, from, to string) (float64, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return 1, nil
	}
	fromRate, ok := c.rates[from]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, from)
	}
	toRate, ok := c.rates[to]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, to)
	}
	return fromRate / toRate, nil
}

// Base returns the base currency code
func (c *StaticConverter) Base() string { return c.base }

var _ port.CurrencyConverter = (*StaticConverter)(nil)
