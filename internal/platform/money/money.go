// Package money converts between display amounts and integer storage
// units. All arithmetic inside the service happens on int64 storage
// units; decimals exist only at the API boundary.
package money

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
)

// Currency describes one supported currency. BaseUnit is the number of
// storage units per display unit (100 for cent currencies, 1 for
// zero-decimal currencies).
type Currency struct {
	Code     string
	BaseUnit int64
	Symbol   string
	Name     string
}

// Decimals returns the number of fractional digits in display form.
func (c Currency) Decimals() int32 {
	if c.BaseUnit == 100 {
		return 2
	}
	return 0
}

var currencies = map[string]Currency{
	"USD": {Code: "USD", BaseUnit: 100, Symbol: "$", Name: "US Dollar"},
	"EUR": {Code: "EUR", BaseUnit: 100, Symbol: "€", Name: "Euro"},
	"GBP": {Code: "GBP", BaseUnit: 100, Symbol: "£", Name: "British Pound"},
	"KES": {Code: "KES", BaseUnit: 100, Symbol: "KSh", Name: "Kenyan Shilling"},
	"UGX": {Code: "UGX", BaseUnit: 1, Symbol: "USh", Name: "Ugandan Shilling"},
	"JPY": {Code: "JPY", BaseUnit: 1, Symbol: "¥", Name: "Japanese Yen"},
}

// Lookup resolves a currency code, case-insensitively.
func Lookup(code string) (Currency, error) {
	c, ok := currencies[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Currency{}, apperr.New(apperr.KindUnsupportedCurrency, "unsupported currency %q", code)
	}
	return c, nil
}

// Supported reports whether the code resolves to a known currency.
func Supported(code string) bool {
	_, err := Lookup(code)
	return err == nil
}

// ToStorage converts a display amount to storage units, rounding half
// away from zero. "10.005" USD becomes 1001 cents.
func ToStorage(display decimal.Decimal, code string) (int64, error) {
	c, err := Lookup(code)
	if err != nil {
		return 0, err
	}
	units := display.Mul(decimal.NewFromInt(c.BaseUnit)).Round(0)
	if !units.IsInteger() {
		return 0, apperr.Validation("amount %s does not round to whole %s units", display, c.Code)
	}
	return units.IntPart(), nil
}

// ToDisplay converts storage units back to a display amount. The
// conversion is exact.
func ToDisplay(units int64, code string) (decimal.Decimal, error) {
	c, err := Lookup(code)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(units).Div(decimal.NewFromInt(c.BaseUnit)), nil
}

// Format renders storage units with the currency symbol and the
// currency's decimal places, e.g. Format(150050, "USD") == "$1500.50".
func Format(units int64, code string) string {
	c, err := Lookup(code)
	if err != nil {
		return decimal.NewFromInt(units).String()
	}
	d := decimal.NewFromInt(units).Div(decimal.NewFromInt(c.BaseUnit))
	return c.Symbol + d.StringFixed(c.Decimals())
}

// Tolerance is the comparison slack for balance-due checks: one storage
// unit for decimal currencies absorbs rounding at the boundary,
// zero-decimal currencies compare exactly.
func Tolerance(code string) int64 {
	c, err := Lookup(code)
	if err != nil || c.BaseUnit == 1 {
		return 0
	}
	return 1
}
