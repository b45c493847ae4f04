// Package core provides the pure domain model for the ledger:
// money handling, proposal records, budget impact previews, budget
// history reconstruction and analytics aggregation. It performs no I/O.
package core

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Currency is an ISO 4217 currency code. Every company carries one and
// all money values inside a tenant share it.
type Currency string

const (
	NGN Currency = "NGN"
	USD Currency = "USD"
	EUR Currency = "EUR"
)

// DefaultCurrency is applied to companies that never chose one.
const DefaultCurrency = NGN

var currencySymbols = map[Currency]string{
	NGN: "₦",
	USD: "$",
	EUR: "€",
}

// Valid reports whether the currency is one the system knows how to format.
func (c Currency) Valid() bool {
	_, ok := currencySymbols[c]
	return ok
}

// Symbol returns the display symbol for the currency, falling back to
// the code itself for unknown currencies.
func (c Currency) Symbol() string {
	if s, ok := currencySymbols[c]; ok {
		return s
	}
	return string(c)
}

// Money is an integer number of cents tagged with a currency. Signed:
// budget amendments and change orders may carry negative amounts.
type Money struct {
	Cents    int64    `json:"cents"`
	Currency Currency `json:"currency"`
}

// NewMoney builds a Money value in the given currency.
func NewMoney(cents int64, currency Currency) Money {
	return Money{Cents: cents, Currency: currency}
}

// Amount returns the major-unit value as a float64 for display and
// percentage math. Use cents for everything that must be exact.
func (m Money) Amount() float64 {
	return float64(m.Cents) / 100.0
}

// Abs returns the money value with a non-negative cent count.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents, Currency: m.Currency}
	}
	return m
}

// Add returns m + other. Both values must share a currency; mixing
// currencies is a programming error and panics.
func (m Money) Add(other Money) Money {
	if m.Currency != other.Currency && m.Cents != 0 && other.Cents != 0 {
		panic(fmt.Sprintf("money: currency mismatch %s vs %s", m.Currency, other.Currency))
	}
	cur := m.Currency
	if cur == "" {
		cur = other.Currency
	}
	return Money{Cents: m.Cents + other.Cents, Currency: cur}
}

// Format renders the value as "₦1,250.00" style text.
func (m Money) Format() string {
	neg := m.Cents < 0
	cents := m.Cents
	if neg {
		cents = -cents
	}
	whole := cents / 100
	frac := cents % 100
	s := fmt.Sprintf("%s%s.%02d", m.Currency.Symbol(), groupThousands(whole), frac)
	if neg {
		return "-" + s
	}
	return s
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
		b.WriteByte(',')
	}
	for i := lead; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

// ParseDecimalToCents converts a positive decimal string to cents with
// half-up rounding on the third decimal place. It accepts both dot
// (12.34) and comma (12,34) separators. Returns an error for invalid
// formats, explicit signs, or amounts that round to zero.
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	cents, err := parseUnsignedCents(s)
	if err != nil {
		return 0, err
	}
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// ParseSignedDecimalToCents converts a decimal string to cents,
// accepting an optional leading sign. Zero is a valid result here:
// change orders may carry a zero cost impact.
func ParseSignedDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	cents, err := parseUnsignedCents(s)
	if err != nil {
		return 0, err
	}
	if neg {
		cents = -cents
	}
	return cents, nil
}

func parseUnsignedCents(s string) (int64, error) {
	if s == "" {
		return 0, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	// Prevent overflow when multiplying by 100
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64 {
		return 0, ErrInvalidAmount
	}
	// Take first two fractional digits; then half-up rounding on third
	var fracCents int64
	if len(fracPart) > 0 {
		d1 := int64(fracPart[0] - '0')
		fracCents = d1 * 10
		if len(fracPart) > 1 {
			d2 := int64(fracPart[1] - '0')
			fracCents += d2
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracCents++
			}
		}
	}
	return iv*100 + fracCents, nil
}
