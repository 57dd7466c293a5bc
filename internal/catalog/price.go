package catalog

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	minPriceCents   Price = 0
	maxPriceCents   Price = 99999
	maxPriceDigits        = 12
	priceFracDigits       = 2
)

// ErrInvalidPrice indicates that a price is not a decimal with at most two places.
var ErrInvalidPrice = errors.New("catalog: invalid price")

// Price is an amount in cents.
type Price int64

// ParsePrice parses a decimal amount such as "9.99" into cents.
func ParsePrice(raw string) (Price, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPrice)
	}
	negative := false
	switch value[0] {
	case '-':
		negative = true
		value = value[1:]
	case '+':
		value = value[1:]
	}

	whole, frac, hasFrac := strings.Cut(value, ".")
	if whole == "" && (!hasFrac || frac == "") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, raw)
	}
	if len(whole) > maxPriceDigits || !allDigits(whole) || !allDigits(frac) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, raw)
	}
	if len(frac) > priceFracDigits {
		return 0, fmt.Errorf("%w: more than %d decimal places", ErrInvalidPrice, priceFracDigits)
	}
	for len(frac) < priceFracDigits {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	cents, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	if negative {
		cents = -cents
	}
	return Price(cents), nil
}

func allDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Cents exposes the raw amount.
func (p Price) Cents() int64 {
	return int64(p)
}

// InRange reports whether the price lies within [0, 999.99].
func (p Price) InRange() bool {
	return p >= minPriceCents && p <= maxPriceCents
}

func (p Price) String() string {
	cents := int64(p)
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// MarshalJSON renders the price as a decimal string.
func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(p.String())), nil
}

// UnmarshalJSON accepts either a decimal string or a JSON number.
func (p *Price) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	parsed, err := ParsePrice(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Value stores the price as integer cents.
func (p Price) Value() (driver.Value, error) {
	return int64(p), nil
}

// Scan loads integer cents.
func (p *Price) Scan(src interface{}) error {
	switch value := src.(type) {
	case int64:
		*p = Price(value)
	case int:
		*p = Price(value)
	case float64:
		*p = Price(value)
	case []byte:
		parsed, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return err
		}
		*p = Price(parsed)
	case nil:
		*p = 0
	default:
		return fmt.Errorf("catalog: cannot scan %T into price", src)
	}
	return nil
}
