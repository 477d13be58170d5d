package efipix

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAmount renders cents as the API's two-decimal string ("150.00").
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ParseAmount converts a decimal BRL string to cents. More than two decimal
// places is rejected.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	cents := d.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: more than two decimal places", s)
	}
	return cents.IntPart(), nil
}
