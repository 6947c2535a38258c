// Package format renders amounts for people to read.
package format

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency returns a currency string with a dollar sign and thousands separators (e.g., "-$1,234.56").
func Currency(amount float64) string {
	formatted, negative := formatCents(amount)
	if negative {
		return "-$" + formatted
	}
	return "$" + formatted
}

// NumericCurrency returns a currency string without a currency symbol but with separators (e.g., "-1,234.56").
func NumericCurrency(amount float64) string {
	formatted, negative := formatCents(amount)
	if negative {
		return "-" + formatted
	}
	return formatted
}

// Months renders a month count together with its length in years, e.g.
// "300 months (25.0 years)".
func Months(months int) string {
	return fmt.Sprintf("%d months (%.1f years)", months, float64(months)/12)
}

// formatCents rounds half away from zero to the cent, so 0.005 becomes 0.01
// regardless of its binary representation.
func formatCents(amount float64) (string, bool) {
	rounded := decimal.NewFromFloat(amount).Round(2)
	negative := rounded.IsNegative()
	formatted := rounded.Abs().StringFixed(2)

	parts := strings.SplitN(formatted, ".", 2)
	intPart := parts[0]
	decPart := "00"
	if len(parts) == 2 {
		decPart = parts[1]
	}

	if len(intPart) > 3 {
		var builder strings.Builder
		for i, digit := range intPart {
			if i > 0 && (len(intPart)-i)%3 == 0 {
				builder.WriteByte(',')
			}
			builder.WriteRune(digit)
		}
		intPart = builder.String()
	}

	return intPart + "." + decPart, negative
}
