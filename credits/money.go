/*
money.go - Credit/dollar conversion and display formatting

PURPOSE:
  All dollar arithmetic lives here and runs on decimal.Decimal. Credits
  are integers; dollars are exact decimals; nothing in this package ever
  touches a float. Both conversion directions round DOWN, so a value
  that round-trips through credits never gains money.
*/
package credits

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONVERSION
// =============================================================================

// CreditsToDollars returns the exact dollar value of an integer credit
// amount at CreditValue per credit.
func CreditsToDollars(credits int64) decimal.Decimal {
	return decimal.NewFromInt(credits).Mul(CreditValue)
}

// DollarsToCredits returns the whole credits a dollar amount buys,
// rounding down. Fractional-cent inputs floor toward fewer credits.
func DollarsToCredits(dollars decimal.Decimal) int64 {
	return dollars.Div(CreditValue).Floor().IntPart()
}

// PurchaseCredits returns the credits earned for an order total:
// floor(total x PurchaseRate). Negative totals earn nothing.
func PurchaseCredits(orderTotal decimal.Decimal) int64 {
	earned := orderTotal.Mul(decimal.NewFromInt(PurchaseRate)).Floor().IntPart()
	if earned < 0 {
		return 0
	}
	return earned
}

// =============================================================================
// FORMATTING
// =============================================================================

// FormatCredits renders a credit count with thousands separators,
// e.g. 12500 -> "12,500".
func FormatCredits(credits int64) string {
	s := strconv.FormatInt(credits, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var b strings.Builder
	lead := len(s) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(s[:lead])
	for i := lead; i < len(s); i += 3 {
		b.WriteByte(',')
		b.WriteString(s[i : i+3])
	}

	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// FormatCreditValue renders the dollar value of a credit amount as
// "$x.xx", e.g. 2500 -> "$25.00".
func FormatCreditValue(credits int64) string {
	return "$" + CreditsToDollars(credits).StringFixed(2)
}
