package renderer

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// WrapText greedily packs words into lines of at most columns characters.
// A single word longer than the budget is kept whole on its own line.
func WrapText(text string, columns int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var lines []string
	current := ""
	for _, word := range words {
		if utf8.RuneCountInString(current)+utf8.RuneCountInString(word)+1 <= columns {
			if current != "" {
				current += " "
			}
			current += word
			continue
		}
		if current != "" {
			lines = append(lines, current)
		}
		current = word
	}
	if current != "" {
		lines = append(lines, current)
	}

	return strings.Join(lines, "\n")
}

// FormatLine left-justifies left and right-justifies right within columns.
// When both together do not fit they are concatenated without truncation.
func FormatLine(left, right string, columns int) string {
	used := utf8.RuneCountInString(left) + utf8.RuneCountInString(right)
	if used >= columns {
		return left + right
	}
	return left + strings.Repeat(" ", columns-used) + right
}

// formatMoney renders an amount with a currency symbol, "$" when none is given
func formatMoney(v float64, currency string) string {
	if currency == "" {
		currency = "$"
	}
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	if len(currency) == 3 && strings.ToUpper(currency) == currency {
		return fmt.Sprintf("%s%.2f %s", sign, v, currency)
	}
	return fmt.Sprintf("%s%s%.2f", sign, currency, v)
}

// formatQuantity drops the fraction for whole quantities
func formatQuantity(q float64) string {
	if q == math.Trunc(q) {
		return fmt.Sprintf("%d", int64(q))
	}
	return fmt.Sprintf("%.3g", q)
}
