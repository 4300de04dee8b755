// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"math"
	"strings"
)

const (
	copperPerSilver = 100
	copperPerGold   = 100 * copperPerSilver
)

// FormatPrice formats a copper amount as gold, silver and copper, dropping
// leading zero units: 1234567 becomes "123g 45s 67c".
func FormatPrice(copper float64) string {
	if math.IsNaN(copper) || math.IsInf(copper, 0) {
		return "-"
	}
	negative := copper < 0
	c := int64(math.Round(math.Abs(copper)))

	gold := c / copperPerGold
	silver := (c % copperPerGold) / copperPerSilver
	rest := c % copperPerSilver

	var parts []string
	if gold > 0 {
		parts = append(parts, FormatQuantity(gold)+"g")
	}
	if gold > 0 || silver > 0 {
		parts = append(parts, fmt.Sprintf("%ds", silver))
	}
	parts = append(parts, fmt.Sprintf("%dc", rest))

	out := strings.Join(parts, " ")
	if negative {
		out = "-" + out
	}
	return out
}

// FormatPercent formats a ratio as a signed percentage: 0.125 becomes "+12.50%".
func FormatPercent(ratio float64) string {
	sign := ""
	if ratio > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, ratio*100)
}

// FormatQuantity formats an integer with thousands separators.
func FormatQuantity(qty int64) string {
	s := fmt.Sprintf("%d", qty)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	n := len(s)
	if n <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// FormatCompact formats a volume in compact form (K/M).
func FormatCompact(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1_000_000:
		return fmt.Sprintf("%.2fM", v/1_000_000)
	case abs >= 1_000:
		return fmt.Sprintf("%.1fK", v/1_000)
	}
	return fmt.Sprintf("%.0f", v)
}

// FormatOptional formats a nullable number, or "-" when absent.
func FormatOptional(v *float64, format func(float64) string) string {
	if v == nil {
		return "-"
	}
	return format(*v)
}
