package cli

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatPrice prints two decimals for prices of 10 and above and four below.
func FormatPrice(price float64) string {
	prec := 4
	if math.Abs(price) >= 10 {
		prec = 2
	}
	return strconv.FormatFloat(price, 'f', prec, 64)
}

// FormatPercent prints a percentage with an explicit + for gains.
func FormatPercent(value float64) string {
	if value > 0 {
		return fmt.Sprintf("%+.2f%%", value)
	}
	return fmt.Sprintf("%.2f%%", value)
}

// FormatConfidence prints a [0,1] confidence as a whole percentage.
func FormatConfidence(conf float64) string {
	return fmt.Sprintf("%.0f%%", conf*100)
}

// FormatSimilarity prints a 0-100 similarity score.
func FormatSimilarity(sim float64) string {
	return strconv.FormatFloat(sim, 'f', 1, 64) + "%"
}

// FormatDateTime prints t in UTC, or "-" for the zero time.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.DateTime)
}

var ageUnits = []struct {
	size   time.Duration
	suffix string
}{
	{24 * time.Hour, "d"},
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
}

// FormatAge prints d using its two largest units, e.g. "3h 12m".
func FormatAge(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Second {
		return "0s"
	}

	parts := make([]string, 0, 2)
	for _, u := range ageUnits {
		if d < u.size && len(parts) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d%s", d/u.size, u.suffix))
		d %= u.size
		if len(parts) == 2 {
			break
		}
	}
	return strings.Join(parts, " ")
}
