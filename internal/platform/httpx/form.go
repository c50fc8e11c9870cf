package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the layout of HTML date inputs.
const DateLayout = "2006-01-02"

// ParseAmount accepts "1234.56", "1234,56" and "1.234,56".
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "R$"))
	if strings.Contains(raw, ",") {
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.ReplaceAll(raw, ",", ".")
	}
	return decimal.NewFromString(strings.TrimSpace(raw))
}

// ParseDate parses an HTML date input in loc. Empty input yields the zero time.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, raw, loc)
}

// FormInt64 reads a positive integer form or query value; zero when absent or invalid.
func FormInt64(r *http.Request, key string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(r.FormValue(key)), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// FormOptionalInt64 returns nil for an empty or zero value.
func FormOptionalInt64(r *http.Request, key string) *int64 {
	v := FormInt64(r, key)
	if v == 0 {
		return nil
	}
	return &v
}
