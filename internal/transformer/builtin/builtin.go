// Package builtin contains the transformation steps of the traffic pipeline.
package builtin

import (
	"log/slog"
	"math"
)

// Canonical column names.
const (
	ColTime      = "time"
	ColTraffic   = "traffic"
	ColCreatedAt = "created_at"
)

// CanonicalLayout is the output timestamp format: YYYY-MM-DD HH:MM:SS.
const CanonicalLayout = "2006-01-02 15:04:05"

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// isNull reports whether v is a missing cell: nil, blank text or NaN.
func isNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	}
	return false
}

// number returns v as float64 when v has a numeric type.
func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}
