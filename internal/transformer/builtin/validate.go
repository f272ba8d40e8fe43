package builtin

import (
	"fmt"
	"log/slog"
	"strings"

	"trafficetl/internal/etlerr"
	"trafficetl/internal/records"
)

// NegativePolicy selects how negative traffic is treated.
type NegativePolicy string

const (
	NegativeWarn   NegativePolicy = "warn"
	NegativeReject NegativePolicy = "reject"
)

// ParseNegativePolicy accepts "warn" or "reject" in any case. Empty means warn.
func ParseNegativePolicy(s string) (NegativePolicy, error) {
	switch NegativePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", NegativeWarn:
		return NegativeWarn, nil
	case NegativeReject:
		return NegativeReject, nil
	}
	return "", fmt.Errorf("unknown negative traffic policy %q (want warn or reject)", s)
}

// RequiredColumns must all be present after transformation.
var RequiredColumns = []string{ColTime, ColTraffic, ColCreatedAt}

// Validate checks a transformed batch. On success it returns the input
// unchanged.
type Validate struct {
	NegativePolicy NegativePolicy
	OnNegative     func(n int)
	Logger         *slog.Logger
}

// Apply checks required columns, nulls and negative traffic and returns in
// untouched, or the error for the first failed check.
func (v Validate) Apply(in records.Batch) (records.Batch, error) {
	var missing []string
	for _, c := range RequiredColumns {
		if !in.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return records.Batch{}, etlerr.New(etlerr.KindTransformation,
			"missing required columns after transform: %s", strings.Join(missing, ", "))
	}

	for _, c := range []string{ColTime, ColTraffic} {
		n := 0
		for _, r := range in.Rows {
			if isNull(r[c]) {
				n++
			}
		}
		if n > 0 {
			return records.Batch{}, etlerr.New(etlerr.KindTransformation,
				"found %d null value(s) in %q column", n, c)
		}
	}

	var (
		nonNumeric, negative int
		firstRow             = -1
		firstVal             any
	)
	for i, r := range in.Rows {
		f, ok := number(r[ColTraffic])
		if !ok {
			nonNumeric++
			if firstRow < 0 {
				firstRow, firstVal = i+1, r[ColTraffic]
			}
			continue
		}
		if f < 0 {
			negative++
		}
	}
	if nonNumeric > 0 {
		return records.Batch{}, etlerr.New(etlerr.KindTransformation,
			"traffic column must contain numeric values: %d non-numeric value(s), first at data row %d (%v)",
			nonNumeric, firstRow, firstVal)
	}

	lg := logger(v.Logger)
	if negative > 0 {
		if v.OnNegative != nil {
			v.OnNegative(negative)
		}
		if v.NegativePolicy == NegativeReject {
			return records.Batch{}, etlerr.New(etlerr.KindTransformation,
				"found %d negative traffic value(s); rejected by policy", negative)
		}
		lg.Warn("transform: found negative traffic values; this may indicate data issues", "count", negative)
	}
	lg.Info("transform: validation passed", "rows", in.Len())
	return in, nil
}
