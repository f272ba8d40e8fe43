package builtin

import (
	"log/slog"
	"time"

	"trafficetl/internal/records"
)

// Stamp sets created_at on every row to one UTC instant read once per batch.
type Stamp struct {
	Now    func() time.Time
	Logger *slog.Logger
}

// Apply returns a copy of in with created_at set, appending the column when
// it is absent.
func (s Stamp) Apply(in records.Batch) (records.Batch, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ts := now().UTC().Format(CanonicalLayout)

	out := in.Clone()
	if !out.HasColumn(ColCreatedAt) {
		out.Columns = append(out.Columns, ColCreatedAt)
	}
	for _, r := range out.Rows {
		r[ColCreatedAt] = ts
	}
	logger(s.Logger).Info("transform: stamped created_at", "created_at", ts)
	return out, nil
}
