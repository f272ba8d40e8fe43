// Package transformer turns a raw extracted batch into the canonical
// three-column batch (time, traffic, created_at) and persists it as the
// intermediate CSV artifact.
package transformer

import (
	"log/slog"
	"time"

	"trafficetl/internal/records"
	"trafficetl/internal/transformer/builtin"
)

// Step is one batch-to-batch transformation. Steps never edit their input;
// they return a new batch or an error.
type Step interface {
	Apply(records.Batch) (records.Batch, error)
}

// Chain is an ordered list of steps. The first failing step stops the chain.
type Chain []Step

func (c Chain) Apply(in records.Batch) (records.Batch, error) {
	out := in
	for _, s := range c {
		var err error
		if out, err = s.Apply(out); err != nil {
			return records.Batch{}, err
		}
	}
	return out, nil
}

// Columns is the canonical output column order.
var Columns = []string{builtin.ColTime, builtin.ColTraffic, builtin.ColCreatedAt}

// Options configures a Transformer.
type Options struct {
	Logger *slog.Logger

	// Now supplies the created_at clock. Defaults to time.Now.
	Now func() time.Time

	// NegativePolicy decides whether negative traffic warns or rejects.
	NegativePolicy builtin.NegativePolicy

	// OnNegative, when set, receives the count of negative traffic values.
	OnNegative func(n int)
}

// Transformer runs the canonical chain:
//
//	lower-case columns → normalize time → stamp created_at → validate → project
type Transformer struct {
	chain  Chain
	logger *slog.Logger
}

// New builds a Transformer from opt.
func New(opt Options) *Transformer {
	lg := opt.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Transformer{
		logger: lg,
		chain: Chain{
			builtin.Lowercase{},
			builtin.NormalizeTime{Logger: lg},
			builtin.Stamp{Now: opt.Now, Logger: lg},
			builtin.Validate{NegativePolicy: opt.NegativePolicy, OnNegative: opt.OnNegative, Logger: lg},
			builtin.Project{Columns: Columns},
		},
	}
}

// Transform applies the canonical chain to raw. raw is not modified.
func (t *Transformer) Transform(raw records.Batch) (records.Batch, error) {
	t.logger.Info("transform: starting", "rows", raw.Len(), "columns", raw.Columns)
	out, err := t.chain.Apply(raw)
	if err != nil {
		return records.Batch{}, err
	}
	t.logger.Info("transform: complete", "rows", out.Len())
	return out, nil
}

// Persist writes b to dir as the run's intermediate artifact.
func (t *Transformer) Persist(b records.Batch, dir, runTimestamp string) (Artifact, error) {
	a, err := Persist(b, dir, runTimestamp)
	if err != nil {
		return Artifact{}, err
	}
	t.logger.Info("transform: saved artifact", "path", a.Path, "rows", a.Rows, "xxh3", a.ChecksumHex())
	return a, nil
}
