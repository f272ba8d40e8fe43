package transformer

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"

	"trafficetl/internal/etlerr"
	"trafficetl/internal/records"
	"trafficetl/internal/transformer/builtin"
)

// Artifact is the persisted intermediate CSV.
type Artifact struct {
	Path     string
	Rows     int
	Checksum uint64 // xxh3 of the file bytes
}

// ChecksumHex renders Checksum as 16 hex digits.
func (a Artifact) ChecksumHex() string { return fmt.Sprintf("%016x", a.Checksum) }

// ArtifactName is the file name of the artifact for a run.
func ArtifactName(runTimestamp string) string {
	return "traffic_data_" + runTimestamp + ".csv"
}

// Persist writes b as UTF-8 CSV with a header row and the canonical column
// order, creating dir if needed. A partially written file is removed.
func Persist(b records.Batch, dir, runTimestamp string) (Artifact, error) {
	for _, c := range Columns {
		if !b.HasColumn(c) {
			return Artifact{}, etlerr.New(etlerr.KindTransformation, "cannot persist batch without %q column", c)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifact{}, etlerr.Wrap(etlerr.KindTransformation, err, "create artifact directory %s", dir)
	}

	path := filepath.Join(dir, ArtifactName(runTimestamp))
	f, err := os.Create(path)
	if err != nil {
		return Artifact{}, etlerr.Wrap(etlerr.KindTransformation, err, "create artifact %s", path)
	}

	h := xxh3.New()
	if err := writeCSV(io.MultiWriter(f, h), b); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return Artifact{}, etlerr.Wrap(etlerr.KindTransformation, err, "write artifact %s", path)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return Artifact{}, etlerr.Wrap(etlerr.KindTransformation, err, "close artifact %s", path)
	}
	return Artifact{Path: path, Rows: b.Len(), Checksum: h.Sum64()}, nil
}

func writeCSV(w io.Writer, b records.Batch) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	line := make([]string, len(Columns))
	for _, r := range b.Rows {
		for i, c := range Columns {
			line[i] = formatCell(r[c])
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(builtin.CanonicalLayout)
	default:
		return fmt.Sprint(x)
	}
}
