// Package all registers every built-in source decoder with the parser
// registry. Import it for side effects from the wiring layer.
package all

import (
	_ "trafficetl/internal/parser/csv"
	_ "trafficetl/internal/parser/xls"
	_ "trafficetl/internal/parser/xlsx"
)
