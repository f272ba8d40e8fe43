// Package all registers every built-in warehouse backend. Import it for its
// side effects.
package all

import (
	_ "trafficetl/internal/warehouse/bigquery"
	_ "trafficetl/internal/warehouse/duckdb"
	_ "trafficetl/internal/warehouse/mssql"
	_ "trafficetl/internal/warehouse/mysql"
	_ "trafficetl/internal/warehouse/postgres"
	_ "trafficetl/internal/warehouse/sqlite"
)
