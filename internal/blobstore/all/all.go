// Package all registers every built-in blobstore backend. Import it for its
// side effects.
package all

import (
	_ "trafficetl/internal/blobstore/gcs"
	_ "trafficetl/internal/blobstore/local"
	_ "trafficetl/internal/blobstore/s3"
)
