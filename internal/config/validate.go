package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"trafficetl/internal/datasource"
	"trafficetl/internal/transformer/builtin"
	"trafficetl/internal/warehouse"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to the operator but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single configuration finding. Path is the environment
// variable it concerns.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// statFile is a test seam for the file-existence checks.
var statFile = os.Stat

var (
	identRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	projRe   = regexp.MustCompile(`^[a-z][a-z0-9-]{4,28}[a-z0-9]$`)
	bucketRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,220}[a-z0-9]$`)
)

var (
	blobStoreKinds = map[string]string{"gcs": datasource.SchemeGCS, "s3": datasource.SchemeS3, "local": datasource.SchemeLocal}
	warehouseKinds = map[string]bool{"bigquery": true, "postgres": true, "mssql": true, "mysql": true, "sqlite": true, "duckdb": true}
	metricsKinds   = map[string]bool{"none": true, "pushgateway": true, "datadog": true}
)

// maxIdentLen is the BigQuery limit for dataset and table names.
const maxIdentLen = 1024

func validIdent(s string) bool {
	return len(s) <= maxIdentLen && identRe.MatchString(s)
}

// Resolve reads every setting through getenv and returns the Config plus all
// issues found. It never stops at the first problem.
func Resolve(getenv func(string) string) (Config, []Issue) {
	var issues []Issue
	errorf := func(path, format string, a ...any) {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)})
	}
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }

	c := Config{
		Project:         get(EnvProject),
		Bucket:          get(EnvBucket),
		Dataset:         get(EnvDataset),
		Table:           get(EnvTable),
		SourceURI:       get(EnvSource),
		CredentialsFile: get(EnvCredentials),
		Location:        get(EnvLocation),
		BlobStoreKind:   strings.ToLower(orDefault(get(EnvBlobStoreKind), "gcs")),
		S3Endpoint:      get(EnvS3Endpoint),
		S3AccessKey:     get(EnvS3AccessKey),
		S3SecretKey:     get(EnvS3SecretKey),
		LocalBlobRoot:   get(EnvLocalBlobRoot),
		WarehouseKind:   strings.ToLower(orDefault(get(EnvWarehouseKind), "bigquery")),
		WarehouseDSN:    get(EnvWarehouseDSN),
		WorkDir:         orDefault(get(EnvWorkDir), defaultWorkDir()),
		MetricsBackend:  strings.ToLower(orDefault(get(EnvMetricsBackend), "none")),
		PushgatewayURL:  get(EnvPushgatewayURL),
		DogStatsDAddr:   get(EnvDogStatsDAddr),
		LogFormat:       strings.ToLower(orDefault(get(EnvLogFormat), "text")),
	}

	// Required settings are reported together.
	required := []struct{ env, val string }{
		{EnvProject, c.Project},
		{EnvBucket, c.Bucket},
		{EnvDataset, c.Dataset},
		{EnvTable, c.Table},
		{EnvSource, c.SourceURI},
	}
	for _, r := range required {
		if r.val == "" {
			errorf(r.env, "missing required setting")
		}
	}

	if c.Dataset != "" && !validIdent(c.Dataset) {
		errorf(EnvDataset, "%q is not a valid dataset name (letters, digits, underscores, at most %d)", c.Dataset, maxIdentLen)
	}
	if c.Table != "" && !validIdent(c.Table) {
		errorf(EnvTable, "%q is not a valid table name (letters, digits, underscores, at most %d)", c.Table, maxIdentLen)
	}
	if c.Bucket != "" && !bucketRe.MatchString(c.Bucket) {
		errorf(EnvBucket, "%q is not a valid bucket name", c.Bucket)
	}
	if c.Project != "" && c.WarehouseKind == "bigquery" && !projRe.MatchString(c.Project) {
		warnf(EnvProject, "%q does not look like a GCP project id", c.Project)
	}

	var err error
	if c.WriteMode, err = warehouse.ParseWriteMode(get(EnvWriteMode)); err != nil {
		errorf(EnvWriteMode, "%v", err)
	}
	if c.NegativePolicy, err = builtin.ParseNegativePolicy(get(EnvNegativePolicy)); err != nil {
		errorf(EnvNegativePolicy, "%v", err)
	}
	if v := get(EnvS3UseSSL); v != "" {
		if c.S3UseSSL, err = strconv.ParseBool(v); err != nil {
			errorf(EnvS3UseSSL, "%q is not a boolean", v)
		}
	}

	if c.CredentialsFile != "" {
		if _, err := statFile(c.CredentialsFile); err != nil {
			errorf(EnvCredentials, "credentials file %s is not readable: %v", c.CredentialsFile, err)
		}
	}

	scheme, knownStore := blobStoreKinds[c.BlobStoreKind]
	if !knownStore {
		errorf(EnvBlobStoreKind, "unknown blob store %q (want gcs, s3 or local)", c.BlobStoreKind)
	}
	switch c.BlobStoreKind {
	case "s3":
		if c.S3Endpoint == "" {
			errorf(EnvS3Endpoint, "required when %s=s3", EnvBlobStoreKind)
		}
	case "local":
		if c.LocalBlobRoot == "" {
			errorf(EnvLocalBlobRoot, "required when %s=local", EnvBlobStoreKind)
		} else if fi, err := statFile(c.LocalBlobRoot); err != nil || !fi.IsDir() {
			errorf(EnvLocalBlobRoot, "%s is not a directory", c.LocalBlobRoot)
		}
	}

	if c.SourceURI != "" {
		loc, err := datasource.ParseLocation(c.SourceURI)
		switch {
		case err != nil:
			errorf(EnvSource, "%v", err)
		case loc.IsRemote() && knownStore && loc.Scheme != scheme:
			errorf(EnvSource, "scheme %q does not match %s=%s (want %s://)", loc.Scheme, EnvBlobStoreKind, c.BlobStoreKind, scheme)
		case !loc.IsRemote():
			if _, err := statFile(loc.Path); err != nil {
				errorf(EnvSource, "local source file %s not found: %v", loc.Path, err)
			}
		}
		c.Source = loc
	}

	if !warehouseKinds[c.WarehouseKind] {
		errorf(EnvWarehouseKind, "unknown warehouse %q (want bigquery, postgres, mssql, mysql, sqlite or duckdb)", c.WarehouseKind)
	} else if c.WarehouseKind == "bigquery" {
		if c.BlobStoreKind != "gcs" {
			errorf(EnvWarehouseKind, "bigquery loads from GCS; set %s=gcs", EnvBlobStoreKind)
		}
	} else if c.WarehouseDSN == "" {
		errorf(EnvWarehouseDSN, "required when %s=%s", EnvWarehouseKind, c.WarehouseKind)
	}
	if c.Location != "" && c.WarehouseKind != "bigquery" {
		warnf(EnvLocation, "ignored by the %s warehouse", c.WarehouseKind)
	}

	if !metricsKinds[c.MetricsBackend] {
		errorf(EnvMetricsBackend, "unknown metrics backend %q (want none, pushgateway or datadog)", c.MetricsBackend)
	}
	if c.MetricsBackend == "pushgateway" && c.PushgatewayURL == "" {
		errorf(EnvPushgatewayURL, "required when %s=pushgateway", EnvMetricsBackend)
	}
	if c.MetricsBackend == "datadog" && c.DogStatsDAddr == "" {
		warnf(EnvDogStatsDAddr, "not set; using 127.0.0.1:8125")
		c.DogStatsDAddr = "127.0.0.1:8125"
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errorf(EnvLogFormat, "unknown log format %q (want text or json)", c.LogFormat)
	}

	return c, issues
}
