// Package config resolves the pipeline's settings from environment variables,
// optionally seeded from a .env file.
//
// A Config is resolved once at startup and passed by value. Overrides such as
// the CLI's --truncate flag produce a modified copy via the With* methods.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"trafficetl/internal/blobstore"
	"trafficetl/internal/datasource"
	"trafficetl/internal/etlerr"
	"trafficetl/internal/transformer/builtin"
	"trafficetl/internal/warehouse"
)

// Environment variable names.
const (
	EnvProject         = "GCP_PROJECT"
	EnvBucket          = "GCS_BUCKET"
	EnvDataset         = "BQ_DATASET"
	EnvTable           = "BQ_TABLE"
	EnvSource          = "SOURCE_URI"
	EnvWriteMode       = "BQ_WRITE_DISPOSITION"
	EnvCredentials     = "GOOGLE_APPLICATION_CREDENTIALS"
	EnvLocation        = "BQ_LOCATION"
	EnvBlobStoreKind   = "BLOBSTORE_KIND"
	EnvS3Endpoint      = "S3_ENDPOINT"
	EnvS3AccessKey     = "S3_ACCESS_KEY"
	EnvS3SecretKey     = "S3_SECRET_KEY"
	EnvS3UseSSL        = "S3_USE_SSL"
	EnvLocalBlobRoot   = "LOCAL_BLOB_ROOT"
	EnvWarehouseKind   = "WAREHOUSE_KIND"
	EnvWarehouseDSN    = "WAREHOUSE_DSN"
	EnvNegativePolicy  = "NEGATIVE_TRAFFIC_POLICY"
	EnvWorkDir         = "WORK_DIR"
	EnvMetricsBackend  = "METRICS_BACKEND"
	EnvPushgatewayURL  = "PUSHGATEWAY_URL"
	EnvDogStatsDAddr   = "DOGSTATSD_ADDR"
	EnvLogFormat       = "LOG_FORMAT"
	defaultWorkDirName = "traffic-etl"
)

// Config is the resolved pipeline configuration.
type Config struct {
	Project   string
	Bucket    string
	Dataset   string
	Table     string
	SourceURI string
	Source    datasource.Location
	WriteMode warehouse.WriteMode

	CredentialsFile string
	Location        string

	BlobStoreKind string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3UseSSL      bool
	LocalBlobRoot string

	WarehouseKind string
	WarehouseDSN  string

	NegativePolicy builtin.NegativePolicy
	WorkDir        string

	MetricsBackend string
	PushgatewayURL string
	DogStatsDAddr  string

	LogFormat string
}

// WithWriteMode returns a copy of c using mode.
func (c Config) WithWriteMode(mode warehouse.WriteMode) Config {
	c.WriteMode = mode
	return c
}

// TableID is the destination table.
func (c Config) TableID() warehouse.TableID {
	return warehouse.TableID{Project: c.Project, Dataset: c.Dataset, Table: c.Table}
}

// BlobStore is the blob store backend configuration.
func (c Config) BlobStore() blobstore.Config {
	return blobstore.Config{
		Kind:            c.BlobStoreKind,
		Project:         c.Project,
		CredentialsFile: c.CredentialsFile,
		S3Endpoint:      c.S3Endpoint,
		S3AccessKey:     c.S3AccessKey,
		S3SecretKey:     c.S3SecretKey,
		S3UseSSL:        c.S3UseSSL,
		LocalRoot:       c.LocalBlobRoot,
	}
}

// Warehouse is the warehouse backend configuration.
func (c Config) Warehouse() warehouse.Config {
	return warehouse.Config{
		Kind:            c.WarehouseKind,
		Project:         c.Project,
		Location:        c.Location,
		CredentialsFile: c.CredentialsFile,
		DSN:             c.WarehouseDSN,
	}
}

// AuthMode describes how cloud clients authenticate.
func (c Config) AuthMode() string {
	if c.CredentialsFile != "" {
		return "service account key (" + c.CredentialsFile + ")"
	}
	return "application default credentials"
}

// Setting is one name/value pair for display.
type Setting struct {
	Name  string
	Value string
}

// Settings lists the resolved configuration for display. Secrets are masked.
func (c Config) Settings() []Setting {
	s := []Setting{
		{"project", c.Project},
		{"bucket", c.Bucket},
		{"table", c.TableID().String()},
		{"source", c.Source.String()},
		{"write_mode", c.WriteMode.String()},
		{"auth", c.AuthMode()},
		{"location", orDefault(c.Location, "(default)")},
		{"blobstore", c.BlobStoreKind},
	}
	switch c.BlobStoreKind {
	case "s3":
		s = append(s,
			Setting{"s3_endpoint", c.S3Endpoint},
			Setting{"s3_access_key", mask(c.S3AccessKey)},
			Setting{"s3_use_ssl", fmt.Sprint(c.S3UseSSL)})
	case "local":
		s = append(s, Setting{"local_blob_root", c.LocalBlobRoot})
	}
	s = append(s, Setting{"warehouse", c.WarehouseKind})
	if c.WarehouseDSN != "" {
		s = append(s, Setting{"warehouse_dsn", mask(c.WarehouseDSN)})
	}
	s = append(s,
		Setting{"negative_traffic", string(c.NegativePolicy)},
		Setting{"work_dir", c.WorkDir},
		Setting{"metrics", c.MetricsBackend},
		Setting{"log_format", c.LogFormat},
	)
	return s
}

func orDefault(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", 6) + s[len(s)-2:]
}

// Load seeds the environment from envFile (or ./.env when envFile is empty
// and the file exists) and resolves the configuration. Variables already set
// in the environment win over the file. Warnings are returned alongside a
// valid Config; any error issue makes Load fail with a config error listing
// every problem.
func Load(envFile string) (Config, []Issue, error) {
	if err := LoadEnvFile(envFile); err != nil {
		return Config{}, nil, err
	}
	return FromEnv(os.Getenv)
}

// LoadEnvFile only seeds the process environment, for callers that need a
// setting such as LOG_FORMAT before the full configuration is resolved.
func LoadEnvFile(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return etlerr.Wrap(etlerr.KindConfig, err, "load env file %s", envFile)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return etlerr.Wrap(etlerr.KindConfig, err, "load .env")
	}
	return nil
}

// FromEnv resolves the configuration through getenv.
func FromEnv(getenv func(string) string) (Config, []Issue, error) {
	c, issues := Resolve(getenv)
	var errs, warns []Issue
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			errs = append(errs, iss)
		} else {
			warns = append(warns, iss)
		}
	}
	if len(errs) > 0 {
		lines := make([]string, len(errs))
		for i, e := range errs {
			lines[i] = "  - " + e.Path + ": " + e.Message
		}
		return Config{}, warns, etlerr.New(etlerr.KindConfig,
			"invalid configuration (%d problem(s)):\n%s", len(errs), strings.Join(lines, "\n"))
	}
	return c, warns, nil
}

func defaultWorkDir() string { return filepath.Join(os.TempDir(), defaultWorkDirName) }
