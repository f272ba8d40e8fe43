package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"trafficetl/internal/config"
	"trafficetl/internal/logging"
	"trafficetl/internal/pipeline"
	"trafficetl/internal/warehouse"
)

// options are the flags shared by the subcommands.
type options struct {
	envFile  string
	verbose  bool
	truncate bool
}

// execute runs the command line in args and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var (
		opt  options
		code = pipeline.OutcomeSuccess
	)

	root := &cobra.Command{
		Use:           "etl",
		Short:         "Load traffic sensor readings into the warehouse",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opt.envFile, "env-file", "", "read settings from this .env file (default ./.env when present)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run extract, transform and load once",
		Long: `Reads the source spreadsheet named by SOURCE_URI, normalizes the time
column to YYYY-MM-DD HH:MM:SS, stamps created_at, backs up the source and
stages the result in the bucket, then loads it into the warehouse table.
Use --truncate to replace the table contents instead of appending.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := newRunner(opt, stderr)
			res := r.Run(cmd.Context())
			code = res.Outcome
			return nil
		},
	}
	runCmd.Flags().BoolVarP(&opt.verbose, "verbose", "v", false, "enable debug logging")
	runCmd.Flags().BoolVar(&opt.truncate, "truncate", false, "replace the table contents (overrides "+config.EnvWriteMode+")")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and print the resolved settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code = newRunner(opt, stderr).Validate(stdout)
			return nil
		},
	}

	root.AddCommand(runCmd, validateCmd)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "etl: %v\n", err)
		return pipeline.OutcomeConfigError.Code()
	}
	return code.Code()
}

// newRunner seeds the environment from the env file first so LOG_FORMAT set
// there shapes the logger too. An env file error is reported by LoadConfig
// when the run enters Configuring.
func newRunner(opt options, logOut io.Writer) *pipeline.Runner {
	envErr := config.LoadEnvFile(opt.envFile)
	lg := logging.New(logOut, logging.Options{
		Format:  os.Getenv(config.EnvLogFormat),
		Verbose: opt.verbose,
	})
	return &pipeline.Runner{
		Logger: lg,
		LoadConfig: func() (config.Config, []config.Issue, error) {
			if envErr != nil {
				return config.Config{}, nil, envErr
			}
			cfg, issues, err := config.FromEnv(os.Getenv)
			if err != nil {
				return cfg, issues, err
			}
			if opt.truncate {
				cfg = cfg.WithWriteMode(warehouse.WriteTruncate)
			}
			return cfg, issues, nil
		},
	}
}
