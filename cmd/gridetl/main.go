package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gridetl/internal/driver"
	"github.com/ajitpratap0/gridetl/pkg/builtin"
	"github.com/ajitpratap0/gridetl/pkg/component"
	"github.com/ajitpratap0/gridetl/pkg/config"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/logger"
	"github.com/ajitpratap0/gridetl/pkg/metrics"
	"github.com/ajitpratap0/gridetl/pkg/observability"
	"github.com/ajitpratap0/gridetl/pkg/pipeline"
)

var version = "0.1.0"

// Settings are the global options. Each one can be given as a flag or as a
// GRIDETL_* environment variable, e.g. GRIDETL_LOG_LEVEL.
type Settings struct {
	Config      string `mapstructure:"config"`
	Dataset     string `mapstructure:"dataset"`
	LogLevel    string `mapstructure:"log-level"`
	LogFormat   string `mapstructure:"log-format"`
	Trace       string `mapstructure:"trace"`
	MetricsFile string `mapstructure:"metrics-file"`
}

// app carries the state shared by all commands of one invocation.
type app struct {
	settings Settings
	registry *component.Registry
	shutdown observability.ShutdownFunc
	stderr   io.Writer
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if ferr := a.finish(ctx); err == nil {
		err = ferr
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "gridetl",
		Short: "gridetl - incremental ETL of gridded climate datasets",
		Long: `gridetl fetches time-indexed array files from remote archives, combines
them into one dataset and publishes immutable versions of it to a
content-addressed store.

Datasets are declared in datasets.yaml, found in the working directory,
one of its parents, or their etc/ subdirectory.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to the dataset catalog (default: search for datasets.yaml)")
	flags.StringP("dataset", "d", "", "Dataset to operate on (required when the catalog has several)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "json", "Log encoding (json, console)")
	flags.String("trace", observability.ExporterNone, "Trace exporter (none, stdout)")
	flags.String("metrics-file", "", "Write Prometheus metrics to this textfile when the command ends")

	root.AddCommand(
		a.initCommand(),
		a.appendCommand(),
		a.replaceCommand(),
		a.showCommand(),
		a.datasetsCommand(),
		a.listCommand(),
		versionCommand(),
	)
	return root
}

// setup resolves settings and initialises logging, tracing and the
// component registry.
func (a *app) setup(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix("GRIDETL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to bind flags")
	}
	if err := v.Unmarshal(&a.settings); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to read settings")
	}

	if err := logger.Init(logger.Config{Level: a.settings.LogLevel, Encoding: a.settings.LogFormat}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize logger")
	}

	tracing := observability.DefaultConfig()
	tracing.ServiceVersion = version
	tracing.Exporter = a.settings.Trace
	tracing.Output = a.stderr
	shutdown, err := observability.InitTracing(tracing)
	if err != nil {
		return err
	}
	a.shutdown = shutdown

	registry, err := builtin.NewRegistry()
	if err != nil {
		return err
	}
	a.registry = registry
	return nil
}

// finish flushes traces, metrics and logs. It runs even when the command
// failed.
func (a *app) finish(ctx context.Context) error {
	var result error
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			result = err
		}
	}
	if a.settings.MetricsFile != "" {
		if err := metrics.WriteTextfile(a.settings.MetricsFile); err != nil && result == nil {
			result = err
		}
	}
	_ = logger.Sync()
	return result
}

// catalog loads the dataset catalog named by --config or found by search.
func (a *app) catalog() (*pipeline.Catalog, error) {
	path := a.settings.Config
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to determine working directory")
		}
		if path, err = config.Find(afero.NewOsFs(), wd); err != nil {
			return nil, err
		}
	}
	logger.Get().Debug("using catalog", zap.String("path", path))
	return pipeline.LoadCatalogFile(path)
}

// buildPipeline builds the pipeline selected by --dataset.
func (a *app) buildPipeline() (*pipeline.Pipeline, error) {
	catalog, err := a.catalog()
	if err != nil {
		return nil, err
	}
	name := a.settings.Dataset
	if name == "" {
		var ok bool
		if name, ok = catalog.Default(); !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"--dataset is required; the catalog defines %s", strings.Join(catalog.Names(), ", "))
		}
	}
	return catalog.Build(a.registry, name)
}

// withDriver runs fn against the selected dataset and closes the pipeline
// afterwards.
func (a *app) withDriver(cmd *cobra.Command, fn func(d *driver.Driver) error) error {
	p, err := a.buildPipeline()
	if err != nil {
		return err
	}
	d, err := driver.New(driver.Options{Pipeline: p, Out: cmd.OutOrStdout()})
	if err != nil {
		_ = p.Close()
		return err
	}
	err = fn(d)
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	return err
}
