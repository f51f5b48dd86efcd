package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/mosaicfit/internal/config"
	"github.com/signalsfoundry/mosaicfit/internal/logging"
	"github.com/signalsfoundry/mosaicfit/internal/observability"
	"github.com/signalsfoundry/mosaicfit/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type fitFlags struct {
	configPath       string
	catalogURL       string
	referenceURL     string
	outputDir        string
	outputQuadrant   int
	allQuadrants     bool
	cacheDir         string
	maxMag           float64
	httpTimeout      time.Duration
	refineIterations int
	metricsTextfile  string
}

func newFitCmd() *cobra.Command {
	var f fitFlags
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit the mosaic and write quadrant headers",
		Long: `Fit loads the reference header and all 64 quadrant catalogs, solves
the per-quadrant linear transforms and the shared TPV distortion, and writes
one rcNN.head file per selected quadrant.

Settings come from the defaults, then the YAML file given by --config, then
any flags set on the command line.

Exit status:
  0  success
  2  a catalog or the reference could not be retrieved
  3  a catalog or the reference was malformed
  4  the fit was degenerate or a quadrant was missing
  5  a header could not be written
  1  anything else`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.resolve(cmd.Flags())
			if err != nil {
				return err
			}
			return runFit(cmd, cfg)
		},
	}

	bindFitFlags(cmd.Flags(), &f)
	return cmd
}

func bindFitFlags(fl *pflag.FlagSet, f *fitFlags) {
	fl.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fl.StringVar(&f.catalogURL, "catalog-url", "", "catalog locator template with {ccd}, {qid} or {rcid}")
	fl.StringVar(&f.referenceURL, "reference-url", "", "reference image header locator")
	fl.StringVar(&f.outputDir, "output-dir", "", "directory receiving the .head files")
	fl.IntVar(&f.outputQuadrant, "output-quadrant", -1, "quadrant (rcid) to write; defaults to the reference RCID")
	fl.BoolVar(&f.allQuadrants, "all-quadrants", false, "write headers for every quadrant")
	fl.StringVar(&f.cacheDir, "cache-dir", "", "on-disk cache for retrieved files")
	fl.Float64Var(&f.maxMag, "max-mag", 0, "drop stars fainter than this magnitude (0 keeps all)")
	fl.DurationVar(&f.httpTimeout, "http-timeout", 0, "timeout per retrieval")
	fl.IntVar(&f.refineIterations, "refine-iterations", 0, "joint refinement iterations (0 disables refinement)")
	fl.StringVar(&f.metricsTextfile, "metrics-textfile", "", "write run metrics to this file in Prometheus text format")
}

// resolve layers the flags the user set over the YAML file and defaults.
func (f *fitFlags) resolve(fs *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return config.Config{}, err
		}
	}

	if fs.Changed("catalog-url") {
		cfg.CatalogURL = f.catalogURL
	}
	if fs.Changed("reference-url") {
		cfg.ReferenceURL = f.referenceURL
	}
	if fs.Changed("output-dir") {
		cfg.OutputDir = f.outputDir
	}
	if fs.Changed("output-quadrant") {
		cfg.OutputQuadrant = f.outputQuadrant
	}
	if fs.Changed("all-quadrants") {
		cfg.WriteAllQuadrants = f.allQuadrants
	}
	if fs.Changed("cache-dir") {
		cfg.CacheDir = f.cacheDir
	}
	if fs.Changed("max-mag") {
		cfg.MaxMag = f.maxMag
	}
	if fs.Changed("http-timeout") {
		cfg.HTTPTimeout = f.httpTimeout
	}
	if fs.Changed("refine-iterations") {
		cfg.Refine.MaxIterations = f.refineIterations
	}
	if fs.Changed("metrics-textfile") {
		cfg.MetricsTextfile = f.metricsTextfile
	}
	return cfg, nil
}

func runFit(cmd *cobra.Command, cfg config.Config) error {
	ctx := cmd.Context()
	log := logging.NewFromEnv()

	tcfg := observability.TracingConfigFromEnv()
	tcfg.ServiceVersion = version
	flush, err := observability.SetupTracing(ctx, tcfg, log)
	if err != nil {
		log.Warn(ctx, "tracing disabled", logging.Err(err))
	}
	defer observability.FlushTracing(flush, 5*time.Second, log)

	collector, err := observability.NewPipelineCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	p := &pipeline.Pipeline{Config: cfg, Log: log, Metrics: collector}
	res, err := p.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, path := range res.Headers {
		fmt.Fprintln(out, path)
	}
	return nil
}
