// Package pipeline runs a complete mosaic astrometry fit: it loads the
// reference header and quadrant catalogs, fits the solution and writes the
// output headers.
package pipeline

import (
	"context"
	"errors"

	"github.com/signalsfoundry/mosaicfit/internal/catalog"
	"github.com/signalsfoundry/mosaicfit/internal/config"
	"github.com/signalsfoundry/mosaicfit/internal/fetch"
	"github.com/signalsfoundry/mosaicfit/internal/logging"
	"github.com/signalsfoundry/mosaicfit/internal/observability"
	"github.com/signalsfoundry/mosaicfit/model"
)

// ErrNoOutputQuadrant is returned when neither the configuration nor the
// reference header names the quadrant to write.
var ErrNoOutputQuadrant = errors.New("no output quadrant: set output_quadrant or provide RCID in the reference header")

// Pipeline wires a configuration to its collaborators.
type Pipeline struct {
	Config config.Config
	// Fetcher overrides the fetcher built from Config.
	Fetcher fetch.Fetcher
	Log     logging.Logger
	Metrics *observability.PipelineCollector
}

// Result describes a finished run.
type Result struct {
	RunID    string
	Solution *Solution
	Headers  []string
}

// NewFetcher builds the retrieval chain for cfg: HTTP and file access, behind
// the on-disk cache when CacheDir is set.
func NewFetcher(cfg config.Config, recorder fetch.CacheRecorder) fetch.Fetcher {
	var f fetch.Fetcher = fetch.NewHTTPFetcher(cfg.HTTPTimeout)
	if cfg.CacheDir != "" {
		f = &fetch.CachingFetcher{Next: f, Cache: fetch.NewFileCache(cfg.CacheDir), Recorder: recorder}
	}
	return f
}

// Run executes the whole pipeline. Any failure aborts the run; the returned
// error can be passed to Classify.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	ctx, log := logging.WithRunLogger(ctx, p.Log)
	res := &Result{RunID: logging.RunIDFromContext(ctx)}

	err := p.run(ctx, log, res)
	failure := Classify(err)
	p.Metrics.ObserveRun(failure.String())
	if path := p.Config.MetricsTextfile; path != "" {
		if werr := p.Metrics.WriteTextfile(path); werr != nil {
			log.Warn(ctx, "metrics textfile not written", logging.String("path", path), logging.Err(werr))
		}
	}
	if err != nil {
		log.Error(ctx, "run failed", logging.String("failure", failure.String()), logging.Err(err))
		return nil, err
	}
	log.Info(ctx, "run complete", logging.Int("headers", len(res.Headers)))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, log logging.Logger, res *Result) error {
	cfg := p.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	fetcher := p.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher(cfg, p.Metrics)
	}

	var ref model.Reference
	err := runStage(ctx, StageReference, log, p.Metrics, func(ctx context.Context) error {
		var err error
		ref, err = catalog.LoadReference(ctx, fetcher, cfg.ReferenceURL)
		return err
	})
	if err != nil {
		return err
	}
	log.Info(ctx, "reference loaded",
		logging.Float("ra", ref.Sky.RA),
		logging.Float("dec", ref.Sky.Dec),
		logging.Bool("has_rcid", ref.HasRCID),
		logging.Bool("has_epoch", ref.HasMJD),
	)

	outputs, err := p.outputQuadrants(ref)
	if err != nil {
		return err
	}

	quadrants := model.AllQuadrants()
	var loadedQuadrants, loadedStars int
	loader := &catalog.Loader{
		Fetcher:  fetcher,
		Template: catalog.Template(cfg.CatalogURL),
		MaxMag:   cfg.MaxMag,
		Log:      log,
		// Gauges advance per quadrant so a failed run still reports progress.
		OnQuadrant: func(_ model.QuadrantID, stars int) {
			loadedQuadrants++
			loadedStars += stars
			p.Metrics.SetLoaded(loadedQuadrants, loadedStars)
		},
	}
	var obs []model.Observation
	err = runStage(ctx, StageCatalogs, log, p.Metrics, func(ctx context.Context) error {
		var err error
		obs, err = loader.Load(ctx, quadrants)
		return err
	})
	if err != nil {
		return err
	}
	log.Info(ctx, "catalogs loaded", logging.Int("quadrants", len(quadrants)), logging.Int("stars", len(obs)))

	sol, err := Fit(ctx, obs, ref, FitOptions{
		Quadrants: quadrants,
		Refine:    cfg.RefineOptions(),
		Log:       log,
		Metrics:   p.Metrics,
	})
	if err != nil {
		return err
	}
	res.Solution = sol

	return runStage(ctx, StageWrite, log, p.Metrics, func(context.Context) error {
		paths, err := WriteHeaders(sol, cfg.Geometry(), cfg.OutputDir, outputs)
		for _, path := range paths {
			p.Metrics.HeaderWritten()
			log.Info(ctx, "header written", logging.String("path", path))
		}
		res.Headers = paths
		return err
	})
}

func (p *Pipeline) outputQuadrants(ref model.Reference) ([]model.QuadrantID, error) {
	switch {
	case p.Config.WriteAllQuadrants:
		return model.AllQuadrants(), nil
	case p.Config.OutputQuadrant >= 0:
		return []model.QuadrantID{model.QuadrantID(p.Config.OutputQuadrant)}, nil
	case ref.HasRCID:
		return []model.QuadrantID{model.QuadrantID(ref.RCID)}, nil
	default:
		return nil, ErrNoOutputQuadrant
	}
}
