package pipeline

import (
	"context"
	"time"

	"github.com/signalsfoundry/mosaicfit/internal/logging"
	"github.com/signalsfoundry/mosaicfit/internal/observability"
)

// Stage names, used for spans, metrics and logs.
const (
	StageReference  = "reference"
	StageCatalogs   = "catalogs"
	StageProject    = "project"
	StageLinear     = "linear"
	StageAssemble   = "assemble"
	StageDistortion = "distortion"
	StageRefine     = "refine"
	StageResiduals  = "residuals"
	StageWrite      = "write"
)

// runStage executes fn inside a span and records its duration.
func runStage(ctx context.Context, name string, log logging.Logger, metrics *observability.PipelineCollector, fn func(context.Context) error) error {
	ctx, span := observability.StartStage(ctx, name)
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	metrics.ObserveStage(name, elapsed)
	observability.EndStage(span, err, Classify(err).String())

	if err != nil {
		return err
	}
	log.Debug(ctx, "stage done", logging.String("stage", name), logging.Duration("elapsed", elapsed))
	return nil
}
