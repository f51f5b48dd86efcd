package pipeline

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/signalsfoundry/mosaicfit/core"
	"github.com/signalsfoundry/mosaicfit/internal/logging"
	"github.com/signalsfoundry/mosaicfit/internal/observability"
	"github.com/signalsfoundry/mosaicfit/kb"
	"github.com/signalsfoundry/mosaicfit/model"
)

// FitOptions configure Fit.
type FitOptions struct {
	// Quadrants is the set every observation must belong to and every
	// quadrant of which must be solved. Nil means all quadrants.
	Quadrants []model.QuadrantID
	Refine    core.RefineOptions
	Log       logging.Logger
	Metrics   *observability.PipelineCollector
}

// Solution is a fitted astrometric model of the whole mosaic.
type Solution struct {
	Reference  model.Reference
	Table      *kb.AffineTable
	Distortion model.Distortion

	Linear        *core.LinearReport
	DistortionFit *core.DistortionReport
	// Refine is nil when refinement is disabled.
	Refine *core.RefineReport

	// SkyRMSArcsec is the RMS distance between catalog positions and the
	// positions predicted by the solution.
	SkyRMSArcsec float64
	SkyMaxArcsec float64
}

// WCS returns the complete mapping of quadrant q.
func (s *Solution) WCS(q model.QuadrantID) (core.WCS, error) {
	a, err := s.Table.Get(q)
	if err != nil {
		return core.WCS{}, err
	}
	return core.WCS{Projector: core.NewProjector(s.Reference.Sky), Affine: a, Distortion: s.Distortion}, nil
}

// Fit runs projection, the per-quadrant linear fit, assembly, the distortion
// fit and, unless disabled, the joint refinement on in-memory observations.
func Fit(ctx context.Context, obs []model.Observation, ref model.Reference, opts FitOptions) (*Solution, error) {
	log := opts.Log
	if log == nil {
		log = logging.Noop()
	}
	quadrants := opts.Quadrants
	if quadrants == nil {
		quadrants = model.AllQuadrants()
	}
	m := opts.Metrics
	sol := &Solution{Reference: ref}

	proj := core.NewProjector(ref.Sky)
	var targets []model.Projected
	err := runStage(ctx, StageProject, log, m, func(context.Context) error {
		var err error
		targets, err = proj.ProjectAll(obs)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}

	var linear *kb.AffineTable
	err = runStage(ctx, StageLinear, log, m, func(ctx context.Context) error {
		var err error
		linear, sol.Linear, err = core.FitLinear(obs, targets, quadrants)
		return err
	})
	if err != nil {
		return nil, err
	}
	recordResiduals(ctx, log, m, StageLinear, sol.Linear.Eta, sol.Linear.Nu)
	for _, qs := range sol.Linear.Quadrants {
		if qs.Outliers > 0 {
			log.Warn(ctx, "outliers flagged",
				logging.String("quadrant", qs.Quadrant.String()),
				logging.Int("outliers", qs.Outliers),
				logging.Int("stars", qs.Stars),
			)
		}
	}

	var global []model.GlobalCoord
	err = runStage(ctx, StageAssemble, log, m, func(context.Context) error {
		var err error
		global, err = core.Assemble(obs, linear)
		return err
	})
	if err != nil {
		return nil, err
	}

	var dist model.Distortion
	err = runStage(ctx, StageDistortion, log, m, func(context.Context) error {
		var err error
		dist, sol.DistortionFit, err = core.FitDistortion(global, targets)
		return err
	})
	if err != nil {
		return nil, err
	}
	recordResiduals(ctx, log, m, StageDistortion, sol.DistortionFit.Eta, sol.DistortionFit.Nu)
	sol.Table, sol.Distortion = linear, dist

	if opts.Refine.MaxIterations > 0 {
		err = runStage(ctx, StageRefine, log, m, func(context.Context) error {
			table, d, report, err := core.Refine(obs, targets, linear, dist, opts.Refine)
			if err != nil {
				return err
			}
			sol.Table, sol.Distortion, sol.Refine = table, d, report
			return nil
		})
		if err != nil {
			return nil, err
		}
		recordResiduals(ctx, log, m, StageRefine, sol.Refine.Eta, sol.Refine.Nu)
		m.SetRefineSteps(sol.Refine.Iterations)
		if !sol.Refine.Converged {
			log.Warn(ctx, "refinement did not converge",
				logging.Int("iterations", sol.Refine.Iterations),
				logging.Float("tolerance", opts.Refine.Tolerance),
			)
		}
	}

	err = runStage(ctx, StageResiduals, log, m, func(context.Context) error {
		var err error
		sol.SkyRMSArcsec, sol.SkyMaxArcsec, err = skyResiduals(sol, obs)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "fit complete",
		logging.Int("stars", len(obs)),
		logging.Int("quadrants", len(quadrants)),
		logging.Float("sky_rms_arcsec", sol.SkyRMSArcsec),
		logging.Float("sky_max_arcsec", sol.SkyMaxArcsec),
	)
	return sol, nil
}

// skyResiduals compares every catalog position with the solution's
// prediction from its pixel position.
func skyResiduals(sol *Solution, obs []model.Observation) (rms, maxSep float64, err error) {
	if len(obs) == 0 {
		return 0, 0, nil
	}
	wcs := make(map[model.QuadrantID]core.WCS)
	sep := make([]float64, len(obs))
	for i, o := range obs {
		w, ok := wcs[o.Quadrant]
		if !ok {
			if w, err = sol.WCS(o.Quadrant); err != nil {
				return 0, 0, err
			}
			wcs[o.Quadrant] = w
		}
		ra, dec := w.PixelToSky(o.XLocal, o.YLocal)
		sep[i] = core.SeparationArcsec(o.RA, o.Dec, ra, dec)
	}
	return math.Sqrt(floats.Dot(sep, sep) / float64(len(sep))), floats.Max(sep), nil
}

func recordResiduals(ctx context.Context, log logging.Logger, m *observability.PipelineCollector, stage string, eta, nu core.ResidualStats) {
	m.SetResiduals(stage, "eta", eta.RMS, eta.Outliers)
	m.SetResiduals(stage, "nu", nu.RMS, nu.Outliers)
	log.Debug(ctx, "residuals",
		logging.String("stage", stage),
		logging.Float("eta_rms", eta.RMS),
		logging.Float("nu_rms", nu.RMS),
		logging.Int("eta_outliers", eta.Outliers),
		logging.Int("nu_outliers", nu.Outliers),
	)
}
