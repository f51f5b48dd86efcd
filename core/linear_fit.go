package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/mosaicfit/kb"
	"github.com/signalsfoundry/mosaicfit/model"
)

// MinRelativeDeterminant is the smallest accepted |det CD| relative to
// |cd11·cd22| + |cd12·cd21|.
const MinRelativeDeterminant = 1e-10

// minStarsPerQuadrant is the number of stars needed to determine an affine map.
const minStarsPerQuadrant = 3

// Per-quadrant column layout of the linear design matrix.
const (
	linTermX = iota
	linTermY
	linTermOffset
	linTermsPerQuadrant
)

// LinearReport summarises a linear fit.
type LinearReport struct {
	Eta       ResidualStats
	Nu        ResidualStats
	Quadrants []QuadrantStats
}

// QuadrantStats describes the residuals of one quadrant in a fit.
type QuadrantStats struct {
	Quadrant model.QuadrantID
	Stars    int
	RMS      float64
	Outliers int
}

// linearBasis returns x[q], y[q], 1[q] for every quadrant q, in order. Each
// term is zero for observations on other quadrants, so every quadrant gets an
// independent 2x2 block and offset while all quadrants share one solve.
func linearBasis(quadrants []model.QuadrantID) Basis[model.Observation] {
	basis := make(Basis[model.Observation], 0, len(quadrants)*linTermsPerQuadrant)
	for _, q := range quadrants {
		q := q
		basis = append(basis,
			Term[model.Observation]{
				Name: fmt.Sprintf("x[%d]", int(q)),
				Eval: func(o model.Observation) float64 {
					if o.Quadrant != q {
						return 0
					}
					return o.XLocal
				},
			},
			Term[model.Observation]{
				Name: fmt.Sprintf("y[%d]", int(q)),
				Eval: func(o model.Observation) float64 {
					if o.Quadrant != q {
						return 0
					}
					return o.YLocal
				},
			},
			Term[model.Observation]{
				Name: fmt.Sprintf("1[%d]", int(q)),
				Eval: func(o model.Observation) float64 {
					if o.Quadrant != q {
						return 0
					}
					return 1
				},
			},
		)
	}
	return basis
}

// FitLinear estimates an affine model per quadrant by regressing the target
// tangent-plane coordinates on local pixel coordinates, solving all quadrants
// in one least squares problem. Every quadrant in quadrants must be
// represented by at least three non-collinear stars.
func FitLinear(obs []model.Observation, targets []model.Projected, quadrants []model.QuadrantID) (*kb.AffineTable, *LinearReport, error) {
	if len(obs) != len(targets) {
		return nil, nil, fmt.Errorf("%w: %d observations, %d targets", ErrLengthMismatch, len(obs), len(targets))
	}
	if err := checkQuadrantCoverage(obs, quadrants); err != nil {
		return nil, nil, err
	}

	y := mat.NewDense(len(obs), 2, nil)
	for i, p := range targets {
		y.Set(i, 0, p.Eta)
		y.Set(i, 1, p.Nu)
	}

	fit, err := FitLeastSquares(linearBasis(quadrants), obs, y)
	if err != nil {
		return nil, nil, fmt.Errorf("linear fit: %w", err)
	}

	builder := kb.NewTableBuilder(quadrants)
	for k, q := range quadrants {
		base := k * linTermsPerQuadrant
		m, err := affineFromCoefficients(
			fit.Coefficient(base+linTermX, 0), fit.Coefficient(base+linTermY, 0), fit.Coefficient(base+linTermOffset, 0),
			fit.Coefficient(base+linTermX, 1), fit.Coefficient(base+linTermY, 1), fit.Coefficient(base+linTermOffset, 1),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("linear fit %s: %w", q, err)
		}
		if err := builder.Set(q, m); err != nil {
			return nil, nil, err
		}
	}
	table, err := builder.Build()
	if err != nil {
		return nil, nil, err
	}

	etaRes, nuRes := fit.ResidualColumn(0), fit.ResidualColumn(1)
	report := &LinearReport{
		Eta:       residualStats(etaRes),
		Nu:        residualStats(nuRes),
		Quadrants: quadrantStats(obs, quadrants, etaRes, nuRes),
	}
	return table, report, nil
}

// affineFromCoefficients turns the regression
//
//	eta = ex·x + ey·y + e0
//	nu  = nx·x + ny·y + n0
//
// into CD and the pixel where both projected coordinates vanish.
func affineFromCoefficients(ex, ey, e0, nx, ny, n0 float64) (model.AffineModel, error) {
	m := model.AffineModel{CD11: ex, CD12: ey, CD21: nx, CD22: ny}

	scale := math.Abs(ex*ny) + math.Abs(ey*nx)
	det := m.Det()
	if scale == 0 || math.IsNaN(det) || math.Abs(det) <= MinRelativeDeterminant*scale {
		return model.AffineModel{}, fmt.Errorf("%w: singular CD matrix (det %.3g)", ErrDegenerateFit, det)
	}

	cd := mat.NewDense(2, 2, []float64{ex, ey, nx, ny})
	var inv mat.Dense
	if err := inv.Inverse(cd); err != nil {
		return model.AffineModel{}, fmt.Errorf("%w: inverting CD: %v", ErrDegenerateFit, err)
	}
	var crpix mat.VecDense
	crpix.MulVec(&inv, mat.NewVecDense(2, []float64{-e0, -n0}))

	m.CRPix1 = crpix.AtVec(0)
	m.CRPix2 = crpix.AtVec(1)
	return m, nil
}

// offsetsFromAffine is the inverse of affineFromCoefficients for the offset
// terms: eta0 = -(CD · CRPIX).
func offsetsFromAffine(m model.AffineModel) (e0, n0 float64) {
	return -(m.CD11*m.CRPix1 + m.CD12*m.CRPix2), -(m.CD21*m.CRPix1 + m.CD22*m.CRPix2)
}

// checkQuadrantCoverage verifies every observation belongs to the fit set and
// every quadrant in the set has enough non-collinear stars.
func checkQuadrantCoverage(obs []model.Observation, quadrants []model.QuadrantID) error {
	type moments struct {
		n                     int
		sx, sy, sxx, syy, sxy float64
	}
	acc := make(map[model.QuadrantID]*moments, len(quadrants))
	for _, q := range quadrants {
		if _, dup := acc[q]; dup {
			return fmt.Errorf("%w: %s listed twice", kb.ErrQuadrantExists, q)
		}
		acc[q] = &moments{}
	}
	for i, o := range obs {
		m, ok := acc[o.Quadrant]
		if !ok {
			return fmt.Errorf("%w: observation %d on %s outside the fit set", kb.ErrInvalidQuadrant, i, o.Quadrant)
		}
		m.n++
		m.sx += o.XLocal
		m.sy += o.YLocal
		m.sxx += o.XLocal * o.XLocal
		m.syy += o.YLocal * o.YLocal
		m.sxy += o.XLocal * o.YLocal
	}

	for _, q := range quadrants {
		m := acc[q]
		if m.n < minStarsPerQuadrant {
			return fmt.Errorf("%w: %s has %d stars, need at least %d", ErrDegenerateFit, q, m.n, minStarsPerQuadrant)
		}
		n := float64(m.n)
		cxx := m.sxx - m.sx*m.sx/n
		cyy := m.syy - m.sy*m.sy/n
		cxy := m.sxy - m.sx*m.sy/n
		if cxx <= 0 || cyy <= 0 || cxx*cyy-cxy*cxy <= 1e-12*cxx*cyy {
			return fmt.Errorf("%w: %s stars are collinear", ErrDegenerateFit, q)
		}
	}
	return nil
}
