package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/mosaicfit/kb"
	"github.com/signalsfoundry/mosaicfit/model"
)

// RefineOptions control the joint affine + distortion refinement.
type RefineOptions struct {
	// MaxIterations bounds the accepted Gauss-Newton steps. Zero disables
	// refinement.
	MaxIterations int
	// Tolerance is the convergence threshold on the Jacobi-scaled step.
	Tolerance float64
}

// DefaultRefineOptions returns the options used when none are configured.
func DefaultRefineOptions() RefineOptions {
	return RefineOptions{MaxIterations: 25, Tolerance: 1e-12}
}

// RefineReport describes how the refinement went.
type RefineReport struct {
	Iterations int
	Converged  bool
	Eta        ResidualStats
	Nu         ResidualStats
}

// Parameter layout: six affine parameters per quadrant followed by the six
// quadratic TPV terms.
const (
	parA11 = iota
	parA12
	parB1
	parA21
	parA22
	parB2
	parsPerQuadrant
)

const (
	parQ14 = iota
	parQ15
	parQ16
	parQ24
	parQ25
	parQ26
	parsDistortion
)

const (
	lmInitialDamping = 1e-8
	lmMinDamping     = 1e-15
	lmMaxDamping     = 1e10
)

// refineProblem is the joint model
//
//	eta = P(A_q · (x, y, 1))
//
// over all quadrants, with P in the TPV gauge (identity linear part, no
// constant) so that the quadrant affines and the distortion are separable.
type refineProblem struct {
	obs     []model.Observation
	targets []model.Projected
	slot    []int // quadrant slot of each observation
	nq      int
}

func (p *refineProblem) numParams() int { return p.nq*parsPerQuadrant + parsDistortion }

// predict evaluates the model and its partial derivatives with respect to the
// intermediate coordinates for one observation.
func (p *refineProblem) predict(theta []float64, i int) (u1, u2, m1, m2, d11, d12, d21, d22 float64) {
	o := p.obs[i]
	a := theta[p.slot[i]*parsPerQuadrant:]
	q := theta[p.nq*parsPerQuadrant:]

	u1 = a[parA11]*o.XLocal + a[parA12]*o.YLocal + a[parB1]
	u2 = a[parA21]*o.XLocal + a[parA22]*o.YLocal + a[parB2]

	m1 = u1 + q[parQ14]*u1*u1 + q[parQ15]*u1*u2 + q[parQ16]*u2*u2
	m2 = u2 + q[parQ24]*u2*u2 + q[parQ25]*u1*u2 + q[parQ26]*u1*u1

	d11 = 1 + 2*q[parQ14]*u1 + q[parQ15]*u2
	d12 = q[parQ15]*u1 + 2*q[parQ16]*u2
	d21 = q[parQ25]*u2 + 2*q[parQ26]*u1
	d22 = 1 + 2*q[parQ24]*u2 + q[parQ25]*u1
	return
}

func (p *refineProblem) cost(theta []float64) float64 {
	var c float64
	for i := range p.obs {
		_, _, m1, m2, _, _, _, _ := p.predict(theta, i)
		r1 := p.targets[i].Eta - m1
		r2 := p.targets[i].Nu - m2
		c += r1*r1 + r2*r2
	}
	return c
}

func (p *refineProblem) residuals(theta []float64) (eta, nu []float64) {
	eta = make([]float64, len(p.obs))
	nu = make([]float64, len(p.obs))
	for i := range p.obs {
		_, _, m1, m2, _, _, _, _ := p.predict(theta, i)
		eta[i] = p.targets[i].Eta - m1
		nu[i] = p.targets[i].Nu - m2
	}
	return eta, nu
}

// normalEquations accumulates JᵀJ and Jᵀr. Each residual row touches only
// its quadrant's six parameters and three distortion terms.
func (p *refineProblem) normalEquations(theta []float64) (h []float64, g []float64) {
	n := p.numParams()
	h = make([]float64, n*n)
	g = make([]float64, n)

	var idx [9]int
	var jac [9]float64
	accumulate := func(r float64) {
		for a := 0; a < len(idx); a++ {
			ia := idx[a]
			g[ia] += jac[a] * r
			row := h[ia*n:]
			for b := 0; b < len(idx); b++ {
				row[idx[b]] += jac[a] * jac[b]
			}
		}
	}

	qBase := p.nq * parsPerQuadrant
	for i, o := range p.obs {
		u1, u2, m1, m2, d11, d12, d21, d22 := p.predict(theta, i)
		aBase := p.slot[i] * parsPerQuadrant
		for k := 0; k < parsPerQuadrant; k++ {
			idx[k] = aBase + k
		}
		x, y := o.XLocal, o.YLocal

		// eta row
		jac[parA11], jac[parA12], jac[parB1] = d11*x, d11*y, d11
		jac[parA21], jac[parA22], jac[parB2] = d12*x, d12*y, d12
		idx[6], idx[7], idx[8] = qBase+parQ14, qBase+parQ15, qBase+parQ16
		jac[6], jac[7], jac[8] = u1*u1, u1*u2, u2*u2
		accumulate(p.targets[i].Eta - m1)

		// nu row
		jac[parA11], jac[parA12], jac[parB1] = d21*x, d21*y, d21
		jac[parA21], jac[parA22], jac[parB2] = d22*x, d22*y, d22
		idx[6], idx[7], idx[8] = qBase+parQ24, qBase+parQ25, qBase+parQ26
		jac[6], jac[7], jac[8] = u2*u2, u1*u2, u1*u1
		accumulate(p.targets[i].Nu - m2)
	}
	return h, g
}

// solveDamped solves (S·H·S + λI)·z = S·g with S = diag(H)^-1/2 and returns
// the unscaled step S·z together with max|z|.
func solveDamped(h, g []float64, lambda float64) (step []float64, scaledMax float64, ok bool) {
	n := len(g)
	s := make([]float64, n)
	for i := 0; i < n; i++ {
		d := h[i*n+i]
		if d <= 0 {
			return nil, 0, false
		}
		s[i] = 1 / math.Sqrt(d)
	}

	sym := mat.NewSymDense(n, nil)
	rhs := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := s[i] * h[i*n+j] * s[j]
			if i == j {
				v += lambda
			}
			sym.SetSym(i, j, v)
		}
		rhs.SetVec(i, s[i]*g[i])
	}

	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil, 0, false
	}
	var z mat.VecDense
	if err := chol.SolveVecTo(&z, rhs); err != nil {
		return nil, 0, false
	}

	step = make([]float64, n)
	for i := 0; i < n; i++ {
		zi := z.AtVec(i)
		step[i] = s[i] * zi
		scaledMax = math.Max(scaledMax, math.Abs(zi))
	}
	return step, scaledMax, true
}

// Refine solves the per-quadrant affine models and the quadratic distortion
// jointly, starting from a linear table and a distortion estimate. The
// returned distortion is in the TPV gauge: PV*_0 = 0, PV*_1 = 1, PV*_2 = 0.
//
// The staged fits cannot separate the two by themselves because every
// quadrant's linear fit absorbs the local gradient of the distortion.
func Refine(obs []model.Observation, targets []model.Projected, table *kb.AffineTable, initial model.Distortion, opts RefineOptions) (*kb.AffineTable, model.Distortion, *RefineReport, error) {
	if len(obs) != len(targets) {
		return nil, model.Distortion{}, nil, fmt.Errorf("%w: %d observations, %d targets", ErrLengthMismatch, len(obs), len(targets))
	}
	if table == nil {
		return nil, model.Distortion{}, nil, fmt.Errorf("refine: %w", kb.ErrIncompleteTable)
	}

	quadrants := table.Quadrants()
	slots := make(map[model.QuadrantID]int, len(quadrants))
	for k, q := range quadrants {
		slots[q] = k
	}
	prob := &refineProblem{
		obs:     obs,
		targets: targets,
		slot:    make([]int, len(obs)),
		nq:      len(quadrants),
	}
	for i, o := range obs {
		k, ok := slots[o.Quadrant]
		if !ok {
			return nil, model.Distortion{}, nil, fmt.Errorf("refine observation %d: %w: %s", i, kb.ErrQuadrantNotFound, o.Quadrant)
		}
		prob.slot[i] = k
	}

	theta := make([]float64, prob.numParams())
	for k, q := range quadrants {
		m, err := table.Get(q)
		if err != nil {
			return nil, model.Distortion{}, nil, err
		}
		e0, n0 := offsetsFromAffine(m)
		a := theta[k*parsPerQuadrant:]
		a[parA11], a[parA12], a[parB1] = m.CD11, m.CD12, e0
		a[parA21], a[parA22], a[parB2] = m.CD21, m.CD22, n0
	}
	start := tpvGauge(initial)
	qt := theta[prob.nq*parsPerQuadrant:]
	qt[parQ14], qt[parQ15], qt[parQ16] = start.PV1[model.TermOwnSq], start.PV1[model.TermCross], start.PV1[model.TermOtherSq]
	qt[parQ24], qt[parQ25], qt[parQ26] = start.PV2[model.TermOwnSq], start.PV2[model.TermCross], start.PV2[model.TermOtherSq]

	report := &RefineReport{}
	cost := prob.cost(theta)
	lambda := lmInitialDamping

	for report.Iterations < opts.MaxIterations {
		h, g := prob.normalEquations(theta)

		accepted, solved := false, false
		var scaledMax float64
		for lambda <= lmMaxDamping {
			step, sm, ok := solveDamped(h, g, lambda)
			if !ok {
				lambda *= 10
				continue
			}
			solved = true
			trial := make([]float64, len(theta))
			for i := range theta {
				trial[i] = theta[i] + step[i]
			}
			if c := prob.cost(trial); c <= cost {
				theta, cost, scaledMax = trial, c, sm
				lambda = math.Max(lambda/10, lmMinDamping)
				accepted = true
				break
			}
			lambda *= 10
		}
		if !solved {
			return nil, model.Distortion{}, nil, fmt.Errorf("%w: refinement normal equations are not positive definite", ErrDegenerateFit)
		}
		if !accepted {
			// No step decreases the cost: at the optimum to machine precision.
			report.Converged = true
			break
		}
		report.Iterations++
		if scaledMax < opts.Tolerance {
			report.Converged = true
			break
		}
	}

	builder := kb.NewTableBuilder(quadrants)
	for k, q := range quadrants {
		a := theta[k*parsPerQuadrant:]
		m, err := affineFromCoefficients(a[parA11], a[parA12], a[parB1], a[parA21], a[parA22], a[parB2])
		if err != nil {
			return nil, model.Distortion{}, nil, fmt.Errorf("refine %s: %w", q, err)
		}
		if err := builder.Set(q, m); err != nil {
			return nil, model.Distortion{}, nil, err
		}
	}
	refined, err := builder.Build()
	if err != nil {
		return nil, model.Distortion{}, nil, err
	}

	qf := theta[prob.nq*parsPerQuadrant:]
	dist := model.IdentityDistortion()
	dist.PV1[model.TermOwnSq], dist.PV1[model.TermCross], dist.PV1[model.TermOtherSq] = qf[parQ14], qf[parQ15], qf[parQ16]
	dist.PV2[model.TermOwnSq], dist.PV2[model.TermCross], dist.PV2[model.TermOtherSq] = qf[parQ24], qf[parQ25], qf[parQ26]

	etaRes, nuRes := prob.residuals(theta)
	report.Eta = residualStats(etaRes)
	report.Nu = residualStats(nuRes)
	return refined, dist, report, nil
}
