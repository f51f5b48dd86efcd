package core

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/mosaicfit/model"
)

// Column layout of the distortion design matrix.
const (
	distConst = iota
	distEta
	distNu
	distEtaSq
	distCross
	distNuSq
	distTerms
)

var distortionBasis = Basis[model.GlobalCoord]{
	distConst: {Name: "1", Eval: func(g model.GlobalCoord) float64 { return 1 }},
	distEta:   {Name: "etalin", Eval: func(g model.GlobalCoord) float64 { return g.EtaLin }},
	distNu:    {Name: "nulin", Eval: func(g model.GlobalCoord) float64 { return g.NuLin }},
	distEtaSq: {Name: "etalin^2", Eval: func(g model.GlobalCoord) float64 { return g.EtaLin * g.EtaLin }},
	distCross: {Name: "etalin*nulin", Eval: func(g model.GlobalCoord) float64 { return g.EtaLin * g.NuLin }},
	distNuSq:  {Name: "nulin^2", Eval: func(g model.GlobalCoord) float64 { return g.NuLin * g.NuLin }},
}

// DistortionReport summarises a distortion fit.
type DistortionReport struct {
	Eta ResidualStats
	Nu  ResidualStats
}

// FitDistortion regresses the true projected coordinates on a second-order
// polynomial in the linearized coordinates, pooling every quadrant. The
// coefficients are returned in TPV order, with the second axis using nuLin as
// its own variable.
func FitDistortion(global []model.GlobalCoord, targets []model.Projected) (model.Distortion, *DistortionReport, error) {
	if len(global) != len(targets) {
		return model.Distortion{}, nil, fmt.Errorf("%w: %d coordinates, %d targets", ErrLengthMismatch, len(global), len(targets))
	}

	y := mat.NewDense(len(targets), 2, nil)
	for i, p := range targets {
		y.Set(i, 0, p.Eta)
		y.Set(i, 1, p.Nu)
	}
	fit, err := FitLeastSquares(distortionBasis, global, y)
	if err != nil {
		return model.Distortion{}, nil, fmt.Errorf("distortion fit: %w", err)
	}

	var d model.Distortion
	d.PV1[model.TermConst] = fit.Coefficient(distConst, 0)
	d.PV1[model.TermOwn] = fit.Coefficient(distEta, 0)
	d.PV1[model.TermOther] = fit.Coefficient(distNu, 0)
	d.PV1[model.TermOwnSq] = fit.Coefficient(distEtaSq, 0)
	d.PV1[model.TermCross] = fit.Coefficient(distCross, 0)
	d.PV1[model.TermOtherSq] = fit.Coefficient(distNuSq, 0)

	// TPV orders every PV2 term with nu as the own axis, so the linear terms
	// swap along with the quadratic ones.
	d.PV2[model.TermConst] = fit.Coefficient(distConst, 1)
	d.PV2[model.TermOwn] = fit.Coefficient(distNu, 1)
	d.PV2[model.TermOther] = fit.Coefficient(distEta, 1)
	d.PV2[model.TermOwnSq] = fit.Coefficient(distNuSq, 1)
	d.PV2[model.TermCross] = fit.Coefficient(distCross, 1)
	d.PV2[model.TermOtherSq] = fit.Coefficient(distEtaSq, 1)

	report := &DistortionReport{
		Eta: residualStats(fit.ResidualColumn(0)),
		Nu:  residualStats(fit.ResidualColumn(1)),
	}
	return d, report, nil
}

// EvalDistortion applies the TPV polynomial to linearized coordinates.
func EvalDistortion(d model.Distortion, etaLin, nuLin float64) (eta, nu float64) {
	return evalAxis(&d.PV1, etaLin, nuLin), evalAxis(&d.PV2, nuLin, etaLin)
}

func evalAxis(pv *[model.NumTPVTerms]float64, own, other float64) float64 {
	v := pv[model.TermConst] +
		pv[model.TermOwn]*own +
		pv[model.TermOther]*other +
		pv[model.TermOwnSq]*own*own +
		pv[model.TermCross]*own*other +
		pv[model.TermOtherSq]*other*other
	if pv[model.TermRadial] != 0 {
		v += pv[model.TermRadial] * math.Hypot(own, other)
	}
	return v
}

// tpvGauge returns d with its constant and linear terms reset to the identity,
// keeping the quadratic terms.
func tpvGauge(d model.Distortion) model.Distortion {
	g := model.IdentityDistortion()
	for _, term := range []int{model.TermOwnSq, model.TermCross, model.TermOtherSq} {
		g.PV1[term] = d.PV1[term]
		g.PV2[term] = d.PV2[term]
	}
	return g
}

// ErrNoConvergence is returned when an iterative inversion does not settle.
var ErrNoConvergence = errors.New("iteration did not converge")

const (
	invertMaxIterations = 50
	invertTolerance     = 1e-15
)

// InvertDistortion finds the linearized coordinates that d maps onto
// (eta, nu), by Newton iteration started at (eta, nu).
func InvertDistortion(d model.Distortion, eta, nu float64) (etaLin, nuLin float64, err error) {
	etaLin, nuLin = eta, nu
	for i := 0; i < invertMaxIterations; i++ {
		fe, fn := EvalDistortion(d, etaLin, nuLin)
		re, rn := fe-eta, fn-nu

		j11, j12 := axisGradient(&d.PV1, etaLin, nuLin)
		j22, j21 := axisGradient(&d.PV2, nuLin, etaLin)
		det := j11*j22 - j12*j21
		if det == 0 || math.IsNaN(det) {
			return 0, 0, fmt.Errorf("%w: singular distortion jacobian at (%g, %g)", ErrDegenerateFit, etaLin, nuLin)
		}
		de := (j22*re - j12*rn) / det
		dn := (-j21*re + j11*rn) / det
		etaLin -= de
		nuLin -= dn
		if math.Abs(de) <= invertTolerance*math.Max(1, math.Abs(etaLin)) &&
			math.Abs(dn) <= invertTolerance*math.Max(1, math.Abs(nuLin)) {
			return etaLin, nuLin, nil
		}
	}
	return 0, 0, fmt.Errorf("invert distortion at (%g, %g): %w", eta, nu, ErrNoConvergence)
}

// axisGradient returns the partial derivatives of one TPV axis with respect
// to its own and other variables.
func axisGradient(pv *[model.NumTPVTerms]float64, own, other float64) (dOwn, dOther float64) {
	dOwn = pv[model.TermOwn] + 2*pv[model.TermOwnSq]*own + pv[model.TermCross]*other
	dOther = pv[model.TermOther] + pv[model.TermCross]*own + 2*pv[model.TermOtherSq]*other
	if pv[model.TermRadial] != 0 {
		if r := math.Hypot(own, other); r > 0 {
			dOwn += pv[model.TermRadial] * own / r
			dOther += pv[model.TermRadial] * other / r
		}
	}
	return dOwn, dOther
}
