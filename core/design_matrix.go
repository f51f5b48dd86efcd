package core

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDegenerateFit covers every way a regression can fail to determine its
	// coefficients: too few or collinear points, rank deficiency, or a
	// singular derived transform.
	ErrDegenerateFit = errors.New("degenerate fit")
	// ErrLengthMismatch is returned when parallel input slices disagree in length.
	ErrLengthMismatch = errors.New("input length mismatch")
)

// Term is one named basis function of a linear model.
type Term[T any] struct {
	Name string
	Eval func(T) float64
}

// Basis is an ordered list of terms. Coefficient i of a fit belongs to term i;
// callers address coefficients by index, never by name.
type Basis[T any] []Term[T]

// Names returns the term names in order.
func (b Basis[T]) Names() []string {
	names := make([]string, len(b))
	for i, t := range b {
		names[i] = t.Name
	}
	return names
}

// DesignMatrix evaluates every term on every sample. Row i corresponds to
// samples[i], column j to b[j].
func (b Basis[T]) DesignMatrix(samples []T) *mat.Dense {
	a := mat.NewDense(len(samples), len(b), nil)
	for i, s := range samples {
		for j, term := range b {
			if v := term.Eval(s); v != 0 {
				a.Set(i, j, v)
			}
		}
	}
	return a
}

// LeastSquaresFit holds the solution of an ordinary least squares problem with
// one or more response columns.
type LeastSquaresFit struct {
	Terms []string
	// Coef is len(Terms) x responses.
	Coef *mat.Dense
	// Residuals is samples x responses, observed minus fitted.
	Residuals *mat.Dense
}

// Coefficient returns the coefficient of term for the given response column.
func (f *LeastSquaresFit) Coefficient(term, response int) float64 {
	return f.Coef.At(term, response)
}

// ResidualColumn copies the residuals of one response column.
func (f *LeastSquaresFit) ResidualColumn(response int) []float64 {
	return mat.Col(nil, response, f.Residuals)
}

// FitLeastSquares solves min ||A·X - Y|| column by column using a QR
// factorisation of the design matrix built from basis and samples.
func FitLeastSquares[T any](basis Basis[T], samples []T, y *mat.Dense) (*LeastSquaresFit, error) {
	rows, cols := len(samples), len(basis)
	if yr, _ := y.Dims(); yr != rows {
		return nil, fmt.Errorf("%w: %d samples, %d responses", ErrLengthMismatch, rows, yr)
	}
	if cols == 0 {
		return nil, fmt.Errorf("%w: empty basis", ErrDegenerateFit)
	}
	if rows < cols {
		return nil, fmt.Errorf("%w: %d samples for %d terms", ErrDegenerateFit, rows, cols)
	}

	a := basis.DesignMatrix(samples)

	var qr mat.QR
	qr.Factorize(a)
	if k := dependentColumn(&qr, a); k >= 0 {
		return nil, fmt.Errorf("%w: term %q is a combination of earlier terms", ErrDegenerateFit, basis[k].Name)
	}

	var coef mat.Dense
	if err := qr.SolveTo(&coef, false, y); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) {
			return nil, fmt.Errorf("%w: rank deficient design matrix (condition %.3g)", ErrDegenerateFit, float64(cond))
		}
		return nil, fmt.Errorf("least squares solve: %w", err)
	}

	var fitted, resid mat.Dense
	fitted.Mul(a, &coef)
	resid.Sub(y, &fitted)

	return &LeastSquaresFit{
		Terms:     basis.Names(),
		Coef:      &coef,
		Residuals: &resid,
	}, nil
}

// rankTolerance is the smallest accepted sine between a design column and the
// span of the columns before it.
const rankTolerance = 1e-10

// dependentColumn returns the first column of a that is numerically a linear
// combination of the earlier ones, or -1.
func dependentColumn(qr *mat.QR, a *mat.Dense) int {
	var r mat.Dense
	qr.RTo(&r)
	_, cols := a.Dims()
	for j := 0; j < cols; j++ {
		norm := mat.Norm(a.ColView(j), 2)
		if norm == 0 || math.Abs(r.At(j, j)) <= rankTolerance*norm {
			return j
		}
	}
	return -1
}
