package core

import (
	"math"
	"math/rand"
	"testing"

	"github.com/signalsfoundry/mosaicfit/kb"
	"github.com/signalsfoundry/mosaicfit/model"
)

const (
	testPixelScale = 1.0 / 3600 // deg per pixel
	testNAxis1     = 3072
	testNAxis2     = 3080
)

// testMosaic is a small camera layout with known per-quadrant affines and a
// known distortion, used to generate exact observations.
type testMosaic struct {
	quadrants []model.QuadrantID
	affines   map[model.QuadrantID]model.AffineModel
	dist      model.Distortion
}

// newTestMosaic places cols x rows quadrants on a regular grid centred on the
// tangent point. Odd quadrants are rotated by 180 degrees and every third one
// is mirrored in x, as on a real focal plane.
func newTestMosaic(cols, rows int, dist model.Distortion) *testMosaic {
	m := &testMosaic{affines: map[model.QuadrantID]model.AffineModel{}, dist: dist}
	span1 := testNAxis1 * testPixelScale
	span2 := testNAxis2 * testPixelScale
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			q := model.QuadrantID(r*cols + c + 1)
			cx := (float64(c) - float64(cols-1)/2) * span1 * 1.01
			cy := (float64(r) - float64(rows-1)/2) * span2 * 1.01

			rot := 0.002 * float64(q)
			if q%2 == 1 {
				rot += math.Pi
			}
			flip := 1.0
			if q%3 == 0 {
				flip = -1
			}
			cos, sin := math.Cos(rot), math.Sin(rot)
			a := model.AffineModel{
				CD11: testPixelScale * cos * flip, CD12: -testPixelScale * sin,
				CD21: testPixelScale * sin * flip, CD22: testPixelScale * cos,
			}
			// Place the quadrant centre at (cx, cy).
			det := a.Det()
			dx := (a.CD22*cx - a.CD12*cy) / det
			dy := (-a.CD21*cx + a.CD11*cy) / det
			a.CRPix1 = testNAxis1/2 - dx
			a.CRPix2 = testNAxis2/2 - dy

			m.quadrants = append(m.quadrants, q)
			m.affines[q] = a
		}
	}
	return m
}

// observe draws n stars per quadrant and returns them with their exact
// projected positions.
func (m *testMosaic) observe(n int, seed int64) ([]model.Observation, []model.Projected) {
	rng := rand.New(rand.NewSource(seed))
	var obs []model.Observation
	var targets []model.Projected
	for _, q := range m.quadrants {
		a := m.affines[q]
		for i := 0; i < n; i++ {
			x := 1 + rng.Float64()*(testNAxis1-1)
			y := 1 + rng.Float64()*(testNAxis2-1)
			etaLin, nuLin := a.Apply(x, y)
			eta, nu := EvalDistortion(m.dist, etaLin, nuLin)
			obs = append(obs, model.Observation{Quadrant: q, XLocal: x, YLocal: y})
			targets = append(targets, model.Projected{Eta: eta, Nu: nu})
		}
	}
	return obs, targets
}

func (m *testMosaic) table(t *testing.T) *kb.AffineTable {
	t.Helper()
	b := kb.NewTableBuilder(m.quadrants)
	for _, q := range m.quadrants {
		if err := b.Set(q, m.affines[q]); err != nil {
			t.Fatalf("Set(%s): %v", q, err)
		}
	}
	table, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return table
}

// testDistortion is a TPV-gauge distortion of roughly 40 arcsec at the edge
// of an 8x8 mosaic.
func testDistortion() model.Distortion {
	d := model.IdentityDistortion()
	d.PV1[model.TermOwnSq] = 1.2e-3
	d.PV1[model.TermCross] = -0.8e-3
	d.PV1[model.TermOtherSq] = 0.5e-3
	d.PV2[model.TermOwnSq] = -0.9e-3
	d.PV2[model.TermCross] = 0.6e-3
	d.PV2[model.TermOtherSq] = 1.1e-3
	return d
}

func assertAffineClose(t *testing.T, q model.QuadrantID, got, want model.AffineModel, cdTol, crpixRelTol float64) {
	t.Helper()
	cds := [][3]float64{
		{got.CD11, want.CD11, 11}, {got.CD12, want.CD12, 12},
		{got.CD21, want.CD21, 21}, {got.CD22, want.CD22, 22},
	}
	for _, c := range cds {
		if math.Abs(c[0]-c[1]) > cdTol {
			t.Errorf("%s CD%v = %.15g, want %.15g", q, c[2], c[0], c[1])
		}
	}
	crpix := [][3]float64{{got.CRPix1, want.CRPix1, 1}, {got.CRPix2, want.CRPix2, 2}}
	for _, c := range crpix {
		if math.Abs(c[0]-c[1]) > crpixRelTol*math.Max(1, math.Abs(c[1])) {
			t.Errorf("%s CRPIX%v = %.10f, want %.10f", q, c[2], c[0], c[1])
		}
	}
}

func assertDistortionClose(t *testing.T, got, want model.Distortion, tol float64) {
	t.Helper()
	for k := 0; k < model.NumTPVTerms; k++ {
		if math.Abs(got.PV1[k]-want.PV1[k]) > tol {
			t.Errorf("PV1_%d = %.12g, want %.12g", k, got.PV1[k], want.PV1[k])
		}
		if math.Abs(got.PV2[k]-want.PV2[k]) > tol {
			t.Errorf("PV2_%d = %.12g, want %.12g", k, got.PV2[k], want.PV2[k])
		}
	}
}
