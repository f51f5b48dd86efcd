package core

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/mosaicfit/kb"
	"github.com/signalsfoundry/mosaicfit/model"
)

func TestAssembleAppliesQuadrantAffine(t *testing.T) {
	m := newTestMosaic(2, 2, model.IdentityDistortion())
	obs, targets := m.observe(5, 4)

	global, err := Assemble(obs, m.table(t))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(global) != len(obs) {
		t.Fatalf("len = %d, want %d", len(global), len(obs))
	}
	for i := range global {
		if math.Abs(global[i].EtaLin-targets[i].Eta) > 1e-15 || math.Abs(global[i].NuLin-targets[i].Nu) > 1e-15 {
			t.Fatalf("global[%d] = %+v, want %+v", i, global[i], targets[i])
		}
	}
}

func TestAssembleUnknownQuadrant(t *testing.T) {
	m := newTestMosaic(2, 1, model.IdentityDistortion())
	obs := []model.Observation{{Quadrant: 40, XLocal: 1, YLocal: 1}}
	if _, err := Assemble(obs, m.table(t)); !errors.Is(err, kb.ErrQuadrantNotFound) {
		t.Fatalf("err = %v, want ErrQuadrantNotFound", err)
	}
	if _, err := Assemble(obs, nil); !errors.Is(err, kb.ErrIncompleteTable) {
		t.Fatalf("nil table: err = %v, want ErrIncompleteTable", err)
	}
}

func TestFitDistortionRecoversPolynomial(t *testing.T) {
	want := model.Distortion{}
	want.PV1 = [model.NumTPVTerms]float64{2e-5, 1.001, -3e-4, 0, 1.2e-3, -0.8e-3, 0.5e-3}
	want.PV2 = [model.NumTPVTerms]float64{-1e-5, 0.999, 2e-4, 0, -0.9e-3, 0.6e-3, 1.1e-3}

	m := newTestMosaic(4, 4, want)
	obs, targets := m.observe(25, 5)
	global, err := Assemble(obs, m.table(t))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	got, report, err := FitDistortion(global, targets)
	if err != nil {
		t.Fatalf("FitDistortion: %v", err)
	}
	assertDistortionClose(t, got, want, 1e-10)
	if report.Eta.RMS > 1e-12 || report.Nu.RMS > 1e-12 {
		t.Fatalf("residual RMS = (%g, %g), want ~0", report.Eta.RMS, report.Nu.RMS)
	}
}

func TestFitDistortionSwapsSecondAxis(t *testing.T) {
	// nu depends only on etaLin: the "other" variable of axis 2.
	global := []model.GlobalCoord{
		{EtaLin: 0, NuLin: 0}, {EtaLin: 1, NuLin: 0}, {EtaLin: 0, NuLin: 1},
		{EtaLin: 1, NuLin: 1}, {EtaLin: -1, NuLin: 2}, {EtaLin: 2, NuLin: -1},
		{EtaLin: 0.5, NuLin: 0.3},
	}
	targets := make([]model.Projected, len(global))
	for i, g := range global {
		targets[i] = model.Projected{Eta: g.EtaLin, Nu: 3 * g.EtaLin}
	}
	got, _, err := FitDistortion(global, targets)
	if err != nil {
		t.Fatalf("FitDistortion: %v", err)
	}
	if math.Abs(got.PV2[model.TermOther]-3) > 1e-12 || math.Abs(got.PV2[model.TermOwn]) > 1e-12 {
		t.Fatalf("PV2 = %v, want own=0 other=3", got.PV2)
	}
}

func TestFitDistortionDegenerate(t *testing.T) {
	// All stars on one line cannot determine the quadratic terms.
	var global []model.GlobalCoord
	var targets []model.Projected
	for i := 0; i < 20; i++ {
		v := float64(i) * 0.1
		global = append(global, model.GlobalCoord{EtaLin: v, NuLin: v})
		targets = append(targets, model.Projected{Eta: v, Nu: v})
	}
	if _, _, err := FitDistortion(global, targets); !errors.Is(err, ErrDegenerateFit) {
		t.Fatalf("err = %v, want ErrDegenerateFit", err)
	}
	if _, _, err := FitDistortion(global, targets[1:]); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
}

func TestEvalDistortion(t *testing.T) {
	eta, nu := EvalDistortion(model.IdentityDistortion(), 0.3, -0.2)
	if eta != 0.3 || nu != -0.2 {
		t.Fatalf("identity = (%v, %v), want (0.3, -0.2)", eta, nu)
	}

	d := model.IdentityDistortion()
	d.PV1[model.TermRadial] = 0.5
	eta, _ = EvalDistortion(d, 3, 4)
	if math.Abs(eta-(3+2.5)) > 1e-15 {
		t.Fatalf("radial eta = %v, want 5.5", eta)
	}
}

func TestTPVGauge(t *testing.T) {
	d := testDistortion()
	d.PV1[model.TermConst] = 0.1
	d.PV2[model.TermOther] = 0.2
	g := tpvGauge(d)
	assertDistortionClose(t, g, testDistortion(), 0)
}
