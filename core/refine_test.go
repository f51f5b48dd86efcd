package core

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/mosaicfit/kb"
	"github.com/signalsfoundry/mosaicfit/model"
)

// stagedFit runs the linear fit, assembly and free distortion fit.
func stagedFit(t *testing.T, obs []model.Observation, targets []model.Projected, quadrants []model.QuadrantID) (*kb.AffineTable, model.Distortion) {
	t.Helper()
	table, _, err := FitLinear(obs, targets, quadrants)
	if err != nil {
		t.Fatalf("FitLinear: %v", err)
	}
	global, err := Assemble(obs, table)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	dist, _, err := FitDistortion(global, targets)
	if err != nil {
		t.Fatalf("FitDistortion: %v", err)
	}
	return table, dist
}

func TestRefineRecoversTruth(t *testing.T) {
	m := newTestMosaic(4, 4, testDistortion())
	obs, targets := m.observe(40, 6)
	table, dist := stagedFit(t, obs, targets, m.quadrants)

	refined, got, report, err := Refine(obs, targets, table, dist, DefaultRefineOptions())
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if report.Iterations == 0 {
		t.Fatalf("no refinement steps taken")
	}
	assertDistortionClose(t, got, m.dist, 1e-8)
	for _, q := range m.quadrants {
		a, err := refined.Get(q)
		if err != nil {
			t.Fatalf("Get(%s): %v", q, err)
		}
		assertAffineClose(t, q, a, m.affines[q], 1e-10, 1e-6)
	}
	if report.Eta.RMS > 1e-10 || report.Nu.RMS > 1e-10 {
		t.Fatalf("refined RMS = (%g, %g), want ~0", report.Eta.RMS, report.Nu.RMS)
	}
}

func TestRefineKeepsExactSolution(t *testing.T) {
	m := newTestMosaic(2, 2, testDistortion())
	obs, targets := m.observe(20, 7)

	refined, got, report, err := Refine(obs, targets, m.table(t), m.dist, DefaultRefineOptions())
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if !report.Converged {
		t.Fatalf("report = %+v, want converged", report)
	}
	assertDistortionClose(t, got, m.dist, 1e-12)
	for _, q := range m.quadrants {
		a, _ := refined.Get(q)
		assertAffineClose(t, q, a, m.affines[q], 1e-14, 1e-9)
	}
}

func TestRefineZeroIterations(t *testing.T) {
	m := newTestMosaic(2, 1, testDistortion())
	obs, targets := m.observe(20, 8)
	table, dist := stagedFit(t, obs, targets, m.quadrants)

	_, got, report, err := Refine(obs, targets, table, dist, RefineOptions{})
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if report.Iterations != 0 || report.Converged {
		t.Fatalf("report = %+v, want no iterations", report)
	}
	assertDistortionClose(t, got, tpvGauge(dist), 0)
}

func TestRefineErrors(t *testing.T) {
	m := newTestMosaic(2, 1, testDistortion())
	obs, targets := m.observe(10, 9)
	table := m.table(t)

	if _, _, _, err := Refine(obs, targets[1:], table, m.dist, DefaultRefineOptions()); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("length mismatch: err = %v", err)
	}
	if _, _, _, err := Refine(obs, targets, nil, m.dist, DefaultRefineOptions()); !errors.Is(err, kb.ErrIncompleteTable) {
		t.Fatalf("nil table: err = %v", err)
	}
	stray := append([]model.Observation{{Quadrant: 60, XLocal: 1, YLocal: 1}}, obs...)
	strayTargets := append([]model.Projected{{}}, targets...)
	if _, _, _, err := Refine(stray, strayTargets, table, m.dist, DefaultRefineOptions()); !errors.Is(err, kb.ErrQuadrantNotFound) {
		t.Fatalf("stray quadrant: err = %v", err)
	}
}
