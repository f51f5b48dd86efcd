package core

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/mosaicfit/model"
)

func TestProjectCenterIsOrigin(t *testing.T) {
	p := NewProjector(model.SkyPosition{RA: 123.4, Dec: -45.6})
	eta, nu, err := p.Project(123.4, -45.6)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if math.Abs(eta) > 1e-12 || math.Abs(nu) > 1e-12 {
		t.Fatalf("centre projected to (%g, %g), want origin", eta, nu)
	}
}

func TestProjectAxesOrientation(t *testing.T) {
	p := NewProjector(model.SkyPosition{RA: 10, Dec: 0})

	eta, nu, err := p.Project(11, 0)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if eta <= 0 || math.Abs(nu) > 1e-12 {
		t.Fatalf("east offset projected to (%g, %g), want positive eta, zero nu", eta, nu)
	}
	// Near the centre one degree on the sky is about one projection unit.
	if math.Abs(eta-math.Tan(deg2rad)*rad2deg) > 1e-12 {
		t.Fatalf("eta = %.15f, want tan(1°) in degrees", eta)
	}

	eta, nu, err = p.Project(10, 1)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if nu <= 0 || math.Abs(eta) > 1e-12 {
		t.Fatalf("north offset projected to (%g, %g), want positive nu, zero eta", eta, nu)
	}
}

func TestProjectRoundTrip(t *testing.T) {
	centers := []model.SkyPosition{
		{RA: 0, Dec: 0},
		{RA: 359.9, Dec: 12.5},
		{RA: 180, Dec: -60},
		{RA: 45, Dec: 89.5},
		{RA: 271.3, Dec: -89.9},
	}
	offsets := []struct{ dRA, dDec float64 }{
		{0, 0}, {3.5, 0}, {-3.5, 2.1}, {1.2, -3.3}, {0.0001, 0.0001}, {20, 30}, {-40, -10},
	}

	for _, c := range centers {
		p := NewProjector(c)
		for _, off := range offsets {
			ra := math.Mod(c.RA+off.dRA+360, 360)
			dec := c.Dec + off.dDec
			if dec > 90 || dec < -90 {
				continue
			}
			eta, nu, err := p.Project(ra, dec)
			if err != nil {
				t.Fatalf("Project(%v, %v) about %+v: %v", ra, dec, c, err)
			}
			gotRA, gotDec := p.Unproject(eta, nu)
			if sep := SeparationArcsec(ra, dec, gotRA, gotDec) / 3600; sep > 1e-10 {
				t.Errorf("round trip of (%v, %v) about %+v off by %g deg", ra, dec, c, sep)
			}
		}
	}
}

func TestProjectBehindTangentPlane(t *testing.T) {
	p := NewProjector(model.SkyPosition{RA: 0, Dec: 0})
	horizon := []model.SkyPosition{
		{RA: 180, Dec: 0},
		{RA: 90, Dec: 0},
		{RA: 270, Dec: 0},
		{RA: 0, Dec: 90},
		{RA: 90 - 1e-14, Dec: 0},
		{RA: 200, Dec: 10},
	}
	for _, pos := range horizon {
		if _, _, err := p.Project(pos.RA, pos.Dec); !errors.Is(err, ErrBehindTangentPlane) {
			t.Errorf("Project(%+v) error = %v, want ErrBehindTangentPlane", pos, err)
		}
	}
}

func TestProjectNearHorizonStaysFinite(t *testing.T) {
	p := NewProjector(model.SkyPosition{RA: 0, Dec: 0})
	eta, nu, err := p.Project(89.9, 0)
	if err != nil {
		t.Fatalf("Project just inside the horizon: %v", err)
	}
	if math.IsInf(eta, 0) || math.IsNaN(eta) || eta <= 0 || nu != 0 {
		t.Fatalf("Project(89.9, 0) = (%g, %g)", eta, nu)
	}
}

func TestProjectAllReportsQuadrant(t *testing.T) {
	p := NewProjector(model.SkyPosition{RA: 0, Dec: 0})
	obs := []model.Observation{
		{Quadrant: 1, RA: 1, Dec: 1},
		{Quadrant: 7, RA: 180, Dec: 0},
	}
	if _, err := p.ProjectAll(obs); !errors.Is(err, ErrBehindTangentPlane) {
		t.Fatalf("ProjectAll error = %v, want ErrBehindTangentPlane", err)
	}

	out, err := p.ProjectAll(obs[:1])
	if err != nil {
		t.Fatalf("ProjectAll: %v", err)
	}
	if len(out) != 1 || out[0].Eta <= 0 || out[0].Nu <= 0 {
		t.Fatalf("ProjectAll = %+v", out)
	}
}
