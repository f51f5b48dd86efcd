package synth

import (
	"context"
	"math"
	"reflect"
	"testing"

	"github.com/signalsfoundry/mosaicfit/core"
	"github.com/signalsfoundry/mosaicfit/internal/catalog"
	"github.com/signalsfoundry/mosaicfit/internal/fetch"
	"github.com/signalsfoundry/mosaicfit/model"
)

func TestDefaultTruthLayout(t *testing.T) {
	truth := DefaultTruth()
	if len(truth.Affines) != model.NumQuadrants {
		t.Fatalf("truth has %d quadrants, want %d", len(truth.Affines), model.NumQuadrants)
	}
	proj := core.NewProjector(truth.Reference.Sky)
	centres := map[[2]int]model.QuadrantID{}
	for q, a := range truth.Affines {
		if math.Abs(math.Abs(a.Det())-math.Pow(PixelScaleArcsec/3600, 2)) > 1e-15 {
			t.Fatalf("%s |det CD| = %g, want pixel scale squared", q, a.Det())
		}
		eta, nu := a.Apply(float64(truth.Geometry.NAxis1)/2, float64(truth.Geometry.NAxis2)/2)
		cell := [2]int{int(math.Round(eta / 0.5)), int(math.Round(nu / 0.5))}
		if other, dup := centres[cell]; dup {
			t.Fatalf("%s and %s share a focal plane cell", q, other)
		}
		centres[cell] = q
	}
	if ra, dec := proj.Unproject(0, 0); math.Abs(ra-250.2) > 1e-12 || math.Abs(dec-36.4) > 1e-12 {
		t.Fatalf("tangent point = (%v, %v)", ra, dec)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	truth := DefaultTruth()
	a, err := Generate(truth, 5, 42)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate(truth, 5, 42)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed produced different stars")
	}
	if len(a) != 5*model.NumQuadrants {
		t.Fatalf("generated %d stars, want %d", len(a), 5*model.NumQuadrants)
	}
	for i, o := range a {
		if o.Quadrant != model.QuadrantID(i/5) {
			t.Fatalf("star %d on %s, want quadrant order", i, o.Quadrant)
		}
	}
	if _, err := Generate(truth, 0, 1); err == nil {
		t.Fatalf("expected error for zero stars")
	}
}

func TestGeneratedStarsFollowTruth(t *testing.T) {
	truth := DefaultTruth()
	obs, err := Generate(truth, 3, 7)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	proj := core.NewProjector(truth.Reference.Sky)
	for _, o := range obs {
		w := core.WCS{Projector: proj, Affine: truth.Affines[o.Quadrant], Distortion: truth.Distortion}
		x, y, err := w.SkyToPixel(o.RA, o.Dec)
		if err != nil {
			t.Fatalf("SkyToPixel: %v", err)
		}
		if math.Abs(x-o.XLocal) > 1e-6 || math.Abs(y-o.YLocal) > 1e-6 {
			t.Fatalf("%s star at (%v, %v) maps back to (%v, %v)", o.Quadrant, o.XLocal, o.YLocal, x, y)
		}
	}
}

func TestWriteDatasetRoundTrip(t *testing.T) {
	truth := DefaultTruth()
	obs, err := Generate(truth, 4, 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	ds, err := WriteDataset(t.TempDir(), truth, obs)
	if err != nil {
		t.Fatalf("WriteDataset: %v", err)
	}

	f := fetch.NewHTTPFetcher(0)
	loader := &catalog.Loader{Fetcher: f, Template: ds.CatalogTemplate}
	got, err := loader.Load(context.Background(), model.AllQuadrants())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, obs) {
		t.Fatalf("catalogs do not round trip")
	}

	ref, err := catalog.LoadReference(context.Background(), f, ds.ReferencePath)
	if err != nil {
		t.Fatalf("LoadReference: %v", err)
	}
	if ref != truth.Reference {
		t.Fatalf("reference = %+v, want %+v", ref, truth.Reference)
	}

	back, err := LoadTruth(ds.TruthPath)
	if err != nil {
		t.Fatalf("LoadTruth: %v", err)
	}
	if !reflect.DeepEqual(back, truth) {
		t.Fatalf("truth does not round trip")
	}
}
