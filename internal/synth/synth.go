// Package synth generates synthetic mosaic datasets with a known solution.
package synth

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/mosaicfit/core"
	"github.com/signalsfoundry/mosaicfit/internal/catalog"
	"github.com/signalsfoundry/mosaicfit/model"
)

// Default layout of the synthetic camera.
const (
	PixelScaleArcsec = 1.012
	// gapPixels separates neighbouring quadrants on the focal plane.
	gapPixels = 30
	// ccdGrid is the CCD layout: 4 x 4 CCDs of 2 x 2 quadrants.
	ccdGrid = 4
)

// File names written by WriteDataset.
const (
	CatalogPattern = "cat_c{ccd}_q{qid}.fits"
	ReferenceName  = "reference.fits"
	TruthName      = "truth.yaml"
)

// Truth is the exact solution a dataset is generated from.
type Truth struct {
	Reference  model.Reference
	Geometry   model.ImageGeometry
	Affines    map[model.QuadrantID]model.AffineModel
	Distortion model.Distortion
}

// Quadrants returns the quadrants of the truth in enumeration order.
func (t *Truth) Quadrants() []model.QuadrantID {
	qs := make([]model.QuadrantID, 0, len(t.Affines))
	for q := range t.Affines {
		qs = append(qs, q)
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i] < qs[j] })
	return qs
}

// DefaultTruth returns a 64-quadrant camera on an 8 x 8 grid. Quadrants of a
// CCD are read out from different corners, so their axes are mirrored or
// rotated relative to each other, and every CCD carries a small rotation.
// The distortion is in the TPV gauge and reaches about 20 arcsec at the
// corners of the mosaic.
func DefaultTruth() *Truth {
	geom := model.DefaultGeometry()
	scale := PixelScaleArcsec / 3600
	t := &Truth{
		Reference: model.Reference{
			Sky:  model.SkyPosition{RA: 250.2, Dec: 36.4},
			RCID: 22, HasRCID: true,
			MJD: 58258.25, HasMJD: true,
		},
		Geometry:   geom,
		Affines:    make(map[model.QuadrantID]model.AffineModel, model.NumQuadrants),
		Distortion: model.IdentityDistortion(),
	}
	t.Distortion.PV1[model.TermOwnSq] = 4.0e-4
	t.Distortion.PV1[model.TermCross] = -2.5e-4
	t.Distortion.PV1[model.TermOtherSq] = 1.5e-4
	t.Distortion.PV2[model.TermOwnSq] = -3.0e-4
	t.Distortion.PV2[model.TermCross] = 2.0e-4
	t.Distortion.PV2[model.TermOtherSq] = 3.5e-4

	pitch1 := float64(geom.NAxis1+gapPixels) * scale
	pitch2 := float64(geom.NAxis2+gapPixels) * scale
	cells := 2 * ccdGrid
	for _, q := range model.AllQuadrants() {
		ccd, qid := q.CCD()-1, q.QID()-1
		col := 2*(ccd%ccdGrid) + qid%2
		row := 2*(ccd/ccdGrid) + qid/2
		cx := (float64(col) - float64(cells-1)/2) * pitch1
		cy := (float64(row) - float64(cells-1)/2) * pitch2

		rot := 1e-3 * float64(ccd-7)
		sx, sy := 1.0, 1.0
		switch qid {
		case 1:
			sx = -1
		case 2:
			sx, sy = -1, -1
		case 3:
			sy = -1
		}
		cos, sin := math.Cos(rot), math.Sin(rot)
		a := model.AffineModel{
			CD11: scale * cos * sx, CD12: -scale * sin * sy,
			CD21: scale * sin * sx, CD22: scale * cos * sy,
		}
		// Put the image centre at (cx, cy).
		det := a.Det()
		dx := (a.CD22*cx - a.CD12*cy) / det
		dy := (-a.CD21*cx + a.CD11*cy) / det
		a.CRPix1 = float64(geom.NAxis1)/2 - dx
		a.CRPix2 = float64(geom.NAxis2)/2 - dy
		t.Affines[q] = a
	}
	return t
}

// Generate draws n stars uniformly over each quadrant of the truth and
// places them on the sky through the exact solution. The same seed always
// gives the same stars.
func Generate(t *Truth, n int, seed int64) ([]model.Observation, error) {
	if n <= 0 {
		return nil, fmt.Errorf("stars per quadrant must be positive, got %d", n)
	}
	rng := rand.New(rand.NewSource(seed))
	proj := core.NewProjector(t.Reference.Sky)

	var obs []model.Observation
	for _, q := range t.Quadrants() {
		w := core.WCS{Projector: proj, Affine: t.Affines[q], Distortion: t.Distortion}
		for i := 0; i < n; i++ {
			x := 1 + rng.Float64()*float64(t.Geometry.NAxis1-1)
			y := 1 + rng.Float64()*float64(t.Geometry.NAxis2-1)
			ra, dec := w.PixelToSky(x, y)
			obs = append(obs, model.Observation{
				Quadrant: q,
				XLocal:   x,
				YLocal:   y,
				RA:       ra,
				Dec:      dec,
				Mag:      14 + 6*rng.Float64(),
				HasMag:   true,
			})
		}
	}
	return obs, nil
}

// Dataset locates the files written by WriteDataset.
type Dataset struct {
	CatalogTemplate catalog.Template
	ReferencePath   string
	TruthPath       string
}

// WriteDataset writes one FITS catalog per quadrant, the reference header and
// a YAML dump of the truth into dir.
func WriteDataset(dir string, t *Truth, obs []model.Observation) (Dataset, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Dataset{}, fmt.Errorf("create dataset dir: %w", err)
	}
	ds := Dataset{
		CatalogTemplate: catalog.Template(filepath.Join(dir, CatalogPattern)),
		ReferencePath:   filepath.Join(dir, ReferenceName),
		TruthPath:       filepath.Join(dir, TruthName),
	}

	byQuadrant := make(map[model.QuadrantID][]model.Observation)
	for _, o := range obs {
		byQuadrant[o.Quadrant] = append(byQuadrant[o.Quadrant], o)
	}
	for _, q := range t.Quadrants() {
		data, err := catalog.Encode(byQuadrant[q])
		if err != nil {
			return Dataset{}, fmt.Errorf("encode %s: %w", q, err)
		}
		if err := os.WriteFile(ds.CatalogTemplate.Locator(q), data, 0o644); err != nil {
			return Dataset{}, fmt.Errorf("write %s: %w", q, err)
		}
	}

	ref, err := catalog.EncodeReference(t.Reference, timeZero)
	if err != nil {
		return Dataset{}, fmt.Errorf("encode reference: %w", err)
	}
	if err := os.WriteFile(ds.ReferencePath, ref, 0o644); err != nil {
		return Dataset{}, fmt.Errorf("write reference: %w", err)
	}

	truth, err := yaml.Marshal(newTruthDoc(t))
	if err != nil {
		return Dataset{}, fmt.Errorf("encode truth: %w", err)
	}
	if err := os.WriteFile(ds.TruthPath, truth, 0o644); err != nil {
		return Dataset{}, fmt.Errorf("write truth: %w", err)
	}
	return ds, nil
}
