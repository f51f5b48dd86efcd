package synth

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/mosaicfit/model"
)

var timeZero time.Time

type affineDoc struct {
	RCID   int        `yaml:"rcid"`
	CD     [4]float64 `yaml:"cd,flow"`
	CRPix1 float64    `yaml:"crpix1"`
	CRPix2 float64    `yaml:"crpix2"`
}

// truthDoc is the YAML form of a Truth.
type truthDoc struct {
	RA       float64     `yaml:"crval1"`
	Dec      float64     `yaml:"crval2"`
	RCID     *int        `yaml:"rcid,omitempty"`
	MJD      *float64    `yaml:"mjd_obs,omitempty"`
	NAxis1   int         `yaml:"naxis1"`
	NAxis2   int         `yaml:"naxis2"`
	PV1      [7]float64  `yaml:"pv1,flow"`
	PV2      [7]float64  `yaml:"pv2,flow"`
	Quadrant []affineDoc `yaml:"quadrants"`
}

func newTruthDoc(t *Truth) truthDoc {
	d := truthDoc{
		RA:     t.Reference.Sky.RA,
		Dec:    t.Reference.Sky.Dec,
		NAxis1: t.Geometry.NAxis1,
		NAxis2: t.Geometry.NAxis2,
		PV1:    t.Distortion.PV1,
		PV2:    t.Distortion.PV2,
	}
	if t.Reference.HasRCID {
		rcid := t.Reference.RCID
		d.RCID = &rcid
	}
	if t.Reference.HasMJD {
		mjd := t.Reference.MJD
		d.MJD = &mjd
	}
	for _, q := range t.Quadrants() {
		a := t.Affines[q]
		d.Quadrant = append(d.Quadrant, affineDoc{
			RCID:   int(q),
			CD:     [4]float64{a.CD11, a.CD12, a.CD21, a.CD22},
			CRPix1: a.CRPix1,
			CRPix2: a.CRPix2,
		})
	}
	return d
}

func (d truthDoc) truth() (*Truth, error) {
	t := &Truth{
		Reference: model.Reference{Sky: model.SkyPosition{RA: d.RA, Dec: d.Dec}},
		Geometry:  model.ImageGeometry{NAxis1: d.NAxis1, NAxis2: d.NAxis2},
		Affines:   make(map[model.QuadrantID]model.AffineModel, len(d.Quadrant)),
		Distortion: model.Distortion{
			PV1: d.PV1,
			PV2: d.PV2,
		},
	}
	if d.RCID != nil {
		t.Reference.RCID, t.Reference.HasRCID = *d.RCID, true
	}
	if d.MJD != nil {
		t.Reference.MJD, t.Reference.HasMJD = *d.MJD, true
	}
	for _, a := range d.Quadrant {
		q := model.QuadrantID(a.RCID)
		if !q.Valid() {
			return nil, fmt.Errorf("truth quadrant %d out of range", a.RCID)
		}
		if _, dup := t.Affines[q]; dup {
			return nil, fmt.Errorf("truth quadrant %d listed twice", a.RCID)
		}
		t.Affines[q] = model.AffineModel{
			CD11: a.CD[0], CD12: a.CD[1], CD21: a.CD[2], CD22: a.CD[3],
			CRPix1: a.CRPix1, CRPix2: a.CRPix2,
		}
	}
	return t, nil
}

// LoadTruth reads a truth file written by WriteDataset.
func LoadTruth(path string) (*Truth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading truth: %w", err)
	}
	var d truthDoc
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing truth %s: %w", path, err)
	}
	return d.truth()
}
