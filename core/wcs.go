package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/mosaicfit/model"
)

// WCS is the complete pixel-to-sky mapping of one quadrant.
type WCS struct {
	Projector  *Projector
	Affine     model.AffineModel
	Distortion model.Distortion
}

// PixelToSky maps a local pixel position to RA/Dec in degrees.
func (w WCS) PixelToSky(x, y float64) (raDeg, decDeg float64) {
	etaLin, nuLin := w.Affine.Apply(x, y)
	eta, nu := EvalDistortion(w.Distortion, etaLin, nuLin)
	return w.Projector.Unproject(eta, nu)
}

// SkyToPixel maps RA/Dec in degrees to a local pixel position.
func (w WCS) SkyToPixel(raDeg, decDeg float64) (x, y float64, err error) {
	eta, nu, err := w.Projector.Project(raDeg, decDeg)
	if err != nil {
		return 0, 0, err
	}
	etaLin, nuLin, err := InvertDistortion(w.Distortion, eta, nu)
	if err != nil {
		return 0, 0, err
	}
	a := w.Affine
	det := a.Det()
	if det == 0 {
		return 0, 0, fmt.Errorf("%w: singular CD matrix", ErrDegenerateFit)
	}
	x = a.CRPix1 + (a.CD22*etaLin-a.CD12*nuLin)/det
	y = a.CRPix2 + (-a.CD21*etaLin+a.CD11*nuLin)/det
	return x, y, nil
}

// SeparationArcsec returns the angle between two sky positions in arcseconds.
func SeparationArcsec(ra1, dec1, ra2, dec2 float64) float64 {
	a := UnitVector(ra1, dec1)
	b := UnitVector(ra2, dec2)
	cross := Vec3{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
	return math.Atan2(cross.Norm(), a.Dot(b)) * rad2deg * 3600
}
