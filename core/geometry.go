package core

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/mosaicfit/model"
)

// DegreesPerUnit fixes the scale of the tangent plane: one projection unit is
// one degree. The affine fit absorbs any other choice into CD, but TPV
// coefficients are defined in degrees, so the scale is pinned here.
const DegreesPerUnit = 1.0

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
)

// ErrBehindTangentPlane is returned for positions 90° or more from the
// projection centre, where the gnomonic projection is undefined.
var ErrBehindTangentPlane = errors.New("position is not in front of the tangent plane")

// Vec3 is a direction on the unit celestial sphere.
type Vec3 struct {
	X, Y, Z float64
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Scale returns v * k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// UnitVector converts an equatorial position in degrees to a unit vector.
func UnitVector(raDeg, decDeg float64) Vec3 {
	ra := raDeg * deg2rad
	dec := decDeg * deg2rad
	cd := math.Cos(dec)
	return Vec3{X: cd * math.Cos(ra), Y: cd * math.Sin(ra), Z: math.Sin(dec)}
}

// SkyFromVector converts a (not necessarily normalised) vector back to
// degrees, with RA in [0, 360).
func SkyFromVector(v Vec3) (raDeg, decDeg float64) {
	ra := math.Atan2(v.Y, v.X) * rad2deg
	if ra < 0 {
		ra += 360
	}
	dec := math.Atan2(v.Z, math.Hypot(v.X, v.Y)) * rad2deg
	return ra, dec
}

// Projector is a gnomonic (tangent-plane) projection about a fixed centre.
type Projector struct {
	center model.SkyPosition

	// Orthonormal frame at the centre: pole points at the centre, east and
	// north span the tangent plane.
	pole  Vec3
	east  Vec3
	north Vec3
}

// NewProjector builds the projection centred on ref.
func NewProjector(ref model.SkyPosition) *Projector {
	ra := ref.RA * deg2rad
	dec := ref.Dec * deg2rad
	sa, ca := math.Sin(ra), math.Cos(ra)
	sd, cd := math.Sin(dec), math.Cos(dec)
	return &Projector{
		center: ref,
		pole:   Vec3{X: cd * ca, Y: cd * sa, Z: sd},
		east:   Vec3{X: -sa, Y: ca, Z: 0},
		north:  Vec3{X: -sd * ca, Y: -sd * sa, Z: cd},
	}
}

// Center returns the projection centre.
func (p *Projector) Center() model.SkyPosition { return p.center }

// horizonEpsilon is the smallest accepted cosine of the angular distance
// from the projection centre. Points at or below it are on the horizon.
const horizonEpsilon = 1e-12

// Project maps a sky position in degrees onto the tangent plane, in
// DegreesPerUnit units. Eta grows towards east, nu towards north.
func (p *Projector) Project(raDeg, decDeg float64) (eta, nu float64, err error) {
	s := UnitVector(raDeg, decDeg)
	c := s.Dot(p.pole)
	if c <= horizonEpsilon {
		return 0, 0, fmt.Errorf("%w: (%.6f, %.6f)", ErrBehindTangentPlane, raDeg, decDeg)
	}
	k := rad2deg / DegreesPerUnit / c
	return s.Dot(p.east) * k, s.Dot(p.north) * k, nil
}

// Unproject is the inverse of Project.
func (p *Projector) Unproject(eta, nu float64) (raDeg, decDeg float64) {
	k := DegreesPerUnit * deg2rad
	v := p.pole.Add(p.east.Scale(eta * k)).Add(p.north.Scale(nu * k))
	return SkyFromVector(v)
}

// ProjectAll projects every observation, returning a slice parallel to obs.
func (p *Projector) ProjectAll(obs []model.Observation) ([]model.Projected, error) {
	out := make([]model.Projected, len(obs))
	for i, o := range obs {
		eta, nu, err := p.Project(o.RA, o.Dec)
		if err != nil {
			return nil, fmt.Errorf("observation %d on %s: %w", i, o.Quadrant, err)
		}
		out[i] = model.Projected{Eta: eta, Nu: nu}
	}
	return out, nil
}
