package model

// SkyPosition is an equatorial position in degrees.
type SkyPosition struct {
	RA  float64
	Dec float64
}

// Observation is one detected star on one quadrant. It is never mutated after
// loading; derived quantities live in parallel slices.
type Observation struct {
	Quadrant QuadrantID

	// Pixel position in the quadrant's own frame (catalog convention, 1-based).
	XLocal float64
	YLocal float64

	// Catalog sky position in degrees.
	RA  float64
	Dec float64

	Mag    float64
	HasMag bool
}

// Projected is an observation's position on the tangent plane.
type Projected struct {
	Eta float64
	Nu  float64
}

// GlobalCoord is the linearized tangent-plane position obtained by pushing a
// local pixel position through its quadrant's affine model.
type GlobalCoord struct {
	EtaLin float64
	NuLin  float64
}
