package model

// AffineModel maps a quadrant's local pixels onto the tangent plane:
//
//	(etaLin, nuLin) = CD · (x - CRPix1, y - CRPix2)
type AffineModel struct {
	CD11, CD12 float64
	CD21, CD22 float64

	CRPix1, CRPix2 float64
}

// Det returns the determinant of the CD matrix.
func (a AffineModel) Det() float64 {
	return a.CD11*a.CD22 - a.CD12*a.CD21
}

// Apply maps a local pixel position to linearized tangent-plane coordinates.
func (a AffineModel) Apply(x, y float64) (etaLin, nuLin float64) {
	dx := x - a.CRPix1
	dy := y - a.CRPix2
	return a.CD11*dx + a.CD12*dy, a.CD21*dx + a.CD22*dy
}

// TPV term indices. Axis 2 swaps the roles of its two inputs, so for PV2 the
// "own" variable is nuLin and the "other" is etaLin.
const (
	TermConst    = 0
	TermOwn      = 1
	TermOther    = 2
	TermRadial   = 3
	TermOwnSq    = 4
	TermCross    = 5
	TermOtherSq  = 6
	NumTPVTerms  = 7
	TermsEmitted = 5
)

// EmittedTerms lists the TPV terms written to the output header, in order.
var EmittedTerms = [TermsEmitted]int{TermOwn, TermOther, TermOwnSq, TermCross, TermOtherSq}

// Distortion is a global second-order TPV polynomial. PV1 maps (etaLin, nuLin)
// to eta; PV2 maps (nuLin, etaLin) to nu.
type Distortion struct {
	PV1 [NumTPVTerms]float64
	PV2 [NumTPVTerms]float64
}

// IdentityDistortion returns the polynomial that leaves coordinates unchanged.
func IdentityDistortion() Distortion {
	var d Distortion
	d.PV1[TermOwn] = 1
	d.PV2[TermOwn] = 1
	return d
}

// Reference describes the field the catalogs were taken from.
type Reference struct {
	Sky     SkyPosition
	RCID    int
	HasRCID bool

	// Observation epoch as a modified Julian date.
	MJD    float64
	HasMJD bool
}

// ImageGeometry is the pixel size of a single quadrant image.
type ImageGeometry struct {
	NAxis1 int
	NAxis2 int
}

// DefaultGeometry is the quadrant size of the reference camera.
func DefaultGeometry() ImageGeometry {
	return ImageGeometry{NAxis1: 3072, NAxis2: 3080}
}
