package model

import "fmt"

const (
	// NumCCDs is the number of physical chips in the mosaic.
	NumCCDs = 16
	// QuadrantsPerCCD is the number of readout quadrants per chip.
	QuadrantsPerCCD = 4
	// NumQuadrants is the total number of independent readout regions.
	NumQuadrants = NumCCDs * QuadrantsPerCCD
)

// QuadrantID identifies one readout quadrant (the "rcid"), in [0, 63].
type QuadrantID int

// QuadrantFor maps a chip index (1..16) and quadrant index (1..4) onto a QuadrantID.
func QuadrantFor(ccd, qid int) (QuadrantID, error) {
	if ccd < 1 || ccd > NumCCDs {
		return 0, fmt.Errorf("ccd %d out of range [1,%d]", ccd, NumCCDs)
	}
	if qid < 1 || qid > QuadrantsPerCCD {
		return 0, fmt.Errorf("quadrant %d out of range [1,%d]", qid, QuadrantsPerCCD)
	}
	return QuadrantID((ccd-1)*QuadrantsPerCCD + (qid - 1)), nil
}

// CCD returns the 1-based chip index.
func (q QuadrantID) CCD() int { return int(q)/QuadrantsPerCCD + 1 }

// QID returns the 1-based quadrant index within the chip.
func (q QuadrantID) QID() int { return int(q)%QuadrantsPerCCD + 1 }

// Valid reports whether q is inside [0, NumQuadrants).
func (q QuadrantID) Valid() bool { return q >= 0 && q < NumQuadrants }

func (q QuadrantID) String() string {
	return fmt.Sprintf("rc%02d(c%02d_q%d)", int(q), q.CCD(), q.QID())
}

// AllQuadrants returns every quadrant in enumeration order (chip-major).
func AllQuadrants() []QuadrantID {
	out := make([]QuadrantID, 0, NumQuadrants)
	for ccd := 1; ccd <= NumCCDs; ccd++ {
		for qid := 1; qid <= QuadrantsPerCCD; qid++ {
			q, _ := QuadrantFor(ccd, qid)
			out = append(out, q)
		}
	}
	return out
}
