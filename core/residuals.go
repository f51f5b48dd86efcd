package core

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/mosaicfit/model"
)

// OutlierSigma is the threshold, in standard deviations, beyond which a
// residual is flagged. Flagged points are reported, never removed.
const OutlierSigma = 5.0

// outlierFloor keeps round-off noise of an exact fit from being flagged.
const outlierFloor = 1e-9

// ResidualStats summarises one residual vector, in projection units.
type ResidualStats struct {
	N        int
	RMS      float64
	MaxAbs   float64
	StdDev   float64
	Outliers int
}

func residualStats(r []float64) ResidualStats {
	s := ResidualStats{N: len(r)}
	if len(r) == 0 {
		return s
	}
	s.RMS = math.Sqrt(floats.Dot(r, r) / float64(len(r)))
	s.MaxAbs = math.Max(floats.Max(r), -floats.Min(r))
	if len(r) > 1 {
		var mean float64
		mean, s.StdDev = stat.MeanStdDev(r, nil)
		s.Outliers = countOutliers(r, mean, s.StdDev)
	}
	return s
}

func countOutliers(r []float64, mean, sd float64) int {
	limit := math.Max(OutlierSigma*sd, outlierFloor)
	n := 0
	for _, v := range r {
		if math.Abs(v-mean) > limit {
			n++
		}
	}
	return n
}

// quadrantStats groups two residual vectors per quadrant. A star counts as an
// outlier when either axis is.
func quadrantStats(obs []model.Observation, quadrants []model.QuadrantID, etaRes, nuRes []float64) []QuadrantStats {
	etaMean, etaSD := stat.MeanStdDev(etaRes, nil)
	nuMean, nuSD := stat.MeanStdDev(nuRes, nil)
	etaLimit := math.Max(OutlierSigma*etaSD, outlierFloor)
	nuLimit := math.Max(OutlierSigma*nuSD, outlierFloor)

	index := make(map[model.QuadrantID]int, len(quadrants))
	out := make([]QuadrantStats, len(quadrants))
	sumSq := make([]float64, len(quadrants))
	for k, q := range quadrants {
		index[q] = k
		out[k].Quadrant = q
	}
	for i, o := range obs {
		k, ok := index[o.Quadrant]
		if !ok {
			continue
		}
		out[k].Stars++
		sumSq[k] += etaRes[i]*etaRes[i] + nuRes[i]*nuRes[i]
		if math.Abs(etaRes[i]-etaMean) > etaLimit || math.Abs(nuRes[i]-nuMean) > nuLimit {
			out[k].Outliers++
		}
	}
	for k := range out {
		if out[k].Stars > 0 {
			out[k].RMS = math.Sqrt(sumSq[k] / float64(out[k].Stars))
		}
	}
	return out
}
