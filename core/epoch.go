package core

import (
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// mjdOffset converts a Julian date to a modified Julian date.
const mjdOffset = 2400000.5

// MJDFromTime converts a UTC instant to a modified Julian date.
// go-satellite works in whole seconds; the sub-second part is added here.
func MJDFromTime(t time.Time) float64 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	jd += centuryCorrection(year, month)
	return jd - mjdOffset + float64(t.Nanosecond())/float64(24*time.Hour)
}

// centuryCorrection is the whole-day offset between the proleptic Gregorian
// calendar and JDay, which treats every fourth year as a leap year and is
// exact only from 1900-03-01 to 2100-02-28.
func centuryCorrection(year int, month time.Month) float64 {
	// Leap days fall at the end of the year counted from March.
	if month <= time.February {
		year--
	}
	return float64(15 - floorDiv(year, 100) + floorDiv(year, 400))
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
