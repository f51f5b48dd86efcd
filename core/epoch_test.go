package core

import (
	"math"
	"testing"
	"time"
)

// mjdFromCalendar counts days from the MJD epoch with the standard library's
// proleptic Gregorian calendar.
func mjdFromCalendar(tm time.Time) float64 {
	epoch := time.Date(1858, 11, 17, 0, 0, 0, 0, time.UTC)
	return float64(tm.Unix()-epoch.Unix()) / 86400
}

func TestMJDFromTimeMatchesCalendar(t *testing.T) {
	for year := 1600; year <= 2400; year += 7 {
		for _, month := range []time.Month{time.January, time.February, time.March, time.December} {
			tm := time.Date(year, month, 28, 18, 0, 0, 0, time.UTC)
			if got, want := MJDFromTime(tm), mjdFromCalendar(tm); math.Abs(got-want) > 1e-8 {
				t.Fatalf("MJDFromTime(%s) = %.6f, want %.6f", tm.Format(time.DateOnly), got, want)
			}
		}
	}
}

func TestMJDFromTime(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		want float64
	}{
		{"mjd epoch", time.Date(1858, 11, 17, 0, 0, 0, 0, time.UTC), 0},
		{"j2000", time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC), 51544.5},
		{"survey night", time.Date(2018, 5, 20, 6, 0, 0, 0, time.UTC), 58258.25},
		{"sub-second", time.Date(2018, 5, 20, 0, 0, 0, 500_000_000, time.UTC), 58258 + 0.5/86400},
		{"before 1900", time.Date(1899, 6, 1, 0, 0, 0, 0, time.UTC), 14806},
		{"1900 is not leap", time.Date(1900, 3, 1, 0, 0, 0, 0, time.UTC), 15079},
		{"2000 is leap", time.Date(2000, 2, 29, 0, 0, 0, 0, time.UTC), 51603},
		{"after 2100", time.Date(2101, 6, 1, 0, 0, 0, 0, time.UTC), 88585},
		{"2100 is not leap", time.Date(2100, 3, 1, 0, 0, 0, 0, time.UTC), 88128},
		{"non-utc zone", time.Date(2018, 5, 20, 2, 0, 0, 0, time.FixedZone("CEST", 2*3600)), 58258},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MJDFromTime(tc.in); math.Abs(got-tc.want) > 1e-8 {
				t.Fatalf("MJDFromTime(%s) = %.10f, want %.10f", tc.in, got, tc.want)
			}
		})
	}
}
