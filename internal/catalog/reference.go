package catalog

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/signalsfoundry/mosaicfit/core"
	"github.com/signalsfoundry/mosaicfit/internal/fetch"
	"github.com/signalsfoundry/mosaicfit/model"
)

// Reference header keywords.
const (
	KeyRA      = "TELRAD"
	KeyDec     = "TELDECD"
	KeyRCID    = "RCID"
	KeyMJD     = "OBSMJD"
	KeyDateObs = "DATE-OBS"
)

var dateLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// LoadReference fetches the reference image and reads the field centre,
// quadrant and epoch from its primary header.
func LoadReference(ctx context.Context, f fetch.Fetcher, locator string) (model.Reference, error) {
	data, err := f.Fetch(ctx, locator)
	if err != nil {
		return model.Reference{}, fmt.Errorf("reference image: %w", err)
	}
	ref, err := ParseReference(data)
	if err != nil {
		return model.Reference{}, fmt.Errorf("reference image %s: %w", locator, err)
	}
	return ref, nil
}

// ParseReference reads the reference description from the primary header of
// a FITS file.
func ParseReference(data []byte) (model.Reference, error) {
	f, err := fitsio.Open(bytes.NewReader(data))
	if err != nil {
		return model.Reference{}, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
	}
	defer f.Close()

	hdus := f.HDUs()
	if len(hdus) == 0 {
		return model.Reference{}, fmt.Errorf("%w: no header", ErrMalformedCatalog)
	}
	hdr := hdus[0].Header()

	var ref model.Reference
	var ok bool
	if ref.Sky.RA, ok = headerFloat(hdr, KeyRA); !ok {
		return model.Reference{}, fmt.Errorf("%w: missing or non-numeric %s", ErrMalformedCatalog, KeyRA)
	}
	if ref.Sky.Dec, ok = headerFloat(hdr, KeyDec); !ok {
		return model.Reference{}, fmt.Errorf("%w: missing or non-numeric %s", ErrMalformedCatalog, KeyDec)
	}
	if ref.Sky.Dec < -90 || ref.Sky.Dec > 90 {
		return model.Reference{}, fmt.Errorf("%w: %s = %g out of range", ErrMalformedCatalog, KeyDec, ref.Sky.Dec)
	}

	if rcid, ok := headerFloat(hdr, KeyRCID); ok {
		q := model.QuadrantID(int(rcid))
		if float64(int(rcid)) != rcid || !q.Valid() {
			return model.Reference{}, fmt.Errorf("%w: %s = %g is not a quadrant id", ErrMalformedCatalog, KeyRCID, rcid)
		}
		ref.RCID, ref.HasRCID = int(rcid), true
	}

	if mjd, ok := headerFloat(hdr, KeyMJD); ok {
		ref.MJD, ref.HasMJD = mjd, true
	} else if card := hdr.Get(KeyDateObs); card != nil {
		s, _ := card.Value.(string)
		t, err := parseDate(s)
		if err != nil {
			return model.Reference{}, fmt.Errorf("%w: %s: %v", ErrMalformedCatalog, KeyDateObs, err)
		}
		ref.MJD, ref.HasMJD = core.MJDFromTime(t), true
	}
	return ref, nil
}

func headerFloat(hdr *fitsio.Header, key string) (float64, bool) {
	card := hdr.Get(key)
	if card == nil {
		return 0, false
	}
	return toFloat(card.Value)
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
