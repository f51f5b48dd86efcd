package catalog

import (
	"bytes"
	"fmt"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/signalsfoundry/mosaicfit/model"
)

// Row is one star of a catalog table as written by Encode.
type Row struct {
	RA  float64 `fits:"ra"`
	Dec float64 `fits:"dec"`
	X   float64 `fits:"xpos"`
	Y   float64 `fits:"ypos"`
	Mag float64 `fits:"mag"`
}

var rowColumns = []fitsio.Column{
	{Name: ColRA, Format: "D", Unit: "deg"},
	{Name: ColDec, Format: "D", Unit: "deg"},
	{Name: ColX, Format: "D", Unit: "pix"},
	{Name: ColY, Format: "D", Unit: "pix"},
	{Name: ColMag, Format: "D", Unit: "mag"},
}

// Encode writes observations as a FITS file with an empty primary HDU and
// one binary table extension.
func Encode(obs []model.Observation) ([]byte, error) {
	var buf bytes.Buffer
	f, err := fitsio.Create(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating fits stream: %w", err)
	}

	phdu, err := fitsio.NewPrimaryHDU(fitsio.NewHeader(nil, fitsio.IMAGE_HDU, 8, []int{}))
	if err != nil {
		return nil, fmt.Errorf("creating primary hdu: %w", err)
	}
	if err := f.Write(phdu); err != nil {
		return nil, fmt.Errorf("writing primary hdu: %w", err)
	}

	tbl, err := fitsio.NewTable("CATALOG", rowColumns, fitsio.BINARY_TBL)
	if err != nil {
		return nil, fmt.Errorf("creating table: %w", err)
	}
	defer tbl.Close()
	for i, o := range obs {
		row := Row{RA: o.RA, Dec: o.Dec, X: o.XLocal, Y: o.YLocal, Mag: o.Mag}
		if err := tbl.Write(&row); err != nil {
			return nil, fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	if err := f.Write(tbl); err != nil {
		return nil, fmt.Errorf("writing table: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing fits stream: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeReference writes a header-only FITS file describing ref. A zero
// dateObs is omitted; MJD is written when ref carries one.
func EncodeReference(ref model.Reference, dateObs time.Time) ([]byte, error) {
	cards := []fitsio.Card{
		{Name: KeyRA, Value: ref.Sky.RA, Comment: "[deg] telescope right ascension"},
		{Name: KeyDec, Value: ref.Sky.Dec, Comment: "[deg] telescope declination"},
	}
	if ref.HasRCID {
		cards = append(cards, fitsio.Card{Name: KeyRCID, Value: ref.RCID, Comment: "readout channel id"})
	}
	if ref.HasMJD {
		cards = append(cards, fitsio.Card{Name: KeyMJD, Value: ref.MJD, Comment: "[d] observation epoch"})
	}
	if !dateObs.IsZero() {
		cards = append(cards, fitsio.Card{
			Name:    KeyDateObs,
			Value:   dateObs.UTC().Format("2006-01-02T15:04:05.000"),
			Comment: "UTC start of exposure",
		})
	}

	var buf bytes.Buffer
	f, err := fitsio.Create(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating fits stream: %w", err)
	}
	hdr := fitsio.NewHeader(cards, fitsio.IMAGE_HDU, 8, []int{})
	phdu, err := fitsio.NewPrimaryHDU(hdr)
	if err != nil {
		return nil, fmt.Errorf("creating primary hdu: %w", err)
	}
	if err := f.Write(phdu); err != nil {
		return nil, fmt.Errorf("writing primary hdu: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing fits stream: %w", err)
	}
	return buf.Bytes(), nil
}
