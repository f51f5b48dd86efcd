// Package catalog loads per-quadrant star catalogs and the reference image
// header from FITS files.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/astrogo/fitsio"

	"github.com/signalsfoundry/mosaicfit/internal/fetch"
	"github.com/signalsfoundry/mosaicfit/internal/logging"
	"github.com/signalsfoundry/mosaicfit/model"
)

// ErrMalformedCatalog is returned for catalogs that cannot be parsed or lack
// required content.
var ErrMalformedCatalog = errors.New("malformed catalog")

// Catalog column names, matched case-insensitively.
const (
	ColRA  = "ra"
	ColDec = "dec"
	ColX   = "xpos"
	ColY   = "ypos"
	ColMag = "mag"
)

var requiredColumns = []string{ColRA, ColDec, ColX, ColY}

// Loader reads the catalogs of a set of quadrants.
type Loader struct {
	Fetcher  fetch.Fetcher
	Template Template
	// MaxMag drops stars fainter than this magnitude when positive and the
	// catalog has a mag column.
	MaxMag float64
	Log    logging.Logger
	// OnQuadrant is called after each quadrant is loaded, if set.
	OnQuadrant func(q model.QuadrantID, stars int)
}

// Load fetches and parses the catalog of every quadrant, in order, and
// returns the concatenated observations. Any failure aborts the load.
func (l *Loader) Load(ctx context.Context, quadrants []model.QuadrantID) ([]model.Observation, error) {
	log := l.Log
	if log == nil {
		log = logging.Noop()
	}

	var all []model.Observation
	for _, q := range quadrants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		locator := l.Template.Locator(q)
		data, err := l.Fetcher.Fetch(ctx, locator)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", q, err)
		}
		obs, err := Parse(data, q, l.MaxMag)
		if err != nil {
			return nil, fmt.Errorf("catalog %s (%s): %w", q, locator, err)
		}
		log.Debug(ctx, "catalog loaded",
			logging.String("quadrant", q.String()),
			logging.String("locator", locator),
			logging.Int("stars", len(obs)),
		)
		if l.OnQuadrant != nil {
			l.OnQuadrant(q, len(obs))
		}
		all = append(all, obs...)
	}
	return all, nil
}

// Parse decodes the first binary table of a FITS catalog into observations on
// quadrant q. Rows fainter than maxMag are skipped when maxMag > 0.
func Parse(data []byte, q model.QuadrantID, maxMag float64) ([]model.Observation, error) {
	f, err := fitsio.Open(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
	}
	defer f.Close()

	var tbl *fitsio.Table
	for _, hdu := range f.HDUs() {
		if t, ok := hdu.(*fitsio.Table); ok {
			tbl = t
			break
		}
	}
	if tbl == nil {
		return nil, fmt.Errorf("%w: no table extension", ErrMalformedCatalog)
	}

	names := columnNames(tbl)
	for _, c := range requiredColumns {
		if names[c] == "" {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformedCatalog, c)
		}
	}
	if tbl.NumRows() == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrMalformedCatalog)
	}

	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
	}
	defer rows.Close()

	obs := make([]model.Observation, 0, tbl.NumRows())
	for rows.Next() {
		row := make(map[string]interface{}, len(names))
		for _, name := range names {
			row[name] = nil
		}
		if err := rows.Scan(&row); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
		}

		o := model.Observation{Quadrant: q}
		fields := []struct {
			col string
			dst *float64
		}{
			{ColRA, &o.RA}, {ColDec, &o.Dec}, {ColX, &o.XLocal}, {ColY, &o.YLocal},
		}
		for _, fld := range fields {
			v, ok := toFloat(row[names[fld.col]])
			if !ok {
				return nil, fmt.Errorf("%w: column %q is not numeric", ErrMalformedCatalog, fld.col)
			}
			*fld.dst = v
		}
		if name := names[ColMag]; name != "" {
			if v, ok := toFloat(row[name]); ok {
				o.Mag, o.HasMag = v, true
			}
		}
		if maxMag > 0 && o.HasMag && o.Mag > maxMag {
			continue
		}
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: no stars left after magnitude cut %g", ErrMalformedCatalog, maxMag)
	}
	return obs, nil
}

// columnNames maps the lower-cased names of the known columns to their
// spelling in the table.
func columnNames(tbl *fitsio.Table) map[string]string {
	names := make(map[string]string, len(requiredColumns)+1)
	for _, c := range tbl.Cols() {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		switch key {
		case ColRA, ColDec, ColX, ColY, ColMag:
			if _, seen := names[key]; !seen {
				names[key] = c.Name
			}
		}
	}
	return names
}

// toFloat converts any scalar numeric FITS value to float64.
func toFloat(v interface{}) (float64, bool) {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return 0, false
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return 0, false
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	return 0, false
}
