// Package header renders fitted solutions as FITS-style text headers.
package header

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/signalsfoundry/mosaicfit/model"
)

// ErrWrite wraps failures to produce an output header file.
var ErrWrite = errors.New("header write failed")

// ErrParse is returned by Parse for lines that are not header cards.
var ErrParse = errors.New("invalid header card")

const (
	cardWidth  = 80
	keyWidth   = 8
	valueWidth = 20
	endKey     = "END"
)

// Card is one keyword record. Value is an int, float64 or string.
type Card struct {
	Key     string
	Value   interface{}
	Comment string
}

// Document is an ordered list of cards.
type Document struct {
	Cards []Card
}

// Get returns the card with the given key.
func (d Document) Get(key string) (Card, bool) {
	for _, c := range d.Cards {
		if c.Key == key {
			return c, true
		}
	}
	return Card{}, false
}

// Float returns the numeric value of key.
func (d Document) Float(key string) (float64, bool) {
	c, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	switch v := c.Value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Keys returns the card keys in order.
func (d Document) Keys() []string {
	keys := make([]string, len(d.Cards))
	for i, c := range d.Cards {
		keys[i] = c.Key
	}
	return keys
}

// PVKey returns the keyword of TPV coefficient term on axis (1 or 2).
func PVKey(axis, term int) string {
	return fmt.Sprintf("PV%d_%d", axis, term)
}

// Build assembles the header of one quadrant.
func Build(geom model.ImageGeometry, ref model.Reference, affine model.AffineModel, dist model.Distortion) Document {
	cards := []Card{
		{"NAXIS", 2, "number of data axes"},
		{"NAXIS1", geom.NAxis1, "length of data axis 1"},
		{"NAXIS2", geom.NAxis2, "length of data axis 2"},
		{"CTYPE1", "RA---TPV", "TPV distortion"},
		{"CTYPE2", "DEC--TPV", "TPV distortion"},
		{"RADESYS", "ICRS", "reference frame"},
		{"EQUINOX", 2000.0, "equinox of the reference frame"},
		{"CRVAL1", ref.Sky.RA, "[deg] RA of the tangent point"},
		{"CRVAL2", ref.Sky.Dec, "[deg] Dec of the tangent point"},
		{"CRPIX1", affine.CRPix1, "[pix] x of the tangent point"},
		{"CRPIX2", affine.CRPix2, "[pix] y of the tangent point"},
		{"CD1_1", affine.CD11, "[deg/pix] linear transformation"},
		{"CD1_2", affine.CD12, "[deg/pix] linear transformation"},
		{"CD2_1", affine.CD21, "[deg/pix] linear transformation"},
		{"CD2_2", affine.CD22, "[deg/pix] linear transformation"},
	}
	for _, axis := range []struct {
		n  int
		pv *[model.NumTPVTerms]float64
	}{{1, &dist.PV1}, {2, &dist.PV2}} {
		for _, term := range model.EmittedTerms {
			cards = append(cards, Card{PVKey(axis.n, term), axis.pv[term], "TPV distortion coefficient"})
		}
	}
	if ref.HasMJD {
		cards = append(cards, Card{"MJD-OBS", ref.MJD, "[d] modified Julian date of observation"})
	}
	return Document{Cards: cards}
}

// FileName returns the output name of the header of quadrant rcid.
func FileName(rcid model.QuadrantID) string {
	return fmt.Sprintf("rc%02d.head", int(rcid))
}

// Marshal renders the document as 80-column card lines terminated by END.
// The output depends only on the document.
func Marshal(d Document) ([]byte, error) {
	var buf bytes.Buffer
	for _, c := range d.Cards {
		line, err := formatCard(c)
		if err != nil {
			return nil, err
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteString(pad(endKey))
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// WriteFile writes d to path, replacing any existing file.
func WriteFile(path string, d Document) error {
	data, err := Marshal(d)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

func formatCard(c Card) (string, error) {
	if c.Key == "" || len(c.Key) > keyWidth {
		return "", fmt.Errorf("keyword %q must be 1-%d characters", c.Key, keyWidth)
	}
	var value string
	switch v := c.Value.(type) {
	case int:
		value = fmt.Sprintf("%*d", valueWidth, v)
	case float64:
		value = fmt.Sprintf("%*.13E", valueWidth, v)
	case string:
		s := "'" + strings.ReplaceAll(v, "'", "''")
		for len(s) < 9 {
			s += " "
		}
		value = fmt.Sprintf("%-*s", valueWidth, s+"'")
	default:
		return "", fmt.Errorf("keyword %s: unsupported value type %T", c.Key, c.Value)
	}
	line := fmt.Sprintf("%-*s= %s", keyWidth, c.Key, value)
	if c.Comment != "" {
		line += " / " + c.Comment
	}
	return pad(line), nil
}

// pad cuts or fills s to exactly one card.
func pad(s string) string {
	if len(s) > cardWidth {
		return s[:cardWidth]
	}
	return s + strings.Repeat(" ", cardWidth-len(s))
}

// Parse reads a document written by Marshal. Parsing stops at END.
func Parse(data []byte) (Document, error) {
	var d Document
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if strings.TrimSpace(line) == endKey {
			return d, nil
		}
		if len(line) < keyWidth+2 || line[keyWidth:keyWidth+2] != "= " {
			return Document{}, fmt.Errorf("%w: line %d: %q", ErrParse, n, line)
		}
		c := Card{Key: strings.TrimSpace(line[:keyWidth])}
		rest := line[keyWidth+2:]

		if s := strings.TrimLeft(rest, " "); strings.HasPrefix(s, "'") {
			str, tail, err := parseString(s)
			if err != nil {
				return Document{}, fmt.Errorf("%w: line %d: %v", ErrParse, n, err)
			}
			c.Value, rest = str, tail
		} else {
			field, tail, _ := strings.Cut(rest, "/")
			field = strings.TrimSpace(field)
			if i, err := strconv.Atoi(field); err == nil {
				c.Value = i
			} else if f, err := strconv.ParseFloat(field, 64); err == nil {
				c.Value = f
			} else {
				return Document{}, fmt.Errorf("%w: line %d: value %q", ErrParse, n, field)
			}
			rest = "/" + tail
		}
		if _, comment, ok := strings.Cut(rest, "/"); ok {
			c.Comment = strings.TrimSpace(comment)
		}
		d.Cards = append(d.Cards, c)
	}
	if err := sc.Err(); err != nil {
		return Document{}, err
	}
	return Document{}, fmt.Errorf("%w: missing END", ErrParse)
}

func parseString(s string) (value, rest string, err error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		if s[i] != '\'' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '\'' {
			b.WriteByte('\'')
			i++
			continue
		}
		return strings.TrimRight(b.String(), " "), s[i+1:], nil
	}
	return "", "", fmt.Errorf("unterminated string")
}
