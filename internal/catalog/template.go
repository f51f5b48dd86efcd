package catalog

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/mosaicfit/model"
)

// Template is a catalog locator with placeholders for the quadrant:
// {ccd} (two digits), {qid} (one digit) and {rcid} (two digits).
type Template string

// Placeholders recognised by Template.
const (
	PlaceholderCCD  = "{ccd}"
	PlaceholderQID  = "{qid}"
	PlaceholderRCID = "{rcid}"
)

// Locator returns the catalog locator of quadrant q.
func (t Template) Locator(q model.QuadrantID) string {
	r := strings.NewReplacer(
		PlaceholderCCD, fmt.Sprintf("%02d", q.CCD()),
		PlaceholderQID, fmt.Sprintf("%d", q.QID()),
		PlaceholderRCID, fmt.Sprintf("%02d", int(q)),
	)
	return r.Replace(string(t))
}

// Validate reports whether the template distinguishes all quadrants.
func (t Template) Validate() error {
	s := string(t)
	if s == "" {
		return fmt.Errorf("catalog template is empty")
	}
	hasRCID := strings.Contains(s, PlaceholderRCID)
	hasPair := strings.Contains(s, PlaceholderCCD) && strings.Contains(s, PlaceholderQID)
	if !hasRCID && !hasPair {
		return fmt.Errorf("catalog template %q needs %s or both %s and %s", s, PlaceholderRCID, PlaceholderCCD, PlaceholderQID)
	}
	return nil
}
