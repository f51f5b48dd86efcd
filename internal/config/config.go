// Package config loads the YAML configuration of a fitting run.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/mosaicfit/core"
	"github.com/signalsfoundry/mosaicfit/internal/catalog"
	"github.com/signalsfoundry/mosaicfit/model"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config describes one fitting run.
type Config struct {
	// CatalogURL is the catalog locator template; see catalog.Template.
	CatalogURL   string `yaml:"catalog_url"`
	ReferenceURL string `yaml:"reference_url"`
	// CacheDir enables the on-disk retrieval cache when set.
	CacheDir  string `yaml:"cache_dir"`
	OutputDir string `yaml:"output_dir"`

	// OutputQuadrant selects the quadrant whose header is written. Negative
	// means the reference image's RCID.
	OutputQuadrant    int  `yaml:"output_quadrant"`
	WriteAllQuadrants bool `yaml:"write_all_quadrants"`

	MaxMag      float64       `yaml:"max_mag"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	Image struct {
		NAxis1 int `yaml:"naxis1"`
		NAxis2 int `yaml:"naxis2"`
	} `yaml:"image"`

	Refine struct {
		MaxIterations int     `yaml:"max_iterations"`
		Tolerance     float64 `yaml:"tolerance"`
	} `yaml:"refine"`

	// MetricsTextfile, when set, receives the run's metrics in the
	// Prometheus text format.
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	var c Config
	c.OutputDir = "."
	c.OutputQuadrant = -1
	c.HTTPTimeout = 60 * time.Second

	geom := model.DefaultGeometry()
	c.Image.NAxis1, c.Image.NAxis2 = geom.NAxis1, geom.NAxis2

	opts := core.DefaultRefineOptions()
	c.Refine.MaxIterations, c.Refine.Tolerance = opts.MaxIterations, opts.Tolerance
	return c
}

// Load reads a YAML file over the defaults. It does not validate.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the configuration is complete and consistent.
func (c Config) Validate() error {
	var errs []error
	if c.CatalogURL == "" {
		errs = append(errs, errors.New("catalog_url is required"))
	} else if err := catalog.Template(c.CatalogURL).Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ReferenceURL == "" {
		errs = append(errs, errors.New("reference_url is required"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	if c.OutputQuadrant >= model.NumQuadrants {
		errs = append(errs, fmt.Errorf("output_quadrant %d out of range [0,%d)", c.OutputQuadrant, model.NumQuadrants))
	}
	if c.MaxMag < 0 {
		errs = append(errs, fmt.Errorf("max_mag %g is negative", c.MaxMag))
	}
	if c.HTTPTimeout < 0 {
		errs = append(errs, fmt.Errorf("http_timeout %s is negative", c.HTTPTimeout))
	}
	if c.Image.NAxis1 <= 0 || c.Image.NAxis2 <= 0 {
		errs = append(errs, fmt.Errorf("image size %dx%d must be positive", c.Image.NAxis1, c.Image.NAxis2))
	}
	if c.Refine.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("refine.max_iterations %d is negative", c.Refine.MaxIterations))
	}
	if c.Refine.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("refine.tolerance %g must be positive", c.Refine.Tolerance))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Geometry returns the configured quadrant image size.
func (c Config) Geometry() model.ImageGeometry {
	return model.ImageGeometry{NAxis1: c.Image.NAxis1, NAxis2: c.Image.NAxis2}
}

// RefineOptions returns the configured refinement options.
func (c Config) RefineOptions() core.RefineOptions {
	return core.RefineOptions{MaxIterations: c.Refine.MaxIterations, Tolerance: c.Refine.Tolerance}
}
