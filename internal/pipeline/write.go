package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/signalsfoundry/mosaicfit/internal/header"
	"github.com/signalsfoundry/mosaicfit/model"
)

// WriteHeaders writes the header of each quadrant into dir and returns the
// written paths in order.
func WriteHeaders(sol *Solution, geom model.ImageGeometry, dir string, quadrants []model.QuadrantID) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", header.ErrWrite, err)
	}
	paths := make([]string, 0, len(quadrants))
	for _, q := range quadrants {
		a, err := sol.Table.Get(q)
		if err != nil {
			return paths, fmt.Errorf("header %s: %w", q, err)
		}
		path := filepath.Join(dir, header.FileName(q))
		if err := header.WriteFile(path, header.Build(geom, sol.Reference, a, sol.Distortion)); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
