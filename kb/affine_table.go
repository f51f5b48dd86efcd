// Package kb holds the solved per-quadrant affine models.
package kb

import (
	"errors"
	"fmt"
	"sort"

	"github.com/signalsfoundry/mosaicfit/model"
)

var (
	ErrQuadrantExists   = errors.New("quadrant already has an affine model")
	ErrQuadrantNotFound = errors.New("quadrant not found in affine table")
	ErrIncompleteTable  = errors.New("affine table is incomplete")
	ErrInvalidQuadrant  = errors.New("invalid quadrant id")
)

// AffineTable is an immutable mapping from quadrant to affine model. It is
// only obtainable from TableBuilder.Build, which guarantees that every
// expected quadrant is present.
type AffineTable struct {
	models    map[model.QuadrantID]model.AffineModel
	quadrants []model.QuadrantID
}

// Get returns the affine model for q.
func (t *AffineTable) Get(q model.QuadrantID) (model.AffineModel, error) {
	if t == nil {
		return model.AffineModel{}, fmt.Errorf("%w: %s (nil table)", ErrQuadrantNotFound, q)
	}
	m, ok := t.models[q]
	if !ok {
		return model.AffineModel{}, fmt.Errorf("%w: %s", ErrQuadrantNotFound, q)
	}
	return m, nil
}

// Quadrants returns the quadrants covered by the table in ascending order.
func (t *AffineTable) Quadrants() []model.QuadrantID {
	return append([]model.QuadrantID(nil), t.quadrants...)
}

// Len returns the number of quadrants in the table.
func (t *AffineTable) Len() int { return len(t.quadrants) }

// TableBuilder accumulates affine models before freezing them into an
// AffineTable.
type TableBuilder struct {
	expected []model.QuadrantID
	models   map[model.QuadrantID]model.AffineModel
}

// NewTableBuilder starts a table that must end up covering exactly expected.
func NewTableBuilder(expected []model.QuadrantID) *TableBuilder {
	return &TableBuilder{
		expected: append([]model.QuadrantID(nil), expected...),
		models:   make(map[model.QuadrantID]model.AffineModel, len(expected)),
	}
}

// Set records the model for q. Each quadrant may only be set once.
func (b *TableBuilder) Set(q model.QuadrantID, m model.AffineModel) error {
	if !q.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidQuadrant, int(q))
	}
	if _, exists := b.models[q]; exists {
		return fmt.Errorf("%w: %s", ErrQuadrantExists, q)
	}
	b.models[q] = m
	return nil
}

// Build freezes the table. It fails if any expected quadrant is missing or if
// models were recorded for quadrants outside the expected set.
func (b *TableBuilder) Build() (*AffineTable, error) {
	want := make(map[model.QuadrantID]struct{}, len(b.expected))
	var missing []model.QuadrantID
	for _, q := range b.expected {
		want[q] = struct{}{}
		if _, ok := b.models[q]; !ok {
			missing = append(missing, q)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %v", ErrIncompleteTable, missing)
	}
	for q := range b.models {
		if _, ok := want[q]; !ok {
			return nil, fmt.Errorf("%w: unexpected %s", ErrInvalidQuadrant, q)
		}
	}

	models := make(map[model.QuadrantID]model.AffineModel, len(b.models))
	quadrants := make([]model.QuadrantID, 0, len(b.models))
	for q, m := range b.models {
		models[q] = m
		quadrants = append(quadrants, q)
	}
	sort.Slice(quadrants, func(i, j int) bool { return quadrants[i] < quadrants[j] })
	return &AffineTable{models: models, quadrants: quadrants}, nil
}
