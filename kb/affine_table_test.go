package kb

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/mosaicfit/model"
)

func TestBuildAndGet(t *testing.T) {
	b := NewTableBuilder([]model.QuadrantID{3, 1})
	if err := b.Set(1, model.AffineModel{CD11: 1, CD22: 1, CRPix1: 10}); err != nil {
		t.Fatalf("Set(1): %v", err)
	}
	if err := b.Set(3, model.AffineModel{CD11: 2, CD22: 2}); err != nil {
		t.Fatalf("Set(3): %v", err)
	}

	table, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, err := table.Get(1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	if got.CRPix1 != 10 {
		t.Fatalf("Get(1).CRPix1 = %v, want 10", got.CRPix1)
	}
	qs := table.Quadrants()
	if len(qs) != 2 || qs[0] != 1 || qs[1] != 3 {
		t.Fatalf("Quadrants() = %v, want [1 3]", qs)
	}
}

func TestSetDuplicate(t *testing.T) {
	b := NewTableBuilder([]model.QuadrantID{0})
	if err := b.Set(0, model.AffineModel{}); err != nil {
		t.Fatalf("first Set: %v", err)
	}
	if err := b.Set(0, model.AffineModel{}); !errors.Is(err, ErrQuadrantExists) {
		t.Fatalf("second Set error = %v, want ErrQuadrantExists", err)
	}
}

func TestSetInvalidQuadrant(t *testing.T) {
	b := NewTableBuilder(nil)
	if err := b.Set(64, model.AffineModel{}); !errors.Is(err, ErrInvalidQuadrant) {
		t.Fatalf("Set(64) error = %v, want ErrInvalidQuadrant", err)
	}
}

func TestBuildIncomplete(t *testing.T) {
	b := NewTableBuilder(model.AllQuadrants())
	for _, q := range model.AllQuadrants()[:63] {
		if err := b.Set(q, model.AffineModel{CD11: 1, CD22: 1}); err != nil {
			t.Fatalf("Set(%s): %v", q, err)
		}
	}
	if _, err := b.Build(); !errors.Is(err, ErrIncompleteTable) {
		t.Fatalf("Build error = %v, want ErrIncompleteTable", err)
	}
}

func TestBuildUnexpectedQuadrant(t *testing.T) {
	b := NewTableBuilder([]model.QuadrantID{0})
	_ = b.Set(0, model.AffineModel{})
	_ = b.Set(5, model.AffineModel{})
	if _, err := b.Build(); !errors.Is(err, ErrInvalidQuadrant) {
		t.Fatalf("Build error = %v, want ErrInvalidQuadrant", err)
	}
}

func TestTableIsImmutable(t *testing.T) {
	b := NewTableBuilder([]model.QuadrantID{0})
	_ = b.Set(0, model.AffineModel{CD11: 1})
	table, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	qs := table.Quadrants()
	qs[0] = 42
	if table.Quadrants()[0] != 0 {
		t.Fatalf("mutating Quadrants() result leaked into the table")
	}

	// Further builder activity must not reach an already built table.
	_ = b.Set(1, model.AffineModel{})
	if _, err := table.Get(1); !errors.Is(err, ErrQuadrantNotFound) {
		t.Fatalf("Get(1) error = %v, want ErrQuadrantNotFound", err)
	}
}

func TestGetMissing(t *testing.T) {
	var table *AffineTable
	if _, err := table.Get(0); !errors.Is(err, ErrQuadrantNotFound) {
		t.Fatalf("nil table Get error = %v, want ErrQuadrantNotFound", err)
	}
}
