package vector_test

import (
	"context"
	"testing"

	"github.com/danja/semem/types"
	"github.com/danja/semem/vector"
)

func unitVector(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot%dim] = 1.0
	return v
}

func TestIndex_AddAndSearch(t *testing.T) {
	ctx := context.Background()
	idx, err := vector.New(4, types.Strict)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := idx.Add(ctx, "a", unitVector(4, 0), types.VectorInteraction); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if err := idx.Add(ctx, "b", unitVector(4, 1), types.VectorInteraction); err != nil {
		t.Fatalf("Add b: %v", err)
	}

	hits, err := idx.Search(ctx, unitVector(4, 0), 2, vector.SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "a" {
		t.Errorf("expected closest hit to be 'a', got %q", hits[0].ID)
	}
}

func TestIndex_RemoveTombstonesResult(t *testing.T) {
	ctx := context.Background()
	idx, err := vector.New(4, types.Strict)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := idx.Add(ctx, "a", unitVector(4, 0), types.VectorInteraction); err != nil {
		t.Fatalf("Add: %v", err)
	}
	idx.Remove("a")

	if idx.Has("a") {
		t.Error("expected 'a' to no longer be live after Remove")
	}
	if idx.Size() != 0 {
		t.Errorf("expected size 0 after removing only entry, got %d", idx.Size())
	}

	hits, err := idx.Search(ctx, unitVector(4, 0), 5, vector.SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected tombstoned entry to be excluded from search, got %d hits", len(hits))
	}
}

func TestIndex_StrictDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx, err := vector.New(4, types.Strict)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = idx.Add(ctx, "a", unitVector(8, 0), types.VectorInteraction)
	if err == nil {
		t.Fatal("expected dimension mismatch error under Strict policy")
	}
	semErr, ok := err.(*types.Error)
	if !ok || semErr.Kind != types.DimensionMismatch {
		t.Errorf("expected DimensionMismatch error, got %v", err)
	}
}

func TestIndex_AdaptPolicyPadsShortVector(t *testing.T) {
	ctx := context.Background()
	idx, err := vector.New(4, types.Adapt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	short := []float32{1, 0}
	if err := idx.Add(ctx, "a", short, types.VectorInteraction); err != nil {
		t.Fatalf("Add under Adapt policy: %v", err)
	}
	if !idx.Has("a") {
		t.Error("expected adapted vector to be stored")
	}
}

func TestIndex_ZeroNormVectorRejected(t *testing.T) {
	ctx := context.Background()
	idx, err := vector.New(4, types.Strict)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = idx.Add(ctx, "a", []float32{0, 0, 0, 0}, types.VectorInteraction)
	if err == nil {
		t.Fatal("expected error for zero-norm vector")
	}
	semErr, ok := err.(*types.Error)
	if !ok || semErr.Kind != types.InvalidVector {
		t.Errorf("expected InvalidVector error, got %v", err)
	}
}

func TestIndex_SearchEmptyIndex(t *testing.T) {
	ctx := context.Background()
	idx, err := vector.New(4, types.Strict)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hits, err := idx.Search(ctx, unitVector(4, 0), 5, vector.SearchOptions{})
	if err != nil {
		t.Fatalf("Search on empty index should not error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits on empty index, got %d", len(hits))
	}
}

func TestIndex_SearchTypeFilter(t *testing.T) {
	ctx := context.Background()
	idx, err := vector.New(4, types.Strict)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := idx.Add(ctx, "a", unitVector(4, 0), types.VectorInteraction); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if err := idx.Add(ctx, "b", unitVector(4, 0), types.VectorType("other")); err != nil {
		t.Fatalf("Add b: %v", err)
	}

	hits, err := idx.Search(ctx, unitVector(4, 0), 5, vector.SearchOptions{Types: []types.VectorType{types.VectorInteraction}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a" {
		t.Errorf("expected only 'a' to match type filter, got %+v", hits)
	}
}
