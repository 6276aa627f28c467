// Package vector implements the Vector Index: a fixed-dimension
// approximate nearest-neighbour search over cosine similarity, backed by
// an in-process chromem-go collection the way the teacher SDK's
// ChromemStore backs agent memory search.
package vector

import (
	"context"
	"fmt"
	"math"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/danja/semem/types"
)

// Index is the Vector Index component. One Index serves one configured
// dimension; vectors of a different length are handled per the
// configured AdaptationPolicy.
type Index struct {
	mu         sync.RWMutex
	dimension  int
	policy     types.AdaptationPolicy
	db         *chromem.DB
	collection *chromem.Collection

	// order and meta back the insertion-order tie-break and getMetadata;
	// chromem itself has no notion of either.
	order    []string // ids in insertion order, oldest first
	meta     map[string]types.VectorType
	tombstoned map[string]struct{}
}

// New creates a Vector Index for the given dimension and adaptation
// policy.
func New(dimension int, policy types.AdaptationPolicy) (*Index, error) {
	if dimension <= 0 {
		return nil, types.NewError(types.InvalidArgument, "dimension must be positive")
	}
	db := chromem.NewDB()
	col, err := db.CreateCollection("vectors", nil, nil)
	if err != nil {
		return nil, types.Wrap(types.StorageUnavailable, "create vector collection", err)
	}
	return &Index{
		dimension:  dimension,
		policy:     policy,
		db:         db,
		collection: col,
		meta:       make(map[string]types.VectorType),
		tombstoned: make(map[string]struct{}),
	}, nil
}

// Size returns the number of live (non-removed) entries.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, id := range idx.order {
		if _, dead := idx.tombstoned[id]; !dead {
			n++
		}
	}
	return n
}

// Has reports whether id is currently a live entry.
func (idx *Index) Has(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if _, dead := idx.tombstoned[id]; dead {
		return false
	}
	_, ok := idx.meta[id]
	return ok
}

// GetMetadata returns the VectorType recorded for id.
func (idx *Index) GetMetadata(id string) (types.VectorType, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if _, dead := idx.tombstoned[id]; dead {
		return "", false
	}
	t, ok := idx.meta[id]
	return t, ok
}

// Add inserts or replaces the vector for id. A zero-norm vector fails
// with InvalidVector. A length mismatch is handled per the Index's
// AdaptationPolicy.
func (idx *Index) Add(ctx context.Context, id string, vec []float32, vtype types.VectorType) error {
	adapted, warned, err := idx.adaptLength(vec)
	if err != nil {
		return err
	}

	normalized, norm := l2Normalize(adapted)
	if norm == 0 {
		return types.NewError(types.InvalidVector, "zero-norm vector")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	doc := chromem.Document{
		ID:        id,
		Embedding: normalized,
		Metadata:  map[string]string{"type": string(vtype)},
	}
	if err := idx.collection.AddDocument(ctx, doc); err != nil {
		return types.Wrap(types.StorageUnavailable, "add vector document", err)
	}

	if _, existed := idx.meta[id]; !existed {
		idx.order = append(idx.order, id)
	}
	delete(idx.tombstoned, id)
	idx.meta[id] = vtype

	_ = warned // surfaced to the caller by Memory Store's Init path, not here
	return nil
}

// Remove tombstones id. chromem-go has no delete primitive; a tombstoned
// id is filtered out of every subsequent Search result.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tombstoned[id] = struct{}{}
}

// SearchOptions narrows a Search call.
type SearchOptions struct {
	Types []types.VectorType // empty = no type filter
}

// Search returns the top k entries by descending cosine similarity,
// tie-broken by insertion order (older first). Search on an empty index
// returns an empty slice, never an error.
func (idx *Index) Search(ctx context.Context, query []float32, k int, opts SearchOptions) ([]types.SearchHit, error) {
	if k <= 0 {
		return nil, nil
	}

	adapted, _, err := idx.adaptLength(query)
	if err != nil {
		return nil, err
	}
	normalized, norm := l2Normalize(adapted)
	if norm == 0 {
		return nil, types.NewError(types.InvalidVector, "zero-norm query vector")
	}

	idx.mu.RLock()
	totalCount := len(idx.order) // chromem never shrinks; tombstones are our own bookkeeping
	liveCount := 0
	for _, id := range idx.order {
		if _, dead := idx.tombstoned[id]; !dead {
			liveCount++
		}
	}
	if liveCount == 0 {
		idx.mu.RUnlock()
		return nil, nil
	}

	rank := make(map[string]int, len(idx.order))
	for i, id := range idx.order {
		rank[id] = i
	}
	idx.mu.RUnlock()

	// Fetch every document chromem knows about (including tombstoned
	// ones) so filtering afterwards never starves a legitimate result.
	results, err := idx.collection.QueryEmbedding(ctx, normalized, totalCount, nil, nil)
	if err != nil {
		return nil, types.Wrap(types.StorageUnavailable, "vector search", err)
	}

	typeFilter := make(map[types.VectorType]struct{}, len(opts.Types))
	for _, t := range opts.Types {
		typeFilter[t] = struct{}{}
	}

	idx.mu.RLock()
	hits := make([]types.SearchHit, 0, len(results))
	for _, r := range results {
		if _, dead := idx.tombstoned[r.ID]; dead {
			continue
		}
		vt := idx.meta[r.ID]
		if len(typeFilter) > 0 {
			if _, ok := typeFilter[vt]; !ok {
				continue
			}
		}
		hits = append(hits, types.SearchHit{ID: r.ID, Type: vt, Similarity: r.Similarity})
	}
	idx.mu.RUnlock()

	sortHits(hits, rank)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// adaptLength applies the Index's AdaptationPolicy to vec, returning the
// adapted slice and whether an adaptation actually happened.
func (idx *Index) adaptLength(vec []float32) ([]float32, bool, error) {
	if len(vec) == idx.dimension {
		return vec, false, nil
	}
	if idx.policy == types.Strict {
		return nil, false, types.NewError(types.DimensionMismatch,
			fmt.Sprintf("vector length %d != configured dimension %d", len(vec), idx.dimension))
	}
	adapted := make([]float32, idx.dimension)
	copy(adapted, vec) // truncates if vec is longer, zero-pads if shorter
	return adapted, true, nil
}

func l2Normalize(vec []float32) ([]float32, float64) {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return vec, 0
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, norm
}

// sortHits orders by descending similarity, ties broken by insertion
// order (lower rank = older = wins).
func sortHits(hits []types.SearchHit, rank map[string]int) {
	for i := 1; i < len(hits); i++ {
		j := i
		for j > 0 && less(hits[j], hits[j-1], rank) {
			hits[j], hits[j-1] = hits[j-1], hits[j]
			j--
		}
	}
}

func less(a, b types.SearchHit, rank map[string]int) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	return rank[a.ID] < rank[b.ID]
}
