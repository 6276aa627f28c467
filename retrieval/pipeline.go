// Package retrieval is the Retrieval Pipeline: the spec-named external
// entry point for recall. The fused-scoring algorithm itself lives in
// memory.Store.Recall (see SPEC_FULL.md §4.4) because it runs over the
// Store's unexported tier tables under the Store's own lock, and applies
// reinforcement in the same critical section; Pipeline is a thin wrapper giving
// callers the component name the spec uses without re-exposing Memory
// Store's internals.
package retrieval

import (
	"context"

	"github.com/danja/semem/memory"
	"github.com/danja/semem/types"
)

// Pipeline orchestrates retrieval over a Memory Store.
type Pipeline struct {
	store *memory.Store
}

// New wraps an initialized Memory Store as a Retrieval Pipeline.
func New(store *memory.Store) *Pipeline {
	return &Pipeline{store: store}
}

// Recall fuses vector similarity, temporal decay, access reinforcement
// and concept overlap, and returns the top K interactions above
// threshold plus an Outcome carrying any Degraded / partial-result
// warnings. An empty result is a valid outcome, never an error.
func (p *Pipeline) Recall(ctx context.Context, queryEmbedding []float32, opts memory.RecallOptions) ([]memory.RecallHit, *types.Outcome, error) {
	return p.store.Recall(ctx, queryEmbedding, opts)
}
