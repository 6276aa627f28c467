package memory

import (
	"context"

	"github.com/danja/semem/types"
)

// PersistenceAdapter is the Persistence Adapter's capability interface.
// The two production backends (json, sparql) and the cached decorator
// all satisfy it; Memory Store depends only on this interface, never on
// a concrete backend - avoiding the source's runtime type-string dispatch
// per the spec's re-architecture guidance.
type PersistenceAdapter interface {
	// LoadAll returns every persisted interaction ordered by timestamp
	// ascending.
	LoadAll(ctx context.Context) ([]*types.Interaction, *types.Outcome, error)

	// Append durably stores a newly-created interaction.
	Append(ctx context.Context, interaction *types.Interaction) error

	// Update writes back access-count/decay bookkeeping for an existing
	// interaction. May be best-effort batched by the backend.
	Update(ctx context.Context, interaction *types.Interaction) error

	// Query is an opaque pass-through for external consumers; the core
	// does not interpret the predicate or the returned rows.
	Query(ctx context.Context, predicate string) ([]byte, error)

	Flush(ctx context.Context) error
	Close() error
}

// Embedder is the consumed embedding interface. Deterministic output for
// the same (model, text) pair is not required.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// LLM is the consumed language-model interface: concept extraction and
// response generation. Concept extraction may return between 0 and ~20
// strings; an empty result is tolerated, never an error on its own.
type LLM interface {
	ExtractConcepts(ctx context.Context, text string) ([]string, error)
	GenerateResponse(ctx context.Context, prompt, context string) (string, error)
}
