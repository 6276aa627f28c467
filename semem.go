// Package semem is a semantic memory engine for LLM-backed applications:
// it remembers prompt/response interactions as embeddings plus extracted
// concepts, recalls them by a fused similarity/recency/access/concept
// score, and renders recalled interactions into a token-budgeted context
// window. See SPEC_FULL.md for the full component breakdown.
package semem

import (
	"context"
	"time"

	"github.com/danja/semem/context"
	"github.com/danja/semem/memory"
	"github.com/danja/semem/memory/store/cached"
	jsonstore "github.com/danja/semem/memory/store/json"
	"github.com/danja/semem/memory/store/sparql"
	"github.com/danja/semem/retrieval"
	"github.com/danja/semem/types"
)

// Embedder and LLM re-export the Memory Store's consumed interfaces at
// the package root, so callers need only import semem to implement an
// adapter.
type Embedder = memory.Embedder
type LLM = memory.LLM

// Engine is the assembled semantic memory engine: one Memory Store, one
// Retrieval Pipeline over it, and the Embedder/LLM pair used to turn raw
// text into the vectors and concepts Remember and Recall need.
type Engine struct {
	cfg      types.Config
	store    *memory.Store
	pipeline *retrieval.Pipeline
	embedder Embedder
	llm      LLM
}

// Option configures an Engine at construction time.
type Option func(*engineOptions)

type engineOptions struct {
	embedder Embedder
	llm      LLM
}

// WithEmbedder supplies the Embedder used to vectorize Remember/Recall
// text. Required unless the caller only uses the lower-level Store
// directly.
func WithEmbedder(e Embedder) Option {
	return func(o *engineOptions) { o.embedder = e }
}

// WithLLM supplies the LLM used for concept extraction and response
// generation.
func WithLLM(l LLM) Option {
	return func(o *engineOptions) { o.llm = l }
}

// New builds a PersistenceAdapter from cfg.StorageType, constructs the
// Memory Store over it, rehydrates from persisted state, and wraps it in
// a Retrieval Pipeline.
func New(ctx context.Context, cfg types.Config, opts ...Option) (*Engine, *types.Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	o := &engineOptions{}
	for _, opt := range opts {
		opt(o)
	}

	adapter, err := buildAdapter(cfg)
	if err != nil {
		return nil, nil, err
	}

	store, err := memory.New(cfg, adapter)
	if err != nil {
		adapter.Close()
		return nil, nil, err
	}

	outcome, err := store.Init(ctx)
	if err != nil {
		adapter.Close()
		return nil, outcome, err
	}

	return &Engine{
		cfg:      cfg,
		store:    store,
		pipeline: retrieval.New(store),
		embedder: o.embedder,
		llm:      o.llm,
	}, outcome, nil
}

func buildAdapter(cfg types.Config) (memory.PersistenceAdapter, error) {
	switch cfg.StorageType {
	case types.StorageJSON:
		interval := time.Duration(cfg.JSON.FlushIntervalMs) * time.Millisecond
		return jsonstore.New(cfg.JSON.Path, cfg.Dimension, interval), nil
	case types.StorageSPARQL:
		return sparql.New(cfg.SPARQL, cfg.Dimension), nil
	case types.StorageCachedSPARQL:
		backend := sparql.New(cfg.SPARQL, cfg.Dimension)
		return cached.New(backend, cfg.SPARQL.QueryEndpoint, cfg.Cache)
	default:
		return nil, types.NewError(types.InvalidArgument, "unknown storage type")
	}
}

// RememberOptions carries optional inputs to Remember. Concepts, when
// non-nil, are used as given and the LLM is not asked to extract any;
// the embedding always comes from the configured Embedder.
type RememberOptions struct {
	Concepts []string
	Metadata map[string]interface{}
}

// Remember vectorizes and stores one prompt/response interaction,
// returning its assigned id.
func (e *Engine) Remember(ctx context.Context, prompt, response string, opts RememberOptions) (string, error) {
	if e.embedder == nil {
		return "", types.NewError(types.InvalidArgument, "no embedder configured")
	}
	embedding, err := e.embedder.Embed(ctx, prompt+"\n"+response)
	if err != nil {
		return "", types.Wrap(types.StorageUnavailable, "embed interaction", err)
	}

	concepts := opts.Concepts
	if concepts == nil && e.llm != nil {
		concepts, err = e.llm.ExtractConcepts(ctx, prompt+"\n"+response)
		if err != nil {
			concepts = nil // concept extraction failure degrades gracefully, never blocks Remember
		}
	}

	return e.store.Remember(ctx, prompt, response, embedding, concepts, opts.Metadata)
}

// Recall embeds query and fuses it against stored interactions via the
// Retrieval Pipeline.
func (e *Engine) Recall(ctx context.Context, query string, opts memory.RecallOptions) ([]memory.RecallHit, *types.Outcome, error) {
	if e.embedder == nil {
		return nil, nil, types.NewError(types.InvalidArgument, "no embedder configured")
	}
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, nil, types.Wrap(types.StorageUnavailable, "embed recall query", err)
	}
	return e.pipeline.Recall(ctx, embedding, opts)
}

// Answer recalls relevant interactions for query, renders them into a
// token-budgeted context window, and asks the configured LLM to respond.
func (e *Engine) Answer(ctx context.Context, query string, recallOpts memory.RecallOptions, windowOpts window.BuildOptions) (string, *types.Outcome, error) {
	if e.llm == nil {
		return "", nil, types.NewError(types.InvalidArgument, "no llm configured")
	}
	hits, outcome, err := e.Recall(ctx, query, recallOpts)
	if err != nil {
		return "", outcome, err
	}

	interactions := make([]*types.Interaction, 0, len(hits))
	for _, h := range hits {
		interactions = append(interactions, h.Interaction)
	}
	if windowOpts.Estimator == nil {
		windowOpts.Estimator = window.EstimatorFor(e.cfg.Context.TokenEstimator)
	}
	if windowOpts.MaxTokens == 0 {
		windowOpts.MaxTokens = e.cfg.Context.DefaultMaxTokens
	}
	contextText := window.BuildContext(interactions, windowOpts)

	response, err := e.llm.GenerateResponse(ctx, query, contextText)
	if err != nil {
		return "", outcome, types.Wrap(types.StorageUnavailable, "generate response", err)
	}
	return response, outcome, nil
}

// FindByConcept returns every interaction carrying concept.
func (e *Engine) FindByConcept(concept string) []*types.Interaction {
	return e.store.FindByConcept(concept)
}

// Store exposes the underlying Memory Store for callers that need its
// lower-level Promote/Decay hooks.
func (e *Engine) Store() *memory.Store {
	return e.store
}

// Close flushes and releases the underlying Persistence Adapter.
func (e *Engine) Close(ctx context.Context) error {
	return e.store.Dispose(ctx)
}

// ExportSnapshot serializes every currently-held interaction into the
// same JSON snapshot format the json backend persists, independent of
// which StorageType is actually configured - a portable backup/migration
// format.
func (e *Engine) ExportSnapshot() ([]byte, error) {
	return jsonstore.Encode(e.cfg.Dimension, e.store.All())
}

// ImportSnapshot decodes a snapshot produced by ExportSnapshot (or any
// valid json-backend snapshot file) and re-remembers every interaction
// it contains, preserving embeddings and concepts but assigning fresh
// ids and current bookkeeping via Remember's normal path.
func (e *Engine) ImportSnapshot(ctx context.Context, data []byte) (int, error) {
	_, interactions, err := jsonstore.Decode(data)
	if err != nil {
		return 0, err
	}
	imported := 0
	for _, in := range interactions {
		if len(in.Embedding) != e.cfg.Dimension {
			continue
		}
		if _, err := e.store.Remember(ctx, in.Prompt, in.Response, in.Embedding, in.Concepts, in.Metadata); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
