package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/danja/semem/types"
	"github.com/danja/semem/vector"
)

// Store is the Memory Store: authoritative in-memory state for
// interactions, tiering, decay and concept lookup, with durable
// write-through via a PersistenceAdapter. A single process-wide instance
// is assumed; it is not enforced at the type level, per SPEC_FULL.md §9.
type Store struct {
	mu sync.RWMutex

	short map[string]*types.Interaction
	long  map[string]*types.Interaction

	concepts map[string]*types.ConceptIndexEntry

	index   *vector.Index
	adapter PersistenceAdapter

	cfg types.Config
}

// New constructs a Memory Store. Init must be called before any other
// method to rehydrate state from the PersistenceAdapter.
func New(cfg types.Config, adapter PersistenceAdapter) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	idx, err := vector.New(cfg.Dimension, cfg.VectorAdaptationPolicy)
	if err != nil {
		return nil, err
	}
	return &Store{
		short:    make(map[string]*types.Interaction),
		long:     make(map[string]*types.Interaction),
		concepts: make(map[string]*types.ConceptIndexEntry),
		index:    idx,
		adapter:  adapter,
		cfg:      cfg,
	}, nil
}

// Init loads every persisted interaction, rebuilds the concept index and
// the vector index. Persisted embeddings whose length disagrees with the
// configured dimension are adapted per cfg.VectorAdaptationPolicy; under
// Strict this surfaces as DimensionMismatch.
func (s *Store) Init(ctx context.Context) (*types.Outcome, error) {
	interactions, outcome, err := s.adapter.LoadAll(ctx)
	if err != nil {
		return outcome, types.Wrap(types.StorageUnavailable, "load persisted interactions", err)
	}
	if outcome == nil {
		outcome = &types.Outcome{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range interactions {
		s.placeLocked(in)
		if err := s.index.Add(ctx, in.ID, in.Embedding, types.VectorInteraction); err != nil {
			if semErr, ok := err.(*types.Error); ok && semErr.Kind == types.DimensionMismatch {
				return outcome, semErr
			}
			outcome.Warn(types.Degraded, "vector index rebuild skipped an interaction: "+err.Error())
			continue
		}
		if len(in.Embedding) != s.cfg.Dimension {
			outcome.Warn(types.Degraded, "adapted persisted embedding for "+in.ID)
		}
	}
	return outcome, nil
}

// placeLocked indexes in into the tier table and concept index. Caller
// must hold s.mu for writing.
func (s *Store) placeLocked(in *types.Interaction) {
	if in.TierValue == types.LongTerm {
		s.long[in.ID] = in
	} else {
		s.short[in.ID] = in
	}
	for _, c := range in.Concepts {
		norm := types.NormalizeConcept(c)
		entry, ok := s.concepts[norm]
		if !ok {
			entry = types.NewConceptIndexEntry(norm)
			s.concepts[norm] = entry
		}
		entry.Interactions[in.ID] = struct{}{}
	}
}

// Remember appends a new interaction: assigns an id, inserts into the
// short tier, updates the concept index, inserts into the vector index,
// and asks the PersistenceAdapter to append. On persistence failure the
// in-memory mutation is rolled back and PersistenceFailed is returned.
func (s *Store) Remember(ctx context.Context, prompt, response string, embedding []float32, concepts []string, metadata map[string]interface{}) (string, error) {
	if len(embedding) != s.cfg.Dimension {
		return "", types.NewError(types.InvalidArgument, "embedding length does not match configured dimension")
	}

	id := uuid.New().String()
	in := types.NewInteraction(id, prompt, response, embedding, concepts, metadata)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.placeLocked(in)

	if err := s.index.Add(ctx, id, embedding, types.VectorInteraction); err != nil {
		s.unplaceLocked(in)
		return "", err
	}

	if err := s.adapter.Append(ctx, in); err != nil {
		s.unplaceLocked(in)
		s.index.Remove(id)
		return "", types.Wrap(types.PersistenceFailed, "append interaction", err)
	}

	return id, nil
}

// unplaceLocked undoes placeLocked. Caller must hold s.mu for writing.
func (s *Store) unplaceLocked(in *types.Interaction) {
	delete(s.short, in.ID)
	delete(s.long, in.ID)
	for _, c := range in.Concepts {
		norm := types.NormalizeConcept(c)
		if entry, ok := s.concepts[norm]; ok {
			delete(entry.Interactions, in.ID)
			if len(entry.Interactions) == 0 {
				delete(s.concepts, norm)
			}
		}
	}
}

// RecallOptions narrows a Recall call. Zero value uses the Store's
// configured Retrieval defaults for K and Threshold.
type RecallOptions struct {
	K             int
	Threshold     float64
	MaxAgeMs      *int64
	ConceptFilter map[string]struct{}
}

// RecallHit is one ranked result from Recall.
type RecallHit struct {
	Interaction *types.Interaction
	Score       float64
	Similarity  float32
}

// Recall ranks candidates from the vector index by fused score (spec
// §4.1) and applies reinforcement to every returned interaction. An
// empty store returns an empty slice, never an error.
func (s *Store) Recall(ctx context.Context, queryEmbedding []float32, opts RecallOptions) ([]RecallHit, *types.Outcome, error) {
	outcome := &types.Outcome{}
	k := opts.K
	if k <= 0 {
		k = s.cfg.Retrieval.DefaultK
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = s.cfg.Retrieval.DefaultThreshold
	}

	kRaw := k * s.cfg.Retrieval.Oversample
	if alt := k + s.cfg.Retrieval.Buffer; alt > kRaw {
		kRaw = alt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	searchHits, err := s.index.Search(ctx, queryEmbedding, kRaw, vector.SearchOptions{Types: []types.VectorType{types.VectorInteraction}})
	if err != nil {
		// Vector-index read failures degrade to concept-only recall.
		outcome.Warn(types.Degraded, "vector index unavailable, falling back to concept-only recall: "+err.Error())
		return s.conceptOnlyRecallLocked(opts, k, outcome), outcome, nil
	}

	now := nowMillis()
	queryConcepts := make(map[string]struct{}, len(opts.ConceptFilter))
	for c := range opts.ConceptFilter {
		queryConcepts[types.NormalizeConcept(c)] = struct{}{}
	}

	candidates := make([]scored, 0, len(searchHits))
	for _, h := range searchHits {
		if float64(h.Similarity) < threshold {
			continue
		}
		in := s.lookupLocked(h.ID)
		if in == nil {
			continue
		}
		if opts.MaxAgeMs != nil && now-in.Timestamp > *opts.MaxAgeMs {
			continue
		}
		if len(opts.ConceptFilter) > 0 && !intersects(opts.ConceptFilter, in.Concepts) {
			continue
		}
		candidates = append(candidates, scored{
			interaction: in,
			score:       score(in, h.Similarity, queryConcepts, now, s.cfg),
			similarity:  h.Similarity,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.interaction.Timestamp != b.interaction.Timestamp {
			return a.interaction.Timestamp > b.interaction.Timestamp
		}
		return a.interaction.ID < b.interaction.ID
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	hits := make([]RecallHit, 0, len(candidates))
	for _, c := range candidates {
		s.reinforceLocked(ctx, c.interaction, now)
		hits = append(hits, RecallHit{Interaction: c.interaction.Clone(), Score: c.score, Similarity: c.similarity})
	}
	return hits, outcome, nil
}

// conceptOnlyRecallLocked answers a degraded recall using only the
// concept filter (or nothing, yielding an empty result) when the vector
// index is unavailable. Caller must hold s.mu.
func (s *Store) conceptOnlyRecallLocked(opts RecallOptions, k int, outcome *types.Outcome) []RecallHit {
	if len(opts.ConceptFilter) == 0 {
		return nil
	}
	now := nowMillis()
	var hits []RecallHit
	for _, in := range s.allLocked() {
		if !intersects(opts.ConceptFilter, in.Concepts) {
			continue
		}
		if opts.MaxAgeMs != nil && now-in.Timestamp > *opts.MaxAgeMs {
			continue
		}
		s.reinforceLocked(context.Background(), in, now)
		hits = append(hits, RecallHit{Interaction: in.Clone(), Score: 0, Similarity: 0})
		if len(hits) >= k {
			break
		}
	}
	return hits
}

// reinforceLocked applies the access update and, if warranted, the
// tiering promotion, to in. Caller must hold s.mu for writing.
func (s *Store) reinforceLocked(ctx context.Context, in *types.Interaction, now int64) {
	in.AccessCount++
	in.LastAccessed = now
	in.DecayFactor = clampDecay(in.DecayFactor * s.cfg.Memory.Reinforcement)

	if in.TierValue == types.ShortTerm && in.AccessCount >= s.cfg.Memory.PromotionThreshold {
		s.promoteLocked(in)
	}

	_ = s.adapter.Update(ctx, in) // best-effort write-back; errors are not fatal for a read path
}

// promoteLocked moves in from the short tier to the long tier and
// applies the promotion boost. Caller must hold s.mu for writing.
func (s *Store) promoteLocked(in *types.Interaction) {
	if in.TierValue == types.LongTerm {
		return
	}
	delete(s.short, in.ID)
	in.TierValue = types.LongTerm
	in.DecayFactor = clampDecay(in.DecayFactor * s.cfg.Memory.PromotionBoost)
	s.long[in.ID] = in
}

// Promote is an explicit hook for background policies: it promotes id to
// the long tier immediately, regardless of access count.
func (s *Store) Promote(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.lookupLocked(id)
	if in == nil {
		return types.NewError(types.InvalidArgument, "unknown interaction id")
	}
	s.promoteLocked(in)
	return nil
}

// Decay is an explicit hook for background policies: it multiplies id's
// decayFactor by factor, clamped to (0, 1].
func (s *Store) Decay(id string, factor float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.lookupLocked(id)
	if in == nil {
		return types.NewError(types.InvalidArgument, "unknown interaction id")
	}
	in.DecayFactor = clampDecay(in.DecayFactor * factor)
	return nil
}

// FindByConcept returns every interaction carrying the given concept,
// matched case-insensitively.
func (s *Store) FindByConcept(concept string) []*types.Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	norm := types.NormalizeConcept(concept)
	entry, ok := s.concepts[norm]
	if !ok {
		return nil
	}
	out := make([]*types.Interaction, 0, len(entry.Interactions))
	for id := range entry.Interactions {
		if in := s.lookupLocked(id); in != nil {
			out = append(out, in.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// All returns every interaction across both tiers, ordered by timestamp
// ascending, for snapshot export. It does not count as access and does
// not reinforce or mutate any interaction.
func (s *Store) All() []*types.Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.allLocked()
	clones := make([]*types.Interaction, len(out))
	for i, in := range out {
		clones[i] = in.Clone()
	}
	sort.Slice(clones, func(i, j int) bool { return clones[i].Timestamp < clones[j].Timestamp })
	return clones
}

// Dispose flushes and releases the PersistenceAdapter.
func (s *Store) Dispose(ctx context.Context) error {
	if err := s.adapter.Flush(ctx); err != nil {
		return types.Wrap(types.PersistenceFailed, "flush on dispose", err)
	}
	return s.adapter.Close()
}

// lookupLocked finds an interaction by id in either tier. Caller must
// hold s.mu.
func (s *Store) lookupLocked(id string) *types.Interaction {
	if in, ok := s.short[id]; ok {
		return in
	}
	if in, ok := s.long[id]; ok {
		return in
	}
	return nil
}

// allLocked returns every interaction across both tiers. Caller must
// hold s.mu.
func (s *Store) allLocked() []*types.Interaction {
	out := make([]*types.Interaction, 0, len(s.short)+len(s.long))
	for _, in := range s.short {
		out = append(out, in)
	}
	for _, in := range s.long {
		out = append(out, in)
	}
	return out
}

func intersects(filter map[string]struct{}, concepts []string) bool {
	for _, c := range concepts {
		if _, ok := filter[types.NormalizeConcept(c)]; ok {
			return true
		}
	}
	return false
}
