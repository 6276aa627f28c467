package memory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/danja/semem/memory"
	"github.com/danja/semem/types"
)

// fakeAdapter is an in-memory PersistenceAdapter stand-in, the same role
// the teacher's in-memory stores play in its own manager tests.
type fakeAdapter struct {
	mu           sync.Mutex
	interactions map[string]*types.Interaction
	preload      []*types.Interaction
	closed       bool
}

func newFakeAdapter(preload ...*types.Interaction) *fakeAdapter {
	return &fakeAdapter{interactions: make(map[string]*types.Interaction), preload: preload}
}

func (f *fakeAdapter) LoadAll(ctx context.Context) ([]*types.Interaction, *types.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, in := range f.preload {
		f.interactions[in.ID] = in
	}
	return append([]*types.Interaction(nil), f.preload...), &types.Outcome{}, nil
}

func (f *fakeAdapter) Append(ctx context.Context, in *types.Interaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interactions[in.ID] = in
	return nil
}

func (f *fakeAdapter) Update(ctx context.Context, in *types.Interaction) error {
	return f.Append(ctx, in)
}

func (f *fakeAdapter) Query(ctx context.Context, predicate string) ([]byte, error) {
	return nil, types.NewError(types.InvalidArgument, "fakeAdapter does not support Query")
}

func (f *fakeAdapter) Flush(ctx context.Context) error { return nil }

func (f *fakeAdapter) Close() error {
	f.closed = true
	return nil
}

func testConfig(dimension int) types.Config {
	cfg := types.DefaultConfig()
	cfg.Dimension = dimension
	return cfg
}

func vec(dim int, hot int) []float32 {
	v := make([]float32, dim)
	v[hot%dim] = 1
	return v
}

func TestStore_RememberAndRecall(t *testing.T) {
	ctx := context.Background()
	adapter := newFakeAdapter()
	store, err := memory.New(testConfig(4), adapter)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	id, err := store.Remember(ctx, "what is the capital of france", "paris", vec(4, 0), []string{"geography", "france"}, nil)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty id")
	}

	hits, outcome, err := store.Recall(ctx, vec(4, 0), memory.RecallOptions{K: 5, Threshold: 0.5})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if outcome.Degraded() {
		t.Error("expected no degraded warning on a healthy recall")
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Interaction.ID != id {
		t.Errorf("expected recalled interaction id %q, got %q", id, hits[0].Interaction.ID)
	}
	if hits[0].Interaction.AccessCount != 1 {
		t.Errorf("expected recall to reinforce access count to 1, got %d", hits[0].Interaction.AccessCount)
	}
}

func TestStore_RememberRejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	adapter := newFakeAdapter()
	store, err := memory.New(testConfig(4), adapter)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, err = store.Remember(ctx, "p", "r", vec(8, 0), nil, nil)
	if err == nil {
		t.Fatal("expected error for mismatched embedding dimension")
	}
}

func TestStore_PromotionOnAccessThreshold(t *testing.T) {
	ctx := context.Background()
	adapter := newFakeAdapter()
	cfg := testConfig(4)
	cfg.Memory.PromotionThreshold = 2
	store, err := memory.New(cfg, adapter)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	id, err := store.Remember(ctx, "p", "r", vec(4, 0), nil, nil)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, _, err := store.Recall(ctx, vec(4, 0), memory.RecallOptions{K: 5, Threshold: 0.5}); err != nil {
			t.Fatalf("Recall %d: %v", i, err)
		}
	}

	var promoted *types.Interaction
	for _, in := range store.All() {
		if in.ID == id {
			promoted = in
		}
	}
	if promoted == nil {
		t.Fatal("expected interaction to still exist")
	}
	if promoted.TierValue != types.LongTerm {
		t.Errorf("expected interaction to be promoted to long term after %d accesses, tier=%s", promoted.AccessCount, promoted.TierValue)
	}
}

func TestStore_FindByConcept(t *testing.T) {
	ctx := context.Background()
	adapter := newFakeAdapter()
	store, err := memory.New(testConfig(4), adapter)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if _, err := store.Remember(ctx, "p1", "r1", vec(4, 0), []string{"Golang"}, nil); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if _, err := store.Remember(ctx, "p2", "r2", vec(4, 1), []string{"Python"}, nil); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	matches := store.FindByConcept("golang")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match for case-insensitive concept lookup, got %d", len(matches))
	}
	if matches[0].Prompt != "p1" {
		t.Errorf("expected match for p1, got %q", matches[0].Prompt)
	}
}

func TestStore_InitRehydratesFromAdapter(t *testing.T) {
	ctx := context.Background()
	preloaded := types.NewInteraction("pre-1", "old prompt", "old response", vec(4, 0), []string{"history"}, nil)
	adapter := newFakeAdapter(preloaded)
	store, err := memory.New(testConfig(4), adapter)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	matches := store.FindByConcept("history")
	if len(matches) != 1 || matches[0].ID != "pre-1" {
		t.Fatalf("expected preloaded interaction to be rehydrated, got %+v", matches)
	}
}

func TestStore_DimensionAdaptOnReload(t *testing.T) {
	ctx := context.Background()
	// Preloaded interaction was persisted under a different dimension.
	stale := types.NewInteraction("stale-1", "p", "r", vec(8, 0), nil, nil)
	adapter := newFakeAdapter(stale)
	cfg := testConfig(4)
	cfg.VectorAdaptationPolicy = types.Adapt
	store, err := memory.New(cfg, adapter)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	outcome, err := store.Init(ctx)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !outcome.Degraded() {
		t.Error("expected a Degraded warning when adapting a persisted embedding's dimension")
	}
}

func TestStore_DecayAndPromoteHooks(t *testing.T) {
	ctx := context.Background()
	adapter := newFakeAdapter()
	store, err := memory.New(testConfig(4), adapter)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	id, err := store.Remember(ctx, "p", "r", vec(4, 0), nil, nil)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}

	if err := store.Decay(id, 0.5); err != nil {
		t.Fatalf("Decay: %v", err)
	}
	if err := store.Promote(id); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	var got *types.Interaction
	for _, in := range store.All() {
		if in.ID == id {
			got = in
		}
	}
	if got == nil {
		t.Fatal("expected interaction to exist")
	}
	if got.TierValue != types.LongTerm {
		t.Errorf("expected explicit Promote to move interaction to long term, got %s", got.TierValue)
	}
	if got.DecayFactor >= 1.0 {
		t.Errorf("expected Decay to reduce decayFactor below 1.0, got %f", got.DecayFactor)
	}
}
