package memory

import (
	"math"
	"time"

	"github.com/danja/semem/types"
)

// scored pairs an interaction with its fused retrieval score.
type scored struct {
	interaction *types.Interaction
	score       float64
	similarity  float32
}

// score computes the fused ranking score from spec §4.1:
//
//	recency   = exp( -(now - lastAccessed) / tau )
//	access    = 1 - exp( -accessCount / kappa )
//	concept   = |Q ∩ I.concepts| / max(1, |Q ∪ I.concepts|)
//	score     = w_s*s + w_r*recency + w_a*access + w_c*concept - (1 - decayFactor)
//
// similarity is clamped to [0,1] before weighting, per the glossary's
// ranking convention.
func score(i *types.Interaction, similarity float32, queryConcepts map[string]struct{}, now int64, cfg types.Config) float64 {
	s := float64(similarity)
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}

	ageMs := float64(now - i.LastAccessed)
	if ageMs < 0 {
		ageMs = 0
	}
	recency := math.Exp(-ageMs / float64(cfg.Memory.DecayTauMs))

	access := 1 - math.Exp(-float64(i.AccessCount)/cfg.Memory.AccessKappa)

	concept := conceptJaccard(queryConcepts, i.Concepts)

	w := cfg.Scoring
	return w.Similarity*s + w.Recency*recency + w.Access*access + w.Concept*concept - (1 - i.DecayFactor)
}

// conceptJaccard computes |Q ∩ C| / max(1, |Q ∪ C|) over normalized
// concept forms.
func conceptJaccard(query map[string]struct{}, concepts []string) float64 {
	if len(query) == 0 && len(concepts) == 0 {
		return 0
	}
	norm := make(map[string]struct{}, len(concepts))
	for _, c := range concepts {
		norm[types.NormalizeConcept(c)] = struct{}{}
	}
	inter := 0
	union := make(map[string]struct{}, len(query)+len(norm))
	for c := range query {
		union[c] = struct{}{}
		if _, ok := norm[c]; ok {
			inter++
		}
	}
	for c := range norm {
		union[c] = struct{}{}
	}
	denom := len(union)
	if denom < 1 {
		denom = 1
	}
	return float64(inter) / float64(denom)
}

// nowMillis is the single clock read point for scoring and bookkeeping,
// factored out so tests can't accidentally race on time.Now() semantics.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// clampDecay enforces the bounded reinforcement interpretation chosen in
// SPEC_FULL.md §9 (open question 1): decayFactor stays in (0, 1].
func clampDecay(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v <= 0 {
		return math.SmallestNonzeroFloat64
	}
	return v
}
