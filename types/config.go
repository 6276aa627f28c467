package types

import "fmt"

// StorageType selects the Persistence Adapter backend.
type StorageType string

const (
	StorageJSON         StorageType = "json"
	StorageSPARQL       StorageType = "sparql"
	StorageCachedSPARQL StorageType = "cachedSparql"
)

// ScoringWeights are the Retrieval Pipeline's fusion weights. They must be
// non-negative and sum to 1.0; the decay penalty is additive separately
// and is not part of this struct.
type ScoringWeights struct {
	Similarity float64 // w_s, default 0.6
	Recency    float64 // w_r, default 0.15
	Access     float64 // w_a, default 0.1
	Concept    float64 // w_c, default 0.15
}

// Validate checks the non-negativity and sum-to-one invariant required by
// spec §6, with a 1e-6 tolerance for floating point summation.
func (w ScoringWeights) Validate() error {
	if w.Similarity < 0 || w.Recency < 0 || w.Access < 0 || w.Concept < 0 {
		return NewError(InvalidArgument, "scoring weights must be non-negative")
	}
	sum := w.Similarity + w.Recency + w.Access + w.Concept
	if diff := sum - 1.0; diff > 1e-6 || diff < -1e-6 {
		return NewError(InvalidArgument, fmt.Sprintf("scoring weights must sum to 1.0, got %f", sum))
	}
	return nil
}

// JSONConfig configures the JSON snapshot backend.
type JSONConfig struct {
	Path               string
	FlushIntervalMs    int // default 1000
}

// SPARQLAuth is HTTP Basic credentials for the SPARQL endpoints.
type SPARQLAuth struct {
	User     string
	Password string
}

// SPARQLConfig configures the SPARQL backend.
type SPARQLConfig struct {
	QueryEndpoint  string
	UpdateEndpoint string
	Graph          string
	Auth           SPARQLAuth
	MaxRetries     int // default 3
	UpdateTimeoutMs int // default 30000
	QueryTimeoutMs  int // default 10000
}

// CacheConfig configures the cached SPARQL wrapper.
type CacheConfig struct {
	MaxSize                int // default 1000
	TTLSeconds             int // default 3600
	CleanupIntervalSeconds int // default 300
}

// MemoryConfig configures Memory Store tiering and decay.
type MemoryConfig struct {
	PromotionThreshold int     // default 10
	Reinforcement      float64 // default 1.05
	PromotionBoost     float64 // default 1.2
	DecayTauMs         int64   // default 7 days in ms
	AccessKappa        float64 // default 5
}

// RetrievalConfig configures the Retrieval Pipeline's defaults.
type RetrievalConfig struct {
	DefaultK         int     // default 10
	DefaultThreshold float64 // default 0.7
	Oversample       int     // default 3
	Buffer           int     // default 5
}

// ContextConfig configures the Context Window Manager's defaults.
type ContextConfig struct {
	TokenEstimator   string // "chars4" (default) or "words"
	DefaultMaxTokens int
}

// Config is the full, enumerated configuration surface of spec §6.
type Config struct {
	Dimension int

	StorageType StorageType
	JSON        JSONConfig
	SPARQL      SPARQLConfig
	Cache       CacheConfig

	Memory    MemoryConfig
	Scoring   ScoringWeights
	Retrieval RetrievalConfig

	VectorAdaptationPolicy AdaptationPolicy

	Context ContextConfig
}

// DefaultConfig returns the spec's documented defaults for every field
// that has one. Dimension defaults to 768; the SPARQL endpoints and graph
// have no default and must be set by the caller.
func DefaultConfig() Config {
	return Config{
		Dimension:   768,
		StorageType: StorageJSON,
		JSON: JSONConfig{
			Path:            "semem.json",
			FlushIntervalMs: 1000,
		},
		SPARQL: SPARQLConfig{
			MaxRetries:      3,
			UpdateTimeoutMs: 30000,
			QueryTimeoutMs:  10000,
		},
		Cache: CacheConfig{
			MaxSize:                1000,
			TTLSeconds:             3600,
			CleanupIntervalSeconds: 300,
		},
		Memory: MemoryConfig{
			PromotionThreshold: 10,
			Reinforcement:      1.05,
			PromotionBoost:     1.2,
			DecayTauMs:         int64(7 * 24 * 3600 * 1000),
			AccessKappa:        5,
		},
		Scoring: ScoringWeights{
			Similarity: 0.6,
			Recency:    0.15,
			Access:     0.1,
			Concept:    0.15,
		},
		Retrieval: RetrievalConfig{
			DefaultK:         10,
			DefaultThreshold: 0.7,
			Oversample:       3,
			Buffer:           5,
		},
		VectorAdaptationPolicy: Adapt,
		Context: ContextConfig{
			TokenEstimator:   "chars4",
			DefaultMaxTokens: 4096,
		},
	}
}

// Validate checks the configuration invariants that are fatal at init:
// positive dimension, a known storage type, and valid scoring weights.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return NewError(InvalidArgument, "dimension must be positive")
	}
	switch c.StorageType {
	case StorageJSON, StorageSPARQL, StorageCachedSPARQL:
	default:
		return NewError(InvalidArgument, fmt.Sprintf("unknown storage type %q", c.StorageType))
	}
	if c.StorageType == StorageSPARQL || c.StorageType == StorageCachedSPARQL {
		if c.SPARQL.QueryEndpoint == "" || c.SPARQL.UpdateEndpoint == "" {
			return NewError(InvalidArgument, "sparql query and update endpoints are required")
		}
	}
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	switch c.VectorAdaptationPolicy {
	case Strict, Adapt:
	default:
		return NewError(InvalidArgument, fmt.Sprintf("unknown vector adaptation policy %q", c.VectorAdaptationPolicy))
	}
	return nil
}
