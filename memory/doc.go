// Package memory provides the Memory Store: the authoritative in-memory
// state for interactions, concept lookup, tiering and decay, with
// write-through durability via a PersistenceAdapter.
//
// Architecture:
//   - PersistenceAdapter: durable backend (json, sparql, cached sparql)
//   - vector.Index: approximate nearest-neighbour search over embeddings
//   - Embedder / LLM: narrow interfaces supplied by the host application
//
// A single process-wide Store is assumed; lock acquisition order is
// Store -> vector.Index -> PersistenceAdapter, never the reverse.
package memory
