// Package mock provides a deterministic, dependency-free Embedder for
// tests: the same text always yields the same vector, with no real
// semantic meaning behind it.
package mock

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
)

// Embedder generates a deterministic embedding from a text hash.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder producing vectors of the given dimension.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Embedder{dimensions: dimensions}
}

// Embed derives each vector component from an independent FNV-1a hash of
// (text, component index), rather than chaining one seed through a
// generator: this keeps components decorrelated from each other (a
// single-seed LCG makes each component a fixed linear function of the
// last), which matters here because the retrieval pipeline's cosine
// scoring is sensitive to component-to-component structure even in a
// vector with no real semantic content. Each hash is passed through a
// 64-bit finalizer mix, because FNV-1a alone barely spreads the trailing
// index bytes into the high bits that the component value is taken from.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embedding := make([]float32, e.dimensions)
	var idx [4]byte
	for i := 0; i < e.dimensions; i++ {
		h := fnv.New64a()
		h.Write([]byte(text))
		binary.BigEndian.PutUint32(idx[:], uint32(i))
		h.Write(idx[:])
		x := h.Sum64()
		x ^= x >> 33
		x *= 0xff51afd7ed558ccd
		x ^= x >> 33
		x *= 0xc4ceb9fe1a85ec53
		x ^= x >> 33
		embedding[i] = float32(int64(x)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}
