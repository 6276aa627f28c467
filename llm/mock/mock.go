// Package mock provides a dependency-free LLM for tests: concept
// extraction by naive keyword splitting, response generation by
// template, with no actual model behind it.
package mock

import (
	"context"
	"fmt"
	"strings"
)

// LLM is a deterministic stand-in for a real language model.
type LLM struct {
	// MinWordLength is the shortest word counted as a concept (default: 4).
	MinWordLength int
}

// New creates a mock LLM.
func New() *LLM {
	return &LLM{MinWordLength: 4}
}

// ExtractConcepts splits text on whitespace and punctuation, lowercases
// each token, and keeps the unique ones at least MinWordLength runes long.
func (l *LLM) ExtractConcepts(ctx context.Context, text string) ([]string, error) {
	minLen := l.MinWordLength
	if minLen <= 0 {
		minLen = 4
	}

	fields := strings.FieldsFunc(text, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		default:
			return true
		}
	})

	seen := make(map[string]bool)
	var concepts []string
	for _, f := range fields {
		word := strings.ToLower(f)
		if len(word) < minLen || seen[word] {
			continue
		}
		seen[word] = true
		concepts = append(concepts, word)
	}
	return concepts, nil
}

// GenerateResponse echoes prompt and context into a fixed template, useful
// for asserting that a caller threaded the right context through.
func (l *LLM) GenerateResponse(ctx context.Context, prompt, contextText string) (string, error) {
	if contextText == "" {
		return fmt.Sprintf("mock response to: %s", prompt), nil
	}
	return fmt.Sprintf("mock response to: %s (with context: %s)", prompt, contextText), nil
}
