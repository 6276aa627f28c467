// Package context implements the Context Window Manager: token-budgeted
// chunking and windowing used to bound retrieved context for external
// LLM consumers. The package name is window (not context) so it never
// shadows the standard library's context package in an importing file.
package window

import (
	"strings"

	"github.com/danja/semem/types"
)

// TokenEstimator counts the (approximate) number of tokens text would
// consume. The default CharEstimator assumes 1 token per 4 characters;
// WordEstimator is the alternative configured surface named in spec §6.
type TokenEstimator interface {
	Estimate(text string) int
}

// CharEstimator is the default token estimator: 1 token per 4 characters.
type CharEstimator struct{}

func (CharEstimator) Estimate(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// WordEstimator counts tokens as whitespace-separated words, the
// alternative estimator shipped so context.tokenEstimator is a real
// plug-in point rather than a single hardcoded default.
type WordEstimator struct{}

func (WordEstimator) Estimate(text string) int {
	return len(strings.Fields(text))
}

// EstimatorFor resolves the configured estimator name to a TokenEstimator,
// defaulting to CharEstimator for an unrecognized or empty name.
func EstimatorFor(name string) TokenEstimator {
	switch name {
	case "words":
		return WordEstimator{}
	default:
		return CharEstimator{}
	}
}

// BuildOptions configures BuildContext.
type BuildOptions struct {
	MaxTokens     int
	ReserveTokens int
	Template      string // optional per-interaction format; "%s" is the formatted interaction text
	Estimator     TokenEstimator
}

// BuildContext greedily includes interactions, in the caller's order,
// until MaxTokens-ReserveTokens would be exceeded. The last partially
// fitting interaction is truncated at a sentence boundary if possible,
// else at the nearest word boundary.
func BuildContext(interactions []*types.Interaction, opts BuildOptions) string {
	estimator := opts.Estimator
	if estimator == nil {
		estimator = CharEstimator{}
	}
	budget := opts.MaxTokens - opts.ReserveTokens
	if budget <= 0 {
		return ""
	}

	var parts []string
	spent := 0
	for _, in := range interactions {
		text := formatInteraction(in, opts.Template)
		cost := estimator.Estimate(text)
		if spent+cost <= budget {
			parts = append(parts, text)
			spent += cost
			continue
		}

		remaining := budget - spent
		if remaining <= 0 {
			break
		}
		truncated := truncateToBudget(text, remaining, estimator)
		if truncated != "" {
			parts = append(parts, truncated)
		}
		break
	}
	return strings.Join(parts, "\n\n")
}

func formatInteraction(in *types.Interaction, template string) string {
	text := "User: " + in.Prompt + "\nAssistant: " + in.Response
	if template == "" {
		return text
	}
	return strings.ReplaceAll(template, "%s", text)
}

// truncateToBudget trims text to fit within budget tokens, preferring a
// sentence boundary, falling back to a word boundary, falling back to a
// hard cut.
func truncateToBudget(text string, budget int, estimator TokenEstimator) string {
	if estimator.Estimate(text) <= budget {
		return text
	}

	// Binary-search the longest prefix (by character count) that fits,
	// then snap back to a clean boundary.
	lo, hi := 0, len(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if estimator.Estimate(text[:mid]) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return ""
	}
	prefix := text[:lo]

	if idx := lastSentenceBoundary(prefix); idx > 0 {
		return strings.TrimSpace(prefix[:idx])
	}
	if idx := strings.LastIndexAny(prefix, " \n\t"); idx > 0 {
		return strings.TrimSpace(prefix[:idx])
	}
	return strings.TrimSpace(prefix)
}

func lastSentenceBoundary(s string) int {
	best := -1
	for _, terminator := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if idx := strings.LastIndex(s, terminator); idx > best {
			best = idx + 1 // keep the terminating punctuation
		}
	}
	return best
}

// ChunkOptions configures Chunk.
type ChunkOptions struct {
	Size    int // characters per chunk
	Overlap int // characters of overlap between consecutive chunks
}

// Chunk splits text into overlapping chunks for ingestion pipelines.
// With Overlap == 0, concatenating the returned chunks exactly
// reproduces text.
func Chunk(text string, opts ChunkOptions) []string {
	if opts.Size <= 0 || text == "" {
		if text == "" {
			return nil
		}
		return []string{text}
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Size {
		opts.Overlap = 0
	}

	var chunks []string
	step := opts.Size - opts.Overlap
	for start := 0; start < len(text); start += step {
		end := start + opts.Size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}
	return chunks
}
