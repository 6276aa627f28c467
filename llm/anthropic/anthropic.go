// Package anthropic implements the LLM interface against the Claude
// Messages API: concept extraction via a constrained JSON-list prompt,
// and response generation via plain chat completion.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/danja/semem/types"
)

const (
	defaultModel           = "claude-3-5-haiku-20241022"
	defaultMaxTokens       = 1024
	conceptExtractionModel = "claude-3-5-haiku-20241022" // cheaper/faster model suffices for extraction
)

const conceptSystemPrompt = `You extract the key concepts (entities, topics, named ideas) from a piece of text.
Respond with nothing but a JSON array of short lowercase strings, e.g. ["topic one","entity two"].
Return between 0 and 20 concepts. If no clear concepts exist, return [].`

// LLM adapts an Anthropic client to the memory engine's LLM interface.
type LLM struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// Option configures an LLM.
type Option func(*LLM)

// WithModel overrides the chat-completion model (default: claude-3-5-haiku-20241022).
func WithModel(model string) Option {
	return func(l *LLM) { l.model = model }
}

// WithMaxTokens overrides the response token budget (default: 1024).
func WithMaxTokens(n int64) Option {
	return func(l *LLM) { l.maxTokens = n }
}

// New wraps an existing Anthropic client.
func New(client *anthropic.Client, opts ...Option) *LLM {
	l := &LLM{
		client:    client,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ExtractConcepts asks Claude for a strict JSON array of concepts. A reply
// containing no decodable JSON array is an InvalidArgument error; there is
// no fallback parse.
func (l *LLM) ExtractConcepts(ctx context.Context, text string) ([]string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(conceptExtractionModel),
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: conceptSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	}

	resp, err := l.client.Messages.New(ctx, params)
	if err != nil {
		return nil, types.Wrap(types.StorageUnavailable, "anthropic concept extraction request", err)
	}

	raw := textContent(resp)
	concepts, err := parseConceptList(raw)
	if err != nil {
		return nil, types.Wrap(types.InvalidArgument, "parse anthropic concept response", err)
	}
	return types.NormalizeConcepts(concepts), nil
}

// GenerateResponse asks Claude to answer prompt, with context supplied as a
// system-level framing of retrieved memory.
func (l *LLM) GenerateResponse(ctx context.Context, prompt, context string) (string, error) {
	var system []anthropic.TextBlockParam
	if strings.TrimSpace(context) != "" {
		system = []anthropic.TextBlockParam{
			{Text: "Relevant prior context:\n" + context},
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(l.model),
		MaxTokens: l.maxTokens,
		System:    system,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	resp, err := l.client.Messages.New(ctx, params)
	if err != nil {
		return "", types.Wrap(types.StorageUnavailable, "anthropic generation request", err)
	}
	return textContent(resp), nil
}

func textContent(resp *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// parseConceptList decodes a JSON array of strings, tolerating a model
// response wrapped in prose or a code fence around the array.
func parseConceptList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var concepts []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &concepts); err != nil {
		return nil, fmt.Errorf("decode concept array: %w", err)
	}
	return concepts, nil
}
