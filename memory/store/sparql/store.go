// Package sparql implements the SPARQL 1.1 Query/Update Persistence
// Adapter backend: an RDF graph served by a separate query endpoint and
// update endpoint, authenticated with HTTP Basic.
package sparql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/tidwall/gjson"

	"github.com/danja/semem/memory/store/sparql/templates"
	"github.com/danja/semem/types"
)

// Store is the SPARQL backend.
type Store struct {
	cfg types.SPARQLConfig
	dim int

	client *http.Client

	mu sync.Mutex // at most one in-flight update per adapter instance
}

// New constructs a SPARQL backend for the given configuration and
// dimension (used to annotate inserted Embedding resources).
func New(cfg types.SPARQLConfig, dimension int) *Store {
	return &Store{
		cfg: cfg,
		dim: dimension,
		client: &http.Client{},
	}
}

// LoadAll runs selectAll plus one selectConceptsForID follow-up per row,
// ordered by timestamp ascending (the query itself carries ORDER BY).
func (s *Store) LoadAll(ctx context.Context) ([]*types.Interaction, *types.Outcome, error) {
	outcome := &types.Outcome{}

	body, err := s.query(ctx, templates.SelectAll, map[string]any{"Graph": s.cfg.Graph})
	if err != nil {
		return nil, outcome, err
	}

	bindings := gjson.GetBytes(body, "results.bindings")
	var out []*types.Interaction
	for _, row := range bindings.Array() {
		in, convErr := s.rowToInteraction(row)
		if convErr != nil {
			outcome.Warn(types.Degraded, "skipped unparseable row: "+convErr.Error())
			continue
		}
		concepts, cErr := s.loadConcepts(ctx, in.ID)
		if cErr != nil {
			outcome.Warn(types.Degraded, "failed to load concepts for "+in.ID+": "+cErr.Error())
		} else {
			in.Concepts = concepts
		}
		out = append(out, in)
	}
	return out, outcome, nil
}

func (s *Store) rowToInteraction(row gjson.Result) (*types.Interaction, error) {
	id := row.Get("id.value").String()
	if id == "" {
		return nil, fmt.Errorf("row missing id binding")
	}
	timestamp, err := parseDateTimeMillis(row.Get("timestamp.value").String())
	if err != nil {
		return nil, err
	}
	accessCount, _ := strconv.Atoi(row.Get("accessCount.value").String())
	decayFactor, _ := strconv.ParseFloat(row.Get("decayFactor.value").String(), 64)
	tier := types.Tier(row.Get("tier.value").String())
	dimension, _ := strconv.Atoi(row.Get("dimension.value").String())

	var vector []float32
	if err := json.Unmarshal([]byte(row.Get("vectorContent.value").String()), &vector); err != nil {
		return nil, fmt.Errorf("decode vectorContent: %w", err)
	}
	if dimension != 0 && dimension != len(vector) {
		// Trust the vector's actual length; dimension adaptation, if
		// needed, happens at the Vector Index layer on rebuild.
	}

	var metadata map[string]interface{}
	if raw := row.Get("metadataJSON.value").String(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, fmt.Errorf("decode metadataJSON: %w", err)
		}
	}

	return &types.Interaction{
		ID:           id,
		Prompt:       row.Get("prompt.value").String(),
		Response:     row.Get("response.value").String(),
		Embedding:    vector,
		Timestamp:    timestamp,
		AccessCount:  accessCount,
		LastAccessed: timestamp,
		DecayFactor:  decayFactor,
		TierValue:    tier,
		Metadata:     metadata,
	}, nil
}

func (s *Store) loadConcepts(ctx context.Context, id string) ([]string, error) {
	body, err := s.query(ctx, templates.SelectConceptsForID, map[string]any{"Graph": s.cfg.Graph, "ID": id})
	if err != nil {
		return nil, err
	}
	bindings := gjson.GetBytes(body, "results.bindings")
	var concepts []string
	for _, row := range bindings.Array() {
		concepts = append(concepts, row.Get("concept.value").String())
	}
	return concepts, nil
}

// Append runs insertInteraction as a single SPARQL Update request.
func (s *Store) Append(ctx context.Context, interaction *types.Interaction) error {
	vectorJSON, err := json.Marshal(interaction.Embedding)
	if err != nil {
		return types.Wrap(types.InvalidArgument, "marshal embedding", err)
	}

	var metadataJSON string
	if len(interaction.Metadata) > 0 {
		raw, err := json.Marshal(interaction.Metadata)
		if err != nil {
			return types.Wrap(types.InvalidArgument, "marshal metadata", err)
		}
		metadataJSON = escapeLiteral(string(raw))
	}

	data := map[string]any{
		"Graph":        s.cfg.Graph,
		"ID":           interaction.ID,
		"Prompt":       escapeLiteral(interaction.Prompt),
		"Response":     escapeLiteral(interaction.Response),
		"Timestamp":    formatDateTimeMillis(interaction.Timestamp),
		"AccessCount":  interaction.AccessCount,
		"DecayFactor":  interaction.DecayFactor,
		"Tier":         string(interaction.TierValue),
		"Concepts":     interaction.Concepts,
		"Dimension":    len(interaction.Embedding),
		"VectorJSON":   string(vectorJSON),
		"MetadataJSON": metadataJSON,
	}
	return s.update(ctx, templates.InsertInteraction, data, false /* not idempotent: re-running would duplicate triples */)
}

// Update runs updateInteraction, a DELETE/INSERT WHERE that is safe to
// retry (idempotent).
func (s *Store) Update(ctx context.Context, interaction *types.Interaction) error {
	data := map[string]any{
		"Graph":       s.cfg.Graph,
		"ID":          interaction.ID,
		"AccessCount": interaction.AccessCount,
		"DecayFactor": interaction.DecayFactor,
		"Tier":        string(interaction.TierValue),
	}
	return s.update(ctx, templates.UpdateInteraction, data, true)
}

// Query is the opaque pass-through: predicate is treated as a normalized
// concept and run through selectByConcept, returning the raw SPARQL JSON
// results bytes. External consumers interpret the rows themselves.
func (s *Store) Query(ctx context.Context, predicate string) ([]byte, error) {
	return s.query(ctx, templates.SelectByConcept, map[string]any{"Graph": s.cfg.Graph, "Concept": escapeLiteral(predicate)})
}

// Flush is a no-op: every Append/Update is already a synchronous request.
func (s *Store) Flush(ctx context.Context) error { return nil }

// Close releases the HTTP client's idle connections.
func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// query renders templateName and issues it against the query endpoint.
func (s *Store) query(ctx context.Context, templateName string, data map[string]any) ([]byte, error) {
	body, err := render(templateName, data)
	if err != nil {
		return nil, types.Wrap(types.InvalidArgument, "render sparql query template", err)
	}
	timeout := time.Duration(s.cfg.QueryTimeoutMs) * time.Millisecond
	return s.doWithRetry(ctx, timeout, false, func(ctx context.Context) ([]byte, error) {
		return s.post(ctx, s.cfg.QueryEndpoint, "query", body, "application/sparql-results+json")
	})
}

// update renders templateName and issues it against the update endpoint.
// idempotent controls whether the retry policy retries on 5xx/timeout.
func (s *Store) update(ctx context.Context, templateName string, data map[string]any, idempotent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := render(templateName, data)
	if err != nil {
		return types.Wrap(types.InvalidArgument, "render sparql update template", err)
	}
	timeout := time.Duration(s.cfg.UpdateTimeoutMs) * time.Millisecond
	_, err = s.doWithRetry(ctx, timeout, idempotent, func(ctx context.Context) ([]byte, error) {
		return s.post(ctx, s.cfg.UpdateEndpoint, "update", body, "")
	})
	return err
}

// doWithRetry retries idempotent requests up to cfg.MaxRetries with
// exponential backoff on network errors, timeouts, and 5xx responses.
// HTTP 4xx is always fatal; non-idempotent operations are never retried.
func (s *Store) doWithRetry(ctx context.Context, timeout time.Duration, idempotent bool, do func(context.Context) ([]byte, error)) ([]byte, error) {
	attempts := 1
	if idempotent {
		attempts = s.cfg.MaxRetries + 1
		if attempts < 1 {
			attempts = 1
		}
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		body, err := do(callCtx)
		cancel()
		if err == nil {
			return body, nil
		}
		lastErr = err

		semErr, ok := err.(*types.Error)
		if !ok || !semErr.Retriable || !idempotent {
			return nil, err
		}
		if attempt < attempts-1 {
			backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, types.Wrap(types.Cancelled, "sparql retry cancelled", ctx.Err())
			}
		}
	}
	return nil, lastErr
}

func (s *Store) post(ctx context.Context, endpoint, paramName, body, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(paramName+"="+url.QueryEscape(body)))
	if err != nil {
		return nil, types.Wrap(types.InvalidArgument, "build sparql request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if s.cfg.Auth.User != "" {
		req.SetBasicAuth(s.cfg.Auth.User, s.cfg.Auth.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.Wrap(types.Timeout, "sparql request timed out", err)
		}
		return nil, types.Wrap(types.StorageUnavailable, "sparql request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.Wrap(types.StorageUnavailable, "read sparql response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, types.NewError(types.StorageUnavailable, "sparql endpoint rejected credentials")
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, types.NewError(types.InvalidArgument, fmt.Sprintf("sparql endpoint returned %d", resp.StatusCode))
	default:
		return nil, types.Wrap(types.StorageUnavailable, fmt.Sprintf("sparql endpoint returned %d", resp.StatusCode), nil)
	}
}

func render(templateName string, data map[string]any) (string, error) {
	text, err := templates.Load(templateName)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(templateName).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func escapeLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func formatDateTimeMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

func parseDateTimeMillis(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return 0, err
		}
	}
	return t.UnixMilli(), nil
}
