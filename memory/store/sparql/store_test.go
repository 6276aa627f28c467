package sparql_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danja/semem/memory/store/sparql"
	"github.com/danja/semem/types"
)

// fakeEndpoint is a minimal SPARQL 1.1 Query/Update server: it records
// every request body and answers queries from a small canned table of
// application/sparql-results+json responses keyed by a substring of the
// query text, the same fixture-matching approach the pack's HTTP-backed
// adapters use in their own tests.
type fakeEndpoint struct {
	mu        sync.Mutex
	updates   []string
	responses map[string]string // query substring -> JSON body
	failNext  int                // if > 0, return 500 and decrement
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{responses: make(map[string]string)}
}

func (f *fakeEndpoint) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		values, _ := url.ParseQuery(string(body))

		f.mu.Lock()
		if f.failNext > 0 {
			f.failNext--
			f.mu.Unlock()
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.mu.Unlock()

		if q := values.Get("update"); q != "" {
			f.mu.Lock()
			f.updates = append(f.updates, q)
			f.mu.Unlock()
			w.WriteHeader(http.StatusOK)
			return
		}

		q := values.Get("query")
		f.mu.Lock()
		for substr, resp := range f.responses {
			if strings.Contains(q, substr) {
				f.mu.Unlock()
				w.Header().Set("Content-Type", "application/sparql-results+json")
				w.Write([]byte(resp))
				return
			}
		}
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/sparql-results+json")
		w.Write([]byte(`{"results":{"bindings":[]}}`))
	}))
}

func testCfg(endpoint string) types.SPARQLConfig {
	return types.SPARQLConfig{
		QueryEndpoint:   endpoint,
		UpdateEndpoint:  endpoint,
		Graph:           "http://example.org/graph",
		MaxRetries:      2,
		UpdateTimeoutMs: 2000,
		QueryTimeoutMs:  2000,
	}
}

func TestStore_AppendSendsInsertUpdate(t *testing.T) {
	fe := newFakeEndpoint()
	srv := fe.server()
	defer srv.Close()

	store := sparql.New(testCfg(srv.URL), 3)
	defer store.Close()

	in := &types.Interaction{
		ID:        "http://example.org/i1",
		Prompt:    "hello",
		Response:  "world",
		Embedding: []float32{0.1, 0.2, 0.3},
		Timestamp: time.Now().UnixMilli(),
		Concepts:  []string{"greeting"},
		Metadata:  map[string]interface{}{"source": "test"},
	}
	if err := store.Append(context.Background(), in); err != nil {
		t.Fatalf("Append: %v", err)
	}

	fe.mu.Lock()
	defer fe.mu.Unlock()
	if len(fe.updates) != 1 {
		t.Fatalf("expected 1 update request, got %d", len(fe.updates))
	}
	if !strings.Contains(fe.updates[0], "INSERT DATA") {
		t.Fatalf("expected INSERT DATA update, got %q", fe.updates[0])
	}
	if !strings.Contains(fe.updates[0], "hello") || !strings.Contains(fe.updates[0], "world") {
		t.Fatalf("update missing prompt/response: %q", fe.updates[0])
	}
	if !strings.Contains(fe.updates[0], "metadataJSON") {
		t.Fatalf("update missing metadataJSON triple: %q", fe.updates[0])
	}
}

func TestStore_LoadAllDecodesBindingsAndConcepts(t *testing.T) {
	fe := newFakeEndpoint()
	fe.responses["sem:hasEmbedding"] = fmt.Sprintf(`{
		"results": {"bindings": [{
			"id": {"value": "http://example.org/i1"},
			"prompt": {"value": "hi"},
			"response": {"value": "there"},
			"timestamp": {"value": %q},
			"accessCount": {"value": "2"},
			"decayFactor": {"value": "0.9"},
			"tier": {"value": "short"},
			"vectorContent": {"value": "[0.1,0.2,0.3]"},
			"dimension": {"value": "3"},
			"metadataJSON": {"value": "{\"source\":\"test\"}"}
		}]}
	}`, time.UnixMilli(1700000000000).UTC().Format(time.RFC3339Nano))
	fe.responses["sem:hasConcept"] = `{"results":{"bindings":[{"concept":{"value":"greeting"}}]}}`

	srv := fe.server()
	defer srv.Close()

	store := sparql.New(testCfg(srv.URL), 3)
	defer store.Close()

	interactions, outcome, err := store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(outcome.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", outcome.Warnings)
	}
	if len(interactions) != 1 {
		t.Fatalf("expected 1 interaction, got %d", len(interactions))
	}
	got := interactions[0]
	if got.ID != "http://example.org/i1" || got.Prompt != "hi" || got.Response != "there" {
		t.Fatalf("unexpected interaction: %+v", got)
	}
	if len(got.Embedding) != 3 {
		t.Fatalf("expected embedding of length 3, got %d", len(got.Embedding))
	}
	if len(got.Concepts) != 1 || got.Concepts[0] != "greeting" {
		t.Fatalf("expected concept follow-up to populate Concepts, got %v", got.Concepts)
	}
	if got.Metadata["source"] != "test" {
		t.Fatalf("expected metadataJSON to round-trip, got %v", got.Metadata)
	}
}

func TestStore_QueryReturnsRawBindings(t *testing.T) {
	fe := newFakeEndpoint()
	fe.responses["greeting"] = `{"results":{"bindings":[{"id":{"value":"http://example.org/i1"}}]}}`
	srv := fe.server()
	defer srv.Close()

	store := sparql.New(testCfg(srv.URL), 3)
	defer store.Close()

	body, err := store.Query(context.Background(), "greeting")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !strings.Contains(string(body), "http://example.org/i1") {
		t.Fatalf("unexpected query body: %s", body)
	}
}

func TestStore_UpdateRetriesOnServerError(t *testing.T) {
	fe := newFakeEndpoint()
	fe.failNext = 1 // first update attempt fails, retry (idempotent) succeeds
	srv := fe.server()
	defer srv.Close()

	store := sparql.New(testCfg(srv.URL), 3)
	defer store.Close()

	in := &types.Interaction{ID: "http://example.org/i1", AccessCount: 5, DecayFactor: 0.8, TierValue: types.LongTerm}
	if err := store.Update(context.Background(), in); err != nil {
		t.Fatalf("Update: %v", err)
	}

	fe.mu.Lock()
	defer fe.mu.Unlock()
	if len(fe.updates) != 1 {
		t.Fatalf("expected the retried update to eventually succeed exactly once, got %d recorded", len(fe.updates))
	}
}

func TestStore_AppendDoesNotRetryOnServerError(t *testing.T) {
	fe := newFakeEndpoint()
	fe.failNext = 1
	srv := fe.server()
	defer srv.Close()

	store := sparql.New(testCfg(srv.URL), 3)
	defer store.Close()

	in := &types.Interaction{ID: "http://example.org/i1", Embedding: []float32{0.1}}
	err := store.Append(context.Background(), in)
	if err == nil {
		t.Fatalf("expected Append (non-idempotent) to surface the single failure, got nil error")
	}

	fe.mu.Lock()
	defer fe.mu.Unlock()
	if len(fe.updates) != 0 {
		t.Fatalf("expected no successful update recorded, got %d", len(fe.updates))
	}
}
