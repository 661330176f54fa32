package elastic

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeES answers the info and bulk endpoints and keeps indexed documents.
type fakeES struct {
	mu   sync.Mutex
	docs []map[string]interface{}
	ids  []string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	if !strings.HasSuffix(r.URL.Path, "/_bulk") {
		w.Write([]byte(`{"name":"fake","cluster_name":"test","version":{"number":"8.13.0"},"tagline":"You Know, for Search"}`))
		return
	}

	var items []map[string]interface{}
	hasErrors := false

	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var action map[string]map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &action); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !scanner.Scan() {
			break
		}
		var doc map[string]interface{}
		json.Unmarshal(scanner.Bytes(), &doc)

		id, _ := action["index"]["_id"].(string)
		result := map[string]interface{}{"_index": "bookrnn_samples", "_id": id, "status": 201, "result": "created"}
		if doc["text"] == "reject" {
			hasErrors = true
			result["status"] = 400
			result["error"] = map[string]interface{}{"type": "mapper_parsing_exception", "reason": "rejected"}
		} else {
			f.mu.Lock()
			f.docs = append(f.docs, doc)
			f.ids = append(f.ids, id)
			f.mu.Unlock()
		}
		items = append(items, map[string]interface{}{"index": result})
	}

	json.NewEncoder(w).Encode(map[string]interface{}{"took": 1, "errors": hasErrors, "items": items})
}

func newTestClient(t *testing.T) (*Client, *fakeES) {
	t.Helper()
	fake := &fakeES{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL})
	require.NoError(t, err)
	return c, fake
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNewDefaultsIndex(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Equal(t, "bookrnn_samples", c.Index())
}

func TestIndexSamples(t *testing.T) {
	c, fake := newTestClient(t)

	docs := []SampleDocument{
		{ID: "run-1-1", RunID: "run-1", Level: "word", Iteration: 1, Diversity: 1.2, Text: "the boy ran", CreatedAt: time.Unix(0, 0).UTC()},
		{ID: "run-1-2", RunID: "run-1", Level: "word", Iteration: 1, Diversity: 1.4, Text: "the dog sat", CreatedAt: time.Unix(0, 0).UTC()},
	}
	require.NoError(t, c.IndexSamples(context.Background(), docs))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.docs, 2)
	assert.ElementsMatch(t, []string{"run-1-1", "run-1-2"}, fake.ids)
	texts := []interface{}{fake.docs[0]["text"], fake.docs[1]["text"]}
	assert.ElementsMatch(t, []interface{}{"the boy ran", "the dog sat"}, texts)
	assert.Equal(t, "run-1", fake.docs[0]["run_id"])
}

func TestIndexSamplesReportsRejected(t *testing.T) {
	c, _ := newTestClient(t)

	err := c.IndexSamples(context.Background(), []SampleDocument{{ID: "a", Text: "ok"}, {ID: "b", Text: "reject"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
}

func TestIndexJSONLinesFile(t *testing.T) {
	c, fake := newTestClient(t)

	path := filepath.Join(t.TempDir(), "samples.jsonl")
	require.NoError(t, WriteJSONLines(path, []SampleDocument{{RunID: "r", Text: "one"}}))
	require.NoError(t, WriteJSONLines(path, []SampleDocument{{RunID: "r", Text: "two"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))

	require.NoError(t, c.IndexJSONLinesFile(context.Background(), path))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.docs, 2)
}

func TestIndexJSONLinesFileMissing(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Error(t, c.IndexJSONLinesFile(context.Background(), filepath.Join(t.TempDir(), "nope.jsonl")))
}
