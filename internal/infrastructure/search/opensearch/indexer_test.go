package opensearch

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

func testRecords() []fragment.Record {
	return []fragment.Record{
		{OriginalIdentifier: "CCOCC", CompoundID: "ether", SideChains: "[*:1]C.[*:1]COCC"},
		{OriginalIdentifier: "CCOCC", CompoundID: "ether", Core: "[*:1]CO[*:2]", SideChains: "[*:1]C.[*:2]C"},
		{OriginalIdentifier: "CCN", CompoundID: "amine", Core: "[*:1]N", SideChains: "[*:1]CC"},
	}
}

func TestEnsureIndex_CreatesMissingIndex(t *testing.T) {
	var created map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			assert.Equal(t, "/fragments", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		}
	}))
	defer srv.Close()

	idx := NewIndexer(newTestClient(t, srv), IndexerConfig{Index: "fragments"}, nil)
	require.NoError(t, idx.EnsureIndex(context.Background()))

	mappings := created["mappings"].(map[string]any)
	props := mappings["properties"].(map[string]any)
	assert.Equal(t, "keyword", props["core"].(map[string]any)["type"])
	assert.Equal(t, "strict", mappings["dynamic"])
}

func TestEnsureIndex_ExistingIsNoop(t *testing.T) {
	var puts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			puts++
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	idx := NewIndexer(newTestClient(t, srv), IndexerConfig{}, nil)
	require.NoError(t, idx.EnsureIndex(context.Background()))
	assert.Zero(t, puts)
	assert.Equal(t, "mmp-fragments", idx.Index())
}

func TestEnsureIndex_RaceIsTolerated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"resource_already_exists_exception","reason":"exists"}}`))
	}))
	defer srv.Close()

	idx := NewIndexer(newTestClient(t, srv), IndexerConfig{}, nil)
	assert.NoError(t, idx.EnsureIndex(context.Background()))
}

func TestBulkIndex_BatchesAndReportsRejections(t *testing.T) {
	var (
		mu      sync.Mutex
		batches [][]map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/_bulk"))
		var lines []map[string]any
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			var m map[string]any
			require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
			lines = append(lines, m)
		}
		mu.Lock()
		batches = append(batches, lines)
		first := len(batches) == 1
		mu.Unlock()

		if first {
			_, _ = io.WriteString(w, `{"errors":true,"items":[
				{"index":{"_id":"a","status":201}},
				{"index":{"_id":"b","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad"}}}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"errors":false,"items":[{"index":{"_id":"c","status":201}}]}`)
	}))
	defer srv.Close()

	idx := NewIndexer(newTestClient(t, srv), IndexerConfig{Index: "fragments", BulkBatchSize: 2}, nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	idx.now = func() time.Time { return fixed }

	runID := uuid.New()
	res, err := idx.BulkIndex(context.Background(), runID, testRecords())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []BulkItemError{{DocID: "b", ErrorType: "mapper_parsing_exception", Reason: "bad"}}, res.Errors)

	require.Len(t, batches, 2)
	require.Len(t, batches[0], 4)
	action := batches[0][0]["index"].(map[string]any)
	assert.Equal(t, "fragments", action["_index"])
	assert.Equal(t, DocumentID(runID, testRecords()[0]), action["_id"])

	doc := batches[0][3]
	assert.Equal(t, "[*:1]CO[*:2]", doc["core"])
	assert.Equal(t, []any{"[*:1]C", "[*:2]C"}, doc["side_chains"])
	assert.Equal(t, float64(2), doc["cut_count"])
	assert.Equal(t, runID.String(), doc["run_id"])
}

func TestBulkIndex_ServerError(t *testing.T) {
	srv := newStatusServer(http.StatusBadRequest)
	defer srv.Close()

	idx := NewIndexer(newTestClient(t, srv), IndexerConfig{}, nil)
	_, err := idx.BulkIndex(context.Background(), uuid.New(), testRecords())
	assert.True(t, errors.IsCode(err, errors.ErrCodeSearchError))
}

func TestDocumentID_Deterministic(t *testing.T) {
	runID := uuid.New()
	recs := testRecords()
	assert.Equal(t, DocumentID(runID, recs[0]), DocumentID(runID, recs[0]))
	assert.NotEqual(t, DocumentID(runID, recs[0]), DocumentID(runID, recs[1]))
	assert.NotEqual(t, DocumentID(runID, recs[0]), DocumentID(uuid.New(), recs[0]))
}

func TestFragmentDocument_RoundTrip(t *testing.T) {
	rec := testRecords()[1]
	doc := NewFragmentDocument(uuid.New(), rec, time.Now())
	assert.Equal(t, rec, doc.Record())
}

func TestDeleteRun(t *testing.T) {
	runID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/_delete_by_query"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), runID.String())
		_, _ = io.WriteString(w, `{"deleted":7}`)
	}))
	defer srv.Close()

	idx := NewIndexer(newTestClient(t, srv), IndexerConfig{}, nil)
	n, err := idx.DeleteRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
