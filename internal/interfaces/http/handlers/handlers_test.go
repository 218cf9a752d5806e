package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-MMP/internal/application/mmp"
	"github.com/turtacn/KeyIP-MMP/internal/config"
	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/database/neo4j/repositories"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/search/opensearch"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/storage/minio"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
	dto "github.com/turtacn/KeyIP-MMP/pkg/types/mmp"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, data interface{}) *ResponseMeta {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
		Meta *ResponseMeta   `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, data))
	return env.Meta
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

// ─────────────────────────────────────────────────────────────────────────────
// Fragment
// ─────────────────────────────────────────────────────────────────────────────

func newFragmentHandler(sinks SinkFactory) *FragmentHandler {
	set := mmp.NewServiceSet(config.MMPConfig{MaxCuts: 3, Workers: 2}, mmp.EngineDeps{})
	return NewFragmentHandler(set, sinks, config.HTTPConfig{MaxBodySize: 1 << 16, MaxMolecules: 2}, nil)
}

func postFragments(h *FragmentHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fragments", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Fragment(w, req)
	return w
}

func TestFragmentHandler_Fragment(t *testing.T) {
	extra := &mmp.CollectingSink{}
	var submission string
	h := newFragmentHandler(func(id string) (fragment.RecordSink, error) {
		submission = id
		return extra, nil
	})

	w := postFragments(h, `{"molecules":[{"smiles":"CCOCC","compound_id":"ether"},{"smiles":"C1CC","compound_id":"bad"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp dto.FragmentResponse
	decodeEnvelope(t, w, &resp)
	assert.Len(t, resp.Records, 6)
	assert.Equal(t, "ether", resp.Records[0].CompoundID)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "MOL_001", resp.Failures[0].Code)
	assert.Equal(t, 2, resp.Summary.Molecules)

	assert.NotEmpty(t, submission)
	assert.Len(t, extra.Records, 6)
}

func TestFragmentHandler_MaxCuts(t *testing.T) {
	w := postFragments(newFragmentHandler(nil), `{"molecules":[{"smiles":"CCOCC","compound_id":"ether"}],"max_cuts":1}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.FragmentResponse
	decodeEnvelope(t, w, &resp)
	require.Len(t, resp.Records, 2)
	for _, r := range resp.Records {
		assert.Equal(t, 1, r.CutCount)
	}
}

func TestFragmentHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   errors.ErrorCode
	}{
		{"empty body", ``, http.StatusBadRequest, errors.ErrCodeBadRequest},
		{"malformed", `{"molecules":`, http.StatusBadRequest, errors.ErrCodeBadRequest},
		{"unknown field", `{"mols":[]}`, http.StatusBadRequest, errors.ErrCodeBadRequest},
		{"no molecules", `{"molecules":[]}`, http.StatusUnprocessableEntity, errors.ErrCodeValidation},
		{"missing id", `{"molecules":[{"smiles":"C"}]}`, http.StatusUnprocessableEntity, errors.ErrCodeValidation},
		{"too many cuts", `{"molecules":[{"smiles":"C","compound_id":"1"}],"max_cuts":5}`, http.StatusUnprocessableEntity, errors.ErrCodeValidation},
		{
			"too many molecules",
			`{"molecules":[{"smiles":"C","compound_id":"1"},{"smiles":"C","compound_id":"2"},{"smiles":"C","compound_id":"3"}]}`,
			http.StatusUnprocessableEntity, errors.ErrCodeValidation,
		},
		{"oversized", `{"molecules":[{"smiles":"` + strings.Repeat("C", 1<<16) + `","compound_id":"1"}]}`, http.StatusBadRequest, errors.ErrCodeBadRequest},
	}
	h := newFragmentHandler(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postFragments(h, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, string(tt.code), decodeError(t, w).Code)
		})
	}
}

func TestFragmentHandler_SubmissionIDsAreUnique(t *testing.T) {
	var ids []string
	h := newFragmentHandler(func(id string) (fragment.RecordSink, error) {
		ids = append(ids, id)
		return &mmp.CollectingSink{}, nil
	})
	// request ids from chi's middleware are a per-process counter
	router := chimw.RequestID(http.HandlerFunc(h.Fragment))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/fragments", strings.NewReader(`{"molecules":[{"smiles":"CCO","compound_id":"e"}]}`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	for _, id := range ids {
		_, err := uuid.Parse(id)
		assert.NoError(t, err, id)
	}
}

func TestFragmentHandler_SinkFactoryError(t *testing.T) {
	h := newFragmentHandler(func(string) (fragment.RecordSink, error) {
		return nil, errors.New(errors.ErrCodeValidation, `sink "neo4j" enabled but its backend is not configured`)
	})
	w := postFragments(h, `{"molecules":[{"smiles":"C","compound_id":"1"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

type rejectingSink struct{}

func (rejectingSink) Accept(context.Context, fragment.Record) error { return assert.AnError }
func (rejectingSink) AcceptFailure(context.Context, fragment.Failure) error {
	return assert.AnError
}

func TestFragmentHandler_SinkFailureIsMasked(t *testing.T) {
	h := newFragmentHandler(func(string) (fragment.RecordSink, error) { return rejectingSink{}, nil })
	w := postFragments(h, `{"molecules":[{"smiles":"CC","compound_id":"1"}]}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, "MMP_006", e.Code)
	assert.Equal(t, "record sink failed", e.Message)
}

// ─────────────────────────────────────────────────────────────────────────────
// Pairs and neighbours
// ─────────────────────────────────────────────────────────────────────────────

type fakePairs struct {
	core  string
	limit int
	recs  []fragment.Record
	err   error
}

func (f *fakePairs) FindPairs(_ context.Context, core string, limit int) ([]fragment.Record, error) {
	f.core, f.limit = core, limit
	return f.recs, f.err
}

type fakeNeighbours struct{ found []repositories.Neighbour }

func (f fakeNeighbours) Neighbours(context.Context, string, int) ([]repositories.Neighbour, error) {
	return f.found, nil
}

func TestPairsHandler_Pairs(t *testing.T) {
	finder := &fakePairs{recs: []fragment.Record{
		{OriginalIdentifier: "CCOC", CompoundID: "a", Core: "[*:1]O[*:2]", SideChains: "[*:1]C.[*:2]CC"},
		{OriginalIdentifier: "CCOCC", CompoundID: "b", Core: "[*:1]O[*:2]", SideChains: "[*:1]CC.[*:2]CC"},
	}}
	h := NewPairsHandler(finder, nil, nil)

	w := httptest.NewRecorder()
	h.Pairs(w, httptest.NewRequest(http.MethodGet, "/api/v1/pairs?core=%5B*:1%5DO%5B*:2%5D&limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.PairsResponse
	meta := decodeEnvelope(t, w, &resp)
	assert.Equal(t, "[*:1]O[*:2]", finder.core)
	assert.Equal(t, 5, finder.limit)
	assert.Equal(t, "[*:1]O[*:2]", resp.Core)
	require.Len(t, resp.Records, 2)
	assert.Equal(t, 2, resp.Records[1].CutCount)
	assert.Equal(t, int64(2), meta.Total)
}

func TestPairsHandler_PairsErrors(t *testing.T) {
	h := NewPairsHandler(&fakePairs{err: errors.New(errors.ErrCodeDBQueryError, "pair lookup failed")}, nil, nil)

	w := httptest.NewRecorder()
	h.Pairs(w, httptest.NewRequest(http.MethodGet, "/api/v1/pairs", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httptest.NewRecorder()
	h.Pairs(w, httptest.NewRequest(http.MethodGet, "/api/v1/pairs?core=x&limit=-1", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httptest.NewRecorder()
	h.Pairs(w, httptest.NewRequest(http.MethodGet, "/api/v1/pairs?core=x", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "database query error", decodeError(t, w).Message)
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestPairsHandler_Neighbours(t *testing.T) {
	h := NewPairsHandler(&fakePairs{}, fakeNeighbours{found: []repositories.Neighbour{{CompoundID: "b", SharedCores: 3}}}, nil)
	w := httptest.NewRecorder()
	h.Neighbours(w, withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/compounds/a/neighbours", nil), "compoundID", "a"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.NeighboursResponse
	decodeEnvelope(t, w, &resp)
	assert.Equal(t, dto.NeighboursResponse{CompoundID: "a", Neighbours: []dto.Neighbour{{CompoundID: "b", SharedCores: 3}}}, resp)

	w = httptest.NewRecorder()
	NewPairsHandler(&fakePairs{}, nil, nil).Neighbours(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Search
// ─────────────────────────────────────────────────────────────────────────────

type fakeSearcher struct{ q opensearch.RecordQuery }

func (f *fakeSearcher) Search(_ context.Context, q opensearch.RecordQuery) (*opensearch.RecordSearchResult, error) {
	f.q = q
	return &opensearch.RecordSearchResult{
		Total:  7,
		TookMs: 3,
		Hits: []opensearch.RecordHit{{
			ID:     "doc-1",
			RunID:  "run",
			Record: fragment.Record{OriginalIdentifier: "CCO", CompoundID: "e", SideChains: "[*:1]C.[*:1]CO"},
		}},
	}, nil
}

func TestSearchHandler_Search(t *testing.T) {
	s := &fakeSearcher{}
	h := NewSearchHandler(s, nil)
	runID := uuid.NewString()

	w := httptest.NewRecorder()
	h.Search(w, httptest.NewRequest(http.MethodGet, "/api/v1/records/search?run_id="+runID+"&compound_id=e&max_cuts=2&from=5&size=1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, opensearch.RecordQuery{RunID: runID, CompoundID: "e", MaxCuts: 2, From: 5, Size: 1}, s.q)
	var resp dto.SearchResponse
	meta := decodeEnvelope(t, w, &resp)
	assert.Equal(t, int64(7), resp.Total)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, 1, resp.Hits[0].Record.CutCount)
	assert.Equal(t, 5, meta.From)
}

func TestSearchHandler_Invalid(t *testing.T) {
	h := NewSearchHandler(&fakeSearcher{}, nil)
	for _, q := range []string{"run_id=nope", "size=1000", "from=x", "max_cuts=4"} {
		w := httptest.NewRecorder()
		h.Search(w, httptest.NewRequest(http.MethodGet, "/api/v1/records/search?"+q, nil))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, q)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Runs
// ─────────────────────────────────────────────────────────────────────────────

type fakeArchive struct {
	minio.ArchiveRepository
	runs      []uuid.UUID
	artifacts map[uuid.UUID][]*minio.ArtifactInfo
}

func (f *fakeArchive) ListRuns(context.Context) ([]uuid.UUID, error) { return f.runs, nil }

func (f *fakeArchive) ListRun(_ context.Context, id uuid.UUID) ([]*minio.ArtifactInfo, error) {
	return f.artifacts[id], nil
}

func (f *fakeArchive) PresignedURL(_ context.Context, id uuid.UUID, kind string, expiry time.Duration) (string, error) {
	return "https://archive.local/" + id.String() + "/" + kind + "?ttl=" + expiry.String(), nil
}

func TestRunsHandler(t *testing.T) {
	run := uuid.New()
	archive := &fakeArchive{
		runs: []uuid.UUID{run},
		artifacts: map[uuid.UUID][]*minio.ArtifactInfo{
			run: {{RunID: run, Kind: minio.KindRecords, Size: 42, ContentType: "text/csv"}},
		},
	}
	h := NewRunsHandler(archive, nil)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list dto.RunList
	decodeEnvelope(t, w, &list)
	assert.Equal(t, []string{run.String()}, list.Runs)

	w = httptest.NewRecorder()
	h.Get(w, withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "runID", run.String()))
	require.Equal(t, http.StatusOK, w.Code)
	var arts dto.RunArtifacts
	decodeEnvelope(t, w, &arts)
	require.Len(t, arts.Artifacts, 1)
	assert.Equal(t, int64(42), arts.Artifacts[0].Size)
	assert.Equal(t, "https://archive.local/"+run.String()+"/records.csv?ttl=15m0s", arts.Artifacts[0].URL)

	w = httptest.NewRecorder()
	h.Get(w, withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "runID", uuid.NewString()))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.Get(w, withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "runID", "x"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Health
// ─────────────────────────────────────────────────────────────────────────────

func TestHealthHandler(t *testing.T) {
	ok := NamedCheck("postgres", func(context.Context) error { return nil })
	down := NamedCheck("redis", func(context.Context) error { return assert.AnError })

	w := httptest.NewRecorder()
	NewHealthHandler("v1.0.0", down).Liveness(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"v1.0.0"`)

	w = httptest.NewRecorder()
	NewHealthHandler("v", ok).Readiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	NewHealthHandler("v", ok, down).Readiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "healthy", resp.Components["postgres"].Status)
	assert.Equal(t, assert.AnError.Error(), resp.Components["redis"].Error)

	w = httptest.NewRecorder()
	NewHealthHandler("v").Readiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
