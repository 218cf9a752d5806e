package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-MMP/pkg/errors"
	dto "github.com/turtacn/KeyIP-MMP/pkg/types/mmp"
)

func apiServer(t *testing.T, routes map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"COMMON_005","message":"no such endpoint"}`))
			return
		}
		if fn, ok := data.(func(*http.Request) interface{}); ok {
			data = fn(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPairsCmd(t *testing.T) {
	var query string
	srv := apiServer(t, map[string]interface{}{
		"/api/v1/pairs": func(r *http.Request) interface{} {
			query = r.URL.RawQuery
			return dto.PairsResponse{Core: "[*:1]COCC", Records: []dto.Record{
				{OriginalIdentifier: "CCOCC", CompoundID: "ether", Core: "[*:1]COCC", SideChains: "[*:1]C", CutCount: 1},
				{OriginalIdentifier: "CCOCCC", CompoundID: "ether2", Core: "[*:1]COCC", SideChains: "[*:1]CC", CutCount: 1},
			}}
		},
	})

	out, _, err := execute(t, "", "--server", srv.URL, "pairs", "--core", "[*:1]COCC", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, query, "limit=5")
	assert.Contains(t, out, "ether2")
	assert.Contains(t, out, "[*:1]CC")

	out, _, err = execute(t, "", "--server", srv.URL, "--format", "json", "pairs", "--core", "[*:1]COCC")
	require.NoError(t, err)
	var resp dto.PairsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Records, 2)
}

func TestPairsCmd_Empty(t *testing.T) {
	srv := apiServer(t, map[string]interface{}{"/api/v1/pairs": dto.PairsResponse{Core: "x"}})
	out, errOut, err := execute(t, "", "--server", srv.URL, "pairs", "--core", "x")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "no records with core x")
}

func TestPairsCmd_Validation(t *testing.T) {
	_, _, err := execute(t, "", "pairs")
	assert.Error(t, err)

	_, _, err = execute(t, "", "pairs", "--core", "x", "--limit", "-1")
	assert.True(t, errors.IsValidation(err))
}

func TestNeighboursCmd(t *testing.T) {
	srv := apiServer(t, map[string]interface{}{
		"/api/v1/compounds/c 1/neighbours": dto.NeighboursResponse{CompoundID: "c 1", Neighbours: []dto.Neighbour{{CompoundID: "c2", SharedCores: 3}}},
	})
	out, _, err := execute(t, "", "--server", srv.URL, "--format", "text", "neighbours", "c 1")
	require.NoError(t, err)
	assert.Equal(t, "c2\t3\n", out)

	_, _, err = execute(t, "", "--server", srv.URL, "neighbours")
	assert.Error(t, err)
}

func TestSearchCmd(t *testing.T) {
	var query string
	srv := apiServer(t, map[string]interface{}{
		"/api/v1/records/search": func(r *http.Request) interface{} {
			query = r.URL.RawQuery
			return dto.SearchResponse{Total: 40, TookMs: 3, Hits: []dto.SearchHit{
				{ID: "h1", RunID: "0b5b1ef4-96a6-4d0c-9a57-0a3a7f3a3a1e", Record: dto.Record{CompoundID: "ether", Core: "[*:1]COCC", SideChains: "[*:1]C"}},
			}}
		},
	})
	out, errOut, err := execute(t, "", "--server", srv.URL, "search", "--compound", "ether", "--size", "1")
	require.NoError(t, err)
	assert.Contains(t, query, "compound_id=ether")
	assert.Contains(t, query, "size=1")
	assert.Contains(t, out, "0b5b1ef4-9...")
	assert.Contains(t, errOut, "1 of 40 hits")

	_, _, err = execute(t, "", "--server", srv.URL, "search", "--run", "not-a-uuid")
	assert.True(t, errors.IsValidation(err))
}

func TestRunsCmd(t *testing.T) {
	const id = "0b5b1ef4-96a6-4d0c-9a57-0a3a7f3a3a1e"
	modified := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := apiServer(t, map[string]interface{}{
		"/api/v1/runs": dto.RunList{Runs: []string{id}},
		"/api/v1/runs/" + id: dto.RunArtifacts{RunID: id, Artifacts: []dto.Artifact{
			{Kind: "records", Size: 120, ContentType: "text/csv", LastModified: modified},
		}},
	})

	out, _, err := execute(t, "", "--server", srv.URL, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	out, _, err = execute(t, "", "--server", srv.URL, "runs", "get", id)
	require.NoError(t, err)
	assert.Contains(t, out, "text/csv")
	assert.Contains(t, out, "2024-03-01 12:00:00")

	_, _, err = execute(t, "", "--server", srv.URL, "runs", "get", "nope")
	assert.True(t, errors.IsValidation(err))
}

func TestRemoteCommand_NotFound(t *testing.T) {
	srv := apiServer(t, map[string]interface{}{})
	_, _, err := execute(t, "", "--server", srv.URL, "runs", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}
