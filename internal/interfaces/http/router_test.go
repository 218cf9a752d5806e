package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-MMP/internal/application/mmp"
	"github.com/turtacn/KeyIP-MMP/internal/config"
	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/interfaces/http/handlers"
	"github.com/turtacn/KeyIP-MMP/internal/interfaces/http/middleware"
)

type stubPairs struct{}

func (stubPairs) FindPairs(_ context.Context, core string, _ int) ([]fragment.Record, error) {
	return []fragment.Record{{OriginalIdentifier: "CCO", CompoundID: "1", Core: core, SideChains: "[*:1]C.[*:2]O"}}, nil
}

func newTestRouter(auth *middleware.AuthMiddleware) http.Handler {
	set := mmp.NewServiceSet(config.MMPConfig{MaxCuts: 3, Workers: 1}, mmp.EngineDeps{})
	return NewRouter(RouterConfig{
		FragmentHandler: handlers.NewFragmentHandler(set, nil, config.HTTPConfig{}, nil),
		PairsHandler:    handlers.NewPairsHandler(stubPairs{}, nil, nil),
		HealthHandler:   handlers.NewHealthHandler("test"),
		AuthMiddleware:  auth,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	})
}

func serve(h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewRouter_Routes(t *testing.T) {
	r := newTestRouter(nil)

	w := serve(r, http.MethodPost, "/api/v1/fragments", `{"molecules":[{"smiles":"CC","compound_id":"ethane"}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Content-Type"))

	w = serve(r, http.MethodGet, "/api/v1/pairs?core=x", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodGet, "/api/v1/compounds/1/neighbours", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = serve(r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, "# metrics", w.Body.String())
}

func TestNewRouter_UnmountedAndUnknown(t *testing.T) {
	r := newTestRouter(nil)

	w := serve(r, http.MethodGet, "/api/v1/runs", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "COMMON_005", body["code"])

	w = serve(r, http.MethodGet, "/api/v1/fragments", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestNewRouter_AuthOnlyOnAPI(t *testing.T) {
	secret := []byte("k")
	r := newTestRouter(middleware.NewAuthMiddleware(middleware.AuthConfig{Secret: secret}, nil))

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/v1/pairs?core=x", "", nil).Code)

	token, err := middleware.IssueToken(secret, "", "tester", time.Minute)
	require.NoError(t, err)
	w := serve(r, http.MethodGet, "/api/v1/pairs?core=x", "", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewRouter_RecoversPanics(t *testing.T) {
	r := NewRouter(RouterConfig{MetricsHandler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })})
	w := serve(r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestServer_StartStop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(config.HTTPConfig{Host: "127.0.0.1", ShutdownTimeout: time.Second}, newTestRouter(nil), nil)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	// The listener is open, so the request queues until Serve accepts it.
	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(context.Background()))
	assert.NoError(t, <-done)
}

func TestNewOpsRouter(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# ops")) })
	r := NewOpsRouter(handlers.NewHealthHandler("test"), metrics, "/internal/metrics")

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/readyz", "", nil).Code)

	w := serve(r, http.MethodGet, "/internal/metrics", "", nil)
	assert.Equal(t, "# ops", w.Body.String())
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/metrics", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/api/v1/fragments", "{}", nil).Code)
}
