package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmodeller/omws/api"
	"github.com/openmodeller/omws/common/endpoints"
	"github.com/openmodeller/omws/common/stats"
	"github.com/openmodeller/omws/config"
)

func newTestServer(t *testing.T, text string) *server {
	cfg, err := config.Parse([]byte(text))
	require.NoError(t, err)
	s, err := newServer(cfg, stats.DefaultStatsReceiver())
	require.NoError(t, err)
	return s
}

func serve(s *server, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.http.Engine.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestServerRoutes(t *testing.T) {
	s := newTestServer(t, `{"Store": {"Type": "memory"}}`)
	defer s.store.Close()
	assert.Nil(t, s.worker)

	w := serve(s, http.MethodGet, api.APIPrefix+api.PingPath, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(s, http.MethodGet, endpoints.HealthPath, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(s, http.MethodPost, api.APIPrefix+"/jobs/samp", `{"Environment": {}}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(s, http.MethodGet, endpoints.MetricsPath, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "api/"+stats.APIPingCounter)
}

func TestServerWithWorker(t *testing.T) {
	s := newTestServer(t, `{
		"Store": {"Type": "memory"},
		"Worker": {"Enabled": true, "Executors": {"samp": "true"}}
	}`)
	require.NotNil(t, s.worker)
	require.NotNil(t, s.dispatcher)
	s.store.Close()
}

func TestServerRejectsBadExecutor(t *testing.T) {
	cfg, err := config.Parse([]byte(`{
		"Store": {"Type": "memory"},
		"Worker": {"Enabled": true, "Executors": {"samp": ""}}
	}`))
	require.NoError(t, err)
	_, err = newServer(cfg, stats.NilStatsReceiver())
	assert.Error(t, err)
}

func TestServerShutsDown(t *testing.T) {
	s := newTestServer(t, `{
		"Store": {"Type": "memory"},
		"Service": {"Addr": "localhost:0"},
		"Worker": {"Enabled": true, "PollingPeriod": "5ms"}
	}`)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
