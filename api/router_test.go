package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmodeller/omws/common/endpoints"
	"github.com/openmodeller/omws/config"
	"github.com/openmodeller/omws/ticket"
)

func newTestEngine(t *testing.T, cfg config.ServiceConfig) (*gin.Engine, *Handler, ticket.Store) {
	h, store, _ := newTestHandler(t, cfg)
	engine := endpoints.NewEngine()
	RegisterRoutes(engine, h)
	return engine, h, store
}

func do(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, APIPrefix+path, nil)
	} else {
		req = httptest.NewRequest(method, APIPrefix+path, strings.NewReader(body))
	}
	engine.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestPingRoute(t *testing.T) {
	engine, _, _ := newTestEngine(t, config.ServiceConfig{SystemStatus: config.SystemStatusUnavailable})
	w := do(engine, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	var resp PingResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "ok", resp.Status)
}

func TestRequestIDIsEchoed(t *testing.T) {
	engine, _, _ := newTestEngine(t, config.ServiceConfig{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, APIPrefix+"/ping", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	engine.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}

func TestJobRoutes(t *testing.T) {
	engine, _, store := newTestEngine(t, config.ServiceConfig{})

	w := do(engine, http.MethodPost, "/jobs/samp", `{"Environment": {}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var submitted SubmitResponse
	decodeBody(t, w, &submitted)
	id := submitted.Ticket

	w = do(engine, http.MethodGet, "/tickets/"+string(id)+"/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	var state StateResponse
	decodeBody(t, w, &state)
	assert.Equal(t, "Runnable", state.State)

	w = do(engine, http.MethodGet, "/tickets/"+string(id)+"/result", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	var apiErr ErrorResponse
	decodeBody(t, w, &apiErr)
	assert.Equal(t, KindNotReady, apiErr.Kind)

	require.NoError(t, store.MoveRequest(id, ticket.Sampling, ticket.Runnable, ticket.Processed))
	require.NoError(t, store.WriteResult(id, ticket.Sampling, []byte(`{"Sampler": {}}`)))
	require.NoError(t, store.WriteProgress(id, ticket.ProgressDone))
	require.NoError(t, store.MarkDone(id))

	w = do(engine, http.MethodGet, "/tickets/"+string(id)+"/result", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"Sampler": {}}`, w.Body.String())

	w = do(engine, http.MethodGet, "/progress?tickets="+string(id), "")
	require.Equal(t, http.StatusOK, w.Code)
	var progress ProgressResponse
	decodeBody(t, w, &progress)
	assert.Equal(t, []TicketProgress{{Ticket: id, Progress: ticket.ProgressDone}}, progress.Progress)

	w = do(engine, http.MethodGet, "/results?tickets="+string(id), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"results": {"`+string(id)+`": {"Sampler": {}}}}`, w.Body.String())
}

func TestExperimentRoutes(t *testing.T) {
	engine, _, _ := newTestEngine(t, config.ServiceConfig{})

	w := do(engine, http.MethodPost, "/experiments", experimentDoc)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var exp ExperimentResponse
	decodeBody(t, w, &exp)
	assert.Len(t, exp.Jobs, 2)

	w = do(engine, http.MethodPost, "/cancel?tickets="+string(exp.Jobs["P1"]), "")
	require.Equal(t, http.StatusOK, w.Code)
	var cancelled CancelResponse
	decodeBody(t, w, &cancelled)
	assert.Equal(t, []ticket.ID{exp.Jobs["P1"]}, cancelled.Cancelled)

	w = do(engine, http.MethodGet, "/tickets/"+string(exp.Experiment)+"/state", "")
	var state StateResponse
	decodeBody(t, w, &state)
	assert.Equal(t, "Cancelled", state.State)

	w = do(engine, http.MethodGet, "/tickets/"+string(exp.Jobs["M1"])+"/log", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestRouteErrors(t *testing.T) {
	engine, h, _ := newTestEngine(t, config.ServiceConfig{})
	cases := []struct {
		method, path, body string
		status             int
		kind               string
	}{
		{http.MethodPost, "/jobs/render", `{}`, http.StatusBadRequest, KindInvalidRequest},
		{http.MethodPost, "/jobs/model", `{`, http.StatusBadRequest, KindInvalidRequest},
		{http.MethodPost, "/experiments", `{"Jobs": []}`, http.StatusBadRequest, KindInvalidRequest},
		{http.MethodGet, "/progress", "", http.StatusBadRequest, KindInvalidRequest},
		{http.MethodGet, "/tickets/abcdef/state", "", http.StatusNotFound, KindNotFound},
		{http.MethodGet, "/results?tickets=abcdef", "", http.StatusNotFound, KindNotFound},
		{http.MethodGet, "/tickets/abc/log", "", http.StatusBadRequest, KindInvalidRequest},
	}
	for _, c := range cases {
		w := do(engine, c.method, c.path, c.body)
		assert.Equal(t, c.status, w.Code, c.path)
		var apiErr ErrorResponse
		decodeBody(t, w, &apiErr)
		assert.Equal(t, c.kind, apiErr.Kind, c.path)
	}

	h.SetSystemStatus(config.SystemStatusUnavailable)
	w := do(engine, http.MethodGet, "/progress?tickets=abcdef", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
