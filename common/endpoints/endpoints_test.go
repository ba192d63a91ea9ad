package endpoints

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openmodeller/omws/common/stats"
)

func TestAdminEndpoints(t *testing.T) {
	stat := stats.DefaultStatsReceiver()
	stat.Counter("requests").Inc(3)
	server := NewTwitterServer("localhost:0", stat, nil)

	w := httptest.NewRecorder()
	server.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = httptest.NewRecorder()
	server.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, MetricsPath+"?pretty=true", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	rendered := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rendered))
	assert.Equal(t, float64(3), rendered["requests"])
}

func TestUptimeReporting(t *testing.T) {
	defer goleak.VerifyNone(t)
	defer func(interval, spike time.Duration) {
		StatReportInterval, StartupGaugeSpikeLen = interval, spike
	}(StatReportInterval, StartupGaugeSpikeLen)
	StatReportInterval = time.Millisecond
	StartupGaugeSpikeLen = 5 * time.Millisecond

	stat := stats.DefaultStatsReceiver()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		StartUptimeReporting(ctx, stat, "uptime_ms", "started")
		close(done)
	}()

	require.Eventually(t, func() bool {
		return stat.Gauge("started").Value() == 0 && stat.Gauge("uptime_ms").Value() >= 5
	}, 5*time.Second, time.Millisecond)
	cancel()
	<-done
}
