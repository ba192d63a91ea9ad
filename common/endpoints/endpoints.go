// Package endpoints serves the admin surface shared by every omws process:
// a health check and the rendered stats registry.
package endpoints

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/openmodeller/omws/common/stats"
)

const (
	HealthPath  = "/health"
	MetricsPath = "/admin/metrics.json"
)

// How often the uptime gauge is refreshed, and how long the restart gauge stays raised.
var (
	StatReportInterval   = 500 * time.Millisecond
	StartupGaugeSpikeLen = time.Minute
)

func NewTwitterServer(addr string, stat stats.StatsReceiver, engine *gin.Engine) *TwitterServer {
	if engine == nil {
		engine = NewEngine()
	}
	RegisterAdmin(engine, stat)
	return &TwitterServer{
		Addr:   addr,
		Stats:  stat,
		Engine: engine,
		server: &http.Server{Addr: addr, Handler: engine},
	}
}

type TwitterServer struct {
	Addr   string
	Stats  stats.StatsReceiver
	Engine *gin.Engine

	server *http.Server
}

// NewEngine returns a gin engine with recovery and request logging through logrus.
func NewEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	return engine
}

// RegisterAdmin mounts the health and metrics handlers.
func RegisterAdmin(r gin.IRoutes, stat stats.StatsReceiver) {
	r.GET(HealthPath, func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET(MetricsPath, func(c *gin.Context) {
		pretty := c.Query("pretty") == "true"
		c.Data(http.StatusOK, "application/json; charset=utf-8", stat.Render(pretty))
	})
}

// Serve blocks until the server stops. It returns nil after Shutdown, which
// may be called before Serve.
func (s *TwitterServer) Serve() error {
	log.Infof("serving http & stats on %s", s.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *TwitterServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("handled request")
	}
}

// StartUptimeReporting raises the restart gauge for StartupGaugeSpikeLen and
// keeps the uptime gauge current until ctx is done.
func StartUptimeReporting(ctx context.Context, stat stats.StatsReceiver, uptimeName, startedName string) {
	stat.Gauge(startedName).Update(1)
	startTime := time.Now()
	spike := time.NewTimer(StartupGaugeSpikeLen)
	ticker := time.NewTicker(StatReportInterval)
	defer spike.Stop()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-spike.C:
			stat.Gauge(startedName).Update(0)
		case <-ticker.C:
			stat.Gauge(uptimeName).Update(int64(time.Since(startTime) / time.Millisecond))
		}
	}
}
