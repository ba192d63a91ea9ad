// omws-server serves the omws HTTP API. With the worker section of its
// config enabled it also executes jobs and drives experiments in process.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openmodeller/omws/api"
	"github.com/openmodeller/omws/common/endpoints"
	"github.com/openmodeller/omws/common/log/hooks"
	"github.com/openmodeller/omws/common/stats"
	"github.com/openmodeller/omws/config"
	"github.com/openmodeller/omws/ticket"
	"github.com/openmodeller/omws/worker"
	"github.com/openmodeller/omws/workflow"
)

const shutdownTimeout = 10 * time.Second

type server struct {
	store      ticket.Store
	stat       stats.StatsReceiver
	http       *endpoints.TwitterServer
	dispatcher *workflow.Dispatcher
	worker     *worker.Worker
}

func main() {
	log.AddHook(hooks.NewContextHook())

	configFlag := flag.String("config", "local.file", "config name, JSON file or JSON text")
	addrFlag := flag.String("addr", "", "address to serve on, overrides the config")
	logLevelFlag := flag.String("log_level", "info", "Log everything at this level and above (error|info|debug)")
	flag.Parse()

	level, err := log.ParseLevel(*logLevelFlag)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatal(err)
	}
	if *addrFlag != "" {
		cfg.Service.Addr = *addrFlag
	}
	log.Infof("starting omws-server with config:\n%s", cfg)

	s, err := newServer(cfg, stats.DefaultStatsReceiver())
	if err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := s.run(ctx); err != nil {
		log.Fatal(err)
	}
}

// newServer opens the store and wires the handler, and the in-process worker
// when it is enabled.
func newServer(cfg *config.Config, stat stats.StatsReceiver) (*server, error) {
	store, err := cfg.MakeStore()
	if err != nil {
		return nil, err
	}
	log.AddHook(hooks.NewExperimentLogHook(store))

	tc := cfg.TriggerConfig()
	cascade := workflow.NewCascade(store, tc.LockTimeout, stat)
	handler, err := api.NewHandler(store, cascade, cfg.Service, stat.Scope("api"))
	if err != nil {
		store.Close()
		return nil, err
	}
	engine := endpoints.NewEngine()
	api.RegisterRoutes(engine, handler)
	s := &server{
		store: store,
		stat:  stat,
		http:  endpoints.NewTwitterServer(cfg.Service.Addr, stat, engine),
	}
	if !cfg.Worker.Enabled {
		return s, nil
	}

	executors, err := cfg.MakeExecutors()
	if err != nil {
		store.Close()
		return nil, err
	}
	trigger := workflow.NewTrigger(store, cascade, tc, stat)
	s.dispatcher, err = workflow.NewDispatcher(store, trigger, cfg.Service.MetadataCacheSize, stat)
	if err != nil {
		store.Close()
		return nil, err
	}
	s.worker = worker.NewWorker(store, executors, s.dispatcher, cfg.WorkerConfig(), stat)
	return s, nil
}

// run serves until ctx is done or the listener fails, then stops the worker,
// drains the dispatcher and closes the store.
func (s *server) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		endpoints.StartUptimeReporting(ctx, s.stat, stats.APIServerUptime_ms, stats.APIServerStartedGauge)
	}()
	if s.worker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker.Run(ctx)
		}()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.http.Serve() }()

	var err error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		err = s.http.Shutdown(shutdownCtx)
		done()
		<-serveErr
	case err = <-serveErr:
	}
	cancel()
	wg.Wait()
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	if closeErr := s.store.Close(); err == nil {
		err = closeErr
	}
	return err
}
