// omws-worker executes jobs from a ticket store shared with omws-server and
// runs the workflow trigger for every job it finishes.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/openmodeller/omws/common/endpoints"
	"github.com/openmodeller/omws/common/log/hooks"
	"github.com/openmodeller/omws/common/stats"
	"github.com/openmodeller/omws/config"
	"github.com/openmodeller/omws/ticket"
	"github.com/openmodeller/omws/worker"
	"github.com/openmodeller/omws/workflow"
)

type workerServer struct {
	store      ticket.Store
	stat       stats.StatsReceiver
	admin      *endpoints.TwitterServer
	dispatcher *workflow.Dispatcher
	worker     *worker.Worker
}

func main() {
	log.AddHook(hooks.NewContextHook())

	configFlag := flag.String("config", "local.file", "config name, JSON file or JSON text")
	httpAddr := flag.String("http_addr", "localhost:9091", "address to serve health and stats on, empty to disable")
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
	ws, err := newWorkerServer(cfg, *httpAddr, stats.DefaultStatsReceiver())
	if err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := ws.run(ctx); err != nil {
		log.Fatal(err)
	}
}

func newWorkerServer(cfg *config.Config, httpAddr string, stat stats.StatsReceiver) (*workerServer, error) {
	executors, err := cfg.MakeExecutors()
	if err != nil {
		return nil, err
	}
	if len(executors) == 0 {
		return nil, errors.New("no executors configured")
	}
	store, err := cfg.MakeStore()
	if err != nil {
		return nil, err
	}
	log.AddHook(hooks.NewExperimentLogHook(store))

	tc := cfg.TriggerConfig()
	cascade := workflow.NewCascade(store, tc.LockTimeout, stat)
	trigger := workflow.NewTrigger(store, cascade, tc, stat)
	dispatcher, err := workflow.NewDispatcher(store, trigger, cfg.Service.MetadataCacheSize, stat)
	if err != nil {
		store.Close()
		return nil, err
	}
	ws := &workerServer{
		store:      store,
		stat:       stat,
		dispatcher: dispatcher,
		worker:     worker.NewWorker(store, executors, dispatcher, cfg.WorkerConfig(), stat),
	}
	if httpAddr != "" {
		ws.admin = endpoints.NewTwitterServer(httpAddr, stat, nil)
	}
	return ws, nil
}

// run executes jobs until ctx is done and then waits for the running ones.
func (ws *workerServer) run(ctx context.Context) error {
	var wg sync.WaitGroup
	if ws.admin != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := ws.admin.Serve(); err != nil {
				log.Errorf("admin server: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			endpoints.StartUptimeReporting(ctx, ws.stat, stats.WorkerUptime_ms, stats.WorkerStartedGauge)
		}()
	}

	ws.worker.Run(ctx)
	ws.dispatcher.Close()
	if ws.admin != nil {
		if err := ws.admin.Shutdown(context.Background()); err != nil {
			log.Errorf("stopping admin server: %v", err)
		}
	}
	wg.Wait()
	return ws.store.Close()
}
