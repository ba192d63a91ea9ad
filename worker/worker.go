// Package worker runs jobs in process: it claims runnable requests from a
// ticket store, hands them to an Executor, records the outcome and publishes
// a completion event so the workflow can advance.
package worker

//go:generate mockgen -source=worker.go -package=worker -destination=worker_mock.go

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/openmodeller/omws/async"
	"github.com/openmodeller/omws/common/stats"
	"github.com/openmodeller/omws/ticket"
)

// Job is a claimed request.
type Job struct {
	ID      ticket.ID
	Type    ticket.JobType
	Request []byte
}

// Executor runs one job to completion and returns its result document.
// It may report intermediate progress, 0 to 99, through progress.
type Executor interface {
	Execute(ctx context.Context, job *Job, progress func(int)) ([]byte, error)
}

// Publisher is told about every job that finished, whatever the outcome.
type Publisher interface {
	Publish(id ticket.ID) error
}

type Config struct {
	// Concurrency caps the number of jobs executing at once.
	Concurrency int
	// PollingPeriod is how often the store is scanned for runnable requests.
	PollingPeriod time.Duration
}

const (
	DefaultConcurrency   = 4
	DefaultPollingPeriod = 500 * time.Millisecond
)

// errInterrupted marks a run cut short by shutdown rather than by the job.
var errInterrupted = errors.New("interrupted by shutdown")

type Worker struct {
	store     ticket.Store
	executors map[ticket.JobType]Executor
	jobTypes  []ticket.JobType
	publisher Publisher
	config    Config
	stat      stats.StatsReceiver
	runner    *async.Runner
}

// NewWorker returns a Worker claiming the job types executors has an entry for.
func NewWorker(store ticket.Store, executors map[ticket.JobType]Executor, publisher Publisher, config Config, stat stats.StatsReceiver) *Worker {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.PollingPeriod <= 0 {
		config.PollingPeriod = DefaultPollingPeriod
	}
	jobTypes := make([]ticket.JobType, 0, len(executors))
	for jobType := range executors {
		jobTypes = append(jobTypes, jobType)
	}
	sort.Slice(jobTypes, func(i, j int) bool { return jobTypes[i] < jobTypes[j] })
	return &Worker{
		store:     store,
		executors: executors,
		jobTypes:  jobTypes,
		publisher: publisher,
		config:    config,
		stat:      stat.Scope("worker"),
		runner:    async.NewRunner(),
	}
}

// Run claims and executes jobs until ctx is done, then waits for the jobs it
// started. Executors see ctx and are expected to return once it is done; a
// job that fails after ctx is done is requeued instead of recorded.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollingPeriod)
	defer ticker.Stop()
	log.Infof("worker started, executing %v", w.jobTypes)

	for {
		w.runner.ProcessMessages()
		if ctx.Err() != nil {
			break
		}
		w.poll(ctx)
		select {
		case <-ticker.C:
		case <-w.runner.Notify():
		case <-ctx.Done():
		}
	}

	for w.runner.NumRunning() > 0 {
		<-w.runner.Notify()
		w.runner.ProcessMessages()
	}
	log.Info("worker stopped")
}

// poll starts as many runnable jobs as free slots allow.
func (w *Worker) poll(ctx context.Context) {
	for _, jobType := range w.jobTypes {
		free := w.config.Concurrency - w.runner.NumRunning()
		if free <= 0 {
			return
		}
		ids, err := w.store.ListRequests(jobType, ticket.Runnable)
		if err != nil {
			log.WithError(err).Errorf("could not list runnable %s requests", jobType.Name())
			continue
		}
		for _, id := range ids {
			if w.runner.NumRunning() >= w.config.Concurrency {
				return
			}
			job, err := w.claim(id, jobType)
			if err != nil {
				log.WithError(err).Errorf("could not claim %s", id)
				continue
			}
			if job != nil {
				w.start(ctx, job)
			}
		}
	}
}

// claim wins the request of id or returns nil when another claimant did.
func (w *Worker) claim(id ticket.ID, jobType ticket.JobType) (*Job, error) {
	err := w.store.MoveRequest(id, jobType, ticket.Runnable, ticket.Processed)
	if ticket.IsNotFound(err) {
		w.stat.Counter(stats.WorkerClaimLostCounter).Inc(1)
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	w.stat.Counter(stats.WorkerClaimedCounter).Inc(1)
	if err := w.store.WriteProgress(id, 0); err != nil {
		return nil, w.abandon(id, jobType, errors.Wrap(err, "writing initial progress"))
	}
	request, _, err := w.store.ReadRequest(id, jobType)
	if err != nil {
		return nil, w.abandon(id, jobType, errors.Wrap(err, "reading claimed request"))
	}
	return &Job{ID: id, Type: jobType, Request: request}, nil
}

// abandon fails a claimed job that could not be started.
func (w *Worker) abandon(id ticket.ID, jobType ticket.JobType, cause error) error {
	w.record(id, jobType, nil, cause)
	w.publish(id)
	return cause
}

func (w *Worker) start(ctx context.Context, job *Job) {
	executor := w.executors[job.Type]
	w.stat.Gauge(stats.WorkerRunningGauge).Update(int64(w.runner.NumRunning() + 1))
	log.WithFields(log.Fields{"ticket": job.ID, "type": job.Type.Name()}).Info("starting job")

	w.runner.RunAsync(func() error {
		defer w.stat.Latency(stats.WorkerRunLatency_ms).Time().Stop()
		result, err := executor.Execute(ctx, job, func(p int) { w.reportProgress(job.ID, p) })
		if err != nil && ctx.Err() != nil {
			w.requeue(job, err)
			return errInterrupted
		}
		w.record(job.ID, job.Type, result, err)
		return err
	}, func(err error) {
		w.stat.Gauge(stats.WorkerRunningGauge).Update(int64(w.runner.NumRunning() - 1))
		if err != errInterrupted {
			w.publish(job.ID)
		}
	})
}

// requeue hands a job interrupted by shutdown back to the runnable stage
// with the queued code, so the next worker claims it again. Nothing is
// published: the job did not finish.
func (w *Worker) requeue(job *Job, cause error) {
	logger := log.WithFields(log.Fields{"ticket": job.ID, "cause": cause})
	if err := w.store.MoveRequest(job.ID, job.Type, ticket.Processed, ticket.Runnable); err != nil {
		logger.WithError(err).Error("could not requeue interrupted job, it stays running")
		return
	}
	if err := w.store.WriteProgress(job.ID, ticket.ProgressQueued); err != nil {
		logger.WithError(err).Error("could not reset progress of requeued job")
	}
	w.stat.Counter(stats.WorkerRequeuedCounter).Inc(1)
	logger.Info("requeued job interrupted by shutdown")
}

func (w *Worker) reportProgress(id ticket.ID, p int) {
	if p < 0 {
		p = 0
	} else if p >= ticket.ProgressDone {
		p = ticket.ProgressDone - 1
	}
	if err := w.store.WriteProgress(id, p); err != nil {
		log.WithError(err).Warnf("could not write progress of %s", id)
	}
}

// record writes the outcome of a job: its result and 100, or the aborted
// code, followed by the done flag.
func (w *Worker) record(id ticket.ID, jobType ticket.JobType, result []byte, err error) {
	logger := log.WithField("ticket", id)
	progress := ticket.ProgressDone
	if err == nil {
		if writeErr := w.store.WriteResult(id, jobType, result); writeErr != nil {
			err = errors.Wrap(writeErr, "writing result")
		}
	}
	if err != nil {
		logger.WithError(err).Warn("job failed")
		w.stat.Counter(stats.WorkerFailedCounter).Inc(1)
		progress = ticket.ProgressAborted
	} else {
		logger.Info("job succeeded")
		w.stat.Counter(stats.WorkerSucceededCounter).Inc(1)
	}
	if err := w.store.WriteProgress(id, progress); err != nil {
		logger.WithError(err).Error("could not write final progress")
	}
	if err := w.store.MarkDone(id); err != nil {
		logger.WithError(err).Error("could not mark job done")
	}
}

func (w *Worker) publish(id ticket.ID) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.Publish(id); err != nil {
		log.WithError(err).Errorf("could not publish completion of %s", id)
	}
}
