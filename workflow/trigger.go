package workflow

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/openmodeller/omws/common/log/hooks"
	"github.com/openmodeller/omws/common/stats"
	"github.com/openmodeller/omws/jobs"
	"github.com/openmodeller/omws/ticket"
)

type TriggerConfig struct {
	// SkipRequest moves promoted requests straight to Processed, for
	// deployments where an external queue consumes promotions.
	SkipRequest bool
	// CreateDone marks the completed ticket done at the end of the run.
	CreateDone bool
	// LockTimeout bounds the wait for the experiment lock. Zero waits
	// as long as the context allows.
	LockTimeout time.Duration
}

// Outcome describes what one trigger run changed.
type Outcome struct {
	Experiment ticket.ID
	Promoted   []ticket.ID
	// Finished is set when this run declared the experiment succeeded.
	Finished bool
	// Stopped is set when this run stopped the experiment.
	Stopped bool
	// Terminal is set whenever the experiment is done after the run,
	// including when it already was.
	Terminal bool
}

// Trigger advances the experiment of a ticket that just finished. It is
// safe to run more than once for the same ticket: every transition it makes
// is guarded by a state it can observe.
type Trigger struct {
	store   ticket.Store
	cascade *Cascade
	config  TriggerConfig
	stat    stats.StatsReceiver
}

func NewTrigger(store ticket.Store, cascade *Cascade, config TriggerConfig, stat stats.StatsReceiver) *Trigger {
	return &Trigger{store: store, cascade: cascade, config: config, stat: stat.Scope("trigger")}
}

// Run handles the completion of id. Runs for members of the same experiment
// are serialized by the experiment lock.
func (t *Trigger) Run(ctx context.Context, id ticket.ID) (*Outcome, error) {
	defer t.stat.Latency(stats.TriggerLatency_ms).Time().Stop()
	t.stat.Counter(stats.TriggerInvocationsCounter).Inc(1)

	md, err := t.store.ReadMetadata(id)
	if err != nil {
		return nil, errors.Wrapf(err, "reading metadata of %s", id)
	}
	outcome := &Outcome{}
	exp, ok := md.Experiment()
	if !ok {
		t.stat.Counter(stats.TriggerNoOpCounter).Inc(1)
		return outcome, t.finish(id)
	}
	outcome.Experiment = exp

	lockTimer := t.stat.Latency(stats.TriggerLockLatency_ms).Time()
	unlock, err := lockExperiment(ctx, t.store, exp, t.config.LockTimeout)
	lockTimer.Stop()
	if err != nil {
		return nil, err
	}
	defer unlock()

	logger := log.WithFields(log.Fields{hooks.ExperimentField: exp, "ticket": id})

	done, err := t.store.IsDone(exp)
	if err != nil {
		return nil, errors.Wrapf(err, "checking experiment %s", exp)
	}
	if done {
		logger.Debug("experiment already terminal")
		t.stat.Counter(stats.TriggerNoOpCounter).Inc(1)
		outcome.Terminal = true
		return outcome, t.finish(id)
	}

	progress, err := t.store.ReadProgress(id)
	if ticket.IsNotFound(err) {
		progress = ticket.ProgressAborted
	} else if err != nil {
		return nil, errors.Wrapf(err, "reading progress of %s", id)
	}
	if progress != ticket.ProgressDone {
		status := ticket.ProgressAborted
		if progress == ticket.ProgressCancelled {
			status = ticket.ProgressCancelled
		}
		logger.WithField("progress", progress).Warn("job did not succeed")
		return t.stop(outcome, exp, id, status)
	}

	next := md.Next()
	if len(next) == 0 {
		finished, err := t.finishExperiment(exp, id)
		if err != nil {
			return nil, err
		}
		if finished {
			logger.Info("experiment succeeded")
			outcome.Finished, outcome.Terminal = true, true
		}
		return outcome, t.finish(id)
	}

	for _, d := range next {
		promoted, err := t.resolve(d, id)
		if err != nil {
			// The graph or a producer result is corrupt, stop rather than guess.
			logger.WithError(err).Errorf("could not resolve dependent %s", d)
			t.stat.Counter(stats.TriggerSpliceErrorCounter).Inc(1)
			return t.stop(outcome, exp, id, ticket.ProgressAborted)
		}
		if promoted {
			logger.Infof("promoted %s", d)
			t.stat.Counter(stats.TriggerPromotedCounter).Inc(1)
			outcome.Promoted = append(outcome.Promoted, d)
		}
	}
	if len(outcome.Promoted) == 0 {
		t.stat.Counter(stats.TriggerNoOpCounter).Inc(1)
	}
	return outcome, t.finish(id)
}

func (t *Trigger) stop(outcome *Outcome, exp, id ticket.ID, status int) (*Outcome, error) {
	stopped, err := t.cascade.stopLocked(exp, id, status)
	if err != nil {
		return nil, err
	}
	outcome.Stopped, outcome.Terminal = stopped, true
	return outcome, t.finish(id)
}

// finishExperiment marks exp succeeded when every member other than id,
// which reported 100, is done with 100. id is marked done first so that a
// succeeded experiment never has a member still reading Running.
func (t *Trigger) finishExperiment(exp, id ticket.ID) (bool, error) {
	md, err := t.store.ReadMetadata(exp)
	if err != nil {
		return false, errors.Wrapf(err, "reading experiment %s", exp)
	}
	for _, member := range md.Jobs() {
		if member == id {
			continue
		}
		ok, err := succeeded(t.store, member)
		if err != nil || !ok {
			return false, err
		}
	}
	if err := t.store.MarkDone(id); err != nil {
		return false, errors.Wrapf(err, "marking %s done", id)
	}
	if err := t.store.WriteProgress(exp, ticket.ProgressDone); err != nil {
		return false, errors.Wrapf(err, "writing progress of experiment %s", exp)
	}
	if err := t.store.MarkDone(exp); err != nil {
		return false, errors.Wrapf(err, "marking experiment %s done", exp)
	}
	t.stat.Counter(stats.TriggerSucceededCounter).Inc(1)
	return true, nil
}

// resolve promotes d when every producer feeding it, other than the one that
// just finished, has succeeded and d is still blocked. Producer results are
// spliced into d's request before it becomes visible to executors.
func (t *Trigger) resolve(d, finished ticket.ID) (bool, error) {
	done, err := t.store.IsDone(d)
	if err != nil || done {
		return false, err
	}
	md, err := t.store.ReadMetadata(d)
	if err != nil {
		return false, err
	}
	prev, err := md.Prev()
	if err != nil {
		return false, err
	}
	for _, e := range prev {
		if e.Producer == finished {
			continue
		}
		ok, err := succeeded(t.store, e.Producer)
		if err != nil || !ok {
			return false, err
		}
	}

	jobType, err := md.Type()
	if err != nil {
		return false, err
	}
	request, stage, err := t.store.ReadRequest(d, jobType)
	if err != nil {
		return false, err
	}
	if stage != ticket.Pending {
		return false, nil
	}

	inputs := make([]jobs.Input, 0, len(prev))
	for _, e := range prev {
		result, err := t.readResult(e.Producer)
		if err != nil {
			return false, errors.Wrapf(err, "reading %s result of %s", e.Role, e.Producer)
		}
		inputs = append(inputs, jobs.Input{Role: e.Role, Result: result})
	}
	splicer, err := jobs.SplicerFor(jobType)
	if err != nil {
		return false, err
	}
	spliced, err := splicer.Splice(request, inputs)
	if err != nil {
		return false, err
	}

	if err := t.store.WriteRequest(d, jobType, ticket.Pending, spliced); err != nil {
		return false, err
	}
	target := ticket.Runnable
	if t.config.SkipRequest {
		target = ticket.Processed
	}
	if err := t.store.MoveRequest(d, jobType, ticket.Pending, target); err != nil {
		if ticket.IsNotFound(err) {
			// Cancelled between the stage check and the move.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *Trigger) readResult(producer ticket.ID) ([]byte, error) {
	md, err := t.store.ReadMetadata(producer)
	if err != nil {
		return nil, err
	}
	jobType, err := md.Type()
	if err != nil {
		return nil, err
	}
	return t.store.ReadResult(producer, jobType)
}

func (t *Trigger) finish(id ticket.ID) error {
	if !t.config.CreateDone {
		return nil
	}
	return errors.Wrapf(t.store.MarkDone(id), "marking %s done", id)
}

// Publish runs the trigger synchronously, for processes without a Dispatcher.
func (t *Trigger) Publish(id ticket.ID) error {
	_, err := t.Run(context.Background(), id)
	return err
}
