package workflow

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/openmodeller/omws/common/log/hooks"
	"github.com/openmodeller/omws/common/stats"
	"github.com/openmodeller/omws/ticket"
)

// Cascade cancels jobs that have not started yet and terminates experiments.
type Cascade struct {
	store       ticket.Store
	lockTimeout time.Duration
	stat        stats.StatsReceiver
}

// NewCascade returns a Cascade that waits at most lockTimeout for an
// experiment lock. Zero waits as long as the caller's context allows.
func NewCascade(store ticket.Store, lockTimeout time.Duration, stat stats.StatsReceiver) *Cascade {
	return &Cascade{store: store, lockTimeout: lockTimeout, stat: stat.Scope("cascade")}
}

// StopExperiment takes the experiment lock and stops exp, see stopLocked.
func (c *Cascade) StopExperiment(ctx context.Context, exp, except ticket.ID, status int) (bool, error) {
	unlock, err := lockExperiment(ctx, c.store, exp, c.lockTimeout)
	if err != nil {
		return false, err
	}
	defer unlock()
	return c.stopLocked(exp, except, status)
}

// stopLocked cancels every member of exp other than except that has not
// started, then records status as the experiment's final progress. It
// returns false when exp was already terminal. The caller holds the lock.
//
// Members already running are left alone; their completion finds the
// experiment done and changes nothing.
func (c *Cascade) stopLocked(exp, except ticket.ID, status int) (bool, error) {
	done, err := c.store.IsDone(exp)
	if err != nil {
		return false, errors.Wrapf(err, "checking experiment %s", exp)
	}
	if done {
		return false, nil
	}
	md, err := c.store.ReadMetadata(exp)
	if err != nil {
		return false, errors.Wrapf(err, "reading experiment %s", exp)
	}

	cancelled := 0
	for _, member := range md.Jobs() {
		if member == except {
			continue
		}
		ok, err := c.cancelJob(member)
		if err != nil {
			return false, err
		}
		if ok {
			cancelled++
		}
	}

	if err := c.store.WriteProgress(exp, status); err != nil {
		return false, errors.Wrapf(err, "writing progress of experiment %s", exp)
	}
	if err := c.store.MarkDone(exp); err != nil {
		return false, errors.Wrapf(err, "marking experiment %s done", exp)
	}
	c.stat.Counter(stats.CascadeExperimentsCounter).Inc(1)
	log.WithFields(log.Fields{
		hooks.ExperimentField: exp,
		"trigger":             except,
		"status":              status,
		"cancelled":           cancelled,
	}).Info("stopped experiment")
	return true, nil
}

// cancelJob cancels id if no executor has claimed it. The claim is the
// Runnable to Processed move, so only one of the executor and the cascade
// can win it.
func (c *Cascade) cancelJob(id ticket.ID) (bool, error) {
	done, err := c.store.IsDone(id)
	if err != nil || done {
		return false, err
	}
	progress, err := c.store.ReadProgress(id)
	if err == nil && progress != ticket.ProgressQueued {
		c.stat.Counter(stats.CascadeCancelRefusedCounter).Inc(1)
		return false, nil
	} else if err != nil && !ticket.IsNotFound(err) {
		return false, err
	}

	md, err := c.store.ReadMetadata(id)
	if err != nil {
		return false, err
	}
	jobType, err := md.Type()
	if err != nil {
		return false, err
	}

	err = c.store.MoveRequest(id, jobType, ticket.Runnable, ticket.Processed)
	if ticket.IsNotFound(err) {
		err = c.store.MoveRequest(id, jobType, ticket.Pending, ticket.Processed)
	}
	if ticket.IsNotFound(err) {
		// Claimed by an executor in the meantime.
		c.stat.Counter(stats.CascadeCancelRefusedCounter).Inc(1)
		return false, nil
	} else if err != nil {
		return false, errors.Wrapf(err, "retiring request of %s", id)
	}

	if err := c.store.WriteProgress(id, ticket.ProgressCancelled); err != nil {
		return false, errors.Wrapf(err, "writing progress of %s", id)
	}
	if err := c.store.MarkDone(id); err != nil {
		return false, errors.Wrapf(err, "marking %s done", id)
	}
	c.stat.Counter(stats.CascadeCancelledTicketsCounter).Inc(1)
	return true, nil
}

// Cancel handles a user cancel request and returns the tickets actually
// cancelled. Cancelling an experiment stops it. Cancelling a member that has
// not started stops its experiment as well, since its dependents could never
// run. Unknown tickets are skipped.
func (c *Cascade) Cancel(ctx context.Context, ids []ticket.ID) ([]ticket.ID, error) {
	cancelled := []ticket.ID{}
	for _, id := range ids {
		ok, err := c.cancelOne(ctx, id)
		if err != nil {
			return cancelled, err
		}
		if ok {
			cancelled = append(cancelled, id)
		}
	}
	return cancelled, nil
}

func (c *Cascade) cancelOne(ctx context.Context, id ticket.ID) (bool, error) {
	md, err := c.store.ReadMetadata(id)
	if ticket.IsNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	jobType, err := md.Type()
	if err != nil {
		return false, err
	}

	if jobType == ticket.Experiment {
		return c.StopExperiment(ctx, id, "", ticket.ProgressCancelled)
	}

	exp, ok := md.Experiment()
	if !ok {
		return c.cancelJob(id)
	}
	unlock, err := lockExperiment(ctx, c.store, exp, c.lockTimeout)
	if err != nil {
		return false, err
	}
	defer unlock()
	if ok, err := c.cancelJob(id); err != nil || !ok {
		return false, err
	}
	if _, err := c.stopLocked(exp, id, ticket.ProgressCancelled); err != nil {
		return true, err
	}
	return true, nil
}

// lockExperiment takes the lock of exp, waiting at most timeout when positive.
func lockExperiment(ctx context.Context, store ticket.Store, exp ticket.ID, timeout time.Duration) (func(), error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	unlocker, err := store.Lock(ctx, exp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ticket.ErrLockUnavailable, "locking experiment %s: %v", exp, err)
		}
		return nil, errors.Wrapf(err, "locking experiment %s", exp)
	}
	return func() {
		if err := unlocker.Unlock(); err != nil {
			log.WithError(err).Errorf("could not unlock experiment %s", exp)
		}
	}, nil
}
