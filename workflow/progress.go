package workflow

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/openmodeller/omws/common/stats"
	"github.com/openmodeller/omws/ticket"
)

const DefaultMembershipCacheSize = 1024

// Aggregator computes progress values. It never writes to the store.
type Aggregator struct {
	store   ticket.Store
	members *membershipCache
	stat    stats.StatsReceiver
}

// NewAggregator caches the member lists of up to cacheSize experiments.
// JOBS is written once at creation, so cached lists never go stale.
func NewAggregator(store ticket.Store, cacheSize int, stat stats.StatsReceiver) (*Aggregator, error) {
	stat = stat.Scope("progress")
	members, err := newMembershipCache(store, cacheSize, stat)
	if err != nil {
		return nil, err
	}
	return &Aggregator{store: store, members: members, stat: stat}, nil
}

// Progress returns the progress code of id:
//
//	-4 unknown ticket, -3 cancelled, -2 aborted, -1 queued or blocked,
//	0..99 running, 100 done.
//
// A simple ticket reports 99 until its done flag is set. An experiment
// without a recorded value reads the first failure code among its members,
// -1 when no member has started, and otherwise the mean of its members'
// non-negative values.
func (a *Aggregator) Progress(id ticket.ID) (int, error) {
	progress, known, err := a.recorded(id)
	if err != nil || known {
		return progress, err
	}

	md, err := a.store.ReadMetadata(id)
	if ticket.IsNotFound(err) {
		return ticket.ProgressUnknown, nil
	} else if err != nil {
		return 0, err
	}
	jobType, err := md.Type()
	if err != nil {
		return 0, err
	}
	if jobType != ticket.Experiment {
		return ticket.ProgressQueued, nil
	}

	members, err := a.members.get(id)
	if err != nil {
		return 0, err
	}
	return a.aggregate(members)
}

// recorded reads the progress value written for id, if any.
func (a *Aggregator) recorded(id ticket.ID) (int, bool, error) {
	progress, err := a.store.ReadProgress(id)
	if ticket.IsNotFound(err) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, errors.Wrapf(err, "reading progress of %s", id)
	}
	if progress == ticket.ProgressDone {
		done, err := a.store.IsDone(id)
		if err != nil {
			return 0, false, err
		}
		if !done {
			progress = ticket.ProgressDone - 1
		}
	}
	return progress, true, nil
}

func (a *Aggregator) aggregate(members []ticket.ID) (int, error) {
	if len(members) == 0 {
		return ticket.ProgressQueued, nil
	}
	sum, queued := 0, 0
	for _, m := range members {
		progress, known, err := a.recorded(m)
		if err != nil {
			return 0, err
		}
		if !known || progress == ticket.ProgressQueued {
			queued++
			continue
		}
		if ticket.IsFailureCode(progress) {
			return progress, nil
		}
		sum += progress
	}
	if queued == len(members) {
		return ticket.ProgressQueued, nil
	}
	mean := sum / len(members)
	// Only the trigger declares an experiment done.
	if mean >= ticket.ProgressDone {
		mean = ticket.ProgressDone - 1
	}
	return mean, nil
}

// membershipCache maps experiments to their JOBS lists.
type membershipCache struct {
	store ticket.Store
	cache *lru.Cache
	stat  stats.StatsReceiver
}

func newMembershipCache(store ticket.Store, size int, stat stats.StatsReceiver) (*membershipCache, error) {
	if size <= 0 {
		size = DefaultMembershipCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "creating membership cache")
	}
	return &membershipCache{store: store, cache: cache, stat: stat}, nil
}

func (c *membershipCache) get(exp ticket.ID) ([]ticket.ID, error) {
	if v, ok := c.cache.Get(exp); ok {
		c.stat.Counter(stats.ProgressCacheHitCounter).Inc(1)
		return v.([]ticket.ID), nil
	}
	c.stat.Counter(stats.ProgressCacheMissCounter).Inc(1)
	md, err := c.store.ReadMetadata(exp)
	if err != nil {
		return nil, err
	}
	members := md.Jobs()
	// An experiment still being created has no JOBS yet.
	if len(members) > 0 {
		c.cache.Add(exp, members)
	}
	return members, nil
}
