package workflow

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/openmodeller/omws/common/log/hooks"
	"github.com/openmodeller/omws/common/stats"
	"github.com/openmodeller/omws/ticket"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher turns completion events into trigger runs. Events of one
// experiment are handled in arrival order by a goroutine owned by that
// experiment, which exits once the experiment is terminal and its queue is
// empty. Tickets outside any experiment are handled by the publisher.
type Dispatcher struct {
	store   ticket.Store
	trigger *Trigger
	owners  *lru.Cache // ticket -> experiment, from the EXP metadata entry
	stat    stats.StatsReceiver

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	loops  map[ticket.ID]*experimentLoop
	closed bool
}

type experimentLoop struct {
	exp    ticket.ID
	events []ticket.ID
	wake   chan struct{}
}

func NewDispatcher(store ticket.Store, trigger *Trigger, cacheSize int, stat stats.StatsReceiver) (*Dispatcher, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultMembershipCacheSize
	}
	owners, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "creating owner cache")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:   store,
		trigger: trigger,
		owners:  owners,
		stat:    stat.Scope("dispatcher"),
		ctx:     ctx,
		cancel:  cancel,
		loops:   make(map[ticket.ID]*experimentLoop),
	}, nil
}

// Publish reports that id finished.
func (d *Dispatcher) Publish(id ticket.ID) error {
	d.stat.Counter(stats.DispatcherEventsCounter).Inc(1)
	exp, ok, err := d.owner(id)
	if err != nil {
		return err
	}
	if !ok {
		_, err := d.trigger.Run(d.ctx, id)
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	loop, ok := d.loops[exp]
	if !ok {
		loop = &experimentLoop{exp: exp, wake: make(chan struct{}, 1)}
		d.loops[exp] = loop
		d.stat.Gauge(stats.DispatcherActiveGauge).Update(int64(len(d.loops)))
		d.wg.Add(1)
		go d.run(loop)
	}
	loop.events = append(loop.events, id)
	select {
	case loop.wake <- struct{}{}:
	default:
	}
	return nil
}

func (d *Dispatcher) owner(id ticket.ID) (ticket.ID, bool, error) {
	if v, ok := d.owners.Get(id); ok {
		exp := v.(ticket.ID)
		return exp, exp != "", nil
	}
	md, err := d.store.ReadMetadata(id)
	if err != nil {
		return "", false, errors.Wrapf(err, "reading metadata of %s", id)
	}
	exp, ok := md.Experiment()
	d.owners.Add(id, exp)
	return exp, ok, nil
}

// run drains the events of one experiment until it is terminal.
func (d *Dispatcher) run(loop *experimentLoop) {
	defer d.wg.Done()
	logger := log.WithField(hooks.ExperimentField, loop.exp)
	terminal := false
	for {
		d.mu.Lock()
		events := loop.events
		loop.events = nil
		if len(events) == 0 && terminal {
			delete(d.loops, loop.exp)
			d.stat.Gauge(stats.DispatcherActiveGauge).Update(int64(len(d.loops)))
			d.mu.Unlock()
			logger.Debug("experiment loop exiting")
			return
		}
		d.mu.Unlock()

		if len(events) == 0 {
			select {
			case <-loop.wake:
				continue
			case <-d.ctx.Done():
				return
			}
		}

		for _, id := range events {
			outcome, err := d.trigger.Run(d.ctx, id)
			if err != nil {
				logger.WithError(err).Errorf("trigger failed for %s", id)
				if d.ctx.Err() != nil {
					return
				}
				continue
			}
			terminal = terminal || outcome.Terminal
		}
	}
}

// Active returns the number of experiments with a running loop.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.loops)
}

// Close stops accepting events and waits for every loop to return.
// Events not yet handled are dropped; the trigger can be rerun for them.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}
