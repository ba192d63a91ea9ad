package experiment

import (
	"context"
	"strings"

	"github.com/luci/go-render/render"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/openmodeller/omws/common/stats"
	"github.com/openmodeller/omws/jobs"
	"github.com/openmodeller/omws/ticket"
)

// Stopper terminates an experiment whose creation could only partly complete.
type Stopper interface {
	StopExperiment(ctx context.Context, exp, except ticket.ID, status int) (bool, error)
}

// Decomposer persists submissions as an experiment ticket plus one ticket per job.
type Decomposer struct {
	store   ticket.Store
	stopper Stopper
	stat    stats.StatsReceiver
}

func NewDecomposer(store ticket.Store, stopper Stopper, stat stats.StatsReceiver) *Decomposer {
	return &Decomposer{store: store, stopper: stopper, stat: stat.Scope("decomposer")}
}

type createdTicket struct {
	id      ticket.ID
	jobType ticket.JobType
}

// Decompose validates sub, creates its tickets and edges and makes the jobs
// without dependencies runnable.
//
// An invalid submission is rejected before anything is written. A storage
// failure before any job became runnable deletes every ticket created so far.
// A failure while promoting stops the experiment, since executors may already
// have picked up some of its jobs.
func (d *Decomposer) Decompose(ctx context.Context, sub *Submission) (*Result, error) {
	defer d.stat.Latency(stats.DecomposerLatency_ms).Time().Stop()

	p, err := newPlan(sub)
	if err != nil {
		d.stat.Counter(stats.DecomposerRejectedCounter).Inc(1)
		log.WithError(err).Info("rejected experiment")
		return nil, err
	}
	if log.GetLevel() >= log.DebugLevel {
		log.Debugf("experiment plan: %s", render.Render(p.jobs))
	}

	requests := make(map[string][]byte, len(p.jobs))
	for id, job := range p.jobs {
		data, err := jobs.Encode(job.request)
		if err != nil {
			d.stat.Counter(stats.DecomposerRejectedCounter).Inc(1)
			return nil, invalid(id, "%v", err)
		}
		requests[id] = data
	}
	submission, err := jobs.Encode(sub)
	if err != nil {
		return nil, invalid("", "%v", err)
	}

	var created []createdTicket
	result, err := d.create(p, requests, submission, &created)
	if err != nil {
		d.rollback(created, err)
		return nil, err
	}

	if err := d.promote(p, result); err != nil {
		log.WithFields(log.Fields{"experiment": result.Experiment}).WithError(err).Error("could not promote runnable jobs, stopping experiment")
		if _, stopErr := d.stopper.StopExperiment(ctx, result.Experiment, "", ticket.ProgressAborted); stopErr != nil {
			log.WithError(stopErr).Errorf("could not stop experiment %s", result.Experiment)
		}
		return nil, err
	}

	d.stat.Counter(stats.DecomposerExperimentsCounter).Inc(1)
	d.stat.Counter(stats.DecomposerTicketsCounter).Inc(int64(len(p.jobs)))
	d.stat.Counter(stats.DecomposerImplicitJobsCounter).Inc(int64(p.implicitCount()))
	log.WithFields(log.Fields{
		"experiment": result.Experiment,
		"jobs":       len(p.jobs),
		"implicit":   p.implicitCount(),
	}).Info("created experiment")
	return result, nil
}

// create writes every ticket, request and metadata record, all requests pending.
func (d *Decomposer) create(p *plan, requests map[string][]byte, submission []byte, created *[]createdTicket) (*Result, error) {
	expID, err := d.store.Create(ticket.Experiment)
	if err != nil {
		return nil, errors.Wrap(err, "creating experiment ticket")
	}
	*created = append(*created, createdTicket{expID, ticket.Experiment})
	if err := d.store.WriteRequest(expID, ticket.Experiment, ticket.Pending, submission); err != nil {
		return nil, errors.Wrapf(err, "writing experiment %s", expID)
	}

	order := p.order()
	result := &Result{Experiment: expID, Jobs: make(map[string]ticket.ID, len(order))}
	for _, logical := range order {
		job := p.jobs[logical]
		id, err := d.store.Create(job.jobType)
		if err != nil {
			return nil, errors.Wrapf(err, "creating ticket for %s", logical)
		}
		*created = append(*created, createdTicket{id, job.jobType})
		result.Jobs[logical] = id
		if err := d.store.WriteRequest(id, job.jobType, ticket.Pending, requests[logical]); err != nil {
			return nil, errors.Wrapf(err, "writing request of %s", logical)
		}
	}

	ids := make([]ticket.ID, len(order))
	for i, logical := range order {
		job := p.jobs[logical]
		id := result.Jobs[logical]
		ids[i] = id

		entries := []ticket.Entry{{Key: ticket.ExperimentKey, Value: string(expID)}}
		if len(job.prev) > 0 {
			edges := make([]ticket.Edge, len(job.prev))
			for j, e := range job.prev {
				edges[j] = ticket.Edge{Producer: result.Jobs[e.producer], Role: e.role}
			}
			entries = append(entries, ticket.Entry{Key: ticket.PrevKey, Value: ticket.FormatEdges(edges)})
		}
		if len(job.next) > 0 {
			next := make([]ticket.ID, len(job.next))
			for j, consumer := range job.next {
				next[j] = result.Jobs[consumer]
			}
			entries = append(entries, ticket.Entry{Key: ticket.NextKey, Value: ticket.FormatIDs(next)})
		}
		if err := d.store.AppendMetadata(id, entries...); err != nil {
			return nil, errors.Wrapf(err, "writing metadata of %s", logical)
		}
	}

	err = d.store.AppendMetadata(expID,
		ticket.Entry{Key: ticket.JobsKey, Value: ticket.FormatIDs(ids)},
		ticket.Entry{Key: ticket.IDsKey, Value: strings.Join(order, ",")})
	return result, errors.Wrapf(err, "writing metadata of experiment %s", expID)
}

// promote makes dependency free jobs runnable and retires the experiment's own request.
func (d *Decomposer) promote(p *plan, result *Result) error {
	for _, logical := range p.order() {
		job := p.jobs[logical]
		if len(job.prev) > 0 {
			continue
		}
		id := result.Jobs[logical]
		if err := d.store.MoveRequest(id, job.jobType, ticket.Pending, ticket.Runnable); err != nil {
			return errors.Wrapf(err, "promoting %s (%s)", logical, id)
		}
	}
	return errors.Wrap(
		d.store.MoveRequest(result.Experiment, ticket.Experiment, ticket.Pending, ticket.Processed),
		"retiring experiment request")
}

func (d *Decomposer) rollback(created []createdTicket, cause error) {
	d.stat.Counter(stats.DecomposerRollbackCounter).Inc(1)
	for i := len(created) - 1; i >= 0; i-- {
		c := created[i]
		if err := d.store.Delete(c.id, c.jobType); err != nil {
			log.WithError(err).Errorf("could not delete %s while rolling back", c.id)
		}
	}
	log.WithError(cause).Warnf("rolled back experiment creation, deleted %d tickets", len(created))
}
