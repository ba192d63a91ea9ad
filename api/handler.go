// Package api is the service side of omws: the operations clients call and
// the gin router that exposes them over HTTP.
package api

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/openmodeller/omws/common/log/hooks"
	"github.com/openmodeller/omws/common/stats"
	"github.com/openmodeller/omws/config"
	"github.com/openmodeller/omws/experiment"
	"github.com/openmodeller/omws/ticket"
	"github.com/openmodeller/omws/workflow"
)

// Handler implements the service operations on top of a ticket store.
type Handler struct {
	store      ticket.Store
	decomposer *experiment.Decomposer
	cascade    *workflow.Cascade
	aggregator *workflow.Aggregator
	limiter    *rate.Limiter
	status     int32
	stat       stats.StatsReceiver
}

// NewHandler wires the service operations. A cascade is built over store
// unless one is given, so that the handler and the trigger share lock timeouts.
func NewHandler(store ticket.Store, cascade *workflow.Cascade, cfg config.ServiceConfig, stat stats.StatsReceiver) (*Handler, error) {
	if cascade == nil {
		cascade = workflow.NewCascade(store, 0, stat)
	}
	aggregator, err := workflow.NewAggregator(store, cfg.MetadataCacheSize, stat)
	if err != nil {
		return nil, err
	}
	h := &Handler{
		store:      store,
		decomposer: experiment.NewDecomposer(store, cascade, stat),
		cascade:    cascade,
		aggregator: aggregator,
		status:     int32(cfg.SystemStatus),
		stat:       stat,
	}
	if cfg.MaxSubmissionsPerSecond > 0 {
		burst := cfg.SubmissionBurst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.MaxSubmissionsPerSecond), burst)
	}
	return h, nil
}

// SetSystemStatus switches the service between available and unavailable (2).
func (h *Handler) SetSystemStatus(status int) {
	log.Infof("system status set to %d", status)
	atomic.StoreInt32(&h.status, int32(status))
}

func (h *Handler) available() error {
	if atomic.LoadInt32(&h.status) == config.SystemStatusUnavailable {
		h.stat.Counter(stats.APIUnavailableCounter).Inc(1)
		return &ServiceUnavailable{Message: "the service is temporarily unavailable"}
	}
	return nil
}

func (h *Handler) admit() error {
	if err := h.available(); err != nil {
		return err
	}
	if h.limiter != nil && !h.limiter.Allow() {
		h.stat.Counter(stats.APIRateLimitedCounter).Inc(1)
		return &ServiceUnavailable{Message: "too many submissions, retry later"}
	}
	return nil
}

func (h *Handler) invalid(format string, args ...interface{}) error {
	h.stat.Counter(stats.APIInvalidRequestCounter).Inc(1)
	return NewInvalidRequest(format, args...)
}

// Ping answers even while the service is unavailable.
func (h *Handler) Ping() string {
	h.stat.Counter(stats.APIPingCounter).Inc(1)
	return "ok"
}

// Submit creates a standalone ticket whose request is immediately runnable.
func (h *Handler) Submit(jobType ticket.JobType, payload []byte) (ticket.ID, error) {
	defer h.stat.Latency(stats.APISubmitLatency_ms).Time().Stop()
	h.stat.Counter(stats.APISubmitCounter).Inc(1)
	if err := h.admit(); err != nil {
		return "", err
	}
	if jobType == ticket.UnknownJob || jobType == ticket.Experiment {
		return "", h.invalid("%s is not a job type that can be submitted on its own", jobType.Name())
	}
	if !json.Valid(payload) {
		return "", h.invalid("%s request is not a JSON document", jobType.Name())
	}

	id, err := h.store.Create(jobType)
	if err != nil {
		return "", errors.Wrap(err, "creating ticket")
	}
	if err := h.store.WriteRequest(id, jobType, ticket.Runnable, payload); err != nil {
		if delErr := h.store.Delete(id, jobType); delErr != nil {
			log.WithError(delErr).Errorf("could not delete ticket %s", id)
		}
		return "", errors.Wrapf(err, "writing request of %s", id)
	}
	log.WithFields(log.Fields{"ticket": id, "type": jobType.Name()}).Info("accepted job")
	return id, nil
}

// SubmitExperiment decomposes a submission document into member tickets.
func (h *Handler) SubmitExperiment(ctx context.Context, payload []byte) (*experiment.Result, error) {
	defer h.stat.Latency(stats.APISubmitExperimentLatency_ms).Time().Stop()
	h.stat.Counter(stats.APISubmitExperimentCounter).Inc(1)
	if err := h.admit(); err != nil {
		return nil, err
	}
	sub, err := experiment.ParseSubmission(payload)
	if err == nil {
		var result *experiment.Result
		if result, err = h.decomposer.Decompose(ctx, sub); err == nil {
			log.WithField(hooks.ExperimentField, result.Experiment).Infof("accepted experiment with %d jobs", len(result.Jobs))
			return result, nil
		}
	}
	if experiment.IsInvalidExperiment(err) {
		return nil, h.invalid("%s", errors.Cause(err).Error())
	}
	return nil, err
}

// GetProgress returns one progress value per ticket of a comma separated list.
func (h *Handler) GetProgress(tickets string) ([]TicketProgress, error) {
	defer h.stat.Latency(stats.APIGetProgressLatency_ms).Time().Stop()
	h.stat.Counter(stats.APIGetProgressCounter).Inc(1)
	if err := h.available(); err != nil {
		return nil, err
	}
	ids, err := h.parseIDs(tickets)
	if err != nil {
		return nil, err
	}
	progress := make([]TicketProgress, 0, len(ids))
	for _, id := range ids {
		p, err := h.aggregator.Progress(id)
		if err != nil {
			return nil, errors.Wrapf(err, "reading progress of %s", id)
		}
		progress = append(progress, TicketProgress{Ticket: id, Progress: p})
	}
	return progress, nil
}

// GetResult returns the result document of a job that succeeded.
func (h *Handler) GetResult(id string) ([]byte, error) {
	defer h.stat.Latency(stats.APIGetResultLatency_ms).Time().Stop()
	h.stat.Counter(stats.APIGetResultCounter).Inc(1)
	if err := h.available(); err != nil {
		return nil, err
	}
	tid, jobType, err := h.lookup(id)
	if err != nil {
		return nil, err
	}
	if jobType == ticket.Experiment {
		return nil, h.invalid("%s is an experiment, results belong to its jobs", tid)
	}
	done, err := h.store.IsDone(tid)
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, &NotReady{Message: string(tid) + " has not finished"}
	}
	result, err := h.store.ReadResult(tid, jobType)
	if ticket.IsNotFound(err) {
		return nil, &NotFound{Message: string(tid) + " finished without a result"}
	}
	return result, err
}

// GetResults returns the result documents of a comma separated ticket list.
// An experiment contributes the results of its members that succeeded so
// far. Tickets without a result are left out; the call fails only when
// nothing has one, with NotReady if some ticket has not finished.
func (h *Handler) GetResults(tickets string) (map[ticket.ID]json.RawMessage, error) {
	defer h.stat.Latency(stats.APIGetResultsLatency_ms).Time().Stop()
	h.stat.Counter(stats.APIGetResultsCounter).Inc(1)
	if err := h.available(); err != nil {
		return nil, err
	}
	ids, err := h.parseIDs(tickets)
	if err != nil {
		return nil, err
	}

	results := map[ticket.ID]json.RawMessage{}
	pending := false
	for _, id := range ids {
		md, err := h.store.ReadMetadata(id)
		if ticket.IsNotFound(err) {
			continue
		} else if err != nil {
			return nil, err
		}
		jobType, err := md.Type()
		if err != nil {
			return nil, err
		}
		members := []ticket.ID{id}
		if jobType == ticket.Experiment {
			members = md.Jobs()
		}
		for _, member := range members {
			result, ok, err := h.succeededResult(member)
			if err != nil {
				return nil, err
			}
			if ok {
				results[member] = result
				continue
			}
			done, err := h.store.IsDone(member)
			if err != nil {
				return nil, err
			}
			pending = pending || !done
		}
	}
	if len(results) > 0 {
		return results, nil
	}
	if pending {
		return nil, &NotReady{Message: "no results available yet"}
	}
	return nil, &NotFound{Message: "no results for " + tickets}
}

// succeededResult reads the result of id when its progress reads 100.
func (h *Handler) succeededResult(id ticket.ID) (json.RawMessage, bool, error) {
	progress, err := h.aggregator.Progress(id)
	if err != nil || progress != ticket.ProgressDone {
		return nil, false, err
	}
	md, err := h.store.ReadMetadata(id)
	if err != nil {
		return nil, false, err
	}
	jobType, err := md.Type()
	if err != nil {
		return nil, false, err
	}
	result, err := h.store.ReadResult(id, jobType)
	if ticket.IsNotFound(err) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	if !json.Valid(result) {
		return nil, false, errors.Errorf("result of %s is not a JSON document", id)
	}
	return result, true, nil
}

// Cancel cancels the tickets of a comma separated list and returns those
// actually cancelled.
func (h *Handler) Cancel(ctx context.Context, tickets string) ([]ticket.ID, error) {
	defer h.stat.Latency(stats.APICancelLatency_ms).Time().Stop()
	h.stat.Counter(stats.APICancelCounter).Inc(1)
	if err := h.available(); err != nil {
		return nil, err
	}
	ids, err := h.parseIDs(tickets)
	if err != nil {
		return nil, err
	}
	cancelled, err := h.cascade.Cancel(ctx, ids)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"requested": ids, "cancelled": cancelled}).Info("cancel")
	return cancelled, nil
}

// GetLog returns the log of the experiment a ticket belongs to, or of the
// ticket itself when it is standalone.
func (h *Handler) GetLog(id string) ([]byte, error) {
	h.stat.Counter(stats.APIGetLogCounter).Inc(1)
	if err := h.available(); err != nil {
		return nil, err
	}
	tid, err := h.parseID(id)
	if err != nil {
		return nil, err
	}
	md, err := h.store.ReadMetadata(tid)
	if ticket.IsNotFound(err) {
		return nil, &NotFound{Message: "no ticket " + string(tid)}
	} else if err != nil {
		return nil, err
	}
	if exp, ok := md.Experiment(); ok {
		tid = exp
	}
	data, err := h.store.ReadLog(tid)
	if ticket.IsNotFound(err) {
		return []byte{}, nil
	}
	return data, err
}

// GetState returns the derived state of a ticket.
func (h *Handler) GetState(id string) (workflow.State, error) {
	defer h.stat.Latency(stats.APIGetStateLatency_ms).Time().Stop()
	h.stat.Counter(stats.APIGetStateCounter).Inc(1)
	if err := h.available(); err != nil {
		return workflow.Unknown, err
	}
	tid, err := h.parseID(id)
	if err != nil {
		return workflow.Unknown, err
	}
	state, err := workflow.ReadState(h.store, tid)
	if err == nil && state == workflow.Unknown {
		return state, &NotFound{Message: "no ticket " + string(tid)}
	}
	return state, err
}

func (h *Handler) parseID(s string) (ticket.ID, error) {
	id, err := ticket.ParseID(s)
	if err != nil {
		return "", h.invalid("%v", err)
	}
	return id, nil
}

func (h *Handler) parseIDs(s string) ([]ticket.ID, error) {
	ids, err := ticket.ParseIDList(s)
	if err != nil {
		return nil, h.invalid("%v", err)
	}
	if len(ids) == 0 {
		return nil, h.invalid("no tickets given")
	}
	return ids, nil
}

func (h *Handler) lookup(s string) (ticket.ID, ticket.JobType, error) {
	id, err := h.parseID(s)
	if err != nil {
		return "", ticket.UnknownJob, err
	}
	md, err := h.store.ReadMetadata(id)
	if ticket.IsNotFound(err) {
		return "", ticket.UnknownJob, &NotFound{Message: "no ticket " + string(id)}
	} else if err != nil {
		return "", ticket.UnknownJob, err
	}
	jobType, err := md.Type()
	return id, jobType, err
}
