package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmodeller/omws/common/stats"
	"github.com/openmodeller/omws/experiment"
	"github.com/openmodeller/omws/jobs"
	"github.com/openmodeller/omws/ticket"
	"github.com/openmodeller/omws/ticket/ticketstores"
)

// harness plays the part of the executors: it claims runnable jobs, writes
// their results and runs the trigger the way a worker would.
type harness struct {
	t          *testing.T
	store      ticket.Store
	cascade    *Cascade
	trigger    *Trigger
	aggregator *Aggregator
	result     *experiment.Result
}

func newHarness(t *testing.T, config TriggerConfig) *harness {
	store := ticketstores.MakeInMemoryStore()
	stat := stats.NilStatsReceiver()
	cascade := NewCascade(store, config.LockTimeout, stat)
	aggregator, err := NewAggregator(store, 16, stat)
	require.NoError(t, err)
	return &harness{
		t:          t,
		store:      store,
		cascade:    cascade,
		trigger:    NewTrigger(store, cascade, config, stat),
		aggregator: aggregator,
	}
}

func (h *harness) submit(defs ...experiment.JobDefinition) {
	d := experiment.NewDecomposer(h.store, h.cascade, stats.NilStatsReceiver())
	result, err := d.Decompose(context.Background(), &experiment.Submission{Resources: testResources(), Jobs: defs})
	require.NoError(h.t, err)
	h.result = result
}

func (h *harness) exp() ticket.ID { return h.result.Experiment }

func (h *harness) id(logical string) ticket.ID {
	id, ok := h.result.Jobs[logical]
	require.True(h.t, ok, "no job %s", logical)
	return id
}

func (h *harness) jobType(id ticket.ID) ticket.JobType {
	md, err := h.store.ReadMetadata(id)
	require.NoError(h.t, err)
	jobType, err := md.Type()
	require.NoError(h.t, err)
	return jobType
}

// claim moves a runnable request to Processed as an executor does.
func (h *harness) claim(logical string) {
	id := h.id(logical)
	require.NoError(h.t, h.store.MoveRequest(id, h.jobType(id), ticket.Runnable, ticket.Processed))
	require.NoError(h.t, h.store.WriteProgress(id, 0))
}

// complete records the end of a claimed job without running the trigger.
func (h *harness) complete(logical string, progress int) {
	id := h.id(logical)
	if progress == ticket.ProgressDone {
		require.NoError(h.t, h.store.WriteResult(id, h.jobType(id), fakeResult(logical, h.jobType(id))))
	}
	require.NoError(h.t, h.store.WriteProgress(id, progress))
	require.NoError(h.t, h.store.MarkDone(id))
}

func (h *harness) fire(logical string) *Outcome {
	outcome, err := h.trigger.Run(context.Background(), h.id(logical))
	require.NoError(h.t, err)
	return outcome
}

// run claims, completes and triggers one job.
func (h *harness) run(logical string, progress int) *Outcome {
	h.claim(logical)
	h.complete(logical, progress)
	return h.fire(logical)
}

func (h *harness) state(logical string) State {
	id := h.result.Experiment
	if logical != "" {
		id = h.id(logical)
	}
	s, err := ReadState(h.store, id)
	require.NoError(h.t, err)
	return s
}

func (h *harness) progress(id ticket.ID) int {
	p, err := h.aggregator.Progress(id)
	require.NoError(h.t, err)
	return p
}

func (h *harness) request(logical string) []byte {
	id := h.id(logical)
	data, _, err := h.store.ReadRequest(id, h.jobType(id))
	require.NoError(h.t, err)
	return data
}

func fakeResult(logical string, jobType ticket.JobType) []byte {
	var doc interface{}
	switch jobType {
	case ticket.Sampling:
		doc = jobs.SamplingResult{Sampler: jobs.Sampler{
			Presence: raw(fmt.Sprintf(`{"Point":[{"Id":%q,"X":1}]}`, logical)),
			Absence:  raw(fmt.Sprintf(`{"Point":[{"Id":%q,"X":-1}]}`, logical)),
		}}
	case ticket.CreateModel:
		doc = jobs.SerializedModel{
			Algorithm: raw(fmt.Sprintf(`{"Id":"GARP","Model":%q}`, logical)),
			Sampler: jobs.Sampler{
				Environment: raw(`{"Map":["temp","rain"]}`),
				Presence:    raw(`{"Point":[{"X":1,"Y":2}]}`),
			},
		}
	case ticket.Evaluate:
		doc = jobs.EvaluationResult{Values: "0.75 0 0.5 0.9"}
	default:
		doc = map[string]string{"Job": logical}
	}
	data, _ := json.Marshal(doc)
	return data
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func testResources() experiment.Resources {
	return experiment.Resources{
		Environments: map[string]json.RawMessage{"env": raw(`{"Map":["temp","rain"]}`)},
		Presences:    map[string]json.RawMessage{"occ": raw(`{"Point":[{"X":1,"Y":2}]}`)},
		Algorithms:   map[string]json.RawMessage{"garp": raw(`{"Id":"GARP"}`)},
	}
}

func sampling(id string) experiment.JobDefinition {
	return experiment.JobDefinition{ID: id, Sampling: &experiment.SamplingJob{EnvironmentRef: "env"}}
}

func model(id, presence, absence string) experiment.JobDefinition {
	return experiment.JobDefinition{ID: id, CreateModel: &experiment.CreateModelJob{
		EnvironmentRef: "env", PresenceRef: presence, AbsenceRef: absence, AlgorithmRef: "garp",
	}}
}

func test(id, modelRef string, lpt bool) experiment.JobDefinition {
	j := &experiment.TestModelJob{EnvironmentRef: "env", PresenceRef: "occ", ModelRef: modelRef}
	if lpt {
		j.Statistics = &jobs.TestStatistics{ConfusionMatrix: &jobs.ConfusionMatrix{Threshold: jobs.LPTThreshold}}
	}
	return experiment.JobDefinition{ID: id, TestModel: j}
}

func projection(id, modelRef string, lpt bool) experiment.JobDefinition {
	j := &experiment.ProjectModelJob{EnvironmentRef: "env", ModelRef: modelRef}
	if lpt {
		j.Statistics = &jobs.ProjectionStatistics{AreaStatistics: &jobs.AreaStatistics{PredictionThreshold: jobs.LPTThreshold}}
	}
	return experiment.JobDefinition{ID: id, ProjectModel: j}
}
