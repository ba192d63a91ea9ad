package experiment

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/openmodeller/omws/jobs"
	"github.com/openmodeller/omws/ticket"
)

// ImplicitSuffix is appended to a model job's id to name its implicit evaluation.
const ImplicitSuffix = "_lpt"

type plannedEdge struct {
	producer string
	role     ticket.Role
}

type plannedJob struct {
	logicalID string
	jobType   ticket.JobType
	request   interface{}
	prev      []plannedEdge
	next      []string
	implicit  bool
}

// implicitKey identifies a derived statistic of a producer. Every consumer
// asking for the same statistic shares one implicit job.
type implicitKey struct {
	producer  string
	statistic ticket.Role
}

// plan is a fully validated submission, held in memory until every
// reference has been resolved.
type plan struct {
	resources    *Resources
	defs         map[string]*JobDefinition
	jobs         map[string]*plannedJob
	implicitJobs map[implicitKey]string
}

func newPlan(sub *Submission) (*plan, error) {
	if len(sub.Jobs) == 0 {
		return nil, invalid("", "no jobs")
	}
	p := &plan{
		resources:    &sub.Resources,
		defs:         make(map[string]*JobDefinition, len(sub.Jobs)),
		jobs:         make(map[string]*plannedJob, len(sub.Jobs)),
		implicitJobs: make(map[implicitKey]string),
	}
	for i := range sub.Jobs {
		def := &sub.Jobs[i]
		if def.ID == "" {
			return nil, invalid("", "job #%d has no ID", i)
		}
		if strings.ContainsAny(def.ID, ",= \t\n") {
			return nil, invalid(def.ID, "job ids may not contain commas, '=' or whitespace")
		}
		if _, dup := p.defs[def.ID]; dup {
			return nil, invalid(def.ID, "duplicate job id")
		}
		if _, n := def.Kind(); n != 1 {
			return nil, invalid(def.ID, "must define exactly one job kind, found %d", n)
		}
		p.defs[def.ID] = def
	}

	for _, def := range sub.Jobs {
		job, err := p.planJob(&def)
		if err != nil {
			return nil, err
		}
		p.jobs[def.ID] = job
	}
	p.linkNext()
	return p, nil
}

func (p *plan) planJob(def *JobDefinition) (*plannedJob, error) {
	kind, _ := def.Kind()
	job := &plannedJob{logicalID: def.ID, jobType: kind}

	switch kind {
	case ticket.Sampling:
		j := def.Sampling
		env, err := p.environment(def.ID, j.EnvironmentRef)
		if err != nil {
			return nil, err
		}
		job.request = &jobs.SamplingParameters{Environment: env, Options: j.Options}

	case ticket.CreateModel:
		j := def.CreateModel
		params := &jobs.ModelParameters{Options: j.Options}
		var err error
		if params.Sampler.Environment, err = p.environment(def.ID, j.EnvironmentRef); err != nil {
			return nil, err
		}
		if params.Algorithm, err = p.algorithm(def.ID, j.AlgorithmRef); err != nil {
			return nil, err
		}
		if err := p.points(job, &params.Sampler, j.PresenceRef, j.AbsenceRef); err != nil {
			return nil, err
		}
		job.request = params

	case ticket.TestModel:
		j := def.TestModel
		params := &jobs.TestParameters{Statistics: j.Statistics}
		var err error
		if params.Sampler.Environment, err = p.environment(def.ID, j.EnvironmentRef); err != nil {
			return nil, err
		}
		if err := p.points(job, &params.Sampler, j.PresenceRef, j.AbsenceRef); err != nil {
			return nil, err
		}
		if params.Algorithm, err = p.model(job, j.ModelRef, j.Statistics.WantsLPT()); err != nil {
			return nil, err
		}
		job.request = params

	case ticket.ProjectModel:
		j := def.ProjectModel
		params := &jobs.ProjectionParameters{OutputParameters: j.OutputParameters, Statistics: j.Statistics}
		var err error
		if params.Environment, err = p.environment(def.ID, j.EnvironmentRef); err != nil {
			return nil, err
		}
		if params.Algorithm, err = p.model(job, j.ModelRef, j.Statistics.WantsLPT()); err != nil {
			return nil, err
		}
		job.request = params
	}
	return job, nil
}

func (p *plan) environment(jobID, ref string) (json.RawMessage, error) {
	if ref == "" {
		return nil, invalid(jobID, "no environment reference")
	}
	env, ok := p.resources.Environments[ref]
	if !ok {
		return nil, invalid(jobID, "unknown environment %q", ref)
	}
	return env, nil
}

func (p *plan) algorithm(jobID, ref string) (json.RawMessage, error) {
	if ref == "" {
		return nil, invalid(jobID, "no algorithm reference")
	}
	alg, ok := p.resources.Algorithms[ref]
	if !ok {
		return nil, invalid(jobID, "unknown algorithm %q", ref)
	}
	return alg, nil
}

// points resolves presence (required) and absence (optional) references,
// either to literal point sets or to Sampling jobs of this submission.
func (p *plan) points(job *plannedJob, sampler *jobs.Sampler, presenceRef, absenceRef string) error {
	if presenceRef == "" {
		return invalid(job.logicalID, "no presence reference")
	}
	refs := []struct {
		ref      string
		role     ticket.Role
		literals map[string]json.RawMessage
		target   *json.RawMessage
	}{
		{presenceRef, ticket.PresenceRole, p.resources.Presences, &sampler.Presence},
		{absenceRef, ticket.AbsenceRole, p.resources.Absences, &sampler.Absence},
	}
	for _, r := range refs {
		if r.ref == "" {
			continue
		}
		if literal, ok := r.literals[r.ref]; ok {
			*r.target = literal
			continue
		}
		if err := p.dependOn(job, r.ref, r.role, ticket.Sampling); err != nil {
			return err
		}
	}
	return nil
}

// model resolves a model reference. A literal serialized model yields its
// algorithm directly; a CreateModel job becomes a dependency, plus an
// implicit evaluation when the lpt threshold is requested.
func (p *plan) model(job *plannedJob, ref string, wantsLPT bool) (json.RawMessage, error) {
	if ref == "" {
		return nil, invalid(job.logicalID, "no model reference")
	}
	if literal, ok := p.resources.SerializedModels[ref]; ok {
		if wantsLPT {
			return nil, invalid(job.logicalID, "lpt threshold requires a model created in this experiment, %q is a literal model", ref)
		}
		var model jobs.SerializedModel
		if err := json.Unmarshal(literal, &model); err != nil || len(model.Algorithm) == 0 {
			return nil, invalid(job.logicalID, "serialized model %q has no algorithm", ref)
		}
		return model.Algorithm, nil
	}
	if err := p.dependOn(job, ref, ticket.ModelRole, ticket.CreateModel); err != nil {
		return nil, err
	}
	if wantsLPT {
		eval, err := p.implicitEvaluation(ref)
		if err != nil {
			return nil, err
		}
		job.prev = append(job.prev, plannedEdge{producer: eval, role: ticket.LPTRole})
	}
	return nil, nil
}

func (p *plan) dependOn(job *plannedJob, ref string, role ticket.Role, producerKind ticket.JobType) error {
	def, ok := p.defs[ref]
	if !ok {
		return invalid(job.logicalID, "broken dependency: no resource or job %q for %s", ref, role)
	}
	if kind, _ := def.Kind(); kind != producerKind {
		return invalid(job.logicalID, "%s reference %q is a %s job, expected %s", role, ref, kind.Name(), producerKind.Name())
	}
	job.prev = append(job.prev, plannedEdge{producer: ref, role: role})
	return nil
}

// implicitEvaluation returns the Evaluate job computing the lpt of a model
// job, synthesizing it on first use.
func (p *plan) implicitEvaluation(modelID string) (string, error) {
	key := implicitKey{producer: modelID, statistic: ticket.LPTRole}
	if id, ok := p.implicitJobs[key]; ok {
		return id, nil
	}
	id := modelID + ImplicitSuffix
	if _, taken := p.defs[id]; taken {
		return "", invalid(id, "id is reserved for the implicit evaluation of %q", modelID)
	}
	p.jobs[id] = &plannedJob{
		logicalID: id,
		jobType:   ticket.Evaluate,
		request:   &jobs.EvaluationParameters{},
		prev:      []plannedEdge{{producer: modelID, role: ticket.ModelRole}},
		implicit:  true,
	}
	p.implicitJobs[key] = id
	return id, nil
}

// linkNext mirrors every PREV edge as a NEXT entry on its producer.
func (p *plan) linkNext() {
	for _, id := range p.order() {
		for _, e := range p.jobs[id].prev {
			producer := p.jobs[e.producer]
			if !containsString(producer.next, id) {
				producer.next = append(producer.next, id)
			}
		}
	}
}

// order is the JOBS order: logical ids sorted.
func (p *plan) order() []string {
	ids := make([]string, 0, len(p.jobs))
	for id := range p.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *plan) implicitCount() int {
	return len(p.implicitJobs)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
