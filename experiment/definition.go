// Package experiment turns one client submission, a graph of sampling,
// model, test and projection jobs with cross references, into tickets wired
// together by PREV/NEXT edges.
package experiment

import (
	"encoding/json"
	"sort"

	"github.com/openmodeller/omws/jobs"
	"github.com/openmodeller/omws/ticket"
)

// Submission is the document accepted by submitExperiment.
type Submission struct {
	Resources Resources       `json:"Resources"`
	Jobs      []JobDefinition `json:"Jobs"`
}

// Resources are literal inputs, keyed by the ids jobs use to reference them.
type Resources struct {
	Environments     map[string]json.RawMessage `json:"Environments,omitempty"`
	Presences        map[string]json.RawMessage `json:"Presences,omitempty"`
	Absences         map[string]json.RawMessage `json:"Absences,omitempty"`
	Algorithms       map[string]json.RawMessage `json:"Algorithms,omitempty"`
	SerializedModels map[string]json.RawMessage `json:"SerializedModels,omitempty"`
}

// JobDefinition carries a client chosen id and exactly one job kind.
type JobDefinition struct {
	ID           string           `json:"ID"`
	Sampling     *SamplingJob     `json:"Sampling,omitempty"`
	CreateModel  *CreateModelJob  `json:"CreateModel,omitempty"`
	TestModel    *TestModelJob    `json:"TestModel,omitempty"`
	ProjectModel *ProjectModelJob `json:"ProjectModel,omitempty"`
}

type SamplingJob struct {
	EnvironmentRef string          `json:"EnvironmentRef"`
	Options        json.RawMessage `json:"Options,omitempty"`
}

type CreateModelJob struct {
	EnvironmentRef string          `json:"EnvironmentRef"`
	PresenceRef    string          `json:"PresenceRef"`
	AbsenceRef     string          `json:"AbsenceRef,omitempty"`
	AlgorithmRef   string          `json:"AlgorithmRef"`
	Options        json.RawMessage `json:"Options,omitempty"`
}

type TestModelJob struct {
	EnvironmentRef string               `json:"EnvironmentRef"`
	PresenceRef    string               `json:"PresenceRef"`
	AbsenceRef     string               `json:"AbsenceRef,omitempty"`
	ModelRef       string               `json:"ModelRef"`
	Statistics     *jobs.TestStatistics `json:"Statistics,omitempty"`
}

type ProjectModelJob struct {
	EnvironmentRef   string                     `json:"EnvironmentRef"`
	ModelRef         string                     `json:"ModelRef"`
	OutputParameters json.RawMessage            `json:"OutputParameters,omitempty"`
	Statistics       *jobs.ProjectionStatistics `json:"Statistics,omitempty"`
}

// Kind returns the job type of a definition and how many kinds it sets.
func (d *JobDefinition) Kind() (ticket.JobType, int) {
	kind, n := ticket.UnknownJob, 0
	if d.Sampling != nil {
		kind, n = ticket.Sampling, n+1
	}
	if d.CreateModel != nil {
		kind, n = ticket.CreateModel, n+1
	}
	if d.TestModel != nil {
		kind, n = ticket.TestModel, n+1
	}
	if d.ProjectModel != nil {
		kind, n = ticket.ProjectModel, n+1
	}
	return kind, n
}

// ParseSubmission decodes a submission document.
func ParseSubmission(data []byte) (*Submission, error) {
	var sub Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, &InvalidExperimentError{Reason: "malformed submission: " + err.Error()}
	}
	return &sub, nil
}

// Result maps every logical id, implicit ones included, to its ticket.
type Result struct {
	Experiment ticket.ID
	Jobs       map[string]ticket.ID
}

// LogicalIDs returns the logical ids in JOBS order.
func (r *Result) LogicalIDs() []string {
	ids := make([]string, 0, len(r.Jobs))
	for id := range r.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
