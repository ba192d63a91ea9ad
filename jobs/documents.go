// Package jobs holds the job descriptor documents exchanged with executors
// and the per job type handlers that splice producer results into a blocked
// consumer's request.
//
// Only the fields the scheduler reads or writes are typed. Environments,
// point sets, algorithm settings and output parameters stay opaque JSON.
package jobs

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// LPTThreshold asks for the lowest presence threshold of the model in place
// of a literal threshold value.
const LPTThreshold = "lpt"

// Sampler bundles an environment with presence and absence points.
type Sampler struct {
	Environment json.RawMessage `json:"Environment,omitempty"`
	Presence    json.RawMessage `json:"Presence,omitempty"`
	Absence     json.RawMessage `json:"Absence,omitempty"`
}

// Requests

type SamplingParameters struct {
	Environment json.RawMessage `json:"Environment,omitempty"`
	Options     json.RawMessage `json:"Options,omitempty"`
}

type ModelParameters struct {
	Sampler   Sampler         `json:"Sampler"`
	Algorithm json.RawMessage `json:"Algorithm,omitempty"`
	Options   json.RawMessage `json:"Options,omitempty"`
}

type ConfusionMatrix struct {
	Threshold string `json:"Threshold,omitempty"`
}

type TestStatistics struct {
	ConfusionMatrix *ConfusionMatrix `json:"ConfusionMatrix,omitempty"`
	RocCurve        json.RawMessage  `json:"RocCurve,omitempty"`
}

// WantsLPT reports whether the confusion matrix asks for the lpt threshold.
func (s *TestStatistics) WantsLPT() bool {
	return s != nil && s.ConfusionMatrix != nil && s.ConfusionMatrix.Threshold == LPTThreshold
}

type TestParameters struct {
	Sampler    Sampler         `json:"Sampler"`
	Algorithm  json.RawMessage `json:"Algorithm,omitempty"`
	Statistics *TestStatistics `json:"Statistics,omitempty"`
}

type AreaStatistics struct {
	PredictionThreshold string `json:"PredictionThreshold,omitempty"`
}

type ProjectionStatistics struct {
	AreaStatistics *AreaStatistics `json:"AreaStatistics,omitempty"`
}

func (s *ProjectionStatistics) WantsLPT() bool {
	return s != nil && s.AreaStatistics != nil && s.AreaStatistics.PredictionThreshold == LPTThreshold
}

type ProjectionParameters struct {
	Algorithm        json.RawMessage       `json:"Algorithm,omitempty"`
	Environment      json.RawMessage       `json:"Environment,omitempty"`
	OutputParameters json.RawMessage       `json:"OutputParameters,omitempty"`
	Statistics       *ProjectionStatistics `json:"Statistics,omitempty"`
}

type EvaluationParameters struct {
	Algorithm json.RawMessage `json:"Algorithm,omitempty"`
	Sampler   Sampler         `json:"Sampler"`
}

// Results

type SamplingResult struct {
	Sampler Sampler `json:"Sampler"`
}

type SerializedModel struct {
	Algorithm json.RawMessage `json:"Algorithm,omitempty"`
	Sampler   Sampler         `json:"Sampler"`
}

// EvaluationResult carries the model's predictions at the presence points,
// space separated.
type EvaluationResult struct {
	Values string `json:"Values"`
}

func decode(data []byte, v interface{}, what string) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decoding %s", what)
	}
	return nil
}

// Encode marshals a document. Documents only hold raw JSON and strings, so
// failures indicate a corrupt raw subdocument.
func Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	return data, errors.Wrap(err, "encoding document")
}
