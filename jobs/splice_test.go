package jobs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmodeller/omws/ticket"
)

const (
	samplingResult = `{"Sampler":{"Environment":{"Map":"e1"},"Presence":{"Point":[1,2]},"Absence":{"Point":[3]}}}`
	modelResult    = `{"Algorithm":{"Id":"GARP","Model":"m"},"Sampler":{"Environment":{"Map":"train"},"Presence":{"Point":[9]}}}`
	evalResult     = `{"Values":"0.4 0.2 0.9"}`
)

func splice(t *testing.T, jobType ticket.JobType, request interface{}, inputs ...Input) []byte {
	s, err := SplicerFor(jobType)
	require.NoError(t, err)
	assert.Equal(t, jobType, s.JobType())
	req, err := Encode(request)
	require.NoError(t, err)
	out, err := s.Splice(req, inputs)
	require.NoError(t, err)
	return out
}

func TestSpliceModelPoints(t *testing.T) {
	out := splice(t, ticket.CreateModel,
		ModelParameters{Sampler: Sampler{Environment: json.RawMessage(`{"Map":"e1"}`)}, Algorithm: json.RawMessage(`{"Id":"GARP"}`)},
		Input{ticket.PresenceRole, []byte(samplingResult)},
		Input{ticket.AbsenceRole, []byte(samplingResult)})

	var params ModelParameters
	require.NoError(t, json.Unmarshal(out, &params))
	assert.JSONEq(t, `{"Point":[1,2]}`, string(params.Sampler.Presence))
	assert.JSONEq(t, `{"Point":[3]}`, string(params.Sampler.Absence))
	assert.JSONEq(t, `{"Id":"GARP"}`, string(params.Algorithm))
}

func TestSpliceTestModelWithLPT(t *testing.T) {
	out := splice(t, ticket.TestModel,
		TestParameters{Statistics: &TestStatistics{ConfusionMatrix: &ConfusionMatrix{Threshold: LPTThreshold}}},
		Input{ticket.ModelRole, []byte(modelResult)},
		Input{ticket.LPTRole, []byte(evalResult)})

	var params TestParameters
	require.NoError(t, json.Unmarshal(out, &params))
	assert.JSONEq(t, `{"Id":"GARP","Model":"m"}`, string(params.Algorithm))
	assert.Equal(t, "0.2", params.Statistics.ConfusionMatrix.Threshold)
	assert.False(t, params.Statistics.WantsLPT())
}

func TestSpliceProjection(t *testing.T) {
	out := splice(t, ticket.ProjectModel,
		ProjectionParameters{OutputParameters: json.RawMessage(`{"File":"out.tif"}`)},
		Input{ticket.ModelRole, []byte(modelResult)},
		Input{ticket.LPTRole, []byte(evalResult)})

	var params ProjectionParameters
	require.NoError(t, json.Unmarshal(out, &params))
	assert.JSONEq(t, `{"Id":"GARP","Model":"m"}`, string(params.Algorithm))
	assert.JSONEq(t, `{"File":"out.tif"}`, string(params.OutputParameters))
	assert.Equal(t, "0.2", params.Statistics.AreaStatistics.PredictionThreshold)
}

func TestSpliceEvaluation(t *testing.T) {
	out := splice(t, ticket.Evaluate, EvaluationParameters{},
		Input{ticket.ModelRole, []byte(modelResult)})

	var params EvaluationParameters
	require.NoError(t, json.Unmarshal(out, &params))
	assert.JSONEq(t, `{"Id":"GARP","Model":"m"}`, string(params.Algorithm))
	assert.JSONEq(t, `{"Map":"train"}`, string(params.Sampler.Environment))
	assert.JSONEq(t, `{"Point":[9]}`, string(params.Sampler.Presence))
}

func TestSpliceRejectsUnsupportedRoles(t *testing.T) {
	cases := []struct {
		jobType ticket.JobType
		role    ticket.Role
	}{
		{ticket.Sampling, ticket.PresenceRole},
		{ticket.CreateModel, ticket.ModelRole},
		{ticket.CreateModel, ticket.LPTRole},
		{ticket.ProjectModel, ticket.PresenceRole},
		{ticket.Evaluate, ticket.LPTRole},
	}
	for _, c := range cases {
		s, err := SplicerFor(c.jobType)
		require.NoError(t, err)
		_, err = s.Splice([]byte(`{}`), []Input{{c.role, []byte(modelResult)}})
		_, ok := err.(*UnsupportedRoleError)
		assert.True(t, ok, "%s with %s: %v", c.jobType, c.role, err)
	}

	_, err := SplicerFor(ticket.Experiment)
	assert.Error(t, err)
}

func TestSpliceMissingProducerFields(t *testing.T) {
	s, err := SplicerFor(ticket.CreateModel)
	require.NoError(t, err)
	_, err = s.Splice([]byte(`{}`), []Input{{ticket.AbsenceRole, []byte(`{"Sampler":{"Presence":[1]}}`)}})
	_, ok := err.(*MissingFieldError)
	assert.True(t, ok, "%v", err)

	s, err = SplicerFor(ticket.ProjectModel)
	require.NoError(t, err)
	_, err = s.Splice([]byte(`{}`), []Input{{ticket.ModelRole, []byte(`{"Sampler":{}}`)}})
	_, ok = err.(*MissingFieldError)
	assert.True(t, ok, "%v", err)

	_, err = s.Splice([]byte(`not json`), nil)
	assert.Error(t, err)
}
