package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/openmodeller/omws/ticket"
)

// Input is one resolved dependency: the result document of the producer
// feeding role.
type Input struct {
	Role   ticket.Role
	Result []byte
}

// Splicer merges producer results into a consumer's held request. There is
// one Splicer per consumer job type, each accepting only the roles that make
// sense for it.
type Splicer interface {
	JobType() ticket.JobType
	Splice(request []byte, inputs []Input) ([]byte, error)
}

// UnsupportedRoleError means a dependency edge carries a role its consumer
// type cannot take. It signals a corrupt graph, not a transient failure.
type UnsupportedRoleError struct {
	JobType ticket.JobType
	Role    ticket.Role
}

func (e *UnsupportedRoleError) Error() string {
	return fmt.Sprintf("%s jobs take no %q dependency", e.JobType.Name(), e.Role)
}

// MissingFieldError means a producer result lacks the part a role needs.
type MissingFieldError struct {
	Role  ticket.Role
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("producer result for %q has no %s", e.Role, e.Field)
}

var splicers = map[ticket.JobType]Splicer{}

func register(s Splicer) {
	splicers[s.JobType()] = s
}

func init() {
	register(samplingSplicer{})
	register(modelSplicer{})
	register(testSplicer{})
	register(projectionSplicer{})
	register(evaluationSplicer{})
}

// SplicerFor returns the handler for consumers of jobType.
func SplicerFor(jobType ticket.JobType) (Splicer, error) {
	s, ok := splicers[jobType]
	if !ok {
		return nil, errors.Errorf("no splicer for %s jobs", jobType.Name())
	}
	return s, nil
}

// Sampling jobs never depend on other jobs.
type samplingSplicer struct{}

func (samplingSplicer) JobType() ticket.JobType { return ticket.Sampling }

func (s samplingSplicer) Splice(request []byte, inputs []Input) ([]byte, error) {
	if len(inputs) > 0 {
		return nil, &UnsupportedRoleError{s.JobType(), inputs[0].Role}
	}
	return request, nil
}

type modelSplicer struct{}

func (modelSplicer) JobType() ticket.JobType { return ticket.CreateModel }

func (s modelSplicer) Splice(request []byte, inputs []Input) ([]byte, error) {
	var params ModelParameters
	if err := decode(request, &params, "model request"); err != nil {
		return nil, err
	}
	for _, in := range inputs {
		switch in.Role {
		case ticket.PresenceRole, ticket.AbsenceRole:
			if err := splicePoints(&params.Sampler, in); err != nil {
				return nil, err
			}
		default:
			return nil, &UnsupportedRoleError{s.JobType(), in.Role}
		}
	}
	return Encode(params)
}

type testSplicer struct{}

func (testSplicer) JobType() ticket.JobType { return ticket.TestModel }

func (s testSplicer) Splice(request []byte, inputs []Input) ([]byte, error) {
	var params TestParameters
	if err := decode(request, &params, "test request"); err != nil {
		return nil, err
	}
	for _, in := range inputs {
		switch in.Role {
		case ticket.PresenceRole, ticket.AbsenceRole:
			if err := splicePoints(&params.Sampler, in); err != nil {
				return nil, err
			}
		case ticket.ModelRole:
			model, err := decodeModel(in)
			if err != nil {
				return nil, err
			}
			params.Algorithm = model.Algorithm
		case ticket.LPTRole:
			threshold, err := decodeLPT(in)
			if err != nil {
				return nil, err
			}
			if params.Statistics == nil {
				params.Statistics = &TestStatistics{}
			}
			if params.Statistics.ConfusionMatrix == nil {
				params.Statistics.ConfusionMatrix = &ConfusionMatrix{}
			}
			params.Statistics.ConfusionMatrix.Threshold = threshold
		default:
			return nil, &UnsupportedRoleError{s.JobType(), in.Role}
		}
	}
	return Encode(params)
}

type projectionSplicer struct{}

func (projectionSplicer) JobType() ticket.JobType { return ticket.ProjectModel }

func (s projectionSplicer) Splice(request []byte, inputs []Input) ([]byte, error) {
	var params ProjectionParameters
	if err := decode(request, &params, "projection request"); err != nil {
		return nil, err
	}
	for _, in := range inputs {
		switch in.Role {
		case ticket.ModelRole:
			model, err := decodeModel(in)
			if err != nil {
				return nil, err
			}
			params.Algorithm = model.Algorithm
		case ticket.LPTRole:
			threshold, err := decodeLPT(in)
			if err != nil {
				return nil, err
			}
			if params.Statistics == nil {
				params.Statistics = &ProjectionStatistics{}
			}
			if params.Statistics.AreaStatistics == nil {
				params.Statistics.AreaStatistics = &AreaStatistics{}
			}
			params.Statistics.AreaStatistics.PredictionThreshold = threshold
		default:
			return nil, &UnsupportedRoleError{s.JobType(), in.Role}
		}
	}
	return Encode(params)
}

// The evaluation reruns the model on its own training environment and presences.
type evaluationSplicer struct{}

func (evaluationSplicer) JobType() ticket.JobType { return ticket.Evaluate }

func (s evaluationSplicer) Splice(request []byte, inputs []Input) ([]byte, error) {
	var params EvaluationParameters
	if err := decode(request, &params, "evaluation request"); err != nil {
		return nil, err
	}
	for _, in := range inputs {
		if in.Role != ticket.ModelRole {
			return nil, &UnsupportedRoleError{s.JobType(), in.Role}
		}
		model, err := decodeModel(in)
		if err != nil {
			return nil, err
		}
		params.Algorithm = model.Algorithm
		params.Sampler.Environment = model.Sampler.Environment
		params.Sampler.Presence = model.Sampler.Presence
	}
	return Encode(params)
}

func splicePoints(sampler *Sampler, in Input) error {
	var result SamplingResult
	if err := decode(in.Result, &result, "sampling result"); err != nil {
		return err
	}
	var points json.RawMessage
	if in.Role == ticket.PresenceRole {
		points = result.Sampler.Presence
	} else {
		points = result.Sampler.Absence
	}
	if len(points) == 0 {
		return &MissingFieldError{in.Role, "Sampler." + roleField(in.Role)}
	}
	if in.Role == ticket.PresenceRole {
		sampler.Presence = points
	} else {
		sampler.Absence = points
	}
	return nil
}

func roleField(role ticket.Role) string {
	if role == ticket.PresenceRole {
		return "Presence"
	}
	return "Absence"
}

func decodeModel(in Input) (*SerializedModel, error) {
	var model SerializedModel
	if err := decode(in.Result, &model, "serialized model"); err != nil {
		return nil, err
	}
	if len(model.Algorithm) == 0 {
		return nil, &MissingFieldError{in.Role, "Algorithm"}
	}
	return &model, nil
}

func decodeLPT(in Input) (string, error) {
	var result EvaluationResult
	if err := decode(in.Result, &result, "evaluation result"); err != nil {
		return "", err
	}
	return LowestPresenceThreshold(result.Values), nil
}
