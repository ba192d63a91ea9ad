package experiment

import (
	"fmt"
)

// InvalidExperimentError rejects a submission before anything is persisted.
type InvalidExperimentError struct {
	JobID  string
	Reason string
}

func (e *InvalidExperimentError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("invalid experiment: %s", e.Reason)
	}
	return fmt.Sprintf("invalid experiment: job %q: %s", e.JobID, e.Reason)
}

func invalid(jobID, format string, args ...interface{}) error {
	return &InvalidExperimentError{JobID: jobID, Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidExperiment reports whether err rejects the submission itself.
func IsInvalidExperiment(err error) bool {
	_, ok := err.(*InvalidExperimentError)
	return ok
}
