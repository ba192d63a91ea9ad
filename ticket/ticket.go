// Package ticket defines the persisted unit of work of the experiment scheduler.
//
// A ticket is a short random identifier that owns a fixed set of artifacts:
// a request document (in one of three stages), a result document, a numeric
// progress indicator, a write-once done flag and an append-only metadata
// record. Experiments are tickets too; their metadata lists their members.
package ticket

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ID identifies a ticket. IDs are generated by a Store and are unique within it.
type ID string

const (
	IDLength   = 6
	IDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var ErrInvalidID = errors.New("invalid ticket id")

// ParseID validates an id received from outside the process.
// Ids are used as file name components so anything outside IDAlphabet is rejected.
func ParseID(s string) (ID, error) {
	if len(s) != IDLength {
		return "", errors.Wrapf(ErrInvalidID, "%q", s)
	}
	for _, c := range s {
		if !strings.ContainsRune(IDAlphabet, c) {
			return "", errors.Wrapf(ErrInvalidID, "%q", s)
		}
	}
	return ID(s), nil
}

// ParseIDList parses a comma separated list of ids, ignoring empty elements.
func ParseIDList(s string) ([]ID, error) {
	ids := []ID{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := ParseID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// JobType is the kind of work a ticket carries. Its string form is the
// prefix used in artifact names and in the TYPE metadata key.
type JobType int

const (
	UnknownJob JobType = iota
	Sampling
	CreateModel
	TestModel
	ProjectModel
	Evaluate
	Experiment
)

var jobTypePrefixes = [...]string{
	"unknown",
	"samp",
	"model",
	"test",
	"proj",
	"eval",
	"exp",
}

var jobTypeNames = [...]string{
	"Unknown",
	"Sampling",
	"CreateModel",
	"TestModel",
	"ProjectModel",
	"Evaluate",
	"Experiment",
}

// String returns the artifact prefix, e.g. "model".
func (t JobType) String() string {
	if t < 0 || int(t) >= len(jobTypePrefixes) {
		return jobTypePrefixes[UnknownJob]
	}
	return jobTypePrefixes[t]
}

// Name returns the human readable name, e.g. "CreateModel".
func (t JobType) Name() string {
	if t < 0 || int(t) >= len(jobTypeNames) {
		return jobTypeNames[UnknownJob]
	}
	return jobTypeNames[t]
}

// ParseJobType accepts either the prefix ("model") or the name ("CreateModel").
func ParseJobType(s string) (JobType, error) {
	for i := Sampling; i <= Experiment; i++ {
		if s == jobTypePrefixes[i] || strings.EqualFold(s, jobTypeNames[i]) {
			return i, nil
		}
	}
	return UnknownJob, fmt.Errorf("unknown job type %q", s)
}

// JobTypes lists every concrete job type, experiments included.
func JobTypes() []JobType {
	return []JobType{Sampling, CreateModel, TestModel, ProjectModel, Evaluate, Experiment}
}

// Stage is the form a request document is held in. Moving a request between
// stages is atomic and is the only way a ticket changes eligibility.
type Stage int

const (
	// Pending requests are blocked on upstream tickets.
	Pending Stage = iota
	// Runnable requests may be claimed by an executor.
	Runnable
	// Processed requests were claimed by an executor, retired by a cancel,
	// or belong to an experiment whose members were already created.
	Processed
)

var stageSuffixes = [...]string{"pend", "req", "proc"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageSuffixes) {
		return "invalid"
	}
	return stageSuffixes[s]
}

// Progress codes. Values 0..99 mean running.
const (
	ProgressUnknown   = -4
	ProgressCancelled = -3
	ProgressAborted   = -2
	ProgressQueued    = -1
	ProgressDone      = 100
)

// IsFailureCode reports whether a progress value is a terminal failure.
func IsFailureCode(progress int) bool {
	return progress < ProgressQueued
}
