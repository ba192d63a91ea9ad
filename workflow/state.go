// Package workflow advances experiments as their jobs finish: it promotes
// blocked jobs whose producers all succeeded, stops experiments when a job
// fails, aggregates progress and routes completion events to one goroutine
// per experiment.
package workflow

import (
	"github.com/openmodeller/omws/ticket"
)

// State is derived from a ticket's artifacts, never stored.
type State int

const (
	Unknown State = iota
	Blocked
	Runnable
	Running
	Succeeded
	Failed
	Cancelled
)

var stateNames = [...]string{
	"Unknown",
	"Blocked",
	"Runnable",
	"Running",
	"Succeeded",
	"Failed",
	"Cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return stateNames[Unknown]
	}
	return stateNames[s]
}

// IsTerminal is true for states that can never change again.
func (s State) IsTerminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// terminalState maps the final progress of a done ticket.
func terminalState(progress int) State {
	switch progress {
	case ticket.ProgressDone:
		return Succeeded
	case ticket.ProgressCancelled:
		return Cancelled
	default:
		return Failed
	}
}

// ReadState derives the state of id. Unknown tickets read Unknown with a nil error.
// A stopped experiment reads Cancelled even though its progress keeps the
// code of the failure that stopped it (-2 after a failed job, -3 after a user
// cancel).
func ReadState(store ticket.Store, id ticket.ID) (State, error) {
	md, err := store.ReadMetadata(id)
	if ticket.IsNotFound(err) {
		return Unknown, nil
	} else if err != nil {
		return Unknown, err
	}
	jobType, err := md.Type()
	if err != nil {
		return Unknown, err
	}
	return readState(store, id, jobType)
}

func readState(store ticket.Store, id ticket.ID, jobType ticket.JobType) (State, error) {
	done, err := store.IsDone(id)
	if err != nil {
		return Unknown, err
	}
	if done {
		progress, err := store.ReadProgress(id)
		if ticket.IsNotFound(err) {
			return Failed, nil
		} else if err != nil {
			return Unknown, err
		}
		if jobType == ticket.Experiment && progress != ticket.ProgressDone {
			// Stopped by the cascade, whatever the triggering failure was.
			return Cancelled, nil
		}
		return terminalState(progress), nil
	}

	_, stage, err := store.ReadRequest(id, jobType)
	if ticket.IsNotFound(err) {
		return Unknown, nil
	} else if err != nil {
		return Unknown, err
	}
	switch stage {
	case ticket.Pending:
		return Blocked, nil
	case ticket.Runnable:
		return Runnable, nil
	default:
		return Running, nil
	}
}

// succeeded is the only check used to release a dependent: done with 100.
func succeeded(store ticket.Store, id ticket.ID) (bool, error) {
	done, err := store.IsDone(id)
	if err != nil || !done {
		return false, err
	}
	progress, err := store.ReadProgress(id)
	if ticket.IsNotFound(err) {
		return false, nil
	}
	return progress == ticket.ProgressDone, err
}
