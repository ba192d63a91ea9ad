package ticket

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when an artifact does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when create-if-absent finds the artifact present.
	ErrExists = errors.New("already exists")
	// ErrLockUnavailable is returned when a lock was not acquired before the deadline.
	ErrLockUnavailable = errors.New("lock unavailable")
)

// IsNotFound reports whether err, possibly wrapped, is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}

// Unlocker releases a lock obtained from Store.Lock.
type Unlocker interface {
	Unlock() error
}

// Store persists tickets and their artifacts.
//
// Every single-artifact operation is safe to repeat. MoveRequest is atomic:
// exactly one of several concurrent movers of the same request succeeds and
// the others get ErrNotFound, which is how runnable requests are claimed.
type Store interface {
	// Create allocates a fresh id and records TYPE in its metadata.
	// Collision free under concurrent callers.
	Create(jobType JobType) (ID, error)
	Exists(id ID) (bool, error)
	// Delete removes every artifact of a ticket. Used only to roll back a
	// failed multi-ticket creation.
	Delete(id ID, jobType JobType) error

	WriteRequest(id ID, jobType JobType, stage Stage, payload []byte) error
	// ReadRequest returns the request and the stage it is currently held in.
	ReadRequest(id ID, jobType JobType) ([]byte, Stage, error)
	MoveRequest(id ID, jobType JobType, from, to Stage) error
	ListRequests(jobType JobType, stage Stage) ([]ID, error)

	WriteResult(id ID, jobType JobType, payload []byte) error
	ReadResult(id ID, jobType JobType) ([]byte, error)

	WriteProgress(id ID, progress int) error
	// ReadProgress returns ErrNotFound if progress was never written.
	ReadProgress(id ID) (int, error)
	// MarkDone sets the write-once terminal flag.
	MarkDone(id ID) error
	IsDone(id ID) (bool, error)

	AppendMetadata(id ID, entries ...Entry) error
	ReadMetadata(id ID) (*Metadata, error)

	AppendLog(id ID, line string) error
	ReadLog(id ID) ([]byte, error)

	// Lock takes the exclusive lock scoped to a ticket, used for experiments.
	// It blocks until the lock is acquired or ctx is done.
	Lock(ctx context.Context, id ID) (Unlocker, error)

	Close() error
}
