package ticketstores

import (
	"context"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/openmodeller/omws/ticket"
)

// How long to wait between attempts to take a busy lock, and the cap on that wait.
const (
	lockInitialInterval = 10 * time.Millisecond
	lockMaxInterval     = 500 * time.Millisecond
)

var errLockBusy = errors.New("lock busy")

// fileLock is an advisory exclusive flock(2) on an open file. flock locks belong
// to the open file description, so two opens in one process exclude each other
// just like two processes do.
type fileLock struct {
	f *os.File
}

// lockFile takes an exclusive lock on name, retrying a non-blocking flock with
// exponential backoff until it succeeds or ctx is done.
func lockFile(ctx context.Context, name string) (ticket.Unlocker, error) {
	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ticket.ErrNotFound, "lock file %s", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening lock file %s", name)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = lockInitialInterval
	b.MaxInterval = lockMaxInterval
	b.MaxElapsedTime = 0

	var fatal error
	attempts := 0
	op := func() error {
		attempts++
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		switch err {
		case nil:
			return nil
		case unix.EWOULDBLOCK, unix.EINTR:
			return errLockBusy
		default:
			fatal = err
			return nil
		}
	}

	err = backoff.Retry(op, backoff.WithContext(b, ctx))
	if err == nil {
		err = fatal
	}
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "locking %s", name)
	}
	if attempts > 1 {
		log.WithFields(log.Fields{"file": name, "attempts": attempts}).Debug("acquired contended lock")
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) Unlock() error {
	if l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return errors.Wrap(err, "unlocking")
	}
	return closeErr
}
