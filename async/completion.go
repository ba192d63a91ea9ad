package async

// Completion is the eventual error of one background call, similar to a
// future that resolves to an error. It is resolved exactly once by the
// goroutine doing the work and read by the goroutine owning the Mailbox.
type Completion struct {
	ch       chan error
	err      error
	resolved bool
}

func newCompletion() *Completion {
	return &Completion{ch: make(chan error, 1)}
}

// Resolve sets the value. Calling it twice panics.
func (c *Completion) Resolve(err error) {
	c.ch <- err
	close(c.ch)
}

// Poll reports whether the value is available, and the value if so.
// Not safe for concurrent use with other Poll calls.
func (c *Completion) Poll() (bool, error) {
	if c.resolved {
		return true, c.err
	}
	select {
	case err := <-c.ch:
		c.err, c.resolved = err, true
		return true, err
	default:
		return false, nil
	}
}
