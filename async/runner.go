// Package async runs functions on background goroutines and delivers their
// results as callbacks on the goroutine that started them.
//
// A worker loop, for instance, starts jobs with RunAsync and keeps its own
// bookkeeping single threaded by handling completions in ProcessMessages:
//
//	runner := async.NewRunner()
//	for {
//	    for runner.NumRunning() < limit {
//	        job := next()
//	        runner.RunAsync(func() error { return job.Run() }, func(err error) {
//	            report(job, err)
//	        })
//	    }
//	    select {
//	    case <-runner.Notify():
//	    case <-ctx.Done():
//	        return
//	    }
//	    runner.ProcessMessages()
//	}
package async

// Runner starts functions on goroutines and associates callbacks with them.
// Like Mailbox, its methods belong to a single goroutine.
type Runner struct {
	bx     *Mailbox
	notify chan struct{}
}

func NewRunner() *Runner {
	return &Runner{
		bx:     NewMailbox(),
		notify: make(chan struct{}, 1),
	}
}

// NumRunning counts functions whose callback has not run yet.
func (r *Runner) NumRunning() int {
	return r.bx.Count()
}

// RunAsync runs f on a new goroutine. cb is invoked with f's error by the
// first ProcessMessages call after f returns.
func (r *Runner) RunAsync(f func() error, cb Callback) {
	c := r.bx.NewCompletion(cb)
	go func() {
		c.Resolve(f())
		select {
		case r.notify <- struct{}{}:
		default:
		}
	}()
}

// Notify is signalled after a function returns. Several returns may share
// one signal.
func (r *Runner) Notify() <-chan struct{} {
	return r.notify
}

// ProcessMessages runs the callbacks of finished functions and returns how many ran.
func (r *Runner) ProcessMessages() int {
	return r.bx.ProcessMessages()
}
