package async

// Callback receives the value of a Completion.
type Callback func(error)

type pending struct {
	completion *Completion
	callback   Callback
}

// Mailbox pairs Completions with callbacks and runs the callbacks of
// resolved ones on the goroutine calling ProcessMessages. It is not safe
// for concurrent use: it belongs to a single event loop, so callbacks never
// run concurrently with each other or with the loop.
type Mailbox struct {
	pending []pending
}

func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Count is the number of completions whose callback has not run yet.
func (bx *Mailbox) Count() int {
	return len(bx.pending)
}

// NewCompletion registers cb to run once the returned Completion is resolved.
func (bx *Mailbox) NewCompletion(cb Callback) *Completion {
	c := newCompletion()
	bx.pending = append(bx.pending, pending{completion: c, callback: cb})
	return c
}

// ProcessMessages runs the callbacks of every resolved completion, in
// registration order, and forgets them. It returns how many ran.
func (bx *Mailbox) ProcessMessages() int {
	ran := 0
	remaining := bx.pending[:0]
	for _, p := range bx.pending {
		if ok, err := p.completion.Poll(); ok {
			p.callback(err)
			ran++
		} else {
			remaining = append(remaining, p)
		}
	}
	for i := len(remaining); i < len(bx.pending); i++ {
		bx.pending[i] = pending{}
	}
	bx.pending = remaining
	return ran
}
