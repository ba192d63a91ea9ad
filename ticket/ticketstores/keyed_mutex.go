package ticketstores

import (
	"context"
	"sync"

	"github.com/openmodeller/omws/ticket"
)

// keyedMutex hands out one exclusive lock per ticket id within a process.
// Entries are dropped once nobody holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[ticket.ID]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[ticket.ID]*keyedEntry)}
}

func (k *keyedMutex) Lock(ctx context.Context, id ticket.ID) (ticket.Unlocker, error) {
	k.mu.Lock()
	e, ok := k.locks[id]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return &keyedUnlocker{k: k, id: id, e: e}, nil
	case <-ctx.Done():
		k.release(id, e)
		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(id ticket.ID, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, id)
	}
}

type keyedUnlocker struct {
	k    *keyedMutex
	id   ticket.ID
	e    *keyedEntry
	once sync.Once
}

func (u *keyedUnlocker) Unlock() error {
	u.once.Do(func() {
		<-u.e.ch
		u.k.release(u.id, u.e)
	})
	return nil
}
