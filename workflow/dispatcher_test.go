package workflow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openmodeller/omws/common/stats"
	"github.com/openmodeller/omws/ticket"
)

func newTestDispatcher(t *testing.T, h *harness) *Dispatcher {
	d, err := NewDispatcher(h.store, h.trigger, 8, stats.NilStatsReceiver())
	require.NoError(t, err)
	return d
}

func (h *harness) eventually(logical string, want State) {
	require.Eventually(h.t, func() bool {
		return h.state(logical) == want
	}, 5*time.Second, 5*time.Millisecond, "%s never became %s", logical, want)
}

func TestDispatcherDrivesExperiment(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, TriggerConfig{})
	h.submit(model("M1", "occ", ""), test("T1", "M1", false), projection("P1", "M1", false))
	d := newTestDispatcher(t, h)
	defer d.Close()

	h.claim("M1")
	h.complete("M1", ticket.ProgressDone)
	require.NoError(t, d.Publish(h.id("M1")))
	h.eventually("T1", Runnable)
	h.eventually("P1", Runnable)
	assert.Equal(t, 1, d.Active())

	for _, logical := range []string{"T1", "P1"} {
		h.claim(logical)
		h.complete(logical, ticket.ProgressDone)
	}
	// Duplicate events are absorbed.
	require.NoError(t, d.Publish(h.id("T1")))
	require.NoError(t, d.Publish(h.id("P1")))
	require.NoError(t, d.Publish(h.id("T1")))

	h.eventually("", Succeeded)
	require.Eventually(t, func() bool { return d.Active() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestDispatcherConcurrentCompletions(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, TriggerConfig{})
	names := []string{"S1", "S2", "S3", "S4", "S5", "S6"}
	h.submit(sampling("S1"), sampling("S2"), sampling("S3"), sampling("S4"), sampling("S5"), sampling("S6"))
	d := newTestDispatcher(t, h)
	defer d.Close()

	var wg sync.WaitGroup
	for _, n := range names {
		h.claim(n)
		h.complete(n, ticket.ProgressDone)
		wg.Add(1)
		go func(id ticket.ID) {
			defer wg.Done()
			assert.NoError(t, d.Publish(id))
		}(h.id(n))
	}
	wg.Wait()

	h.eventually("", Succeeded)
	assert.Equal(t, ticket.ProgressDone, h.progress(h.exp()))
}

func TestDispatcherStandaloneTicket(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, TriggerConfig{CreateDone: true})
	d := newTestDispatcher(t, h)
	defer d.Close()

	id, err := h.store.Create(ticket.Sampling)
	require.NoError(t, err)
	require.NoError(t, h.store.WriteProgress(id, ticket.ProgressDone))
	require.NoError(t, d.Publish(id))

	done, err := h.store.IsDone(id)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 0, d.Active())
}

func TestDispatcherClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, TriggerConfig{})
	h.submit(sampling("S1"), sampling("S2"))
	d := newTestDispatcher(t, h)

	h.claim("S1")
	h.complete("S1", ticket.ProgressDone)
	require.NoError(t, d.Publish(h.id("S1")))
	d.Close()

	h.claim("S2")
	h.complete("S2", ticket.ProgressDone)
	assert.Equal(t, ErrDispatcherClosed, d.Publish(h.id("S2")))
}
