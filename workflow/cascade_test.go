package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmodeller/omws/common/stats"
	"github.com/openmodeller/omws/ticket"
)

func TestStopExperimentLeavesRunningJobs(t *testing.T) {
	h := newHarness(t, TriggerConfig{})
	h.submit(sampling("S1"), sampling("S2"), model("M1", "S1", ""))
	h.claim("S2")

	stopped, err := h.cascade.StopExperiment(context.Background(), h.exp(), "", ticket.ProgressCancelled)
	require.NoError(t, err)
	assert.True(t, stopped)

	assert.Equal(t, Cancelled, h.state("S1"))
	assert.Equal(t, Cancelled, h.state("M1"))
	assert.Equal(t, Running, h.state("S2"))
	assert.Equal(t, Cancelled, h.state(""))
	assert.Equal(t, ticket.ProgressCancelled, h.progress(h.exp()))

	_, stage, err := h.store.ReadRequest(h.id("M1"), ticket.CreateModel)
	require.NoError(t, err)
	assert.Equal(t, ticket.Processed, stage)

	stopped, err = h.cascade.StopExperiment(context.Background(), h.exp(), "", ticket.ProgressAborted)
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Equal(t, ticket.ProgressCancelled, h.progress(h.exp()))
}

// The experiment is terminal even when nothing was left to cancel, so a
// late sibling cannot declare it succeeded.
func TestStopWithNothingToCancel(t *testing.T) {
	h := newHarness(t, TriggerConfig{})
	h.submit(sampling("S1"), sampling("S2"))
	h.claim("S1")
	h.claim("S2")
	h.complete("S2", ticket.ProgressAborted)
	assert.True(t, h.fire("S2").Stopped)

	h.complete("S1", ticket.ProgressDone)
	outcome := h.fire("S1")
	assert.False(t, outcome.Finished)
	assert.Equal(t, Cancelled, h.state(""))
}

func TestUserCancel(t *testing.T) {
	h := newHarness(t, TriggerConfig{})
	h.submit(sampling("S1"), sampling("S2"))
	h.claim("S1")

	standalone, err := h.store.Create(ticket.Sampling)
	require.NoError(t, err)
	require.NoError(t, h.store.WriteRequest(standalone, ticket.Sampling, ticket.Runnable, []byte(`{}`)))
	started, err := h.store.Create(ticket.Sampling)
	require.NoError(t, err)
	require.NoError(t, h.store.WriteRequest(started, ticket.Sampling, ticket.Processed, []byte(`{}`)))
	require.NoError(t, h.store.WriteProgress(started, 10))

	cancelled, err := h.cascade.Cancel(context.Background(), []ticket.ID{standalone, started, "zzzzzz"})
	require.NoError(t, err)
	assert.Equal(t, []ticket.ID{standalone}, cancelled)
	s, err := ReadState(h.store, standalone)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, s)
	s, err = ReadState(h.store, started)
	require.NoError(t, err)
	assert.Equal(t, Running, s)

	// A running member cannot be cancelled.
	cancelled, err = h.cascade.Cancel(context.Background(), []ticket.ID{h.id("S1")})
	require.NoError(t, err)
	assert.Empty(t, cancelled)
	assert.Equal(t, Running, h.state(""))

	// A waiting member can, and takes its experiment down with it.
	cancelled, err = h.cascade.Cancel(context.Background(), []ticket.ID{h.id("S2")})
	require.NoError(t, err)
	assert.Equal(t, []ticket.ID{h.id("S2")}, cancelled)
	assert.Equal(t, Cancelled, h.state(""))
	assert.Equal(t, ticket.ProgressCancelled, h.progress(h.exp()))

	// Cancelling twice is a no-op.
	cancelled, err = h.cascade.Cancel(context.Background(), []ticket.ID{h.id("S2"), h.exp()})
	require.NoError(t, err)
	assert.Empty(t, cancelled)
}

func TestUserCancelExperiment(t *testing.T) {
	h := newHarness(t, TriggerConfig{})
	h.submit(model("M1", "occ", ""), test("T1", "M1", false))

	cancelled, err := h.cascade.Cancel(context.Background(), []ticket.ID{h.exp()})
	require.NoError(t, err)
	assert.Equal(t, []ticket.ID{h.exp()}, cancelled)
	assert.Equal(t, Cancelled, h.state("M1"))
	assert.Equal(t, Cancelled, h.state("T1"))
	assert.Equal(t, ticket.ProgressCancelled, h.progress(h.exp()))
}

func TestCancelRacesWithClaim(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t, TriggerConfig{})
		h.submit(sampling("S1"), sampling("S2"))
		id := h.id("S1")

		var wg sync.WaitGroup
		var claimErr error
		var cancelled bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			claimErr = h.store.MoveRequest(id, ticket.Sampling, ticket.Runnable, ticket.Processed)
		}()
		go func() {
			defer wg.Done()
			var err error
			cancelled, err = h.cascade.cancelJob(id)
			assert.NoError(t, err)
		}()
		wg.Wait()

		// Exactly one side wins the request.
		assert.NotEqual(t, claimErr == nil, cancelled)
	}
}

func TestLockTimeout(t *testing.T) {
	h := newHarness(t, TriggerConfig{})
	h.submit(sampling("S1"))
	unlocker, err := h.store.Lock(context.Background(), h.exp())
	require.NoError(t, err)
	defer unlocker.Unlock()

	c := NewCascade(h.store, 20*time.Millisecond, stats.NilStatsReceiver())
	_, err = c.StopExperiment(context.Background(), h.exp(), "", ticket.ProgressCancelled)
	require.Error(t, err)
	assert.Equal(t, ticket.ErrLockUnavailable, errors.Cause(err))
	assert.Equal(t, Runnable, h.state("S1"))
}

func TestCascadeStats(t *testing.T) {
	h := newHarness(t, TriggerConfig{})
	stat := stats.DefaultStatsReceiver()
	h.cascade = NewCascade(h.store, 0, stat)
	h.submit(sampling("S1"), sampling("S2"), sampling("S3"))
	h.claim("S1")

	_, err := h.cascade.StopExperiment(context.Background(), h.exp(), "", ticket.ProgressAborted)
	require.NoError(t, err)
	stats.VerifyStats(t, stat, map[string]stats.Rule{
		"cascade/" + stats.CascadeExperimentsCounter:      {Checker: stats.Int64EqTest, Value: 1},
		"cascade/" + stats.CascadeCancelledTicketsCounter: {Checker: stats.Int64EqTest, Value: 2},
		"cascade/" + stats.CascadeCancelRefusedCounter:    {Checker: stats.Int64EqTest, Value: 1},
	})
}
