package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmodeller/omws/common/stats"
	"github.com/openmodeller/omws/ticket"
)

func TestSimpleTicketProgress(t *testing.T) {
	h := newHarness(t, TriggerConfig{})
	id, err := h.store.Create(ticket.ProjectModel)
	require.NoError(t, err)

	assert.Equal(t, ticket.ProgressUnknown, h.progress("nosuch"))
	assert.Equal(t, ticket.ProgressQueued, h.progress(id))

	require.NoError(t, h.store.WriteProgress(id, 40))
	assert.Equal(t, 40, h.progress(id))

	// 100 is only reported once the done flag is set.
	require.NoError(t, h.store.WriteProgress(id, ticket.ProgressDone))
	assert.Equal(t, 99, h.progress(id))
	require.NoError(t, h.store.MarkDone(id))
	assert.Equal(t, ticket.ProgressDone, h.progress(id))
}

func TestExperimentProgress(t *testing.T) {
	h := newHarness(t, TriggerConfig{})
	h.submit(sampling("S1"), sampling("S2"), sampling("S3"), sampling("S4"))
	exp := h.exp()
	assert.Equal(t, ticket.ProgressQueued, h.progress(exp))

	require.NoError(t, h.store.WriteProgress(h.id("S1"), 40))
	assert.Equal(t, 10, h.progress(exp))

	require.NoError(t, h.store.WriteProgress(h.id("S2"), ticket.ProgressDone))
	assert.Equal(t, (40+99)/4, h.progress(exp))
	require.NoError(t, h.store.MarkDone(h.id("S2")))
	assert.Equal(t, (40+100)/4, h.progress(exp))

	for _, id := range []string{"S1", "S3", "S4"} {
		require.NoError(t, h.store.WriteProgress(h.id(id), ticket.ProgressDone))
		require.NoError(t, h.store.MarkDone(h.id(id)))
	}
	// Every member is done but only the trigger completes the experiment.
	assert.Equal(t, 99, h.progress(exp))
}

func TestExperimentProgressShortCircuitsOnFailure(t *testing.T) {
	h := newHarness(t, TriggerConfig{})
	h.submit(sampling("S1"), sampling("S2"), sampling("S3"))
	require.NoError(t, h.store.WriteProgress(h.id("S1"), ticket.ProgressDone))
	require.NoError(t, h.store.MarkDone(h.id("S1")))
	require.NoError(t, h.store.WriteProgress(h.id("S3"), ticket.ProgressCancelled))

	assert.Equal(t, ticket.ProgressCancelled, h.progress(h.exp()))
}

func TestMembershipCache(t *testing.T) {
	h := newHarness(t, TriggerConfig{})
	stat := stats.DefaultStatsReceiver()
	aggregator, err := NewAggregator(h.store, 2, stat)
	require.NoError(t, err)
	h.submit(sampling("S1"))

	for i := 0; i < 3; i++ {
		p, err := aggregator.Progress(h.exp())
		require.NoError(t, err)
		assert.Equal(t, ticket.ProgressQueued, p)
	}
	stats.VerifyStats(t, stat, map[string]stats.Rule{
		"progress/" + stats.ProgressCacheMissCounter: {Checker: stats.Int64EqTest, Value: 1},
		"progress/" + stats.ProgressCacheHitCounter:  {Checker: stats.Int64EqTest, Value: 2},
	})
}
