package session

import (
	"context"
	"errors"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lessonstate/internal/metrics"
)

func TestMetrics_PushOutcomesAndCoalescing(t *testing.T) {
	c, rec, clk := newTestCache(t)
	require.NoError(t, c.Hydrate(context.Background()))

	ok := promtest.ToFloat64(metrics.Pushes.WithLabelValues(metrics.OutcomeOK))
	failed := promtest.ToFloat64(metrics.Pushes.WithLabelValues(metrics.OutcomePersistFailed))
	coalesced := promtest.ToFloat64(metrics.WritesCoalesced)

	c.Write("E1", raw(`1`))
	c.Write("E1", raw(`2`))
	c.Write("E1", raw(`3`))
	clk.Advance(quiet)

	rec.SetPushErr(errors.New("unavailable"))
	c.Write("E2", raw(`1`))
	clk.Advance(quiet)

	assert.Equal(t, coalesced+2, promtest.ToFloat64(metrics.WritesCoalesced))
	assert.Equal(t, ok+1, promtest.ToFloat64(metrics.Pushes.WithLabelValues(metrics.OutcomeOK)))
	assert.Equal(t, failed+1, promtest.ToFloat64(metrics.Pushes.WithLabelValues(metrics.OutcomePersistFailed)))
}

func TestMetrics_HydrationOutcomes(t *testing.T) {
	guest := promtest.ToFloat64(metrics.Hydrations.WithLabelValues(metrics.OutcomeGuest))
	failed := promtest.ToFloat64(metrics.Hydrations.WithLabelValues(metrics.OutcomeFailed))

	g := New("L1", "", nil, WithLogger(discardLogger()))
	require.NoError(t, g.Hydrate(context.Background()))

	c, rec, _ := newTestCache(t)
	rec.SetFetchErr(errors.New("down"))
	require.NoError(t, c.Hydrate(context.Background()))

	assert.Equal(t, guest+1, promtest.ToFloat64(metrics.Hydrations.WithLabelValues(metrics.OutcomeGuest)))
	assert.Equal(t, failed+1, promtest.ToFloat64(metrics.Hydrations.WithLabelValues(metrics.OutcomeFailed)))
}

func TestMetrics_AbandonedPushes(t *testing.T) {
	c, _, _ := newTestCache(t, WithCloseMode(CloseAbandon))
	require.NoError(t, c.Hydrate(context.Background()))
	before := promtest.ToFloat64(metrics.PushesAbandoned)

	c.Write("E1", raw(`1`))
	c.Write("E2", raw(`2`))
	require.NoError(t, c.Close(context.Background()))

	assert.Equal(t, before+2, promtest.ToFloat64(metrics.PushesAbandoned))
}

func TestMetrics_CollectorsLint(t *testing.T) {
	problems, err := promtest.CollectAndLint(metrics.WritesCoalesced)
	require.NoError(t, err)
	assert.Empty(t, problems)
}
