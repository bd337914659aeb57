package ti_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"urlrisk/internal/cache"
	"urlrisk/internal/ti"
	"urlrisk/pkg/domain"
	"urlrisk/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Setup(logger.DevelopmentEnvironment)
	m.Run()
}

type fakeSource struct {
	name    string
	verdict ti.Verdict
	err     error
	calls   atomic.Int64
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Lookup(context.Context, ti.Target) (ti.Verdict, error) {
	s.calls.Add(1)

	return s.verdict, s.err
}

func newLayer(sources []ti.ConfiguredSource, c *cache.Cache[domain.TISourceResult]) *ti.Layer {
	breakers := ti.NewBreakerSet(5, 30*time.Second, nil)

	return ti.NewLayer(sources, breakers, c, ti.Options{
		Cap:           55,
		SourceTimeout: time.Second,
		CacheTTL:      time.Hour,
		GateWindow:    7 * 24 * time.Hour,
	}, nil)
}

func target() ti.Target {
	return ti.Target{
		URL:               "https://example.com/",
		Host:              "example.com",
		RegistrableDomain: "example.com",
	}
}

func TestLayer_WeightedAggregateIsCapped(t *testing.T) {
	sources := []ti.ConfiguredSource{
		{Source: &fakeSource{name: "a", verdict: ti.VerdictHit}, Tier: 1, Weight: 30},
		{Source: &fakeSource{name: "b", verdict: ti.VerdictHit}, Tier: 2, Weight: 30},
		{Source: &fakeSource{name: "c", verdict: ti.VerdictMiss}, Tier: 2, Weight: 30},
	}

	results, score, _ := newLayer(sources, nil).Query(context.Background(), "key", target())
	require.Len(t, results, 3)
	require.InDelta(t, 55, score, 1e-9, "aggregate must be capped at 55")
}

func TestLayer_Tier1GateFires(t *testing.T) {
	sources := []ti.ConfiguredSource{
		{Source: &fakeSource{name: "a", verdict: ti.VerdictHit}, Tier: 1, Weight: 10},
		{Source: &fakeSource{name: "b", verdict: ti.VerdictHit}, Tier: 1, Weight: 10},
	}
	_, _, gate := newLayer(sources, nil).Query(context.Background(), "key", target())
	require.True(t, gate)

	sources = []ti.ConfiguredSource{
		{Source: &fakeSource{name: "a", verdict: ti.VerdictHit}, Tier: 1, Weight: 10},
		{Source: &fakeSource{name: "b", verdict: ti.VerdictHit}, Tier: 2, Weight: 10},
	}
	_, _, gate = newLayer(sources, nil).Query(context.Background(), "key", target())
	require.False(t, gate, "tier-2 hits do not count toward the gate")
}

func TestLayer_ErrorsDoNotFailBatch(t *testing.T) {
	sources := []ti.ConfiguredSource{
		{Source: &fakeSource{name: "bad", err: errors.New("boom")}, Tier: 1, Weight: 10},
		{Source: &fakeSource{name: "good", verdict: ti.VerdictHit}, Tier: 2, Weight: 10},
	}

	results, score, _ := newLayer(sources, nil).Query(context.Background(), "key", target())
	require.Len(t, results, 2)

	byName := map[string]domain.TISourceResult{}
	for _, r := range results {
		byName[r.Source] = r
	}
	require.Equal(t, domain.TIVerdictError, byName["bad"].Verdict)
	require.Equal(t, domain.TIVerdictHit, byName["good"].Verdict)
	require.InDelta(t, 10, score, 1e-9)
}

func TestLayer_OpenBreakerShortCircuits(t *testing.T) {
	bad := &fakeSource{name: "flaky", err: errors.New("boom")}
	sources := []ti.ConfiguredSource{{Source: bad, Tier: 1, Weight: 10}}
	layer := newLayer(sources, nil)

	for i := 0; i < 5; i++ {
		layer.Query(context.Background(), "key", target())
	}
	require.Equal(t, int64(5), bad.calls.Load())

	results, _, _ := layer.Query(context.Background(), "key", target())
	require.Equal(t, int64(5), bad.calls.Load(), "open breaker must not call the source")
	require.Equal(t, domain.TIVerdictError, results[0].Verdict)
	require.Equal(t, string(ti.BreakerOpen), results[0].BreakerState)
}

func TestLayer_VerdictsServedFromCache(t *testing.T) {
	src := &fakeSource{name: "cached", verdict: ti.VerdictHit}
	sources := []ti.ConfiguredSource{{Source: src, Tier: 1, Weight: 10}}
	layer := newLayer(sources, cache.New[domain.TISourceResult](nil))

	first, score1, _ := layer.Query(context.Background(), "key", target())
	second, score2, _ := layer.Query(context.Background(), "key", target())

	require.Equal(t, int64(1), src.calls.Load(), "second query must hit the cache")
	require.False(t, first[0].Cached)
	require.True(t, second[0].Cached)
	require.Equal(t, score1, score2)
	require.Equal(t, first[0].ObservedAt, second[0].ObservedAt,
		"cache keeps the original observation time")
}

func TestLayer_ErrorVerdictsAreNotCached(t *testing.T) {
	src := &fakeSource{name: "flaky", err: errors.New("boom")}
	sources := []ti.ConfiguredSource{{Source: src, Tier: 1, Weight: 10}}
	layer := newLayer(sources, cache.New[domain.TISourceResult](nil))

	layer.Query(context.Background(), "key", target())
	layer.Query(context.Background(), "key", target())
	require.Equal(t, int64(2), src.calls.Load())
}

func TestLayer_CanceledScanDoesNotTripBreaker(t *testing.T) {
	src := &fakeSource{name: "slow", err: context.Canceled}
	breakers := ti.NewBreakerSet(2, 30*time.Second, nil)
	layer := ti.NewLayer([]ti.ConfiguredSource{{Source: src, Tier: 1, Weight: 10}},
		breakers, nil, ti.Options{SourceTimeout: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// far more aborted lookups than the failure threshold
	for range 5 {
		results, _, _ := layer.Query(ctx, "key", target())
		require.Equal(t, domain.TIVerdictError, results[0].Verdict)
	}
	require.Equal(t, ti.BreakerClosed, breakers.Get("slow").State(),
		"aborted scans must not move the breaker")

	// genuine failures on a live scan still open it
	layer.Query(context.Background(), "key", target())
	layer.Query(context.Background(), "key", target())
	require.Equal(t, ti.BreakerOpen, breakers.Get("slow").State())
}
