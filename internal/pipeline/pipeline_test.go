package pipeline_test

import (
	"context"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"urlrisk/internal/config"
	"urlrisk/internal/evidence"
	"urlrisk/internal/features"
	"urlrisk/internal/ml"
	"urlrisk/internal/pipeline"
	"urlrisk/internal/policy"
	"urlrisk/internal/probe"
	"urlrisk/internal/risk"
	"urlrisk/internal/ti"
	"urlrisk/pkg/domain"
	"urlrisk/pkg/logger"

	"urlrisk/internal/cache"
)

func TestMain(m *testing.M) {
	logger.Setup("test")
	m.Run()
}

type fakeProber struct {
	calls int32
	reach domain.Reachability
	page  *probe.Page
}

func (f *fakeProber) Probe(context.Context, string) (domain.Reachability, *probe.Page) {
	atomic.AddInt32(&f.calls, 1)

	return f.reach, f.page
}

type fakeCollector struct {
	bundle *evidence.Bundle
	skip   evidence.Skip
}

func (f *fakeCollector) Collect(_ context.Context,
	target *url.URL,
	_ domain.Reachability,
	_ *probe.Page,
	skip evidence.Skip) *evidence.Bundle {
	f.skip = skip
	if f.bundle != nil {
		return f.bundle
	}

	return &evidence.Bundle{URL: target, RegistrableDomain: target.Hostname()}
}

type fakeCategories struct {
	results   []domain.CategoryResult
	base      int
	activeMax int
}

func (f *fakeCategories) Run(context.Context, *evidence.Bundle, domain.Reachability) ([]domain.CategoryResult, int, int) {
	return f.results, f.base, f.activeMax
}

type fakeIntel struct {
	calls   int32
	sources []domain.TISourceResult
	score   float64
	gate    bool
}

func (f *fakeIntel) Query(context.Context, string, ti.Target) ([]domain.TISourceResult, float64, bool) {
	atomic.AddInt32(&f.calls, 1)

	return f.sources, f.score, f.gate
}

type fakeStage1 struct {
	score ml.Score
}

func (f *fakeStage1) Score(context.Context, *features.Vector) ml.Score { return f.score }

type fakeStage2 struct {
	calls int32
	score ml.Score
}

func (f *fakeStage2) Score(context.Context, *features.Vector, []byte) ml.Score {
	atomic.AddInt32(&f.calls, 1)

	return f.score
}

type fixture struct {
	prober     *fakeProber
	collector  *fakeCollector
	categories *fakeCategories
	intel      *fakeIntel
	stage1     *fakeStage1
	stage2     *fakeStage2
	results    *cache.Cache[domain.ScanResult]
	pipe       *pipeline.Pipeline
}

func newFixture(t *testing.T, mutate func(f *fixture)) *fixture {
	t.Helper()

	var cfg config.Config
	cfg.Pipeline.GlobalDeadline = 30 * time.Second
	cfg.Pipeline.TI.Cap = 55
	cfg.Pipeline.TI.GateWindow = 7 * 24 * time.Hour
	cfg.Pipeline.Stage1.ExitConfidence = 0.85
	cfg.Pipeline.Combiner.Stage1Weight = 0.4
	cfg.Pipeline.Combiner.Stage2Weight = 0.6
	cfg.Pipeline.Combiner.Alpha = 0.1
	cfg.Pipeline.Combiner.BranchOffline = -0.1
	cfg.Pipeline.Combiner.BranchSinkhole = 0.4

	f := &fixture{
		prober:     &fakeProber{reach: domain.Reachability{State: domain.ReachabilityOnline}},
		collector:  &fakeCollector{},
		categories: &fakeCategories{base: 50, activeMax: 515},
		intel:      &fakeIntel{},
		stage1:     &fakeStage1{score: ml.Score{Probability: 0.5, Confidence: 0, Model: "stage1/heuristic"}},
		stage2:     &fakeStage2{score: ml.Score{Probability: 0.5, Model: "stage2-text/heuristic"}},
		results:    cache.New[domain.ScanResult](nil),
	}
	if mutate != nil {
		mutate(f)
	}

	f.pipe = pipeline.New(cfg.Pipeline, pipeline.Dependencies{
		Prober:     f.prober,
		Collector:  f.collector,
		Categories: f.categories,
		Intel:      f.intel,
		Stage1:     f.stage1,
		Stage2:     f.stage2,
		Combiner: ml.NewCombiner(ml.CombinerConfig{
			Stage1Weight:   cfg.Pipeline.Combiner.Stage1Weight,
			Stage2Weight:   cfg.Pipeline.Combiner.Stage2Weight,
			Alpha:          cfg.Pipeline.Combiner.Alpha,
			BranchOffline:  cfg.Pipeline.Combiner.BranchOffline,
			BranchSinkhole: cfg.Pipeline.Combiner.BranchSinkhole,
		}),
		Policy: policy.NewEngine(cfg.Pipeline.TI.GateWindow),
		Classifier: risk.NewClassifier(
			risk.Thresholds{SafeMax: 15, LowMax: 30, MediumMax: 60, HighMax: 80},
			risk.ResultTTLs{
				Safe: 24 * time.Hour, Low: 12 * time.Hour, Medium: 6 * time.Hour,
				High: time.Hour, Critical: 30 * time.Minute,
			}),
		Results: f.results,
	})

	return f
}

func TestScan_FullRunProducesVerdict(t *testing.T) {
	f := newFixture(t, nil)

	res := f.pipe.Scan(context.Background(), pipeline.Request{ScanID: "s1", URL: "https://example.com/"})

	require.Equal(t, "s1", res.ScanID)
	require.NotNil(t, res.Reachability)
	require.Equal(t, domain.ReachabilityOnline, res.Reachability.State)
	require.Equal(t, 50, res.BaseScore)
	require.Equal(t, 515+55, res.ActiveMaxScore)
	require.NotNil(t, res.Combiner)
	require.Nil(t, res.Policy)
	require.NotZero(t, res.CompletedAt)

	// probability 0.5 is a neutral multiplier
	require.InDelta(t, 50.0, res.FinalScore, 1e-9)
	require.Equal(t, domain.RiskSafe, res.RiskLevel)
	require.Equal(t, domain.ActionAllow, res.Action)
}

func TestScan_Stage2RunsOnlyOnLowConfidence(t *testing.T) {
	t.Run("low confidence invokes stage2", func(t *testing.T) {
		f := newFixture(t, func(f *fixture) {
			f.stage1.score = ml.Score{Probability: 0.55, Confidence: 0.1, Model: "stage1/heuristic"}
		})

		res := f.pipe.Scan(context.Background(), pipeline.Request{ScanID: "s1", URL: "https://example.com/"})
		require.EqualValues(t, 1, f.stage2.calls)
		require.NotNil(t, res.Combiner)
	})

	t.Run("confident stage1 exits early", func(t *testing.T) {
		f := newFixture(t, func(f *fixture) {
			f.stage1.score = ml.Score{Probability: 0.05, Confidence: 0.9, Model: "stage1/heuristic"}
		})

		res := f.pipe.Scan(context.Background(), pipeline.Request{ScanID: "s1", URL: "https://example.com/"})
		require.Zero(t, f.stage2.calls)
		require.NotNil(t, res.Combiner)

		var found bool
		for _, step := range res.Combiner.Steps {
			if step.Contributor == "stage2" {
				require.Contains(t, step.Note, "skipped")
				found = true
			}
		}
		require.True(t, found)
	})

	t.Run("caller override skips stage2", func(t *testing.T) {
		f := newFixture(t, func(f *fixture) {
			f.stage1.score = ml.Score{Probability: 0.55, Confidence: 0.1, Model: "stage1/heuristic"}
		})

		f.pipe.Scan(context.Background(),
			pipeline.Request{ScanID: "s1", URL: "https://example.com/", SkipStage2: true})
		require.Zero(t, f.stage2.calls)
	})
}

func TestScan_TierOneGateSkipsStages(t *testing.T) {
	now := time.Now()
	f := newFixture(t, func(f *fixture) {
		f.intel.gate = true
		f.intel.score = 55
		f.intel.sources = []domain.TISourceResult{
			{Source: "urlhaus", Tier: 1, Verdict: domain.TIVerdictHit, ObservedAt: now},
			{Source: "phishtank", Tier: 1, Verdict: domain.TIVerdictHit, ObservedAt: now},
		}
	})

	res := f.pipe.Scan(context.Background(), pipeline.Request{ScanID: "s1", URL: "https://example.com/"})

	require.Nil(t, res.Combiner)
	require.NotNil(t, res.Policy)
	require.Equal(t, "dual_tier1_block", res.Policy.Rule)
	require.Equal(t, domain.RiskCritical, res.RiskLevel)
	require.Equal(t, domain.ActionBlock, res.Action)
}

func TestScan_PolicyOverridesProbability(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.prober.reach = domain.Reachability{State: domain.ReachabilitySinkhole}
		f.categories.base = 0
		// confident-benign stage1 must not matter
		f.stage1.score = ml.Score{Probability: 0.02, Confidence: 0.96, Model: "stage1/heuristic"}
	})

	res := f.pipe.Scan(context.Background(), pipeline.Request{ScanID: "s1", URL: "https://example.com/"})

	require.NotNil(t, res.Policy)
	require.Equal(t, "sinkhole_block", res.Policy.Rule)
	require.Equal(t, domain.RiskCritical, res.RiskLevel)
	require.Equal(t, domain.ActionBlock, res.Action)
}

func TestScan_ParkedLowProbabilityAllows(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.prober.reach = domain.Reachability{State: domain.ReachabilityParked}
		f.categories.base = 10
		f.stage1.score = ml.Score{Probability: 0.05, Confidence: 0.9, Model: "stage1/heuristic"}
	})

	res := f.pipe.Scan(context.Background(), pipeline.Request{ScanID: "s1", URL: "https://parked.example/"})

	require.NotNil(t, res.Policy)
	require.Equal(t, "parked_allow", res.Policy.Rule)
	require.Equal(t, domain.RiskSafe, res.RiskLevel)
	require.Equal(t, domain.ActionAllow, res.Action)
}

func TestScan_SecondScanServedFromCache(t *testing.T) {
	f := newFixture(t, nil)

	first := f.pipe.Scan(context.Background(), pipeline.Request{ScanID: "s1", URL: "https://example.com/"})
	second := f.pipe.Scan(context.Background(), pipeline.Request{ScanID: "s2", URL: "https://example.com/"})

	require.Equal(t, first, second)
	require.EqualValues(t, 1, f.prober.calls)
	require.EqualValues(t, 1, f.intel.calls)
}

func TestScan_SkipFlagsReachCollector(t *testing.T) {
	f := newFixture(t, nil)

	f.pipe.Scan(context.Background(), pipeline.Request{
		ScanID: "s1", URL: "https://example.com/",
		SkipScreenshot: true, SkipTLS: true, SkipWHOIS: true,
	})

	require.True(t, f.collector.skip.Screenshot)
	require.True(t, f.collector.skip.TLS)
	require.True(t, f.collector.skip.WHOIS)
}

func TestScan_InvalidURLStillYieldsResult(t *testing.T) {
	f := newFixture(t, nil)

	res := f.pipe.Scan(context.Background(), pipeline.Request{ScanID: "s1", URL: "not a url"})

	require.NotEmpty(t, res.Error)
	require.Zero(t, f.prober.calls)
	require.NotZero(t, res.CompletedAt)
}

func TestScan_MissingEvidenceAnnotatesIncomplete(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		u, _ := url.Parse("https://example.com/")
		f.collector.bundle = &evidence.Bundle{
			URL:               u,
			RegistrableDomain: "example.com",
			Missing:           []string{"whois", "tls"},
		}
	})

	res := f.pipe.Scan(context.Background(), pipeline.Request{ScanID: "s1", URL: "https://example.com/"})

	require.Contains(t, res.Incomplete, "whois")
	require.Contains(t, res.Incomplete, "tls")
	require.NotNil(t, res.Combiner)
}

func TestScan_OfflineBranchLowersProbability(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.prober.reach = domain.Reachability{State: domain.ReachabilityOffline}
		f.categories.activeMax = 405
		f.stage1.score = ml.Score{Probability: 0.5, Confidence: 0.9, Model: "stage1/heuristic"}
	})

	res := f.pipe.Scan(context.Background(), pipeline.Request{ScanID: "s1", URL: "https://example.com/"})

	require.Equal(t, 405+55, res.ActiveMaxScore)
	require.NotNil(t, res.Combiner)
	require.InDelta(t, 0.4, res.Probability, 1e-9)
}
