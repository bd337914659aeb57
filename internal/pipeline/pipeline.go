// Package pipeline orchestrates a full URL risk scan: reachability probe,
// evidence collection, category checks and threat-intelligence lookups, the
// two-stage ML scorers, the combiner, policy overrides, and the final risk
// classification. The whole scan runs under one global deadline; stages that
// cannot finish degrade into Incomplete annotations instead of failing the
// scan.
package pipeline

import (
	"context"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"urlrisk/internal/cache"
	"urlrisk/internal/config"
	"urlrisk/internal/evidence"
	"urlrisk/internal/features"
	"urlrisk/internal/ml"
	"urlrisk/internal/policy"
	"urlrisk/internal/probe"
	"urlrisk/internal/risk"
	"urlrisk/internal/ti"
	"urlrisk/pkg/domain"
	"urlrisk/pkg/logger"
	"urlrisk/pkg/metrics"
)

// Request describes one scan invocation. URL must already be canonicalized;
// the skip flags are per-call overrides.
type Request struct {
	ScanID string
	URL    string

	SkipScreenshot bool
	SkipTLS        bool
	SkipWHOIS      bool
	SkipStage2     bool
}

// Prober classifies reachability.
type Prober interface {
	Probe(ctx context.Context, rawURL string) (domain.Reachability, *probe.Page)
}

// Collector gathers the evidence bundle.
type Collector interface {
	Collect(ctx context.Context,
		target *url.URL,
		reach domain.Reachability,
		page *probe.Page,
		skip evidence.Skip) *evidence.Bundle
}

// CategoryRunner executes the scoring categories.
type CategoryRunner interface {
	Run(ctx context.Context,
		b *evidence.Bundle,
		reach domain.Reachability) (results []domain.CategoryResult, base, activeMax int)
}

// Intel queries the reputation sources.
type Intel interface {
	Query(ctx context.Context, urlKey string, target ti.Target) ([]domain.TISourceResult, float64, bool)
}

// Stage1Scorer and Stage2Scorer produce the ML probabilities.
type Stage1Scorer interface {
	Score(ctx context.Context, v *features.Vector) ml.Score
}

type Stage2Scorer interface {
	Score(ctx context.Context, v *features.Vector, screenshot []byte) ml.Score
}

// Dependencies are the collaborators a Pipeline scans with. Interfaces so
// tests can substitute deterministic fakes; Build wires the real ones.
type Dependencies struct {
	Prober     Prober
	Collector  Collector
	Categories CategoryRunner
	Intel      Intel
	Stage1     Stage1Scorer
	Stage2     Stage2Scorer
	Combiner   *ml.Combiner
	Policy     *policy.Engine
	Classifier *risk.Classifier

	// Results caches full scan results by URL key; nil disables reuse.
	Results *cache.Cache[domain.ScanResult]
	// Metrics records pipeline instruments; nil records nothing.
	Metrics *metrics.Pipeline
}

// Pipeline runs scans. Safe for concurrent use; all mutable state lives in
// the injected process-wide services (caches, breakers).
type Pipeline struct {
	cfg  config.Pipeline
	deps Dependencies
	now  func() time.Time
}

// New creates a Pipeline from already constructed collaborators.
func New(cfg config.Pipeline, deps Dependencies) *Pipeline {
	return &Pipeline{cfg: cfg, deps: deps, now: time.Now}
}

// Scan runs the full pipeline for one URL. It always returns a result: a
// degraded scan carries Incomplete annotations and an Error note rather than
// failing outright.
func (p *Pipeline) Scan(ctx context.Context, req Request) *domain.ScanResult {
	ctx = logger.WithFields(ctx, zap.String("scanID", req.ScanID), zap.String("url", req.URL))

	urlKey := cache.URLKey(req.URL)
	if p.deps.Results != nil {
		if cached, ok := p.deps.Results.Get(urlKey); ok {
			logger.Debug(ctx, "serving scan result from cache")
			p.countCache("result", "hit")

			return &cached
		}
		p.countCache("result", "miss")
	}

	if p.cfg.GlobalDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.GlobalDeadline)
		defer cancel()
	}

	started := p.now()
	res := &domain.ScanResult{ScanID: req.ScanID, URL: req.URL}

	target, err := url.Parse(req.URL)
	if err != nil || target.Hostname() == "" {
		res.Error = "invalid target URL"
		res.RiskLevel = domain.RiskMedium
		res.Action = domain.ActionWarn
		res.CompletedAt = p.now()

		return res
	}

	// reachability
	reach, page := p.timedProbe(ctx, req.URL, res)
	res.Reachability = &reach

	// evidence
	bundle := p.timedEvidence(ctx, target, reach, page, req, res)
	res.Incomplete = append(res.Incomplete, bundle.Missing...)

	// categories and TI in parallel; neither reads the other's output
	tiRes := p.runCategoriesAndIntel(ctx, urlKey, bundle, reach, res)

	// features
	vec := p.timedFeatures(bundle, reach, tiRes, res)

	// ML stages, skipped entirely when the tier-1 gate fired
	var probability float64
	if tiRes.gate {
		logger.Info(ctx, "tier-1 gate fired, skipping ML stages")
	} else {
		combined := p.runStages(ctx, req, vec, bundle, reach, res)
		res.Combiner = &combined
		probability = combined.Probability
	}
	res.Probability = probability

	// hard policy overrides
	pol := p.deps.Policy.Evaluate(policy.Inputs{
		Reachability:  reach,
		Causal:        vec.Causal,
		DomainAgeDays: vec.Tabular.DomainAgeDays,
		TierOneHits:   tierOneHits(tiRes.sources, p.now(), p.cfg.TI.GateWindow),
		Probability:   probability,
	})
	res.Policy = pol

	p.finalize(res, pol, probability)
	res.Latency.TotalMS = p.now().Sub(started).Milliseconds()
	res.CompletedAt = p.now()

	p.countScan(res.RiskLevel)
	if p.deps.Results != nil {
		p.deps.Results.Set(urlKey, *res, p.deps.Classifier.ResultTTL(res.RiskLevel))
	}

	logger.Info(ctx, "scan completed",
		zap.String("state", string(reach.State)),
		zap.Float64("finalScore", res.FinalScore),
		zap.String("riskLevel", string(res.RiskLevel)))

	return res
}

func (p *Pipeline) timedProbe(ctx context.Context, rawURL string, res *domain.ScanResult) (domain.Reachability, *probe.Page) {
	start := p.now()
	reach, page := p.deps.Prober.Probe(ctx, rawURL)
	res.Latency.ProbeMS = p.now().Sub(start).Milliseconds()
	p.recordStage(ctx, "probe", start)

	return reach, page
}

func (p *Pipeline) timedEvidence(ctx context.Context,
	target *url.URL,
	reach domain.Reachability,
	page *probe.Page,
	req Request,
	res *domain.ScanResult) *evidence.Bundle {
	start := p.now()
	bundle := p.deps.Collector.Collect(ctx, target, reach, page, evidence.Skip{
		Screenshot: req.SkipScreenshot,
		TLS:        req.SkipTLS,
		WHOIS:      req.SkipWHOIS,
	})
	res.Latency.EvidenceMS = p.now().Sub(start).Milliseconds()
	p.recordStage(ctx, "evidence", start)

	return bundle
}

type intelOutcome struct {
	sources []domain.TISourceResult
	score   float64
	gate    bool
}

func (p *Pipeline) runCategoriesAndIntel(ctx context.Context,
	urlKey string,
	bundle *evidence.Bundle,
	reach domain.Reachability,
	res *domain.ScanResult) intelOutcome {
	var out intelOutcome

	tiDone := make(chan struct{})
	tiStart := p.now()
	go func() {
		defer close(tiDone)
		out.sources, out.score, out.gate = p.deps.Intel.Query(ctx, urlKey, ti.Target{
			URL:               bundle.URL.String(),
			Host:              bundle.URL.Hostname(),
			RegistrableDomain: bundle.RegistrableDomain,
			IPs:               reach.IPs,
		})
	}()

	catStart := p.now()
	categories, base, activeMax := p.deps.Categories.Run(ctx, bundle, reach)
	res.Latency.CategoriesMS = p.now().Sub(catStart).Milliseconds()
	p.recordStage(ctx, "categories", catStart)

	<-tiDone
	res.Latency.TIMS = p.now().Sub(tiStart).Milliseconds()
	p.recordStage(ctx, "ti", tiStart)

	res.Categories = categories
	res.BaseScore = base
	res.ActiveMaxScore = activeMax + int(p.cfg.TI.Cap)
	res.TISources = out.sources
	res.TIScore = out.score

	return out
}

func (p *Pipeline) timedFeatures(bundle *evidence.Bundle,
	reach domain.Reachability,
	tiRes intelOutcome,
	res *domain.ScanResult) *features.Vector {
	start := p.now()
	vec := features.Extract(features.Inputs{
		Bundle:       bundle,
		Reachability: reach,
		Categories:   res.Categories,
		BaseScore:    res.BaseScore,
		ActiveMax:    res.ActiveMaxScore,
		TISources:    tiRes.sources,
		TIScore:      tiRes.score,
		GateWindow:   p.cfg.TI.GateWindow,
		Now:          p.now(),
	})
	res.Latency.FeaturesMS = p.now().Sub(start).Milliseconds()

	return vec
}

func (p *Pipeline) runStages(ctx context.Context,
	req Request,
	vec *features.Vector,
	bundle *evidence.Bundle,
	reach domain.Reachability,
	res *domain.ScanResult) domain.CombinerResult {
	s1ctx := ctx
	if p.cfg.Stage1.Timeout > 0 {
		var cancel context.CancelFunc
		s1ctx, cancel = context.WithTimeout(ctx, p.cfg.Stage1.Timeout)
		defer cancel()
	}

	start := p.now()
	stage1 := p.deps.Stage1.Score(s1ctx, vec)
	res.Latency.Stage1MS = p.now().Sub(start).Milliseconds()
	p.recordStage(ctx, "stage1", start)

	var stage2 *ml.Score
	switch {
	case req.SkipStage2:
		// caller override; the combiner records the skip in the decision graph
	case stage1.Confidence >= p.cfg.Stage1.ExitConfidence:
		// early exit, likewise recorded by the combiner
	default:
		s2ctx := ctx
		if p.cfg.Stage2.Timeout > 0 {
			var cancel context.CancelFunc
			s2ctx, cancel = context.WithTimeout(ctx, p.cfg.Stage2.Timeout)
			defer cancel()
		}

		start = p.now()
		s2 := p.deps.Stage2.Score(s2ctx, vec, bundle.Screenshot)
		res.Latency.Stage2MS = p.now().Sub(start).Milliseconds()
		p.recordStage(ctx, "stage2", start)
		stage2 = &s2
	}

	return p.deps.Combiner.Combine(stage1, stage2, vec.Causal, reach.State)
}

// finalize folds the probability into the penalty score and sets the verdict.
// A fired policy rule mandates the level and action regardless of the score.
func (p *Pipeline) finalize(res *domain.ScanResult, pol *domain.PolicyResult, probability float64) {
	multiplier := 1.0
	if res.Combiner != nil {
		// probability 0.5 is neutral; confident verdicts scale the penalty
		// score up to 1.5x or down to 0.5x
		multiplier = 0.5 + probability
	}
	res.FinalScore = (float64(res.BaseScore) + res.TIScore) * multiplier

	if pol != nil {
		res.RiskLevel = pol.Level
		res.Action = pol.Action

		return
	}

	res.RiskLevel = p.deps.Classifier.Classify(res.ScorePercent())
	res.Action = p.deps.Classifier.ActionFor(res.RiskLevel)
}

func tierOneHits(sources []domain.TISourceResult, now time.Time, window time.Duration) int {
	hits := 0
	for _, s := range sources {
		if s.Tier == 1 && s.Verdict == domain.TIVerdictHit && now.Sub(s.ObservedAt) <= window {
			hits++
		}
	}

	return hits
}

func (p *Pipeline) recordStage(ctx context.Context, stage string, start time.Time) {
	if p.deps.Metrics == nil || p.deps.Metrics.StageSeconds == nil {
		return
	}
	p.deps.Metrics.StageSeconds.Record(ctx, p.now().Sub(start).Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)))
}

func (p *Pipeline) countCache(tier, event string) {
	if p.deps.Metrics == nil || p.deps.Metrics.CacheEvents == nil {
		return
	}
	p.deps.Metrics.CacheEvents.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("tier", tier), attribute.String("event", event)))
}

func (p *Pipeline) countScan(level domain.RiskLevel) {
	if p.deps.Metrics == nil || p.deps.Metrics.Scans == nil {
		return
	}
	p.deps.Metrics.Scans.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("riskLevel", string(level))))
}
