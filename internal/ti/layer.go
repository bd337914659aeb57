package ti

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"urlrisk/internal/cache"
	"urlrisk/pkg/domain"
	"urlrisk/pkg/logger"
	"urlrisk/pkg/metrics"
)

// ConfiguredSource pairs a source client with its scoring configuration.
type ConfiguredSource struct {
	Source Source
	// Tier is the trust tier; tier-1 sources participate in the gate.
	Tier int
	// Weight is the score contributed by a hit.
	Weight float64
}

// Options configure the layer.
type Options struct {
	// Cap bounds the aggregate score.
	Cap float64
	// SourceTimeout bounds each individual lookup.
	SourceTimeout time.Duration
	// CacheTTL is how long per-source verdicts are reused.
	CacheTTL time.Duration
	// GateWindow is the recency window for the tier-1 early-exit gate.
	GateWindow time.Duration
	// GateHits is how many tier-1 hits trigger the gate.
	GateHits int
}

// Layer queries every configured source in parallel. Breakers and the cache
// are injected, process-wide services shared across scans.
type Layer struct {
	sources  []ConfiguredSource
	breakers *BreakerSet
	cache    *cache.Cache[domain.TISourceResult]
	opts     Options
	metrics  *metrics.Pipeline
	clock    func() time.Time
}

// NewLayer creates a Layer. A nil cache disables verdict reuse; a nil metrics
// pipeline records nothing.
func NewLayer(sources []ConfiguredSource,
	breakers *BreakerSet,
	verdictCache *cache.Cache[domain.TISourceResult],
	opts Options,
	m *metrics.Pipeline) *Layer {
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 5 * time.Second
	}
	if opts.GateHits <= 0 {
		opts.GateHits = 2
	}

	return &Layer{
		sources:  sources,
		breakers: breakers,
		cache:    verdictCache,
		opts:     opts,
		metrics:  m,
		clock:    time.Now,
	}
}

// Query looks the target up in every enabled source and returns the
// per-source results sorted by source name, the weighted aggregate score
// (capped), and whether the tier-1 gate fired. Individual source failures
// yield "error" verdicts and never fail the batch.
func (l *Layer) Query(ctx context.Context, urlKey string, target Target) ([]domain.TISourceResult, float64, bool) {
	results := make([]domain.TISourceResult, len(l.sources))

	var wg sync.WaitGroup
	for i, src := range l.sources {
		wg.Add(1)
		go func(i int, src ConfiguredSource) {
			defer wg.Done()
			results[i] = l.queryOne(ctx, urlKey, target, src)
		}(i, src)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Source < results[j].Source })

	var score float64
	tier1Hits := 0
	now := l.clock()
	for _, r := range results {
		if r.Verdict != domain.TIVerdictHit {
			continue
		}
		score += r.Weight
		if r.Tier == 1 && now.Sub(r.ObservedAt) <= l.opts.GateWindow {
			tier1Hits++
		}
	}
	if l.opts.Cap > 0 && score > l.opts.Cap {
		score = l.opts.Cap
	}

	return results, score, tier1Hits >= l.opts.GateHits
}

func (l *Layer) queryOne(ctx context.Context, urlKey string, target Target, src ConfiguredSource) domain.TISourceResult {
	name := src.Source.Name()

	if l.cache != nil {
		if cached, ok := l.cache.Get(cache.SourceKey(urlKey, name)); ok {
			cached.Cached = true
			l.countCache("ti", true)

			return cached
		}
		l.countCache("ti", false)
	}

	res := domain.TISourceResult{
		Source:     name,
		Tier:       src.Tier,
		Weight:     src.Weight,
		ObservedAt: l.clock(),
	}

	breaker := l.breakers.Get(name)
	allowed, state := breaker.Allow()
	res.BreakerState = string(state)
	if !allowed {
		res.Verdict = domain.TIVerdictError
		l.countVerdict(name, res.Verdict)

		return res
	}

	sctx, cancel := context.WithTimeout(ctx, l.opts.SourceTimeout)
	defer cancel()

	start := l.clock()
	verdict, err := src.Source.Lookup(sctx, target)
	res.LatencyMS = l.clock().Sub(start).Milliseconds()

	if err != nil {
		// a canceled or expired parent scan is not a source failure; only
		// errors that happen while the scan is still live move the breaker.
		if ctx.Err() == nil {
			breaker.Failure()
			l.countBreaker(name, breaker.State())
		}
		logger.Debug(ctx, "TI source lookup failed",
			zap.String("source", name), zap.Error(err))
		res.Verdict = domain.TIVerdictError
		l.countVerdict(name, res.Verdict)

		return res
	}

	breaker.Success()
	if verdict == VerdictHit {
		res.Verdict = domain.TIVerdictHit
	} else {
		res.Verdict = domain.TIVerdictMiss
	}
	l.countVerdict(name, res.Verdict)

	if l.cache != nil {
		l.cache.Set(cache.SourceKey(urlKey, name), res, l.opts.CacheTTL)
	}

	return res
}

func (l *Layer) countVerdict(source string, verdict domain.TIVerdict) {
	if l.metrics == nil || l.metrics.TIVerdicts == nil {
		return
	}
	l.metrics.TIVerdicts.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("verdict", string(verdict))))
}

func (l *Layer) countBreaker(source string, state BreakerState) {
	if l.metrics == nil || l.metrics.BreakerTransitions == nil {
		return
	}
	l.metrics.BreakerTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("state", string(state))))
}

func (l *Layer) countCache(tier string, hit bool) {
	if l.metrics == nil || l.metrics.CacheEvents == nil {
		return
	}
	event := "miss"
	if hit {
		event = "hit"
	}
	l.metrics.CacheEvents.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("event", event)))
}
