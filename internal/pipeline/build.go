package pipeline

import (
	"fmt"
	"net/http"

	"urlrisk/internal/cache"
	"urlrisk/internal/category"
	"urlrisk/internal/config"
	"urlrisk/internal/evidence"
	"urlrisk/internal/ml"
	"urlrisk/internal/policy"
	"urlrisk/internal/probe"
	"urlrisk/internal/risk"
	"urlrisk/internal/ti"
	"urlrisk/pkg/domain"
	"urlrisk/pkg/metrics"
)

// Build wires a Pipeline from configuration with real collaborators. The
// caches and circuit breakers it creates are process-wide: one Build call per
// process, shared across every concurrent scan.
func Build(cfg *config.Config, m *metrics.Pipeline) (*Pipeline, error) {
	pc := cfg.Pipeline

	dnsCache := cache.New[[]string](nil)
	verdictCache := cache.New[domain.TISourceResult](nil)
	resultCache := cache.New[domain.ScanResult](nil)

	prober := probe.New(probe.Options{
		Timeout:      pc.Probe.Timeout,
		MaxRedirects: pc.Probe.MaxRedirects,
		UserAgent:    pc.Probe.UserAgent,
		MaxBodyBytes: pc.Evidence.MaxBodyBytes,
		SinkholeIPs:  pc.Probe.SinkholeIPs,
		DNSTTL:       pc.Cache.DNSTTL,
	}, dnsCache)

	collector := evidence.New(evidence.Options{
		SubTimeout:        pc.Evidence.SubTimeout,
		WHOISTimeout:      pc.Evidence.WHOISTimeout,
		EnableScreenshot:  pc.Evidence.EnableScreenshot,
		ScreenshotTimeout: pc.Evidence.ScreenshotTimeout,
		UserAgent:         pc.Probe.UserAgent,
	})

	executor := category.NewExecutor(pc.Category.CheckTimeout)

	sourceCfgs := pc.TI.Sources
	if len(sourceCfgs) == 0 {
		sourceCfgs = ti.DefaultSources()
	}
	sources, err := ti.BuildSources(sourceCfgs, http.DefaultClient)
	if err != nil {
		return nil, fmt.Errorf("could not build TI sources: %w", err)
	}
	intel := ti.NewLayer(sources,
		ti.NewBreakerSet(pc.TI.BreakerThreshold, pc.TI.BreakerCooldown, nil),
		verdictCache,
		ti.Options{
			Cap:           pc.TI.Cap,
			SourceTimeout: pc.TI.SourceTimeout,
			CacheTTL:      pc.TI.CacheTTL,
			GateWindow:    pc.TI.GateWindow,
		}, m)

	stage1 := ml.NewStage1(ml.Stage1Weights{
		Lexical:   pc.Stage1.LexicalWeight,
		Tabular:   pc.Stage1.TabularWeight,
		Agreement: pc.Stage1.AgreementWeight,
	}, ml.NewInferenceClient(&http.Client{Timeout: pc.Stage1.Timeout}, pc.Stage1.Endpoint))

	stage2 := ml.NewStage2(ml.Stage2Weights{
		Text:   pc.Stage2.TextWeight,
		Visual: pc.Stage2.VisualWeight,
	}, ml.NewInferenceClient(&http.Client{Timeout: pc.Stage2.Timeout}, pc.Stage2.Endpoint))

	combiner := ml.NewCombiner(ml.CombinerConfig{
		Stage1Weight:            pc.Combiner.Stage1Weight,
		Stage2Weight:            pc.Combiner.Stage2Weight,
		Alpha:                   pc.Combiner.Alpha,
		BoostFormOriginMismatch: pc.Combiner.BoostFormOriginMismatch,
		BoostBrandDivergence:    pc.Combiner.BoostBrandDivergence,
		BoostHomoglyphRedirect:  pc.Combiner.BoostHomoglyphRedirect,
		BoostAutoDownload:       pc.Combiner.BoostAutoDownload,
		BoostDualTier1:          pc.Combiner.BoostDualTier1,
		BranchOffline:           pc.Combiner.BranchOffline,
		BranchSinkhole:          pc.Combiner.BranchSinkhole,
		CalibrationTable:        pc.Combiner.CalibrationTable,
	})

	classifier := risk.NewClassifier(
		risk.Thresholds{
			SafeMax:   pc.Risk.SafeMax,
			LowMax:    pc.Risk.LowMax,
			MediumMax: pc.Risk.MediumMax,
			HighMax:   pc.Risk.HighMax,
		},
		risk.ResultTTLs{
			Safe:     pc.Cache.ResultTTLSafe,
			Low:      pc.Cache.ResultTTLLow,
			Medium:   pc.Cache.ResultTTLMedium,
			High:     pc.Cache.ResultTTLHigh,
			Critical: pc.Cache.ResultTTLCritical,
		})

	return New(pc, Dependencies{
		Prober:     prober,
		Collector:  collector,
		Categories: executor,
		Intel:      intel,
		Stage1:     stage1,
		Stage2:     stage2,
		Combiner:   combiner,
		Policy:     policy.NewEngine(pc.TI.GateWindow),
		Classifier: classifier,
		Results:    resultCache,
		Metrics:    m,
	}), nil
}
