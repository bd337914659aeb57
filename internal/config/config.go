// Package config loads and validates the application configuration from a
// YAML file with environment-variable overrides. All tuned pipeline numbers
// (stage fusion ratios, causal boosts, branch corrections, risk thresholds)
// live here as defaults rather than constants in the pipeline code.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"urlrisk/pkg/serrors"
)

// TISource configures one external reputation source.
type TISource struct {
	// Name identifies the source, e.g. "urlhaus". Must match a registered client.
	Name string `yaml:"name"`
	// Tier is the trust tier; tier 1 sources participate in gating and policy rules.
	Tier int `yaml:"tier"`
	// Weight is the score contribution of a hit from this source.
	Weight float64 `yaml:"weight"`
	// Enabled toggles the source without removing its configuration.
	Enabled bool `yaml:"enabled"`
	// APIKey is the credential for sources that require one.
	APIKey string `yaml:"apiKey"`
	// Endpoint overrides the default API endpoint, used in tests.
	Endpoint string `yaml:"endpoint"`
}

// Pipeline holds every knob of the scan pipeline. Values mirror the tuned
// defaults of the scoring model; presets adjust a few of them wholesale.
type Pipeline struct {
	// GlobalDeadline bounds a whole scan end-to-end. On expiry the pipeline
	// returns whatever partial results exist.
	GlobalDeadline time.Duration `env:"PIPELINE_GLOBAL_DEADLINE" env-default:"60s" yaml:"globalDeadline"`
	// Preset selects a weight profile: strict, balanced or lenient.
	Preset string `env:"PIPELINE_PRESET" env-default:"balanced" yaml:"preset"`

	Probe struct {
		// Timeout bounds the whole reachability probe; expiry classifies OFFLINE.
		Timeout time.Duration `env:"PROBE_TIMEOUT" env-default:"10s" yaml:"timeout"`
		// MaxRedirects bounds the followed redirect chain.
		MaxRedirects int `env:"PROBE_MAX_REDIRECTS" env-default:"10" yaml:"maxRedirects"`
		// UserAgent is sent on probe and evidence requests.
		UserAgent string `env:"PROBE_USER_AGENT" env-default:"Mozilla/5.0 (compatible; urlrisk/1.0)" yaml:"userAgent"`
		// SinkholeIPs lists additional known sinkhole addresses beyond the built-ins.
		SinkholeIPs []string `yaml:"sinkholeIPs"`
	} `yaml:"probe"`

	Evidence struct {
		// SubTimeout bounds each independent sub-collection (DNS, TLS, HTML).
		SubTimeout time.Duration `env:"EVIDENCE_SUB_TIMEOUT" env-default:"5s" yaml:"subTimeout"`
		// WHOISTimeout bounds the WHOIS lookup, which tends to be the slowest.
		WHOISTimeout time.Duration `env:"EVIDENCE_WHOIS_TIMEOUT" env-default:"5s" yaml:"whoisTimeout"`
		// EnableScreenshot turns on headless-browser screenshot capture.
		EnableScreenshot bool `env:"EVIDENCE_ENABLE_SCREENSHOT" env-default:"false" yaml:"enableScreenshot"`
		// ScreenshotTimeout bounds the browser session.
		ScreenshotTimeout time.Duration `env:"EVIDENCE_SCREENSHOT_TIMEOUT" env-default:"15s" yaml:"screenshotTimeout"`
		// MaxBodyBytes caps how much HTML is read from the target.
		MaxBodyBytes int64 `env:"EVIDENCE_MAX_BODY_BYTES" env-default:"2097152" yaml:"maxBodyBytes"`
	} `yaml:"evidence"`

	Category struct {
		// CheckTimeout bounds each category check individually.
		CheckTimeout time.Duration `env:"CATEGORY_CHECK_TIMEOUT" env-default:"5s" yaml:"checkTimeout"`
	} `yaml:"category"`

	TI struct {
		// Cap bounds the aggregated threat-intelligence score.
		Cap float64 `env:"TI_CAP" env-default:"55" yaml:"cap"`
		// SourceTimeout bounds each source lookup.
		SourceTimeout time.Duration `env:"TI_SOURCE_TIMEOUT" env-default:"5s" yaml:"sourceTimeout"`
		// CacheTTL is how long per-source verdicts are reused.
		CacheTTL time.Duration `env:"TI_CACHE_TTL" env-default:"60m" yaml:"cacheTTL"`
		// BreakerThreshold is the consecutive-failure count that opens a breaker.
		BreakerThreshold int `env:"TI_BREAKER_THRESHOLD" env-default:"5" yaml:"breakerThreshold"`
		// BreakerCooldown is how long an open breaker short-circuits calls.
		BreakerCooldown time.Duration `env:"TI_BREAKER_COOLDOWN" env-default:"30s" yaml:"breakerCooldown"`
		// GateWindow is the recency window for the tier-1 early-exit gate.
		GateWindow time.Duration `env:"TI_GATE_WINDOW" env-default:"168h" yaml:"gateWindow"`
		// Sources lists the configured reputation feeds.
		Sources []TISource `yaml:"sources"`
	} `yaml:"ti"`

	Cache struct {
		// DNSTTL governs cached DNS lookups.
		DNSTTL time.Duration `env:"CACHE_DNS_TTL" env-default:"5m" yaml:"dnsTTL"`
		// Result TTLs by risk level. Riskier results are cached for a shorter
		// window so remediation is picked up faster.
		ResultTTLSafe     time.Duration `env:"CACHE_RESULT_TTL_SAFE" env-default:"24h" yaml:"resultTTLSafe"`
		ResultTTLLow      time.Duration `env:"CACHE_RESULT_TTL_LOW" env-default:"12h" yaml:"resultTTLLow"`
		ResultTTLMedium   time.Duration `env:"CACHE_RESULT_TTL_MEDIUM" env-default:"6h" yaml:"resultTTLMedium"`
		ResultTTLHigh     time.Duration `env:"CACHE_RESULT_TTL_HIGH" env-default:"1h" yaml:"resultTTLHigh"`
		ResultTTLCritical time.Duration `env:"CACHE_RESULT_TTL_CRITICAL" env-default:"30m" yaml:"resultTTLCritical"`
	} `yaml:"cache"`

	Stage1 struct {
		// Endpoint is the remote inference address; empty selects the local heuristics.
		Endpoint string        `env:"STAGE1_ENDPOINT" yaml:"endpoint"`
		Timeout  time.Duration `env:"STAGE1_TIMEOUT" env-default:"5s" yaml:"timeout"`
		// LexicalWeight, TabularWeight and AgreementWeight fuse the lexical
		// model, the tabular model, and their agreement signal.
		LexicalWeight   float64 `env:"STAGE1_LEXICAL_WEIGHT" env-default:"0.25" yaml:"lexicalWeight"`
		TabularWeight   float64 `env:"STAGE1_TABULAR_WEIGHT" env-default:"0.35" yaml:"tabularWeight"`
		AgreementWeight float64 `env:"STAGE1_AGREEMENT_WEIGHT" env-default:"0.40" yaml:"agreementWeight"`
		// ExitConfidence is the stage-1 confidence above which stage-2 is skipped.
		ExitConfidence float64 `env:"STAGE1_EXIT_CONFIDENCE" env-default:"0.85" yaml:"exitConfidence"`
	} `yaml:"stage1"`

	Stage2 struct {
		Endpoint string        `env:"STAGE2_ENDPOINT" yaml:"endpoint"`
		Timeout  time.Duration `env:"STAGE2_TIMEOUT" env-default:"10s" yaml:"timeout"`
		// TextWeight and VisualWeight fuse the persuasion and screenshot models.
		TextWeight   float64 `env:"STAGE2_TEXT_WEIGHT" env-default:"0.6" yaml:"textWeight"`
		VisualWeight float64 `env:"STAGE2_VISUAL_WEIGHT" env-default:"0.4" yaml:"visualWeight"`
	} `yaml:"stage2"`

	Combiner struct {
		// Stage1Weight and Stage2Weight fuse the two stages when both ran.
		Stage1Weight float64 `env:"COMBINER_STAGE1_WEIGHT" env-default:"0.4" yaml:"stage1Weight"`
		Stage2Weight float64 `env:"COMBINER_STAGE2_WEIGHT" env-default:"0.6" yaml:"stage2Weight"`
		// Alpha is the conformal miscoverage rate; 0.1 yields a 90% interval.
		Alpha float64 `env:"COMBINER_ALPHA" env-default:"0.1" yaml:"alpha"`

		// Additive causal-signal boosts.
		BoostFormOriginMismatch float64 `env:"COMBINER_BOOST_FORM_ORIGIN" env-default:"0.30" yaml:"boostFormOriginMismatch"`
		BoostBrandDivergence    float64 `env:"COMBINER_BOOST_BRAND_DIVERGENCE" env-default:"0.25" yaml:"boostBrandDivergence"`
		BoostHomoglyphRedirect  float64 `env:"COMBINER_BOOST_HOMOGLYPH" env-default:"0.20" yaml:"boostHomoglyphRedirect"`
		BoostAutoDownload       float64 `env:"COMBINER_BOOST_AUTO_DOWNLOAD" env-default:"0.15" yaml:"boostAutoDownload"`
		BoostDualTier1          float64 `env:"COMBINER_BOOST_DUAL_TIER1" env-default:"0.30" yaml:"boostDualTier1"`

		// Reachability branch corrections.
		BranchOffline  float64 `env:"COMBINER_BRANCH_OFFLINE" env-default:"-0.1" yaml:"branchOffline"`
		BranchSinkhole float64 `env:"COMBINER_BRANCH_SINKHOLE" env-default:"0.4" yaml:"branchSinkhole"`

		// CalibrationTable is the held-out nonconformity quantile table. When
		// empty, a built-in table is used.
		CalibrationTable []float64 `yaml:"calibrationTable"`
	} `yaml:"combiner"`

	Risk struct {
		// Percentage thresholds of the active maximum score.
		SafeMax   float64 `env:"RISK_SAFE_MAX" env-default:"15" yaml:"safeMax"`
		LowMax    float64 `env:"RISK_LOW_MAX" env-default:"30" yaml:"lowMax"`
		MediumMax float64 `env:"RISK_MEDIUM_MAX" env-default:"60" yaml:"mediumMax"`
		HighMax   float64 `env:"RISK_HIGH_MAX" env-default:"80" yaml:"highMax"`
	} `yaml:"risk"`
}

// Config represents the application configuration structure.
type Config struct {
	// Environment specifies the current running environment (development, production).
	Environment string `env:"ENVIRONMENT" env-default:"development" yaml:"environment"`

	// HTTP contains the operational HTTP server configuration.
	HTTP struct {
		// Addr is the address and port the HTTP server will listen on.
		Addr string `env:"HTTP_ADDR" env-default:":8080" yaml:"addr"`
		// ReadTimeout is the maximum duration for reading the entire request.
		ReadTimeout time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"1m" yaml:"readTimeout"`
		// ReadHeaderTimeout is the amount of time allowed to read request headers.
		ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" env-default:"10s" yaml:"readHeaderTimeout"`
		// WriteTimeout is the maximum duration before timing out writes of the response.
		WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"2m" yaml:"writeTimeout"`
		// IdleTimeout is the keep-alive idle bound.
		IdleTimeout time.Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"2m" yaml:"idleTimeout"`
		// RequestTimeout is the global timeout applied via http.TimeoutHandler for handling requests.
		RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" env-default:"10s" yaml:"requestTimeout"`
		// MaxHeaderBytes controls the maximum request header size.
		MaxHeaderBytes int `env:"HTTP_MAX_HEADER_BYTES" env-default:"0" yaml:"maxHeaderBytes"`
		// MetricsPath defines the URL path where metrics are exposed.
		MetricsPath string `env:"HTTP_METRICS_PATH" env-default:"/metrics" yaml:"metricsPath"`
	} `yaml:"http"`

	// Database contains the PostgreSQL connection configuration.
	Database struct {
		Username           string        `env:"DATABASE_USERNAME" env-default:"urlrisk" yaml:"username"`
		Password           string        `env:"DATABASE_PASSWORD" env-default:"urlrisk" yaml:"password"`
		Host               string        `env:"DATABASE_HOST" env-default:"localhost" yaml:"host"`
		Port               int           `env:"DATABASE_PORT" env-default:"5432" yaml:"port"`
		SslMode            string        `env:"DATABASE_SSL_MODE" env-default:"disable" yaml:"sslMode"`
		DatabaseName       string        `env:"DATABASE_NAME" env-default:"urlrisk" yaml:"name"`
		MaxOpenConnections int           `env:"DATABASE_MAX_OPEN_CONNECTIONS" env-default:"10" yaml:"maxOpenConnections"`
		MaxIdleConnections int           `env:"DATABASE_MAX_IDLE_CONNECTIONS" env-default:"8" yaml:"maxIdleConnections"`
		ConnMaxLifetime    time.Duration `env:"DATABASE_CONNECTION_MAX_LIFETIME" env-default:"3m" yaml:"connMaxLifetime"`
		ConnMaxIdleTime    time.Duration `env:"DATABASE_CONNECTION_MAX_IDLE_TIME" env-default:"3m" yaml:"connMaxIdleTime"`
	} `yaml:"database"`

	// Scanner configures the enqueue service and background worker.
	Scanner Scanner `yaml:"scanner"`

	// Pipeline holds the scoring pipeline configuration.
	Pipeline Pipeline `yaml:"pipeline"`

	// GracefulShutdownTimeout is the maximum wait for in-flight work during shutdown.
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_TIMEOUT" env-default:"10s" yaml:"gracefulShutdownTimeout"` //nolint: lll
}

// Scanner configures the enqueue service and the background scan worker.
type Scanner struct {
	// MaxAttempts bounds worker retries per scan job.
	MaxAttempts int `env:"SCANNER_MAX_ATTEMPTS" env-default:"3" yaml:"maxAttempts"`
	// ResultCacheTTL is the window during which a completed result is
	// reused instead of enqueueing a duplicate job.
	ResultCacheTTL time.Duration `env:"SCANNER_RESULT_CACHE_TTL" env-default:"1h" yaml:"resultCacheTTL"`
	// MaxWorkers bounds concurrent scan jobs.
	MaxWorkers int `env:"SCANNER_MAX_WORKERS" env-default:"20" yaml:"maxWorkers"`
}

// Presets known to ApplyPreset.
const (
	PresetStrict   = "strict"
	PresetBalanced = "balanced"
	PresetLenient  = "lenient"
)

// ApplyPreset adjusts tuned values according to the selected weight profile.
// Strict scans escalate earlier and rarely skip stage-2; lenient is the
// opposite. Balanced leaves the defaults untouched.
func (p *Pipeline) ApplyPreset() error {
	switch p.Preset {
	case PresetBalanced, "":
	case PresetStrict:
		p.Stage1.ExitConfidence = 0.90
		p.Risk.SafeMax = 10
		p.Risk.LowMax = 25
	case PresetLenient:
		p.Stage1.ExitConfidence = 0.80
		p.Risk.SafeMax = 20
		p.Risk.LowMax = 35
	default:
		return serrors.With(serrors.ErrConfig, "unknown preset %q", p.Preset)
	}

	return nil
}

// Validate checks the pipeline configuration for contradictions that would
// make scores meaningless. Violations are configuration errors: fatal at
// startup, never discovered mid-scan.
func (p *Pipeline) Validate() error {
	if w := p.Stage1.LexicalWeight + p.Stage1.TabularWeight + p.Stage1.AgreementWeight; w < 0.999 || w > 1.001 {
		return serrors.With(serrors.ErrConfig, "stage1 weights must sum to 1, got %.3f", w)
	}
	if w := p.Stage2.TextWeight + p.Stage2.VisualWeight; w < 0.999 || w > 1.001 {
		return serrors.With(serrors.ErrConfig, "stage2 weights must sum to 1, got %.3f", w)
	}
	if w := p.Combiner.Stage1Weight + p.Combiner.Stage2Weight; w < 0.999 || w > 1.001 {
		return serrors.With(serrors.ErrConfig, "combiner weights must sum to 1, got %.3f", w)
	}
	if p.Combiner.Alpha <= 0 || p.Combiner.Alpha >= 1 {
		return serrors.With(serrors.ErrConfig, "combiner alpha must be in (0,1), got %.3f", p.Combiner.Alpha)
	}
	if p.Stage1.ExitConfidence < 0 || p.Stage1.ExitConfidence > 1 {
		return serrors.With(serrors.ErrConfig, "stage1 exit confidence must be in [0,1], got %.3f", p.Stage1.ExitConfidence)
	}
	if !(p.Risk.SafeMax < p.Risk.LowMax && p.Risk.LowMax < p.Risk.MediumMax && p.Risk.MediumMax < p.Risk.HighMax) {
		return serrors.With(serrors.ErrConfig, "risk thresholds must be strictly increasing")
	}
	if p.TI.BreakerThreshold < 1 {
		return serrors.With(serrors.ErrConfig, "breaker threshold must be >= 1, got %d", p.TI.BreakerThreshold)
	}
	for _, src := range p.TI.Sources {
		if src.Name == "" {
			return serrors.With(serrors.ErrConfig, "TI source with empty name")
		}
		if src.Enabled && src.Weight <= 0 {
			return serrors.With(serrors.ErrConfig, "TI source %q enabled with non-positive weight", src.Name)
		}
	}

	return nil
}

// Load receives the path for a yaml config file and returns a filled,
// validated Config with the preset applied.
func Load(configPath string) (*Config, error) {
	var cfg Config
	err := cleanenv.ReadConfig(configPath, &cfg)
	if err != nil {
		return nil, fmt.Errorf("could not read config: %w", err)
	}

	if err := cfg.Pipeline.ApplyPreset(); err != nil {
		return nil, err
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
