package domain

import "time"

// ReachabilityState classifies whether and how a URL currently responds.
type ReachabilityState string

const (
	// ReachabilityOnline means the URL served real content.
	ReachabilityOnline ReachabilityState = "ONLINE"
	// ReachabilityOffline means DNS or TCP failed, or probing timed out.
	ReachabilityOffline ReachabilityState = "OFFLINE"
	// ReachabilityParked means the domain resolves to a parked-domain page.
	ReachabilityParked ReachabilityState = "PARKED"
	// ReachabilityWAFChallenge means a bot-protection challenge page answered
	// instead of the origin. Content checks still run against what was served.
	ReachabilityWAFChallenge ReachabilityState = "WAF_CHALLENGE"
	// ReachabilitySinkhole means the domain resolves to a known sinkhole address.
	ReachabilitySinkhole ReachabilityState = "SINKHOLE"
)

// Reachability is the outcome of the probing stage. It is produced once per
// scan and never mutated afterwards.
type Reachability struct {
	// State is the final classification, evaluated in priority order
	// sinkhole > offline > parked > WAF challenge > online.
	State ReachabilityState `json:"state"`
	// RedirectChain lists every URL visited while following redirects,
	// starting with the requested URL, in order.
	RedirectChain []string `json:"redirectChain,omitempty"`
	// IPs holds the resolved addresses for the host.
	IPs []string `json:"ips,omitempty"`
	// HTTPStatus is the final HTTP status code, zero when no response arrived.
	HTTPStatus int `json:"httpStatus,omitempty"`
	// Tombstone marks a page that announces the site was seized or taken down.
	Tombstone bool `json:"tombstone,omitempty"`

	// Probe latencies in milliseconds; zero when the step did not run.
	DNSLatencyMS  int64 `json:"dnsLatencyMs,omitempty"`
	TCPLatencyMS  int64 `json:"tcpLatencyMs,omitempty"`
	HTTPLatencyMS int64 `json:"httpLatencyMs,omitempty"`
}

// Fetchable reports whether content collection makes sense for the state.
func (r Reachability) Fetchable() bool {
	return r.State == ReachabilityOnline || r.State == ReachabilityWAFChallenge
}

// Severity grades an individual finding.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Finding is a single triggered check inside a scoring category.
type Finding struct {
	// CheckID identifies the individual check, e.g. "free_hosting_with_brand".
	CheckID string `json:"checkId"`
	// Severity grades the finding.
	Severity Severity `json:"severity"`
	// Message is a human-readable description of what was detected.
	Message string `json:"message"`
	// Points is the penalty this finding contributed to the category score.
	Points int `json:"points"`
	// Evidence carries supporting detail (matched host, header value, ...).
	Evidence string `json:"evidence,omitempty"`
}

// CategoryResult is the outcome of one scoring category. Invariant:
// 0 <= Score <= MaxScore.
type CategoryResult struct {
	// Name identifies the category, e.g. "URL Pattern Analysis".
	Name string `json:"name"`
	// Score is the achieved penalty score within the category budget.
	Score int `json:"score"`
	// MaxScore is the fixed point budget of the category.
	MaxScore int `json:"maxScore"`
	// Skipped marks categories that do not apply to the reachability state.
	// Skipped categories do not contribute to the active maximum score.
	Skipped bool `json:"skipped,omitempty"`
	// Unable marks categories that could not be analyzed (missing evidence,
	// timeout, or internal failure). They score zero but stay in the active max.
	Unable bool `json:"unable,omitempty"`
	// Findings lists the triggered checks in registration order.
	Findings []Finding `json:"findings,omitempty"`
}

// TIVerdict is the outcome of a single threat-intelligence source lookup.
type TIVerdict string

const (
	// TIVerdictHit means the source knows the URL/domain as malicious.
	TIVerdictHit TIVerdict = "hit"
	// TIVerdictMiss means the source has no record of the target.
	TIVerdictMiss TIVerdict = "miss"
	// TIVerdictError means the lookup failed or was short-circuited by an
	// open circuit breaker; it contributes no weight either way.
	TIVerdictError TIVerdict = "error"
)

// TISourceResult captures one reputation source's answer for a scan.
type TISourceResult struct {
	// Source is the source identifier, e.g. "urlhaus".
	Source string `json:"source"`
	// Tier is the trust tier of the source; tier 1 feeds participate in
	// gating rules.
	Tier int `json:"tier"`
	// Verdict is hit, miss, or error.
	Verdict TIVerdict `json:"verdict"`
	// Weight is the configured score weight of the source; applied only on hit.
	Weight float64 `json:"weight"`
	// LatencyMS is the lookup duration; zero for cache hits and open breakers.
	LatencyMS int64 `json:"latencyMs"`
	// BreakerState is the circuit-breaker state observed when the call was made.
	BreakerState string `json:"breakerState"`
	// Cached marks results served from the per-source cache.
	Cached bool `json:"cached,omitempty"`
	// ObservedAt is when the verdict was produced (cache writes keep the
	// original observation time so gate windows stay honest).
	ObservedAt time.Time `json:"observedAt"`
}

// DecisionStep records one contributor's effect inside the combiner, in
// application order, for explainability.
type DecisionStep struct {
	// Contributor names the step, e.g. "stage1", "boost:form_origin_mismatch".
	Contributor string `json:"contributor"`
	// Delta is the probability change this step applied.
	Delta float64 `json:"delta"`
	// Total is the running probability after the step.
	Total float64 `json:"total"`
	// Note carries optional detail, e.g. "skipped: stage1 confidence 0.93".
	Note string `json:"note,omitempty"`
}

// CombinerResult is the calibrated output of the ML fusion stage.
// Invariants: 0 <= Probability <= 1 and Lower <= Probability <= Upper.
type CombinerResult struct {
	// Probability is the calibrated probability that the URL is malicious.
	Probability float64 `json:"probability"`
	// Lower and Upper bound the conformal confidence interval.
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	// Confidence is the interval's nominal coverage (1 - alpha).
	Confidence float64 `json:"confidence"`
	// Steps is the ordered decision graph.
	Steps []DecisionStep `json:"steps"`
}

// PolicyResult is present when a hard policy rule fired and forced a verdict.
type PolicyResult struct {
	// Rule is the identifier of the rule that fired, e.g. "sinkhole_block".
	Rule string `json:"rule"`
	// Level is the mandated risk level.
	Level RiskLevel `json:"level"`
	// Action is the mandated action.
	Action Action `json:"action"`
	// Reason explains why the rule fired.
	Reason string `json:"reason,omitempty"`
}

// RiskLevel is the discrete risk classification of a scan.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "SAFE"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Action is the recommended handling for a risk level.
type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
)

// LatencyBreakdown records per-stage wall-clock durations in milliseconds.
type LatencyBreakdown struct {
	ProbeMS      int64 `json:"probeMs"`
	EvidenceMS   int64 `json:"evidenceMs"`
	CategoriesMS int64 `json:"categoriesMs"`
	TIMS         int64 `json:"tiMs"`
	FeaturesMS   int64 `json:"featuresMs"`
	Stage1MS     int64 `json:"stage1Ms"`
	Stage2MS     int64 `json:"stage2Ms"`
	TotalMS      int64 `json:"totalMs"`
}

// ScanResult is the final aggregate handed to persistence and presentation.
// It is created once per scan and never mutated after completion. A degraded
// scan still produces a ScanResult with Incomplete annotations instead of an
// error; partial information is strictly more useful than none.
type ScanResult struct {
	// ScanID identifies the pipeline invocation that produced this result.
	ScanID string `json:"scanId"`
	// URL is the canonical target URL.
	URL string `json:"url"`

	// Reachability is the probing outcome; nil only for configuration failures.
	Reachability *Reachability `json:"reachability,omitempty"`

	// Categories holds one entry per registered category, keyed by name.
	Categories []CategoryResult `json:"categories,omitempty"`
	// BaseScore is the summed category penalty score.
	BaseScore int `json:"baseScore"`
	// ActiveMaxScore is the reachability-adjusted maximum: the sum of MaxScore
	// over non-skipped categories plus the TI cap.
	ActiveMaxScore int `json:"activeMaxScore"`

	// TISources holds per-source reputation verdicts.
	TISources []TISourceResult `json:"tiSources,omitempty"`
	// TIScore is the weighted, capped threat-intelligence score.
	TIScore float64 `json:"tiScore"`

	// Combiner is the calibrated ML output; nil when the TI gate short-circuited.
	Combiner *CombinerResult `json:"combiner,omitempty"`
	// Policy is set when a hard override rule fired.
	Policy *PolicyResult `json:"policy,omitempty"`

	// FinalScore is the combined penalty score used for classification.
	FinalScore float64 `json:"finalScore"`
	// Probability is the calibrated probability carried up from the combiner,
	// zero when the combiner did not run.
	Probability float64 `json:"probability"`
	// RiskLevel and Action are the final verdict.
	RiskLevel RiskLevel `json:"riskLevel"`
	Action    Action    `json:"action"`

	// Incomplete lists sections that could not be analyzed before the global
	// deadline or due to collaborator failures, e.g. "whois", "stage2".
	Incomplete []string `json:"incomplete,omitempty"`
	// Error annotates a degraded scan; the result is still usable.
	Error string `json:"error,omitempty"`

	// Latency is the per-stage duration breakdown.
	Latency LatencyBreakdown `json:"latency"`
	// CompletedAt is when the pipeline finished.
	CompletedAt time.Time `json:"completedAt"`
}

// ScorePercent returns the final score as a percentage of the active maximum.
func (r *ScanResult) ScorePercent() float64 {
	if r.ActiveMaxScore <= 0 {
		return 0
	}
	p := r.FinalScore / float64(r.ActiveMaxScore) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}

	return p
}
