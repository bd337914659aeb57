// Package policy evaluates hard override rules that can force a verdict
// regardless of the calibrated probability. Rules run in fixed priority
// order; the first match wins.
package policy

import (
	"fmt"
	"time"

	"urlrisk/internal/features"
	"urlrisk/pkg/domain"
)

// Inputs is the read-only snapshot a rule evaluates against.
type Inputs struct {
	Reachability domain.Reachability
	Causal       features.Causal
	// DomainAgeDays is negative when the registration date is unknown.
	DomainAgeDays float64
	// TierOneHits counts tier-1 sources with a hit inside the gate window.
	TierOneHits int
	// Probability is the calibrated probability from the combiner, or the
	// TI-gate presumption when the combiner was skipped.
	Probability float64
}

type rule struct {
	id     string
	level  domain.RiskLevel
	action domain.Action
	match  func(in Inputs) (bool, string)
}

// Engine holds the ordered rule list.
type Engine struct {
	window time.Duration
	rules  []rule
}

// NewEngine creates the engine. window documents the tier-1 hit recency
// requirement in rule reasons; hit counting itself happens upstream.
func NewEngine(window time.Duration) *Engine {
	e := &Engine{window: window}
	e.rules = []rule{
		{
			id:     "sinkhole_block",
			level:  domain.RiskCritical,
			action: domain.ActionBlock,
			match: func(in Inputs) (bool, string) {
				if in.Reachability.State == domain.ReachabilitySinkhole {
					return true, "domain resolves to a known sinkhole"
				}
				if in.Reachability.Tombstone {
					return true, "host serves a takedown tombstone page"
				}

				return false, ""
			},
		},
		{
			id:     "dual_tier1_block",
			level:  domain.RiskCritical,
			action: domain.ActionBlock,
			match: func(in Inputs) (bool, string) {
				if in.TierOneHits >= 2 {
					return true, fmt.Sprintf("%d tier-1 intelligence hits within %s",
						in.TierOneHits, e.window)
				}

				return false, ""
			},
		},
		{
			id:     "phishing_trinity",
			level:  domain.RiskCritical,
			action: domain.ActionBlock,
			match: func(in Inputs) (bool, string) {
				if in.Causal.FormOriginMismatch && in.Causal.BrandInfraDivergence &&
					in.DomainAgeDays >= 0 && in.DomainAgeDays < 30 {
					return true, "credential form posting off-origin on a brand-impersonating domain younger than 30 days"
				}

				return false, ""
			},
		},
		{
			id:     "fresh_auto_download",
			level:  domain.RiskCritical,
			action: domain.ActionBlock,
			match: func(in Inputs) (bool, string) {
				if in.Causal.AutoDownload && in.DomainAgeDays >= 0 && in.DomainAgeDays < 7 {
					return true, "automatic download from a domain younger than 7 days"
				}

				return false, ""
			},
		},
		{
			id:     "homoglyph_redirect",
			level:  domain.RiskHigh,
			action: domain.ActionWarn,
			match: func(in Inputs) (bool, string) {
				if in.Causal.HomoglyphRedirect && in.Probability > 0.5 {
					return true, fmt.Sprintf("redirect terminates on a look-alike domain (p=%.2f)", in.Probability)
				}

				return false, ""
			},
		},
		{
			id:     "parked_allow",
			level:  domain.RiskSafe,
			action: domain.ActionAllow,
			match: func(in Inputs) (bool, string) {
				if in.Reachability.State == domain.ReachabilityParked && in.Probability < 0.3 {
					return true, fmt.Sprintf("parked domain with low calibrated probability (p=%.2f)", in.Probability)
				}

				return false, ""
			},
		},
	}

	return e
}

// Evaluate runs the rules in order and returns the first match, or nil when
// no rule fires and classification should use the probability unmodified.
func (e *Engine) Evaluate(in Inputs) *domain.PolicyResult {
	for _, r := range e.rules {
		fired, reason := r.match(in)
		if !fired {
			continue
		}

		return &domain.PolicyResult{
			Rule:   r.id,
			Level:  r.level,
			Action: r.action,
			Reason: reason,
		}
	}

	return nil
}
