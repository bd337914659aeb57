// Package risk maps a scan's final score to a discrete risk level and a
// recommended action, and picks the result-cache window for that level.
package risk

import (
	"time"

	"urlrisk/pkg/domain"
)

// Thresholds are the level boundaries as percentages of the active maximum.
type Thresholds struct {
	SafeMax   float64
	LowMax    float64
	MediumMax float64
	HighMax   float64
}

// ResultTTLs are the per-level cache windows for completed results.
type ResultTTLs struct {
	Safe     time.Duration
	Low      time.Duration
	Medium   time.Duration
	High     time.Duration
	Critical time.Duration
}

// Classifier turns score percentages into verdicts.
type Classifier struct {
	thresholds Thresholds
	ttls       ResultTTLs
}

func NewClassifier(thresholds Thresholds, ttls ResultTTLs) *Classifier {
	return &Classifier{thresholds: thresholds, ttls: ttls}
}

// Classify maps a score percentage in [0,100] to its level.
func (c *Classifier) Classify(percent float64) domain.RiskLevel {
	switch {
	case percent < c.thresholds.SafeMax:
		return domain.RiskSafe
	case percent < c.thresholds.LowMax:
		return domain.RiskLow
	case percent < c.thresholds.MediumMax:
		return domain.RiskMedium
	case percent < c.thresholds.HighMax:
		return domain.RiskHigh
	default:
		return domain.RiskCritical
	}
}

// ActionFor returns the recommended handling for a level.
func (c *Classifier) ActionFor(level domain.RiskLevel) domain.Action {
	switch level {
	case domain.RiskSafe, domain.RiskLow:
		return domain.ActionAllow
	case domain.RiskMedium:
		return domain.ActionWarn
	default:
		return domain.ActionBlock
	}
}

// ResultTTL returns the cache window for a completed result at the given
// level. Riskier results expire sooner so remediation is picked up faster.
func (c *Classifier) ResultTTL(level domain.RiskLevel) time.Duration {
	switch level {
	case domain.RiskSafe:
		return c.ttls.Safe
	case domain.RiskLow:
		return c.ttls.Low
	case domain.RiskMedium:
		return c.ttls.Medium
	case domain.RiskHigh:
		return c.ttls.High
	default:
		return c.ttls.Critical
	}
}
