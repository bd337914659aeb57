// Package category runs the bank of independent scoring checks against an
// evidence bundle. Every check has a fixed point budget; the budgets sum to
// the nominal maximum of 515 points. Checks are pure functions of the bundle
// and the reachability result, which makes them safe to run concurrently and
// trivially testable in isolation.
package category

import (
	"context"
	"time"

	"go.uber.org/zap"

	"urlrisk/internal/evidence"
	"urlrisk/pkg/domain"
	"urlrisk/pkg/logger"
)

// RunFunc is the contract every scoring check implements. It must not mutate
// the bundle. A returned error marks the category "Unable to Analyze": zero
// points, but still counted in the active maximum.
type RunFunc func(b *evidence.Bundle, reach domain.Reachability) ([]domain.Finding, error)

// Check is one registered scoring category.
type Check struct {
	// Name is the category name as it appears in results.
	Name string
	// MaxScore is the category's fixed point budget.
	MaxScore int
	// RequiresContent marks categories that only apply when the target could
	// be fetched. They are skipped, and excluded from the active maximum, for
	// OFFLINE/PARKED/SINKHOLE targets.
	RequiresContent bool
	// Run produces the findings.
	Run RunFunc
}

// Executor runs all registered checks concurrently. Safe for concurrent use.
type Executor struct {
	checks  []Check
	timeout time.Duration
}

// NewExecutor creates an Executor over the default check registry.
func NewExecutor(checkTimeout time.Duration) *Executor {
	if checkTimeout <= 0 {
		checkTimeout = 5 * time.Second
	}

	return &Executor{
		checks:  Registry(),
		timeout: checkTimeout,
	}
}

// Registry returns the full check set in presentation order.
func Registry() []Check {
	return []Check{
		{Name: "Domain Analysis", MaxScore: 40, Run: checkDomainAnalysis},
		{Name: "SSL/TLS Security", MaxScore: 35, Run: checkTLSSecurity},
		{Name: "URL Pattern Analysis", MaxScore: 65, Run: checkURLPatterns},
		{Name: "Trust Graph & Network", MaxScore: 65, Run: checkTrustGraph},
		{Name: "Content Analysis", MaxScore: 30, RequiresContent: true, Run: checkContent},
		{Name: "Phishing Patterns", MaxScore: 50, Run: checkPhishingPatterns},
		{Name: "Behavioral Analysis", MaxScore: 30, RequiresContent: true, Run: checkBehavioral},
		{Name: "Malware Detection", MaxScore: 25, Run: checkMalware},
		{Name: "Social Engineering", MaxScore: 30, RequiresContent: true, Run: checkSocialEngineering},
		{Name: "Security Headers", MaxScore: 20, RequiresContent: true, Run: checkSecurityHeaders},
		{Name: "Email Security", MaxScore: 25, Run: checkEmailSecurity},
		{Name: "Data Protection", MaxScore: 20, Run: checkDataProtection},
		{Name: "Financial Fraud", MaxScore: 25, Run: checkFinancialFraud},
		{Name: "Identity Theft", MaxScore: 20, Run: checkIdentityTheft},
		{Name: "Technical Exploits", MaxScore: 20, Run: checkTechnicalExploits},
		{Name: "Legal Compliance", MaxScore: 15, Run: checkLegalCompliance},
	}
}

// NominalMax returns the sum of all category budgets.
func NominalMax() int {
	var sum int
	for _, c := range Registry() {
		sum += c.MaxScore
	}

	return sum
}

// Run executes every check and returns the per-category results in
// registration order, the summed base score, and the active maximum score.
// Checks that panic or outrun their timeout degrade to a zero-point
// "Unable to Analyze" result; the batch never fails.
func (e *Executor) Run(ctx context.Context,
	b *evidence.Bundle,
	reach domain.Reachability) (results []domain.CategoryResult, base, activeMax int) {
	results = make([]domain.CategoryResult, len(e.checks))

	type outcome struct {
		idx int
		res domain.CategoryResult
	}
	done := make(chan outcome, len(e.checks))

	pending := 0
	for i, check := range e.checks {
		results[i] = domain.CategoryResult{Name: check.Name, MaxScore: check.MaxScore}

		if check.RequiresContent && !reach.Fetchable() {
			results[i].Skipped = true

			continue
		}
		// timed-out checks degrade to Unable below
		results[i].Unable = true

		pending++
		go func(i int, check Check) {
			res := domain.CategoryResult{Name: check.Name, MaxScore: check.MaxScore}
			defer func() {
				if r := recover(); r != nil {
					logger.Error(ctx, "category check panicked",
						zap.String("category", check.Name), zap.Any("panic", r))
					res = domain.CategoryResult{Name: check.Name, MaxScore: check.MaxScore, Unable: true}
				}
				done <- outcome{idx: i, res: res}
			}()

			findings, err := check.Run(b, reach)
			if err != nil {
				logger.Debug(ctx, "category check unable to analyze",
					zap.String("category", check.Name), zap.Error(err))
				res.Unable = true

				return
			}

			res.Findings = findings
			res.Score = clamp(sumPoints(findings), check.MaxScore)
		}(i, check)
	}

	deadline := time.NewTimer(e.timeout)
	defer deadline.Stop()

collect:
	for pending > 0 {
		select {
		case out := <-done:
			results[out.idx] = out.res
			pending--
		case <-deadline.C:
			logger.Warn(ctx, "category checks timed out", zap.Int("pending", pending))

			break collect
		case <-ctx.Done():
			break collect
		}
	}

	for i := range results {
		if !results[i].Skipped {
			activeMax += results[i].MaxScore
			base += results[i].Score
		}
	}

	return results, base, activeMax
}

func sumPoints(findings []domain.Finding) int {
	var sum int
	for _, f := range findings {
		sum += f.Points
	}

	return sum
}

func clamp(score, maxScore int) int {
	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}

	return score
}

// severityFor grades a finding by its point weight.
func severityFor(points int) domain.Severity {
	switch {
	case points >= 35:
		return domain.SeverityCritical
	case points >= 20:
		return domain.SeverityHigh
	case points >= 10:
		return domain.SeverityMedium
	case points > 0:
		return domain.SeverityLow
	default:
		return domain.SeverityInfo
	}
}

func finding(checkID, message string, points int, evidenceDetail string) domain.Finding {
	return domain.Finding{
		CheckID:  checkID,
		Severity: severityFor(points),
		Message:  message,
		Points:   points,
		Evidence: evidenceDetail,
	}
}
