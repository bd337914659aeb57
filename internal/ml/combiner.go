package ml

import (
	"fmt"
	"math"
	"sort"

	"urlrisk/internal/features"
	"urlrisk/pkg/domain"
)

// CombinerConfig carries the fusion weights, causal boosts, branch
// corrections and the conformal calibration table.
type CombinerConfig struct {
	Stage1Weight float64
	Stage2Weight float64
	// Alpha is the conformal miscoverage rate; 0.1 yields a 90% interval.
	Alpha float64

	BoostFormOriginMismatch float64
	BoostBrandDivergence    float64
	BoostHomoglyphRedirect  float64
	BoostAutoDownload       float64
	BoostDualTier1          float64

	BranchOffline  float64
	BranchSinkhole float64

	// CalibrationTable holds held-out nonconformity scores; empty selects the
	// built-in table.
	CalibrationTable []float64
}

// defaultCalibrationTable approximates the held-out residual distribution of
// the tuned model. Values are absolute calibration-set errors, unsorted on
// purpose so loading order never matters.
var defaultCalibrationTable = []float64{ //nolint: gochecknoglobals
	0.02, 0.03, 0.04, 0.05, 0.05, 0.06, 0.07, 0.08, 0.08, 0.09,
	0.10, 0.10, 0.11, 0.12, 0.13, 0.14, 0.15, 0.17, 0.19, 0.22,
}

// Combiner fuses the stage outputs into a calibrated probability with an
// explicit confidence interval and an ordered decision graph.
type Combiner struct {
	cfg      CombinerConfig
	quantile float64
}

// NewCombiner creates the combiner, precomputing the conformal quantile.
func NewCombiner(cfg CombinerConfig) *Combiner {
	table := cfg.CalibrationTable
	if len(table) == 0 {
		table = defaultCalibrationTable
	}
	scores := make([]float64, len(table))
	copy(scores, table)
	sort.Float64s(scores)

	// inductive conformal quantile: ceil((n+1)(1-alpha))/n, clamped to the
	// largest observed score
	n := len(scores)
	rank := int(math.Ceil(float64(n+1) * (1 - cfg.Alpha)))
	if rank > n {
		rank = n
	}
	if rank < 1 {
		rank = 1
	}

	return &Combiner{cfg: cfg, quantile: scores[rank-1]}
}

// Combine fuses the stage scores and applies causal boosts, the reachability
// branch correction and conformal calibration. stage2 is nil when the
// early-exit skipped it; the skip is recorded as an explicit decision step.
func (c *Combiner) Combine(stage1 Score,
	stage2 *Score,
	causal features.Causal,
	state domain.ReachabilityState) domain.CombinerResult {
	var steps []domain.DecisionStep

	var p float64
	if stage2 != nil {
		p = c.cfg.Stage1Weight*stage1.Probability + c.cfg.Stage2Weight*stage2.Probability
		steps = append(steps,
			step("stage1", c.cfg.Stage1Weight*stage1.Probability, c.cfg.Stage1Weight*stage1.Probability,
				fmt.Sprintf("%s p=%.3f weight=%.2f", stage1.Model, stage1.Probability, c.cfg.Stage1Weight)),
			step("stage2", c.cfg.Stage2Weight*stage2.Probability, p,
				fmt.Sprintf("%s p=%.3f weight=%.2f", stage2.Model, stage2.Probability, c.cfg.Stage2Weight)))
	} else {
		p = stage1.Probability
		steps = append(steps,
			step("stage1", p, p, fmt.Sprintf("%s p=%.3f", stage1.Model, stage1.Probability)),
			step("stage2", 0, p, fmt.Sprintf("skipped: stage1 confidence %.2f", stage1.Confidence)))
	}

	boosts := []struct {
		name   string
		fired  bool
		amount float64
	}{
		{name: "boost:form_origin_mismatch", fired: causal.FormOriginMismatch, amount: c.cfg.BoostFormOriginMismatch},
		{name: "boost:brand_infra_divergence", fired: causal.BrandInfraDivergence, amount: c.cfg.BoostBrandDivergence},
		{name: "boost:homoglyph_redirect", fired: causal.HomoglyphRedirect, amount: c.cfg.BoostHomoglyphRedirect},
		{name: "boost:auto_download", fired: causal.AutoDownload, amount: c.cfg.BoostAutoDownload},
		{name: "boost:dual_tier1_hits", fired: causal.DualTier1Hits, amount: c.cfg.BoostDualTier1},
	}
	for _, b := range boosts {
		if !b.fired {
			continue
		}
		p = clamp01(p + b.amount)
		steps = append(steps, step(b.name, b.amount, p, ""))
	}

	if delta := c.branchCorrection(state); delta != 0 {
		p = clamp01(p + delta)
		steps = append(steps, step("branch:"+string(state), delta, p, ""))
	}

	lower := clamp01(p - c.quantile)
	upper := clamp01(p + c.quantile)
	steps = append(steps, step("calibration", 0, p,
		fmt.Sprintf("conformal interval ±%.3f (alpha=%.2f)", c.quantile, c.cfg.Alpha)))

	return domain.CombinerResult{
		Probability: p,
		Lower:       lower,
		Upper:       upper,
		Confidence:  1 - c.cfg.Alpha,
		Steps:       steps,
	}
}

func (c *Combiner) branchCorrection(state domain.ReachabilityState) float64 {
	switch state {
	case domain.ReachabilityOffline:
		return c.cfg.BranchOffline
	case domain.ReachabilitySinkhole:
		return c.cfg.BranchSinkhole
	default:
		return 0
	}
}

func step(contributor string, delta, total float64, note string) domain.DecisionStep {
	return domain.DecisionStep{Contributor: contributor, Delta: delta, Total: total, Note: note}
}
