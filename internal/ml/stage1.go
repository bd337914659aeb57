package ml

import (
	"context"

	"go.uber.org/zap"

	"urlrisk/internal/features"
	"urlrisk/pkg/logger"
)

// Score is the common output of every scorer.
type Score struct {
	// Probability that the target is malicious.
	Probability float64 `json:"probability"`
	// Confidence is the distance from the decision boundary, scaled to [0,1].
	Confidence float64 `json:"confidence"`
	// Model names what produced the score, e.g. "stage1/remote".
	Model string `json:"model"`
}

// Stage1Weights fuse the lexical model, the tabular model, and their
// agreement signal.
type Stage1Weights struct {
	Lexical   float64
	Tabular   float64
	Agreement float64
}

// Stage1 is the fast first-pass scorer: a lexical URL classifier and a
// tabular risk model, fused by fixed weights.
type Stage1 struct {
	weights Stage1Weights
	remote  *InferenceClient
}

// NewStage1 creates the scorer. A nil client pins it to the local heuristics.
func NewStage1(weights Stage1Weights, remote *InferenceClient) *Stage1 {
	return &Stage1{weights: weights, remote: remote}
}

// Score produces the stage-1 probability and confidence. The remote endpoint
// is preferred when healthy; any remote failure falls back to the local
// heuristics so availability never depends on the inference provider.
func (s *Stage1) Score(ctx context.Context, v *features.Vector) Score {
	pLex, pTab, model := s.componentScores(ctx, v)

	// when both components agree on a side of the boundary, their mean is a
	// trustworthy third signal; disagreement contributes a neutral 0.5
	pAgree := 0.5
	if (pLex >= 0.5) == (pTab >= 0.5) {
		pAgree = (pLex + pTab) / 2
	}

	p := clamp01(s.weights.Lexical*pLex + s.weights.Tabular*pTab + s.weights.Agreement*pAgree)

	return Score{
		Probability: p,
		Confidence:  confidence(p),
		Model:       model,
	}
}

func (s *Stage1) componentScores(ctx context.Context, v *features.Vector) (pLex, pTab float64, model string) {
	if s.remote != nil && s.remote.Healthy(ctx) {
		lex, errLex := s.remote.Predict(ctx, "url-lexical", v.Lexical)
		tab, errTab := s.remote.Predict(ctx, "tabular-risk", v.Tabular)
		if errLex == nil && errTab == nil {
			return lex, tab, "stage1/remote"
		}
		logger.Debug(ctx, "stage1 remote inference failed, using heuristics",
			zap.NamedError("lexical", errLex), zap.NamedError("tabular", errTab))
	}

	return lexicalHeuristic(v.Lexical), tabularHeuristic(v.Tabular), "stage1/heuristic"
}

// lexicalHeuristic grades URL-string suspicion from its statistics.
func lexicalHeuristic(lex features.Lexical) float64 {
	p := 0.2

	if lex.Entropy > 4.2 {
		p += 0.15
	}
	if lex.Length > 75 {
		p += 0.10
	}
	if lex.Length > 150 {
		p += 0.10
	}
	if lex.DigitRatio > 0.2 {
		p += 0.10
	}
	if lex.SpecialRatio > 0.25 {
		p += 0.10
	}
	if lex.SubdomainDepth >= 3 {
		p += 0.15
	}

	return clamp01(p)
}

// tabularHeuristic grades the numeric evidence features.
func tabularHeuristic(tab features.Tabular) float64 {
	p := 0.15

	switch {
	case tab.DomainAgeDays >= 0 && tab.DomainAgeDays < 30:
		p += 0.25
	case tab.DomainAgeDays >= 0 && tab.DomainAgeDays < 180:
		p += 0.10
	}
	if tab.TLSScore >= 0 && tab.TLSScore < 0.5 {
		p += 0.15
	}
	if tab.DNSHealth >= 0 && tab.DNSHealth < 0.4 {
		p += 0.05
	}
	if tab.TIHitCount > 0 {
		p += 0.20
	}
	if tab.TIHitCount > 2 {
		p += 0.10
	}
	if tab.RedirectCount > 3 {
		p += 0.05
	}
	p += 0.35 * tab.CategoryRatio

	return clamp01(p)
}

// confidence converts a probability into distance from the decision boundary.
func confidence(p float64) float64 {
	c := (p - 0.5) * 2
	if c < 0 {
		c = -c
	}

	return c
}

func clamp01(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}

	return p
}
