package ml

import (
	"context"
	"encoding/base64"
	"strings"

	"go.uber.org/zap"

	"urlrisk/internal/features"
	"urlrisk/pkg/logger"
)

// Stage2Weights fuse the text-persuasion and visual models.
type Stage2Weights struct {
	Text   float64
	Visual float64
}

// Stage2 is the deeper second-pass scorer: a text-persuasion model over the
// aggregated page language and, when a screenshot exists, a visual
// brand/fake-login classifier. Invoked only when stage-1 confidence is below
// the early-exit threshold.
type Stage2 struct {
	weights Stage2Weights
	remote  *InferenceClient
}

// NewStage2 creates the scorer. A nil client pins it to the local heuristics.
func NewStage2(weights Stage2Weights, remote *InferenceClient) *Stage2 {
	return &Stage2{weights: weights, remote: remote}
}

// Score produces the stage-2 probability. Without a screenshot the text
// signal carries the full weight.
func (s *Stage2) Score(ctx context.Context, v *features.Vector, screenshot []byte) Score {
	pText, textModel := s.textScore(ctx, v)

	if len(screenshot) == 0 {
		return Score{
			Probability: pText,
			Confidence:  confidence(pText),
			Model:       textModel,
		}
	}

	pVisual, visualModel := s.visualScore(ctx, screenshot)
	p := clamp01(s.weights.Text*pText + s.weights.Visual*pVisual)

	return Score{
		Probability: p,
		Confidence:  confidence(p),
		Model:       textModel + "+" + visualModel,
	}
}

func (s *Stage2) textScore(ctx context.Context, v *features.Vector) (float64, string) {
	if s.remote != nil && s.remote.Healthy(ctx) {
		payload := struct {
			Text string `json:"text"`
		}{Text: v.FreeText}
		p, err := s.remote.Predict(ctx, "text-persuasion", payload)
		if err == nil {
			return p, "stage2-text/remote"
		}
		logger.Debug(ctx, "stage2 text inference failed, using heuristics", zap.Error(err))
	}

	return persuasionHeuristic(v.FreeText), "stage2-text/heuristic"
}

func (s *Stage2) visualScore(ctx context.Context, screenshot []byte) (float64, string) {
	if s.remote != nil && s.remote.Healthy(ctx) {
		payload := struct {
			ImagePNG string `json:"imagePng"`
		}{ImagePNG: base64.StdEncoding.EncodeToString(screenshot)}
		p, err := s.remote.Predict(ctx, "screenshot-cnn", payload)
		if err == nil {
			return p, "stage2-visual/remote"
		}
		logger.Debug(ctx, "stage2 visual inference failed, using heuristics", zap.Error(err))
	}

	// no meaningful local signal exists for pixels; stay neutral
	return 0.5, "stage2-visual/neutral"
}

// persuasion markers, grouped by the manipulation technique they signal.
var persuasionMarkers = [][]string{ //nolint: gochecknoglobals
	{"urgent", "immediately", "act now", "within 24 hours", "final notice", "expires"},
	{"suspended", "locked", "unauthorized", "unusual activity", "compromised", "disabled"},
	{"verify your", "confirm your", "validate your", "re-enter your", "update your payment"},
	{"security team", "fraud department", "account services", "official notice"},
}

// persuasionHeuristic grades the density of manipulation language: each
// distinct technique present raises the probability.
func persuasionHeuristic(text string) float64 {
	if text == "" {
		return 0.5
	}
	lower := strings.ToLower(text)

	p := 0.2
	for _, group := range persuasionMarkers {
		for _, marker := range group {
			if strings.Contains(lower, marker) {
				p += 0.15

				break
			}
		}
	}

	return clamp01(p)
}
