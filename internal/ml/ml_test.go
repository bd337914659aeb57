package ml_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"urlrisk/internal/features"
	"urlrisk/internal/ml"
	"urlrisk/pkg/domain"
	"urlrisk/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Setup("test")
	m.Run()
}

func stage1Weights() ml.Stage1Weights {
	return ml.Stage1Weights{Lexical: 0.25, Tabular: 0.35, Agreement: 0.40}
}

func combinerConfig() ml.CombinerConfig {
	return ml.CombinerConfig{
		Stage1Weight:            0.4,
		Stage2Weight:            0.6,
		Alpha:                   0.1,
		BoostFormOriginMismatch: 0.30,
		BoostBrandDivergence:    0.25,
		BoostHomoglyphRedirect:  0.20,
		BoostAutoDownload:       0.15,
		BoostDualTier1:          0.30,
		BranchOffline:           -0.1,
		BranchSinkhole:          0.4,
	}
}

func TestStage1_HeuristicOrdering(t *testing.T) {
	s := ml.NewStage1(stage1Weights(), nil)

	benign := s.Score(context.Background(), &features.Vector{
		Lexical: features.Lexical{Length: 24, Entropy: 3.1},
		Tabular: features.Tabular{DomainAgeDays: 3650, TLSScore: 1, DNSHealth: 1},
	})
	hostile := s.Score(context.Background(), &features.Vector{
		Lexical: features.Lexical{Length: 180, Entropy: 4.8, DigitRatio: 0.3, SubdomainDepth: 4},
		Tabular: features.Tabular{DomainAgeDays: 5, TLSScore: 0.2, TIHitCount: 3, CategoryRatio: 0.8},
	})

	require.Less(t, benign.Probability, hostile.Probability)
	require.Equal(t, "stage1/heuristic", benign.Model)
	require.GreaterOrEqual(t, hostile.Probability, 0.0)
	require.LessOrEqual(t, hostile.Probability, 1.0)
}

func TestStage1_RemotePreferredWhenHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)

			return
		}
		var p float64
		switch r.URL.Path {
		case "/v1/predict/url-lexical":
			p = 0.9
		case "/v1/predict/tabular-risk":
			p = 0.8
		default:
			w.WriteHeader(http.StatusNotFound)

			return
		}
		_ = json.NewEncoder(w).Encode(map[string]float64{"probability": p})
	}))
	defer srv.Close()

	client := ml.NewInferenceClient(srv.Client(), srv.URL)
	s := ml.NewStage1(stage1Weights(), client)

	score := s.Score(context.Background(), &features.Vector{})
	require.Equal(t, "stage1/remote", score.Model)
	// agreement of 0.9 and 0.8 is their mean
	require.InDelta(t, 0.25*0.9+0.35*0.8+0.40*0.85, score.Probability, 1e-9)
}

func TestStage1_RemoteFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)

			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := ml.NewInferenceClient(srv.Client(), srv.URL)
	s := ml.NewStage1(stage1Weights(), client)

	score := s.Score(context.Background(), &features.Vector{})
	require.Equal(t, "stage1/heuristic", score.Model)
}

func TestInferenceClient_EmptyEndpointIsNil(t *testing.T) {
	require.Nil(t, ml.NewInferenceClient(nil, ""))
}

func TestInferenceClient_RejectsOutOfRangeProbability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"probability": 1.7}`)
	}))
	defer srv.Close()

	client := ml.NewInferenceClient(srv.Client(), srv.URL)
	_, err := client.Predict(context.Background(), "url-lexical", struct{}{})
	require.Error(t, err)
}

func TestStage2_TextOnlyWithoutScreenshot(t *testing.T) {
	s := ml.NewStage2(ml.Stage2Weights{Text: 0.6, Visual: 0.4}, nil)

	score := s.Score(context.Background(), &features.Vector{
		FreeText: "URGENT: your account has been suspended. Verify your password immediately.",
	}, nil)

	require.Equal(t, "stage2-text/heuristic", score.Model)
	require.Greater(t, score.Probability, 0.5)
}

func TestStage2_NeutralOnEmptyText(t *testing.T) {
	s := ml.NewStage2(ml.Stage2Weights{Text: 0.6, Visual: 0.4}, nil)

	score := s.Score(context.Background(), &features.Vector{}, nil)
	require.InDelta(t, 0.5, score.Probability, 1e-9)
}

func TestStage2_FusesVisualScore(t *testing.T) {
	s := ml.NewStage2(ml.Stage2Weights{Text: 0.6, Visual: 0.4}, nil)

	// local heuristics only: visual stays neutral at 0.5
	score := s.Score(context.Background(), &features.Vector{
		FreeText: "urgent unusual activity verify your identity security team",
	}, []byte{0x89, 0x50, 0x4e, 0x47})

	require.Equal(t, "stage2-text/heuristic+stage2-visual/neutral", score.Model)
	text := 0.2 + 4*0.15
	require.InDelta(t, 0.6*text+0.4*0.5, score.Probability, 1e-9)
}

func TestCombiner_FusesBothStages(t *testing.T) {
	c := ml.NewCombiner(combinerConfig())

	res := c.Combine(
		ml.Score{Probability: 0.5, Confidence: 0, Model: "stage1/heuristic"},
		&ml.Score{Probability: 0.9, Confidence: 0.8, Model: "stage2-text/heuristic"},
		features.Causal{},
		domain.ReachabilityOnline,
	)

	require.InDelta(t, 0.4*0.5+0.6*0.9, res.Probability, 1e-9)
	require.GreaterOrEqual(t, res.Probability, res.Lower)
	require.LessOrEqual(t, res.Probability, res.Upper)
	require.InDelta(t, 0.9, res.Confidence, 1e-9)
}

func TestCombiner_RecordsStage2Skip(t *testing.T) {
	c := ml.NewCombiner(combinerConfig())

	res := c.Combine(
		ml.Score{Probability: 0.95, Confidence: 0.9, Model: "stage1/heuristic"},
		nil,
		features.Causal{},
		domain.ReachabilityOnline,
	)

	require.InDelta(t, 0.95, res.Probability, 1e-9)

	var stage2 *domain.DecisionStep
	for i := range res.Steps {
		if res.Steps[i].Contributor == "stage2" {
			stage2 = &res.Steps[i]
		}
	}
	require.NotNil(t, stage2)
	require.Contains(t, stage2.Note, "skipped")
	require.Zero(t, stage2.Delta)
}

func TestCombiner_BoostsAndBranchCorrections(t *testing.T) {
	c := ml.NewCombiner(combinerConfig())

	t.Run("boosts raise and clamp", func(t *testing.T) {
		res := c.Combine(
			ml.Score{Probability: 0.6, Model: "stage1/heuristic"},
			nil,
			features.Causal{FormOriginMismatch: true, BrandInfraDivergence: true, HomoglyphRedirect: true},
			domain.ReachabilityOnline,
		)
		require.Equal(t, 1.0, res.Probability)
		require.LessOrEqual(t, res.Upper, 1.0)
	})

	t.Run("offline lowers", func(t *testing.T) {
		res := c.Combine(
			ml.Score{Probability: 0.5, Model: "stage1/heuristic"},
			nil, features.Causal{}, domain.ReachabilityOffline,
		)
		require.InDelta(t, 0.4, res.Probability, 1e-9)
	})

	t.Run("sinkhole raises", func(t *testing.T) {
		res := c.Combine(
			ml.Score{Probability: 0.5, Model: "stage1/heuristic"},
			nil, features.Causal{}, domain.ReachabilitySinkhole,
		)
		require.InDelta(t, 0.9, res.Probability, 1e-9)
	})

	t.Run("online is untouched", func(t *testing.T) {
		res := c.Combine(
			ml.Score{Probability: 0.5, Model: "stage1/heuristic"},
			nil, features.Causal{}, domain.ReachabilityOnline,
		)
		require.InDelta(t, 0.5, res.Probability, 1e-9)
	})
}

func TestCombiner_IntervalContainsPoint(t *testing.T) {
	c := ml.NewCombiner(combinerConfig())

	for _, p := range []float64{0, 0.1, 0.5, 0.93, 1} {
		res := c.Combine(
			ml.Score{Probability: p, Model: "stage1/heuristic"},
			nil, features.Causal{}, domain.ReachabilityOnline,
		)
		require.GreaterOrEqual(t, res.Lower, 0.0)
		require.LessOrEqual(t, res.Upper, 1.0)
		require.GreaterOrEqual(t, res.Probability, res.Lower)
		require.LessOrEqual(t, res.Probability, res.Upper)
	}
}

func TestCombiner_CustomCalibrationTable(t *testing.T) {
	cfg := combinerConfig()
	cfg.CalibrationTable = []float64{0.05, 0.05, 0.05, 0.05}
	c := ml.NewCombiner(cfg)

	res := c.Combine(
		ml.Score{Probability: 0.5, Model: "stage1/heuristic"},
		nil, features.Causal{}, domain.ReachabilityOnline,
	)
	require.InDelta(t, 0.45, res.Lower, 1e-9)
	require.InDelta(t, 0.55, res.Upper, 1e-9)
}
