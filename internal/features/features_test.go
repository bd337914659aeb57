package features_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"urlrisk/internal/evidence"
	"urlrisk/internal/features"
	"urlrisk/pkg/domain"
)

func bundle(t *testing.T, rawURL, registrable string) *evidence.Bundle {
	t.Helper()

	u, err := url.Parse(rawURL)
	require.NoError(t, err)

	return &evidence.Bundle{URL: u, RegistrableDomain: registrable}
}

func TestExtract_Deterministic(t *testing.T) {
	in := features.Inputs{
		Bundle:       bundle(t, "https://login.example.com/verify?id=42", "example.com"),
		Reachability: domain.Reachability{State: domain.ReachabilityOnline},
		Now:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	first := features.Extract(in)
	second := features.Extract(in)
	require.Equal(t, first, second)
}

func TestExtract_Lexical(t *testing.T) {
	in := features.Inputs{
		Bundle:       bundle(t, "https://a.b.example.com/login", "example.com"),
		Reachability: domain.Reachability{State: domain.ReachabilityOnline},
	}

	v := features.Extract(in)
	require.Equal(t, 2, v.Lexical.SubdomainDepth)
	require.Contains(t, v.Lexical.Tokens, "login")
	require.Positive(t, v.Lexical.Entropy)
	require.Equal(t, len("https://a.b.example.com/login"), v.Lexical.Length)
}

func TestExtract_TabularUnknownsAreNegative(t *testing.T) {
	in := features.Inputs{
		Bundle:       bundle(t, "https://example.com/", "example.com"),
		Reachability: domain.Reachability{State: domain.ReachabilityOffline},
	}

	v := features.Extract(in)
	require.Equal(t, float64(-1), v.Tabular.DomainAgeDays)
	require.Equal(t, float64(-1), v.Tabular.TLSScore)
	require.Equal(t, float64(-1), v.Tabular.DNSHealth)
}

func TestExtract_CausalSignals(t *testing.T) {
	b := bundle(t, "https://secure-login.apphost.example/paypal", "apphost.example")
	b.Page = &evidence.PageSummary{
		Title:        "PayPal - verify",
		AutoDownload: true,
		Forms: []evidence.Form{
			{HasPassword: true, ExternalOrigin: true, Action: "https://collector.example/"},
		},
	}

	now := time.Now()
	in := features.Inputs{
		Bundle:       b,
		Reachability: domain.Reachability{State: domain.ReachabilityOnline},
		TISources: []domain.TISourceResult{
			{Source: "a", Tier: 1, Verdict: domain.TIVerdictHit, ObservedAt: now},
			{Source: "b", Tier: 1, Verdict: domain.TIVerdictHit, ObservedAt: now},
		},
		GateWindow: 7 * 24 * time.Hour,
		Now:        now,
	}

	v := features.Extract(in)
	require.True(t, v.Causal.FormOriginMismatch)
	require.True(t, v.Causal.BrandInfraDivergence)
	require.True(t, v.Causal.AutoDownload)
	require.True(t, v.Causal.DualTier1Hits)
	require.False(t, v.Causal.TombstoneOrSinkhole)
}

func TestExtract_HomoglyphRedirectTerminus(t *testing.T) {
	in := features.Inputs{
		Bundle: bundle(t, "https://start.example/", "start.example"),
		Reachability: domain.Reachability{
			State:         domain.ReachabilityOnline,
			RedirectChain: []string{"https://start.example/", "https://paypa1.net/login"},
		},
	}

	v := features.Extract(in)
	require.True(t, v.Causal.HomoglyphRedirect)
}

func TestExtract_StaleTier1HitsDoNotGate(t *testing.T) {
	now := time.Now()
	in := features.Inputs{
		Bundle:       bundle(t, "https://example.com/", "example.com"),
		Reachability: domain.Reachability{State: domain.ReachabilityOnline},
		TISources: []domain.TISourceResult{
			{Source: "a", Tier: 1, Verdict: domain.TIVerdictHit, ObservedAt: now.Add(-8 * 24 * time.Hour)},
			{Source: "b", Tier: 1, Verdict: domain.TIVerdictHit, ObservedAt: now},
		},
		GateWindow: 7 * 24 * time.Hour,
		Now:        now,
	}

	v := features.Extract(in)
	require.False(t, v.Causal.DualTier1Hits)
}

func TestExtract_RedirectCountExcludesSeedURL(t *testing.T) {
	// the recorded chain always starts with the requested URL
	direct := features.Inputs{
		Bundle: bundle(t, "https://example.com/", "example.com"),
		Reachability: domain.Reachability{
			State:         domain.ReachabilityOnline,
			RedirectChain: []string{"https://example.com/"},
		},
	}
	require.Zero(t, features.Extract(direct).Tabular.RedirectCount,
		"a direct fetch has no redirect hops")

	hopped := features.Inputs{
		Bundle: bundle(t, "https://example.com/", "example.com"),
		Reachability: domain.Reachability{
			State: domain.ReachabilityOnline,
			RedirectChain: []string{
				"https://example.com/",
				"https://b.example/",
				"https://c.example/",
			},
		},
	}
	require.Equal(t, 2, features.Extract(hopped).Tabular.RedirectCount)
}
