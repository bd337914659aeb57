package ti

import (
	"net/http"

	"urlrisk/internal/config"
	"urlrisk/pkg/serrors"
)

// constructors maps source names to their client factories.
var constructors = map[string]func(cfg config.TISource, httpClient *http.Client) Source{ //nolint: gochecknoglobals
	"urlhaus":      func(cfg config.TISource, c *http.Client) Source { return newURLHaus(cfg, c) },
	"phishtank":    func(cfg config.TISource, c *http.Client) Source { return newPhishTank(cfg, c) },
	"openphish":    func(cfg config.TISource, c *http.Client) Source { return newOpenPhish(cfg, c) },
	"safebrowsing": func(cfg config.TISource, c *http.Client) Source { return newSafeBrowsing(cfg, c) },
	"virustotal":   func(cfg config.TISource, c *http.Client) Source { return newVirusTotal(cfg, c) },
	"otx":          func(cfg config.TISource, c *http.Client) Source { return newOTX(cfg, c) },
	"abuseipdb":    func(cfg config.TISource, c *http.Client) Source { return newAbuseIPDB(cfg, c) },
	"urlscanio":    func(cfg config.TISource, c *http.Client) Source { return newURLScanIO(cfg, c) },
	"phishstats":   func(cfg config.TISource, c *http.Client) Source { return newPhishStats(cfg, c) },
	"spamhaus_dbl": func(cfg config.TISource, _ *http.Client) Source { return newDNSBL(cfg, "dbl.spamhaus.org") },
	"surbl":        func(cfg config.TISource, _ *http.Client) Source { return newDNSBL(cfg, "multi.surbl.org") },
}

// DefaultSources returns the built-in source configuration used when the
// config file lists none. Keyless feeds are enabled out of the box; feeds
// requiring credentials ship disabled.
func DefaultSources() []config.TISource {
	return []config.TISource{
		{Name: "urlhaus", Tier: 1, Weight: 12, Enabled: true},
		{Name: "phishtank", Tier: 1, Weight: 12, Enabled: true},
		{Name: "openphish", Tier: 1, Weight: 10, Enabled: true},
		{Name: "spamhaus_dbl", Tier: 1, Weight: 10, Enabled: true},
		{Name: "safebrowsing", Tier: 1, Weight: 12, Enabled: false},
		{Name: "virustotal", Tier: 2, Weight: 8, Enabled: false},
		{Name: "otx", Tier: 2, Weight: 5, Enabled: false},
		{Name: "abuseipdb", Tier: 2, Weight: 5, Enabled: false},
		{Name: "urlscanio", Tier: 2, Weight: 6, Enabled: false},
		{Name: "phishstats", Tier: 2, Weight: 5, Enabled: true},
		{Name: "surbl", Tier: 2, Weight: 5, Enabled: true},
	}
}

// BuildSources constructs clients for every enabled source in cfg. An unknown
// source name is a configuration error.
func BuildSources(cfgs []config.TISource, httpClient *http.Client) ([]ConfiguredSource, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var out []ConfiguredSource
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		construct, ok := constructors[cfg.Name]
		if !ok {
			return nil, serrors.With(serrors.ErrConfig, "unknown TI source %q", cfg.Name)
		}
		out = append(out, ConfiguredSource{
			Source: construct(cfg, httpClient),
			Tier:   cfg.Tier,
			Weight: cfg.Weight,
		})
	}

	return out, nil
}
