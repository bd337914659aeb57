package ti

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"urlrisk/internal/config"
	"urlrisk/pkg/serrors"
)

// httpSource carries what every HTTP-backed feed client needs.
type httpSource struct {
	name       string
	httpClient *http.Client
	apiKey     string
	endpoint   string
}

func (s httpSource) Name() string { return s.name }

// do sends the request and returns the body for 2xx responses. 429 maps to
// ErrRateLimited, 404 to ErrNotFound so callers can treat "unknown target"
// separately from real failures.
func (s httpSource) do(req *http.Request) ([]byte, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, serrors.With(serrors.ErrRateLimited, "rate limited: %s", strings.TrimSpace(string(b)))
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, serrors.KindOnly(serrors.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("lookup failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	return b, nil
}

func (s httpSource) base(fallback string) string {
	if s.endpoint != "" {
		return s.endpoint
	}

	return fallback
}

// urlhaus queries the abuse.ch URLhaus API.
// https://urlhaus-api.abuse.ch/
type urlhaus struct{ httpSource }

func newURLHaus(cfg config.TISource, c *http.Client) *urlhaus {
	return &urlhaus{httpSource{name: cfg.Name, httpClient: c, apiKey: cfg.APIKey, endpoint: cfg.Endpoint}}
}

func (s *urlhaus) Lookup(ctx context.Context, target Target) (Verdict, error) {
	form := url.Values{"url": {target.URL}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.base("https://urlhaus-api.abuse.ch/v1/url/"), strings.NewReader(form.Encode()))
	if err != nil {
		return VerdictMiss, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if s.apiKey != "" {
		req.Header.Set("Auth-Key", s.apiKey)
	}

	b, err := s.do(req)
	if err != nil {
		return VerdictMiss, err
	}

	var res struct {
		QueryStatus string `json:"query_status"`
		URLStatus   string `json:"url_status"`
	}
	if err := json.Unmarshal(b, &res); err != nil {
		return VerdictMiss, fmt.Errorf("could not decode response: %w", err)
	}
	if res.QueryStatus == "ok" {
		return VerdictHit, nil
	}

	return VerdictMiss, nil
}

// phishtank queries the PhishTank check API.
// https://phishtank.org/api_info.php
type phishtank struct{ httpSource }

func newPhishTank(cfg config.TISource, c *http.Client) *phishtank {
	return &phishtank{httpSource{name: cfg.Name, httpClient: c, apiKey: cfg.APIKey, endpoint: cfg.Endpoint}}
}

func (s *phishtank) Lookup(ctx context.Context, target Target) (Verdict, error) {
	form := url.Values{"url": {target.URL}, "format": {"json"}}
	if s.apiKey != "" {
		form.Set("app_key", s.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.base("https://checkurl.phishtank.com/checkurl/"), strings.NewReader(form.Encode()))
	if err != nil {
		return VerdictMiss, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	b, err := s.do(req)
	if err != nil {
		return VerdictMiss, err
	}

	var res struct {
		Results struct {
			InDatabase bool `json:"in_database"`
			Valid      bool `json:"valid"`
		} `json:"results"`
	}
	if err := json.Unmarshal(b, &res); err != nil {
		return VerdictMiss, fmt.Errorf("could not decode response: %w", err)
	}
	if res.Results.InDatabase && res.Results.Valid {
		return VerdictHit, nil
	}

	return VerdictMiss, nil
}

// openphish scans the public OpenPhish feed for the target URL. The feed is
// one URL per line; a prefix match on the canonical URL counts as a hit.
type openphish struct{ httpSource }

func newOpenPhish(cfg config.TISource, c *http.Client) *openphish {
	return &openphish{httpSource{name: cfg.Name, httpClient: c, endpoint: cfg.Endpoint}}
}

func (s *openphish) Lookup(ctx context.Context, target Target) (Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.base("https://openphish.com/feed.txt"), nil)
	if err != nil {
		return VerdictMiss, fmt.Errorf("could not create request: %w", err)
	}

	b, err := s.do(req)
	if err != nil {
		return VerdictMiss, err
	}

	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(target.URL, line) || strings.HasPrefix(line, target.URL) {
			return VerdictHit, nil
		}
	}

	return VerdictMiss, nil
}

// safebrowsing queries the Google Safe Browsing v4 threatMatches API.
// https://developers.google.com/safe-browsing/v4/lookup-api
type safebrowsing struct{ httpSource }

func newSafeBrowsing(cfg config.TISource, c *http.Client) *safebrowsing {
	return &safebrowsing{httpSource{name: cfg.Name, httpClient: c, apiKey: cfg.APIKey, endpoint: cfg.Endpoint}}
}

func (s *safebrowsing) Lookup(ctx context.Context, target Target) (Verdict, error) {
	body := map[string]any{
		"client": map[string]string{"clientId": "urlrisk", "clientVersion": "1.0"},
		"threatInfo": map[string]any{
			"threatTypes":      []string{"MALWARE", "SOCIAL_ENGINEERING", "UNWANTED_SOFTWARE"},
			"platformTypes":    []string{"ANY_PLATFORM"},
			"threatEntryTypes": []string{"URL"},
			"threatEntries":    []map[string]string{{"url": target.URL}},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return VerdictMiss, fmt.Errorf("could not marshal request: %w", err)
	}

	endpoint := s.base("https://safebrowsing.googleapis.com/v4/threatMatches:find") + "?key=" + url.QueryEscape(s.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return VerdictMiss, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	b, err := s.do(req)
	if err != nil {
		return VerdictMiss, err
	}

	var res struct {
		Matches []json.RawMessage `json:"matches"`
	}
	if err := json.Unmarshal(b, &res); err != nil {
		return VerdictMiss, fmt.Errorf("could not decode response: %w", err)
	}
	if len(res.Matches) > 0 {
		return VerdictHit, nil
	}

	return VerdictMiss, nil
}

// virustotal queries the VirusTotal v3 URL object by its URL identifier.
// https://docs.virustotal.com/reference/url-object
type virustotal struct{ httpSource }

func newVirusTotal(cfg config.TISource, c *http.Client) *virustotal {
	return &virustotal{httpSource{name: cfg.Name, httpClient: c, apiKey: cfg.APIKey, endpoint: cfg.Endpoint}}
}

func (s *virustotal) Lookup(ctx context.Context, target Target) (Verdict, error) {
	id := base64.RawURLEncoding.EncodeToString([]byte(target.URL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.base("https://www.virustotal.com/api/v3/urls")+"/"+id, nil)
	if err != nil {
		return VerdictMiss, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("x-apikey", s.apiKey)

	b, err := s.do(req)
	if errors.Is(err, serrors.ErrNotFound) {
		return VerdictMiss, nil
	}
	if err != nil {
		return VerdictMiss, err
	}

	var res struct {
		Data struct {
			Attributes struct {
				Stats struct {
					Malicious  int `json:"malicious"`
					Suspicious int `json:"suspicious"`
				} `json:"last_analysis_stats"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &res); err != nil {
		return VerdictMiss, fmt.Errorf("could not decode response: %w", err)
	}
	if res.Data.Attributes.Stats.Malicious > 0 {
		return VerdictHit, nil
	}

	return VerdictMiss, nil
}

// otx queries AlienVault OTX for pulses referencing the domain.
// https://otx.alienvault.com/api
type otx struct{ httpSource }

func newOTX(cfg config.TISource, c *http.Client) *otx {
	return &otx{httpSource{name: cfg.Name, httpClient: c, apiKey: cfg.APIKey, endpoint: cfg.Endpoint}}
}

func (s *otx) Lookup(ctx context.Context, target Target) (Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.base("https://otx.alienvault.com/api/v1/indicators/domain")+"/"+url.PathEscape(target.RegistrableDomain)+"/general",
		nil)
	if err != nil {
		return VerdictMiss, fmt.Errorf("could not create request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("X-OTX-API-KEY", s.apiKey)
	}

	b, err := s.do(req)
	if errors.Is(err, serrors.ErrNotFound) {
		return VerdictMiss, nil
	}
	if err != nil {
		return VerdictMiss, err
	}

	var res struct {
		PulseInfo struct {
			Count int `json:"count"`
		} `json:"pulse_info"`
	}
	if err := json.Unmarshal(b, &res); err != nil {
		return VerdictMiss, fmt.Errorf("could not decode response: %w", err)
	}
	if res.PulseInfo.Count > 0 {
		return VerdictHit, nil
	}

	return VerdictMiss, nil
}

// abuseipdb checks the resolved address against AbuseIPDB.
// https://docs.abuseipdb.com/
type abuseipdb struct{ httpSource }

func newAbuseIPDB(cfg config.TISource, c *http.Client) *abuseipdb {
	return &abuseipdb{httpSource{name: cfg.Name, httpClient: c, apiKey: cfg.APIKey, endpoint: cfg.Endpoint}}
}

func (s *abuseipdb) Lookup(ctx context.Context, target Target) (Verdict, error) {
	if len(target.IPs) == 0 {
		return VerdictMiss, nil
	}

	q := url.Values{"ipAddress": {target.IPs[0]}, "maxAgeInDays": {"90"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.base("https://api.abuseipdb.com/api/v2/check")+"?"+q.Encode(), nil)
	if err != nil {
		return VerdictMiss, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Key", s.apiKey)
	req.Header.Set("Accept", "application/json")

	b, err := s.do(req)
	if err != nil {
		return VerdictMiss, err
	}

	var res struct {
		Data struct {
			AbuseConfidenceScore int `json:"abuseConfidenceScore"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &res); err != nil {
		return VerdictMiss, fmt.Errorf("could not decode response: %w", err)
	}
	if res.Data.AbuseConfidenceScore >= 50 {
		return VerdictHit, nil
	}

	return VerdictMiss, nil
}

// urlscanio searches urlscan.io for prior malicious verdicts on the domain.
// https://docs.urlscan.io/apis/search
type urlscanio struct{ httpSource }

func newURLScanIO(cfg config.TISource, c *http.Client) *urlscanio {
	return &urlscanio{httpSource{name: cfg.Name, httpClient: c, apiKey: cfg.APIKey, endpoint: cfg.Endpoint}}
}

func (s *urlscanio) Lookup(ctx context.Context, target Target) (Verdict, error) {
	q := url.Values{"q": {"page.domain:" + target.RegistrableDomain + " AND verdicts.malicious:true"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.base("https://urlscan.io/api/v1/search/")+"?"+q.Encode(), nil)
	if err != nil {
		return VerdictMiss, fmt.Errorf("could not create request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Api-Key", s.apiKey)
	}

	b, err := s.do(req)
	if err != nil {
		return VerdictMiss, err
	}

	var res struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(b, &res); err != nil {
		return VerdictMiss, fmt.Errorf("could not decode response: %w", err)
	}
	if res.Total > 0 {
		return VerdictHit, nil
	}

	return VerdictMiss, nil
}

// phishstats queries the PhishStats REST API for the exact URL.
// https://phishstats.info/
type phishstats struct{ httpSource }

func newPhishStats(cfg config.TISource, c *http.Client) *phishstats {
	return &phishstats{httpSource{name: cfg.Name, httpClient: c, endpoint: cfg.Endpoint}}
}

func (s *phishstats) Lookup(ctx context.Context, target Target) (Verdict, error) {
	q := url.Values{"_where": {"(url,eq," + target.URL + ")"}, "_size": {"1"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.base("https://phishstats.info:2096/api/phishing")+"?"+q.Encode(), nil)
	if err != nil {
		return VerdictMiss, fmt.Errorf("could not create request: %w", err)
	}

	b, err := s.do(req)
	if err != nil {
		return VerdictMiss, err
	}

	var res []json.RawMessage
	if err := json.Unmarshal(b, &res); err != nil {
		return VerdictMiss, fmt.Errorf("could not decode response: %w", err)
	}
	if len(res) > 0 {
		return VerdictHit, nil
	}

	return VerdictMiss, nil
}
