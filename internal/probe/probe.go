// Package probe implements the reachability prober: DNS resolution, TCP
// connect, and an HTTP(S) request with bounded redirect following, classified
// into one of the reachability states. The classification decides which
// scoring categories are active downstream and shrinks the active maximum
// score so final percentages stay comparable across states.
package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"urlrisk/internal/cache"
	"urlrisk/pkg/domain"
	"urlrisk/pkg/logger"
)

// Page carries the final HTTP response of a probe so the evidence collector
// can reuse it instead of fetching the target twice.
type Page struct {
	// FinalURL is the URL that produced the final response after redirects.
	FinalURL string
	// StatusCode is the final HTTP status.
	StatusCode int
	// Header holds the final response headers.
	Header http.Header
	// Body is the response body, capped at Options.MaxBodyBytes.
	Body []byte
	// TLS is the connection state of the final request, nil for plain HTTP.
	TLS *tls.ConnectionState
}

// Options configure the prober.
type Options struct {
	// Timeout bounds the whole probe; on expiry the target is OFFLINE.
	Timeout time.Duration
	// MaxRedirects bounds the followed redirect chain.
	MaxRedirects int
	// UserAgent is sent on probe requests.
	UserAgent string
	// MaxBodyBytes caps how much of the final body is retained.
	MaxBodyBytes int64
	// SinkholeIPs lists additional sinkhole addresses beyond the built-ins.
	SinkholeIPs []string
	// DNSTTL governs the shared DNS cache entries.
	DNSTTL time.Duration
}

// Prober performs reachability probes. It is safe for concurrent use; the
// DNS cache is shared process-wide across simultaneous scans.
type Prober struct {
	opts     Options
	resolver *net.Resolver
	dialer   *net.Dialer
	dns      *cache.Cache[[]string]
	sinkhole map[string]struct{}
}

// New creates a Prober. The dnsCache may be shared with other components;
// nil disables DNS caching.
func New(opts Options, dnsCache *cache.Cache[[]string]) *Prober {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2 << 20
	}

	sink := make(map[string]struct{}, len(opts.SinkholeIPs)+len(defaultSinkholeIPs))
	for _, ip := range defaultSinkholeIPs {
		sink[ip] = struct{}{}
	}
	for _, ip := range opts.SinkholeIPs {
		sink[ip] = struct{}{}
	}

	return &Prober{
		opts:     opts,
		resolver: net.DefaultResolver,
		dialer:   &net.Dialer{},
		dns:      dnsCache,
		sinkhole: sink,
	}
}

// Resolve looks up the host's addresses, IPv4 first with IPv6 fallback,
// consulting the shared DNS cache.
func (p *Prober) Resolve(ctx context.Context, host string) ([]string, error) {
	key := "dns:" + host
	if p.dns != nil {
		if ips, ok := p.dns.Get(key); ok {
			return ips, nil
		}
	}

	ips, err := p.resolver.LookupIP(ctx, "ip4", host)
	if err != nil || len(ips) == 0 {
		// fall back to IPv6-only hosts
		var err6 error
		ips, err6 = p.resolver.LookupIP(ctx, "ip6", host)
		if err6 != nil || len(ips) == 0 {
			if err == nil {
				err = err6
			}

			return nil, fmt.Errorf("could not resolve %s: %w", host, err)
		}
	}

	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		out = append(out, ip.String())
	}
	if p.dns != nil {
		p.dns.Set(key, out, p.opts.DNSTTL)
	}

	return out, nil
}

// Probe classifies the target URL. It never returns an error for network
// failures; those classify as OFFLINE. The returned Page is nil unless an
// HTTP response was obtained.
func (p *Prober) Probe(ctx context.Context, rawURL string) (domain.Reachability, *Page) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	res := domain.Reachability{State: domain.ReachabilityOffline}

	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return res, nil
	}

	// DNS
	start := time.Now()
	ips, err := p.Resolve(ctx, u.Hostname())
	res.DNSLatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		logger.Debug(ctx, "DNS resolution failed", zap.String("host", u.Hostname()), zap.Error(err))

		return res, nil
	}
	res.IPs = ips

	// Sinkhole wins over everything else.
	for _, ip := range ips {
		if _, ok := p.sinkhole[ip]; ok {
			res.State = domain.ReachabilitySinkhole

			return res, nil
		}
	}

	// TCP
	start = time.Now()
	conn, err := p.dialer.DialContext(ctx, "tcp", net.JoinHostPort(u.Hostname(), portFor(u)))
	res.TCPLatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		logger.Debug(ctx, "TCP connect failed", zap.String("host", u.Hostname()), zap.Error(err))

		return res, nil
	}
	_ = conn.Close()

	// HTTP with bounded redirect chain.
	chain := []string{rawURL}
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= p.opts.MaxRedirects {
				return http.ErrUseLastResponse
			}
			chain = append(chain, req.URL.String())

			return nil
		},
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint: gosec // certificate posture is scored, not enforced
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return res, nil
	}
	if p.opts.UserAgent != "" {
		req.Header.Set("User-Agent", p.opts.UserAgent)
	}

	start = time.Now()
	resp, err := client.Do(req)
	res.HTTPLatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		logger.Debug(ctx, "HTTP probe failed", zap.String("url", rawURL), zap.Error(err))

		return res, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, p.opts.MaxBodyBytes))
	page := &Page{
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		TLS:        resp.TLS,
	}

	res.RedirectChain = chain
	res.HTTPStatus = resp.StatusCode

	state, tombstone := classify(resp.StatusCode, resp.Header, string(body))
	res.State = state
	res.Tombstone = tombstone

	return res, page
}

func portFor(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	if strings.EqualFold(u.Scheme, "http") {
		return "80"
	}

	return "443"
}
