package category

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"urlrisk/internal/evidence"
	"urlrisk/pkg/domain"
)

// checkDomainAnalysis scores registration-based signals: domain age, expiry
// pressure, and registrar visibility. Depends on WHOIS evidence.
func checkDomainAnalysis(b *evidence.Bundle, _ domain.Reachability) ([]domain.Finding, error) {
	if b.WHOIS == nil {
		return nil, errors.New("whois evidence missing")
	}

	now := b.CollectedAt
	if now.IsZero() {
		now = time.Now()
	}

	var findings []domain.Finding

	if age, known := b.DomainAge(now); known {
		days := int(age.Hours() / 24)
		switch {
		case days < 30:
			findings = append(findings, finding("domain_age_critical",
				fmt.Sprintf("domain registered %d days ago", days), 25,
				b.WHOIS.CreatedAt.Format(time.DateOnly)))
		case days < 180:
			findings = append(findings, finding("domain_age_young",
				fmt.Sprintf("domain registered %d days ago", days), 10,
				b.WHOIS.CreatedAt.Format(time.DateOnly)))
		}
	} else {
		findings = append(findings, finding("domain_age_unknown",
			"registration date not published", 5, ""))
	}

	if !b.WHOIS.ExpiresAt.IsZero() && b.WHOIS.ExpiresAt.Sub(now) < 30*24*time.Hour {
		findings = append(findings, finding("domain_expiring",
			"registration expires within 30 days", 10,
			b.WHOIS.ExpiresAt.Format(time.DateOnly)))
	}

	if b.WHOIS.Registrar == "" {
		findings = append(findings, finding("registrar_hidden",
			"no sponsoring registrar visible", 5, ""))
	}

	return findings, nil
}

// checkURLPatterns scores lexical structure of the URL itself: impersonated
// TLDs in subdomains, brand names placed in the path instead of the domain,
// phishing path keywords, IP-literal hosts and punycode. Never unable; the
// URL is always available.
func checkURLPatterns(b *evidence.Bundle, _ domain.Reachability) ([]domain.Finding, error) {
	var findings []domain.Finding

	host := b.URL.Hostname()
	labels := strings.Split(strings.ToLower(host), ".")

	// subdomain labels shaped like "brand-com" impersonate a TLD boundary
	for _, label := range labels[:max(len(labels)-1, 0)] {
		if impersonatedTLDRe.MatchString(label) {
			findings = append(findings, finding("subdomain_tld_impersonation",
				"subdomain label impersonates a TLD boundary", 35, label))

			break
		}
	}

	if brand, ok := containsToken(b.URL.Path, brandKeywords); ok {
		if _, inDomain := containsToken(b.RegistrableDomain, []string{brand}); !inDomain {
			findings = append(findings, finding("brand_in_path",
				fmt.Sprintf("brand %q appears in path but not in domain", brand), 40, b.URL.Path))
		}
	}

	if matched := matchTokens(b.URL.Path, phishingPathKeywords); len(matched) > 0 {
		points := 5 * len(matched)
		if points > 15 {
			points = 15
		}
		findings = append(findings, finding("phishing_path_keywords",
			"path contains phishing-associated keywords", points, strings.Join(matched, ",")))
	}

	if net.ParseIP(host) != nil {
		findings = append(findings, finding("ip_literal_host",
			"URL addresses the host by IP literal", 15, host))
	}

	for _, label := range labels {
		if strings.HasPrefix(label, "xn--") {
			findings = append(findings, finding("punycode_host",
				"hostname contains a punycode label", 20, label))

			break
		}
	}

	if b.URL.User != nil {
		findings = append(findings, finding("userinfo_in_url",
			"URL embeds userinfo before the host", 10, ""))
	}

	if extra := len(labels) - strings.Count(b.RegistrableDomain, ".") - 1; extra > 3 {
		findings = append(findings, finding("excessive_subdomains",
			fmt.Sprintf("%d subdomain levels", extra), 10, host))
	}

	if len(b.URL.String()) > 150 {
		findings = append(findings, finding("overlong_url",
			"URL exceeds 150 characters", 5, ""))
	}

	return findings, nil
}

// checkTrustGraph scores hosting and network reputation: free-hosting
// providers (much stronger when combined with brand impersonation) and the
// completeness of the domain's DNS delegation.
func checkTrustGraph(b *evidence.Bundle, _ domain.Reachability) ([]domain.Finding, error) {
	var findings []domain.Finding

	if provider, ok := freeHostingMatch(b.URL.Hostname()); ok {
		if brands := matchTokens(b.URL.String(), brandKeywords); len(brands) > 0 {
			findings = append(findings, finding("free_hosting_with_brand",
				fmt.Sprintf("free hosting (%s) with brand impersonation", provider), 50,
				strings.Join(brands, ",")))
		} else {
			findings = append(findings, finding("free_hosting",
				fmt.Sprintf("hosted on free platform (%s)", provider), 35, provider))
		}
	}

	if b.DNS != nil {
		if len(b.DNS.NS) == 0 {
			findings = append(findings, finding("no_ns_delegation",
				"no NS records visible for the domain", 10, ""))
		} else if b.DNS.HealthScore() < 0.5 {
			findings = append(findings, finding("weak_dns_posture",
				"DNS record set is unusually sparse", 10,
				fmt.Sprintf("health %.1f", b.DNS.HealthScore())))
		}
	}

	return findings, nil
}
