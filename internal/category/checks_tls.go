package category

import (
	"crypto/tls"
	"errors"
	"time"

	"urlrisk/internal/evidence"
	"urlrisk/pkg/domain"
)

// checkTLSSecurity scores the transport posture: plain HTTP, certificate
// validity, hostname coverage and protocol version.
func checkTLSSecurity(b *evidence.Bundle, reach domain.Reachability) ([]domain.Finding, error) {
	if b.URL.Scheme != "https" {
		return []domain.Finding{finding("no_tls",
			"target is served over plain HTTP", 15, b.URL.Scheme)}, nil
	}

	if b.TLS == nil {
		if !reach.Fetchable() {
			// nothing to assess for a target that never answered
			return nil, nil
		}

		return nil, errors.New("tls evidence missing")
	}

	now := b.CollectedAt
	if now.IsZero() {
		now = time.Now()
	}

	var findings []domain.Finding

	if b.TLS.Expired(now) {
		findings = append(findings, finding("cert_expired",
			"certificate is outside its validity window", 25,
			b.TLS.NotAfter.Format(time.DateOnly)))
	} else if b.TLS.RemainingValidity(now) < 14*24*time.Hour {
		findings = append(findings, finding("cert_expiring",
			"certificate expires within 14 days", 5,
			b.TLS.NotAfter.Format(time.DateOnly)))
	}

	if b.TLS.SelfSigned {
		findings = append(findings, finding("cert_self_signed",
			"certificate is self-signed", 20, b.TLS.Issuer))
	} else if !b.TLS.ChainValid {
		findings = append(findings, finding("cert_chain_invalid",
			"certificate chain does not verify against system roots", 15, b.TLS.Issuer))
	}

	if !b.TLS.HostnameMatch {
		findings = append(findings, finding("cert_hostname_mismatch",
			"certificate does not cover the target hostname", 20, b.TLS.Subject))
	}

	if b.TLS.Version != 0 && b.TLS.Version < tls.VersionTLS12 {
		findings = append(findings, finding("tls_version_obsolete",
			"negotiated TLS version predates 1.2", 10, ""))
	}

	return findings, nil
}

// securityHeaders every hardened site is expected to send.
var securityHeaders = []struct {
	header  string
	checkID string
	https   bool
}{
	{header: "Content-Security-Policy", checkID: "missing_csp"},
	{header: "X-Frame-Options", checkID: "missing_frame_options"},
	{header: "X-Content-Type-Options", checkID: "missing_content_type_options"},
	{header: "Strict-Transport-Security", checkID: "missing_hsts", https: true},
}

// checkSecurityHeaders scores absent hardening headers on the final response.
func checkSecurityHeaders(b *evidence.Bundle, _ domain.Reachability) ([]domain.Finding, error) {
	if b.Page == nil {
		return nil, errors.New("page evidence missing")
	}

	var findings []domain.Finding
	for _, h := range securityHeaders {
		if h.https && b.URL.Scheme != "https" {
			continue
		}
		if b.Page.ResponseHeaders[h.header] == "" {
			findings = append(findings, finding(h.checkID,
				h.header+" header not set", 5, ""))
		}
	}

	return findings, nil
}
