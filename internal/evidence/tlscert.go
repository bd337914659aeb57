package evidence

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"time"
)

// CertInfo describes the leaf certificate served by the target.
type CertInfo struct {
	// Subject is the leaf subject common name.
	Subject string
	// Issuer is the issuing CA common name.
	Issuer string
	// DNSNames lists the SANs.
	DNSNames []string
	// NotBefore and NotAfter bound the validity window.
	NotBefore time.Time
	NotAfter  time.Time
	// SelfSigned marks certificates issued to themselves.
	SelfSigned bool
	// HostnameMatch reports whether the certificate covers the target host.
	HostnameMatch bool
	// ChainValid reports whether the chain verifies against system roots.
	ChainValid bool
	// Version is the negotiated TLS version, e.g. tls.VersionTLS13.
	Version uint16
}

// Expired reports whether the certificate is outside its validity window.
func (c *CertInfo) Expired(now time.Time) bool {
	return now.Before(c.NotBefore) || now.After(c.NotAfter)
}

// RemainingValidity returns time until expiry; negative when expired.
func (c *CertInfo) RemainingValidity(now time.Time) time.Duration {
	return c.NotAfter.Sub(now)
}

// DescribeTLS builds a CertInfo for the target. The connection state captured
// during probing is preferred; when absent (plain-HTTP probe upgraded by a
// redirect, or state not recorded) a fresh handshake is made. Verification
// failures are described, not returned as errors: a bad certificate is
// evidence, not a collection failure.
func DescribeTLS(ctx context.Context, target *url.URL, state *tls.ConnectionState) (*CertInfo, error) {
	host := target.Hostname()

	if state == nil {
		if target.Scheme != "https" {
			return nil, fmt.Errorf("no TLS on %s target", target.Scheme)
		}
		fresh, err := handshake(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("could not complete TLS handshake: %w", err)
		}
		state = fresh
	}

	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("no peer certificates presented")
	}
	leaf := state.PeerCertificates[0]

	info := &CertInfo{
		Subject:    leaf.Subject.CommonName,
		Issuer:     leaf.Issuer.CommonName,
		DNSNames:   leaf.DNSNames,
		NotBefore:  leaf.NotBefore,
		NotAfter:   leaf.NotAfter,
		SelfSigned: leaf.Subject.String() == leaf.Issuer.String(),
		Version:    state.Version,
	}
	info.HostnameMatch = leaf.VerifyHostname(host) == nil

	pool := x509.NewCertPool()
	for _, intermediate := range state.PeerCertificates[1:] {
		pool.AddCert(intermediate)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		DNSName:       host,
		Intermediates: pool,
		CurrentTime:   time.Now(),
	})
	info.ChainValid = err == nil

	return info, nil
}

// handshake dials the target with verification disabled so that invalid
// certificates can still be described.
func handshake(ctx context.Context, target *url.URL) (*tls.ConnectionState, error) {
	port := target.Port()
	if port == "" {
		port = "443"
	}

	dialer := &tls.Dialer{
		Config: &tls.Config{
			InsecureSkipVerify: true, //nolint: gosec
			ServerName:         target.Hostname(),
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(target.Hostname(), port))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = conn.Close()
	}()

	state := conn.(*tls.Conn).ConnectionState()

	return &state, nil
}
