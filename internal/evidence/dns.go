package evidence

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// DNSRecords holds the record set collected for the target host and its
// registrable domain. Slices are nil when the corresponding lookup failed or
// returned nothing; SPF and DMARC are parsed out of TXT records.
type DNSRecords struct {
	A    []string
	AAAA []string
	MX   []string
	NS   []string
	TXT  []string
	// SPF is the v=spf1 record of the registrable domain, empty when absent.
	SPF string
	// DMARC is the _dmarc TXT record, empty when absent.
	DMARC string
}

// HealthScore grades DNS completeness in [0,1]: address records, mail setup,
// delegation and sender policies each contribute.
func (r *DNSRecords) HealthScore() float64 {
	if r == nil {
		return 0
	}
	var score float64
	if len(r.A) > 0 || len(r.AAAA) > 0 {
		score += 0.4
	}
	if len(r.NS) > 0 {
		score += 0.2
	}
	if len(r.MX) > 0 {
		score += 0.2
	}
	if r.SPF != "" {
		score += 0.1
	}
	if r.DMARC != "" {
		score += 0.1
	}

	return score
}

// ResolveRecords collects A/AAAA/MX/NS/TXT records plus SPF and DMARC.
// Individual lookup failures leave their fields empty; only a fully failed
// address resolution is reported as an error.
func ResolveRecords(ctx context.Context, host, registrableDomain string) (*DNSRecords, error) {
	r := &DNSRecords{}
	resolver := net.DefaultResolver

	if ips, err := resolver.LookupIP(ctx, "ip4", host); err == nil {
		for _, ip := range ips {
			r.A = append(r.A, ip.String())
		}
	}
	if ips, err := resolver.LookupIP(ctx, "ip6", host); err == nil {
		for _, ip := range ips {
			r.AAAA = append(r.AAAA, ip.String())
		}
	}
	if len(r.A) == 0 && len(r.AAAA) == 0 {
		return nil, fmt.Errorf("could not resolve any address for %s", host)
	}

	if mxs, err := resolver.LookupMX(ctx, registrableDomain); err == nil {
		for _, mx := range mxs {
			r.MX = append(r.MX, strings.TrimSuffix(mx.Host, "."))
		}
	}
	if nss, err := resolver.LookupNS(ctx, registrableDomain); err == nil {
		for _, ns := range nss {
			r.NS = append(r.NS, strings.TrimSuffix(ns.Host, "."))
		}
	}
	if txts, err := resolver.LookupTXT(ctx, registrableDomain); err == nil {
		r.TXT = txts
		for _, txt := range txts {
			if strings.HasPrefix(strings.ToLower(txt), "v=spf1") {
				r.SPF = txt

				break
			}
		}
	}
	if dmarc, err := resolver.LookupTXT(ctx, "_dmarc."+registrableDomain); err == nil {
		for _, txt := range dmarc {
			if strings.HasPrefix(strings.ToLower(txt), "v=dmarc1") {
				r.DMARC = txt

				break
			}
		}
	}

	return r, nil
}
