package ti

import (
	"context"
	"errors"
	"net"
	"strings"

	"urlrisk/internal/config"
)

// dnsbl queries a DNS blocklist zone. A listed domain resolves to a 127.0.0.x
// answer under the zone; NXDOMAIN means not listed. Grounded on the Spamhaus
// DBL and SURBL query conventions.
type dnsbl struct {
	name     string
	zone     string
	resolver *net.Resolver
}

func newDNSBL(cfg config.TISource, defaultZone string) *dnsbl {
	zone := defaultZone
	if cfg.Endpoint != "" {
		zone = cfg.Endpoint
	}

	return &dnsbl{
		name:     cfg.Name,
		zone:     zone,
		resolver: net.DefaultResolver,
	}
}

func (s *dnsbl) Name() string { return s.name }

func (s *dnsbl) Lookup(ctx context.Context, target Target) (Verdict, error) {
	query := target.RegistrableDomain + "." + s.zone

	ips, err := s.resolver.LookupIP(ctx, "ip4", query)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return VerdictMiss, nil
		}

		return VerdictMiss, err
	}

	// blocklists answer inside 127.0.0.0/8; anything else is usually a
	// wildcard or an error page from an intercepting resolver
	for _, ip := range ips {
		if strings.HasPrefix(ip.String(), "127.") {
			return VerdictHit, nil
		}
	}

	return VerdictMiss, nil
}
