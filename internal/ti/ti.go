// Package ti implements the threat-intelligence layer: parallel lookups
// against external reputation feeds, each guarded by its own circuit breaker
// and cached per source, aggregated into a bounded score. Two or more tier-1
// hits inside the gate window let the pipeline skip the ML stages entirely.
package ti

import (
	"context"
)

// Target carries the identifiers a source may key its lookup on.
type Target struct {
	// URL is the canonical URL string.
	URL string
	// Host is the URL hostname.
	Host string
	// RegistrableDomain is the eTLD+1 of the host.
	RegistrableDomain string
	// IPs are the resolved addresses, when probing resolved any.
	IPs []string
}

// Verdict is a source's answer about a target.
type Verdict string

const (
	// VerdictHit means the source knows the target as malicious.
	VerdictHit Verdict = "hit"
	// VerdictMiss means the source has no record of the target.
	VerdictMiss Verdict = "miss"
)

// Source is one external reputation feed. Implementations must be safe for
// concurrent use; an error return counts against the source's breaker.
//
//go:generate mockgen -package mockti -source=ti.go -destination=mock/mockti.go *
type Source interface {
	// Name identifies the source, e.g. "urlhaus".
	Name() string
	// Lookup queries the feed for the target.
	Lookup(ctx context.Context, target Target) (Verdict, error)
}
