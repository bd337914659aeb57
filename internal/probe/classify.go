package probe

import (
	"net/http"
	"strings"

	"urlrisk/pkg/domain"
)

// defaultSinkholeIPs lists addresses commonly used to null-route or sinkhole
// seized domains. The operator extends this per deployment via configuration.
var defaultSinkholeIPs = []string{ //nolint: gochecknoglobals
	"146.112.61.106", // OpenDNS block page
	"199.2.137.0",    // Microsoft sinkhole
}

// parkedSignatures are page fragments typical of domain-parking landers.
var parkedSignatures = []string{ //nolint: gochecknoglobals
	"this domain is for sale",
	"buy this domain",
	"domain is parked",
	"parked free, courtesy of",
	"sedoparking.com",
	"parkingcrew.net",
	"domain parking",
	"hugedomains.com",
	"is parked with godaddy",
	"afternic.com",
}

// wafSignatures identify bot-protection interstitials rather than origin content.
var wafSignatures = []string{ //nolint: gochecknoglobals
	"checking your browser before accessing",
	"attention required! | cloudflare",
	"cf-browser-verification",
	"just a moment...",
	"ddos protection by",
	"請稍候", // some challenge pages localize aggressively
	"enable javascript and cookies to continue",
	"request unsuccessful. incapsula incident",
	"perimeterx",
	"are you a robot",
}

// tombstoneSignatures mark seizure and takedown notices.
var tombstoneSignatures = []string{ //nolint: gochecknoglobals
	"this domain has been seized",
	"this website has been seized",
	"seized by the federal bureau of investigation",
	"domain seized by law enforcement",
	"this site has been blocked by court order",
	"account suspended",
	"this website is no longer available",
}

// classify applies the priority order parked > WAF challenge > online to a
// fetched page; sinkhole and offline are decided earlier from DNS/TCP.
// Tombstone is reported independently: a tombstone page is still ONLINE but
// triggers a hard policy override downstream.
func classify(status int, header http.Header, body string) (domain.ReachabilityState, bool) {
	lower := strings.ToLower(body)

	tombstone := containsAny(lower, tombstoneSignatures)

	if containsAny(lower, parkedSignatures) {
		return domain.ReachabilityParked, tombstone
	}

	// WAF interstitials: the signature match, or a 403/503 from a known
	// challenge vendor header.
	if containsAny(lower, wafSignatures) {
		return domain.ReachabilityWAFChallenge, tombstone
	}
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		server := strings.ToLower(header.Get("Server"))
		if strings.Contains(server, "cloudflare") || header.Get("cf-ray") != "" ||
			header.Get("x-sucuri-id") != "" || strings.Contains(server, "ddos-guard") {
			return domain.ReachabilityWAFChallenge, tombstone
		}
	}

	return domain.ReachabilityOnline, tombstone
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}

	return false
}
