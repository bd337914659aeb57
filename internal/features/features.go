// Package features turns the evidence bundle plus the category and
// threat-intelligence outputs into the deterministic feature vector consumed
// by the ML stages: lexical URL statistics, tabular numerics, and the causal
// boolean signals the combiner applies boosts for.
package features

import (
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"urlrisk/internal/category"
	"urlrisk/internal/evidence"
	"urlrisk/pkg/domain"
)

// Lexical holds string-level statistics of the URL.
type Lexical struct {
	// Tokens are the lower-cased alphanumeric tokens of the full URL.
	Tokens []string `json:"tokens"`
	// HostBigrams are the character bigrams of the hostname.
	HostBigrams []string `json:"hostBigrams"`
	// Length is the full URL length in bytes.
	Length int `json:"length"`
	// Entropy is the Shannon entropy of the URL string in bits per character.
	Entropy float64 `json:"entropy"`
	// DigitRatio and SpecialRatio are the shares of digits and of
	// non-alphanumeric characters in the URL.
	DigitRatio   float64 `json:"digitRatio"`
	SpecialRatio float64 `json:"specialRatio"`
	// SubdomainDepth counts host labels beyond the registrable domain.
	SubdomainDepth int `json:"subdomainDepth"`
}

// Tabular holds the numeric features. Unknown values are -1 so models can
// distinguish "absent" from "zero".
type Tabular struct {
	// DomainAgeDays is the registration age; -1 when WHOIS gave no date.
	DomainAgeDays float64 `json:"domainAgeDays"`
	// TLSScore grades the certificate posture in [0,1]; -1 without TLS evidence.
	TLSScore float64 `json:"tlsScore"`
	// DNSHealth is the DNS completeness grade in [0,1]; -1 without DNS evidence.
	DNSHealth float64 `json:"dnsHealth"`
	// TIHitCount and TIScore summarize the reputation lookups.
	TIHitCount int     `json:"tiHitCount"`
	TIScore    float64 `json:"tiScore"`
	// RedirectCount is the number of redirect hops followed. The recorded
	// chain starts with the requested URL, so a direct fetch counts as zero.
	RedirectCount int `json:"redirectCount"`
	// ExternalDomainCount counts distinct third-party domains on the page.
	ExternalDomainCount int `json:"externalDomainCount"`
	// CategoryRatio is the base category score over the active maximum.
	CategoryRatio float64 `json:"categoryRatio"`
}

// Causal holds the boolean high-value signals.
type Causal struct {
	// FormOriginMismatch: a password form submits to another registrable domain.
	FormOriginMismatch bool `json:"formOriginMismatch"`
	// BrandInfraDivergence: a known brand is referenced while the registrable
	// domain is not the brand's.
	BrandInfraDivergence bool `json:"brandInfraDivergence"`
	// HomoglyphRedirect: the redirect chain terminates in a domain that is a
	// character-confusable of a known brand.
	HomoglyphRedirect bool `json:"homoglyphRedirect"`
	// AutoDownload: the page triggers a file download on load.
	AutoDownload bool `json:"autoDownload"`
	// TombstoneOrSinkhole: the target is seized, taken down, or sinkholed.
	TombstoneOrSinkhole bool `json:"tombstoneOrSinkhole"`
	// DualTier1Hits: two or more tier-1 reputation sources report a hit.
	DualTier1Hits bool `json:"dualTier1Hits"`
}

// Vector is the full feature vector. Derived, read-only, rebuilt per scan.
type Vector struct {
	Lexical Lexical `json:"lexical"`
	Tabular Tabular `json:"tabular"`
	Causal  Causal  `json:"causal"`
	// FreeText aggregates the page language for the text-persuasion model.
	FreeText string `json:"freeText"`
}

// Inputs gathers everything the extractor reads.
type Inputs struct {
	Bundle       *evidence.Bundle
	Reachability domain.Reachability
	Categories   []domain.CategoryResult
	BaseScore    int
	ActiveMax    int
	TISources    []domain.TISourceResult
	TIScore      float64
	// GateWindow bounds how recent tier-1 hits must be for DualTier1Hits.
	GateWindow time.Duration
	Now        time.Time
}

const freeTextLimit = 4000

var alnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// Extract builds the feature vector. Pure and deterministic: equal inputs
// always produce equal vectors.
func Extract(in Inputs) *Vector {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}

	v := &Vector{
		Lexical: lexical(in.Bundle),
		Tabular: tabular(in),
		Causal:  causal(in),
	}
	v.FreeText = freeText(in.Bundle)

	return v
}

func lexical(b *evidence.Bundle) Lexical {
	raw := b.URL.String()
	host := strings.ToLower(b.URL.Hostname())

	lex := Lexical{
		Tokens:  splitTokens(raw),
		Length:  len(raw),
		Entropy: shannonEntropy(raw),
	}

	var digits, special int
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case (r < 'a' || r > 'z') && (r < 'A' || r > 'Z'):
			special++
		}
	}
	if len(raw) > 0 {
		lex.DigitRatio = float64(digits) / float64(len(raw))
		lex.SpecialRatio = float64(special) / float64(len(raw))
	}

	for i := 0; i+2 <= len(host); i++ {
		lex.HostBigrams = append(lex.HostBigrams, host[i:i+2])
	}

	regLabels := strings.Count(b.RegistrableDomain, ".") + 1
	if depth := strings.Count(host, ".") + 1 - regLabels; depth > 0 {
		lex.SubdomainDepth = depth
	}

	return lex
}

func tabular(in Inputs) Tabular {
	b := in.Bundle

	tab := Tabular{
		DomainAgeDays: -1,
		TLSScore:      -1,
		DNSHealth:     -1,
		TIScore:       in.TIScore,
		RedirectCount: redirectHops(in.Reachability.RedirectChain),
	}

	if age, known := b.DomainAge(in.Now); known {
		tab.DomainAgeDays = age.Hours() / 24
	}
	if b.TLS != nil {
		tab.TLSScore = tlsScore(b.TLS, in.Now)
	}
	if b.DNS != nil {
		tab.DNSHealth = b.DNS.HealthScore()
	}
	if b.Page != nil {
		tab.ExternalDomainCount = len(b.Page.ExternalDomains)
	}

	for _, r := range in.TISources {
		if r.Verdict == domain.TIVerdictHit {
			tab.TIHitCount++
		}
	}

	if in.ActiveMax > 0 {
		tab.CategoryRatio = float64(in.BaseScore) / float64(in.ActiveMax)
	}

	return tab
}

func causal(in Inputs) Causal {
	b := in.Bundle

	c := Causal{
		TombstoneOrSinkhole: in.Reachability.Tombstone ||
			in.Reachability.State == domain.ReachabilitySinkhole,
	}

	if b.Page != nil {
		c.AutoDownload = b.Page.AutoDownload
		for _, f := range b.Page.Forms {
			if f.HasPassword && f.ExternalOrigin {
				c.FormOriginMismatch = true

				break
			}
		}
	}

	c.BrandInfraDivergence = brandDivergence(b)
	c.HomoglyphRedirect = homoglyphTerminus(in.Reachability.RedirectChain)

	tier1 := 0
	for _, r := range in.TISources {
		if r.Verdict == domain.TIVerdictHit && r.Tier == 1 &&
			(in.GateWindow <= 0 || in.Now.Sub(r.ObservedAt) <= in.GateWindow) {
			tier1++
		}
	}
	c.DualTier1Hits = tier1 >= 2

	return c
}

// brandDivergence reports a brand reference in the URL or page title without
// the registrable domain belonging to that brand.
func brandDivergence(b *evidence.Bundle) bool {
	haystack := b.URL.String()
	if b.Page != nil {
		haystack += " " + b.Page.Title
	}
	toks := splitTokens(haystack)
	domToks := splitTokens(b.RegistrableDomain)

	for _, brand := range category.BrandKeywords() {
		if containsString(toks, brand) && !containsString(domToks, brand) {
			return true
		}
	}

	return false
}

// confusableReplacer folds the common homoglyph substitutions back to their
// canonical letters.
var confusableReplacer = strings.NewReplacer(
	"0", "o", "1", "l", "3", "e", "5", "s", "7", "t",
	"rn", "m", "vv", "w", "cl", "d",
)

// redirectHops counts actual redirects in a recorded chain, which is seeded
// with the requested URL.
func redirectHops(chain []string) int {
	if len(chain) <= 1 {
		return 0
	}

	return len(chain) - 1
}

// homoglyphTerminus reports whether the final redirect hop lands on a domain
// that spells a known brand only after folding confusable characters.
func homoglyphTerminus(chain []string) bool {
	if len(chain) == 0 {
		return false
	}

	last, err := url.Parse(chain[len(chain)-1])
	if err != nil {
		return false
	}
	host := strings.ToLower(last.Hostname())

	reg := host
	if r, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		reg = r
	}
	label := strings.SplitN(reg, ".", 2)[0]

	for _, brand := range category.BrandKeywords() {
		if label == brand {
			// exact brand domains are handled by TI and trust checks
			continue
		}
		if confusableReplacer.Replace(label) == brand {
			return true
		}
	}

	return false
}

func tlsScore(info *evidence.CertInfo, now time.Time) float64 {
	score := 1.0
	if info.Expired(now) {
		score -= 0.5
	}
	if info.SelfSigned {
		score -= 0.3
	} else if !info.ChainValid {
		score -= 0.2
	}
	if !info.HostnameMatch {
		score -= 0.3
	}
	if score < 0 {
		score = 0
	}

	return score
}

func freeText(b *evidence.Bundle) string {
	if b.Page == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(b.Page.Title)
	sb.WriteString("\n")
	sb.WriteString(b.Page.Text)

	text := sb.String()
	if len(text) > freeTextLimit {
		text = text[:freeTextLimit]
	}

	return text
}

func splitTokens(s string) []string {
	var out []string
	for _, tok := range alnumRe.Split(strings.ToLower(s), -1) {
		if tok != "" {
			out = append(out, tok)
		}
	}

	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}

	freq := map[rune]int{}
	total := 0
	for _, r := range s {
		freq[r]++
		total++
	}

	var entropy float64
	for _, n := range freq {
		p := float64(n) / float64(total)
		entropy -= p * math.Log2(p)
	}

	return entropy
}
