package category

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"urlrisk/internal/evidence"
	"urlrisk/pkg/domain"
)

// checkContent scores structural anomalies of the fetched document: forms
// submitting off-origin, hidden iframes, cross-domain meta refresh, and
// credential forms on near-empty pages.
func checkContent(b *evidence.Bundle, _ domain.Reachability) ([]domain.Finding, error) {
	if b.Page == nil {
		return nil, errors.New("page evidence missing")
	}

	var findings []domain.Finding

	for _, f := range b.Page.Forms {
		if f.ExternalOrigin && f.HasPassword {
			findings = append(findings, finding("form_origin_mismatch",
				"password form submits to a different origin", 15, f.Action))

			break
		}
	}

	if b.Page.HiddenIframes > 0 {
		findings = append(findings, finding("hidden_iframes",
			fmt.Sprintf("%d hidden iframe(s)", b.Page.HiddenIframes), 10, ""))
	}

	if b.Page.MetaRefresh != "" {
		if target, err := url.Parse(b.Page.MetaRefresh); err == nil {
			if d := registrableOf(target.Hostname()); d != "" && d != b.RegistrableDomain {
				findings = append(findings, finding("meta_refresh_cross_domain",
					"meta refresh redirects to another domain", 10, b.Page.MetaRefresh))
			}
		}
	}

	if b.Page.HasLoginForm && len(b.Page.Text) < 100 {
		findings = append(findings, finding("bare_login_page",
			"credential form on a near-empty page", 10, ""))
	}

	return findings, nil
}

// checkBehavioral scores how the target behaves when visited: forced
// downloads and suspicious redirect chains.
func checkBehavioral(b *evidence.Bundle, reach domain.Reachability) ([]domain.Finding, error) {
	if b.Page == nil {
		return nil, errors.New("page evidence missing")
	}

	var findings []domain.Finding

	if b.Page.AutoDownload {
		findings = append(findings, finding("auto_download",
			"page triggers a file download on load", 20, ""))
	}

	if hops := len(reach.RedirectChain); hops > 4 {
		findings = append(findings, finding("long_redirect_chain",
			fmt.Sprintf("redirect chain of %d hops", hops), 10, ""))
	}

	if crossed := redirectDomains(reach.RedirectChain); len(crossed) > 2 {
		findings = append(findings, finding("cross_domain_redirects",
			"redirect chain crosses multiple domains", 10, strings.Join(crossed, " -> ")))
	}

	return findings, nil
}

// checkSocialEngineering scores manipulation language in the visible text:
// urgency, fabricated authority and fear framing.
func checkSocialEngineering(b *evidence.Bundle, _ domain.Reachability) ([]domain.Finding, error) {
	if b.Page == nil {
		return nil, errors.New("page evidence missing")
	}

	var findings []domain.Finding

	if phrase, ok := containsPhrase(b.Page.Text, urgencyPhrases); ok {
		findings = append(findings, finding("urgency_language",
			"page uses urgency pressure language", 10, phrase))
	}
	if phrase, ok := containsPhrase(b.Page.Text, fearPhrases); ok {
		findings = append(findings, finding("fear_language",
			"page uses fear or threat language", 10, phrase))
	}
	if phrase, ok := containsPhrase(b.Page.Text, authorityPhrases); ok {
		findings = append(findings, finding("authority_language",
			"page impersonates an authority or support team", 10, phrase))
	}

	return findings, nil
}

// checkMalware scores delivery indicators: executables in the URL or links
// and obfuscated scripts. URL checks also apply to unreachable targets.
func checkMalware(b *evidence.Bundle, reach domain.Reachability) ([]domain.Finding, error) {
	var findings []domain.Finding

	if executableExtRe.MatchString(b.URL.Path) {
		findings = append(findings, finding("executable_url",
			"URL points directly at an executable payload", 15, b.URL.Path))
	}

	if b.Page != nil {
		if b.Page.AutoDownload {
			findings = append(findings, finding("forced_payload_download",
				"page force-downloads a file", 15, ""))
		}
		for _, link := range b.Page.Links {
			if executableExtRe.MatchString(link) {
				findings = append(findings, finding("executable_links",
					"page links to executable payloads", 5, link))

				break
			}
		}
		if obfuscationRe.MatchString(b.Page.InlineScript) {
			findings = append(findings, finding("obfuscated_script",
				"inline script uses obfuscation primitives", 10, ""))
		}
	} else if reach.Fetchable() && len(findings) == 0 {
		return nil, errors.New("page evidence missing")
	}

	return findings, nil
}

// checkTechnicalExploits scores script-level attack surface: javascript/data
// URIs in references and heavy obfuscation.
func checkTechnicalExploits(b *evidence.Bundle, reach domain.Reachability) ([]domain.Finding, error) {
	if b.Page == nil {
		if reach.Fetchable() {
			return nil, errors.New("page evidence missing")
		}

		return nil, nil
	}

	var findings []domain.Finding

	for _, link := range b.Page.Links {
		if suspiciousSchemeRe.MatchString(link) {
			findings = append(findings, finding("script_uri_link",
				"link uses a script-scheme URI", 10, link))

			break
		}
	}

	if obfuscationRe.MatchString(b.Page.InlineScript) {
		findings = append(findings, finding("script_obfuscation",
			"inline script obfuscation detected", 10, ""))
	}

	if len(b.Page.InlineScript) > 50_000 {
		findings = append(findings, finding("oversized_inline_script",
			"unusually large inline script body", 5,
			fmt.Sprintf("%d bytes", len(b.Page.InlineScript))))
	}

	return findings, nil
}

// redirectDomains reduces a redirect chain to its ordered distinct
// registrable domains.
func redirectDomains(chain []string) []string {
	var out []string
	for _, raw := range chain {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		d := registrableOf(u.Hostname())
		if d == "" {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != d {
			out = append(out, d)
		}
	}

	return out
}

func registrableOf(host string) string {
	if host == "" {
		return ""
	}
	if reg, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return reg
	}

	return host
}
