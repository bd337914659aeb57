package category

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"urlrisk/internal/evidence"
	"urlrisk/pkg/domain"
)

// checkPhishingPatterns scores classic credential-phishing construction:
// brand impersonation in the URL, punycode domains, and credential-harvest
// language around login forms. URL-level checks apply to every target.
func checkPhishingPatterns(b *evidence.Bundle, _ domain.Reachability) ([]domain.Finding, error) {
	var findings []domain.Finding

	brands := matchTokens(b.URL.String(), brandKeywords)
	if _, branded := containsToken(b.RegistrableDomain, brandKeywords); !branded && len(brands) > 0 {
		if len(matchTokens(b.URL.Path, phishingPathKeywords)) > 0 {
			findings = append(findings, finding("brand_with_phishing_path",
				"brand reference combined with credential-flow path keywords", 20,
				strings.Join(brands, ",")))
		}
	}

	if strings.Contains(b.RegistrableDomain, "xn--") {
		findings = append(findings, finding("punycode_domain",
			"registrable domain uses punycode", 15, b.RegistrableDomain))
	}

	if b.Page != nil {
		if b.Page.HasLoginForm && len(brands) > 0 && !strings.Contains(b.RegistrableDomain, brands[0]) {
			findings = append(findings, finding("branded_login_form",
				fmt.Sprintf("login form on a page referencing %q outside its domain", brands[0]),
				25, strings.Join(brands, ",")))
		}
		if phrase, ok := containsPhrase(b.Page.Text, credentialPhrases); ok {
			findings = append(findings, finding("credential_harvest_language",
				"page asks the visitor to re-verify credentials", 15, phrase))
		}
	}

	return findings, nil
}

// checkFinancialFraud scores payment-themed lures: financial keywords on
// low-trust infrastructure and payment requests posting off-origin.
func checkFinancialFraud(b *evidence.Bundle, _ domain.Reachability) ([]domain.Finding, error) {
	var findings []domain.Finding

	if matched := matchTokens(b.URL.String(), financialKeywords); len(matched) > 0 {
		lowTrust := false
		if _, free := freeHostingMatch(b.URL.Hostname()); free {
			lowTrust = true
		}
		if age, known := b.DomainAge(time.Now()); known && age < 90*24*time.Hour {
			lowTrust = true
		}
		if lowTrust {
			findings = append(findings, finding("financial_lure_low_trust",
				"payment-themed URL on young or free-hosted infrastructure", 15,
				strings.Join(matched, ",")))
		}
	}

	if b.Page != nil {
		mentionsPayment := countPhrases(b.Page.Text,
			[]string{"card number", "credit card", "cvv", "billing information"}) > 0
		if mentionsPayment {
			for _, f := range b.Page.Forms {
				if f.ExternalOrigin {
					findings = append(findings, finding("payment_form_off_origin",
						"payment details requested by an off-origin form", 10, f.Action))

					break
				}
			}
		}
	}

	return findings, nil
}

// checkIdentityTheft scores collection of government-ID grade personal data.
func checkIdentityTheft(b *evidence.Bundle, _ domain.Reachability) ([]domain.Finding, error) {
	var findings []domain.Finding

	if matched := matchTokens(b.URL.Path, []string{"ssn", "sin", "taxrefund", "identity"}); len(matched) > 0 {
		findings = append(findings, finding("identity_keywords_in_url",
			"URL path references identity documents", 5, strings.Join(matched, ",")))
	}

	if b.Page != nil {
		if phrase, ok := containsPhrase(b.Page.Text, identityPhrases); ok {
			points := 10
			if len(b.Page.Forms) > 0 {
				points = 20
			}
			findings = append(findings, finding("identity_data_collection",
				"page solicits government-ID grade personal data", points, phrase))
		}
	}

	return findings, nil
}

// checkDataProtection scores credential and payment transport hygiene.
func checkDataProtection(b *evidence.Bundle, reach domain.Reachability) ([]domain.Finding, error) {
	if b.Page == nil {
		if reach.Fetchable() {
			return nil, errors.New("page evidence missing")
		}

		return nil, nil
	}

	var findings []domain.Finding

	for _, f := range b.Page.Forms {
		if f.HasPassword && b.URL.Scheme != "https" {
			findings = append(findings, finding("credentials_over_http",
				"password form served over plain HTTP", 15, ""))

			break
		}
	}
	for _, f := range b.Page.Forms {
		if f.HasPassword && strings.HasPrefix(strings.ToLower(f.Action), "http://") {
			findings = append(findings, finding("credentials_posted_insecurely",
				"password form submits over plain HTTP", 15, f.Action))

			break
		}
	}

	return findings, nil
}

// checkEmailSecurity scores sender-policy posture of the domain: SPF and
// DMARC presence and strictness. Depends on DNS evidence.
func checkEmailSecurity(b *evidence.Bundle, _ domain.Reachability) ([]domain.Finding, error) {
	if b.DNS == nil {
		return nil, errors.New("dns evidence missing")
	}

	var findings []domain.Finding

	if b.DNS.SPF == "" {
		findings = append(findings, finding("missing_spf",
			"domain publishes no SPF record", 10, ""))
	} else if !strings.Contains(b.DNS.SPF, "-all") {
		findings = append(findings, finding("permissive_spf",
			"SPF record does not hard-fail unauthorized senders", 5, b.DNS.SPF))
	}

	if b.DNS.DMARC == "" {
		findings = append(findings, finding("missing_dmarc",
			"domain publishes no DMARC policy", 10, ""))
	} else if strings.Contains(strings.ToLower(b.DNS.DMARC), "p=none") {
		findings = append(findings, finding("dmarc_monitor_only",
			"DMARC policy is monitor-only", 5, b.DNS.DMARC))
	}

	return findings, nil
}

// complianceLinks name the pages a legitimate commercial site links to.
var complianceLinks = []struct {
	keyword string
	checkID string
}{
	{keyword: "privacy", checkID: "no_privacy_policy"},
	{keyword: "terms", checkID: "no_terms_of_service"},
	{keyword: "contact", checkID: "no_contact_page"},
}

// checkLegalCompliance scores the absence of the legal boilerplate every
// legitimate commercial site carries. Only meaningful when the page solicits
// data; a brochure page without forms is not penalized.
func checkLegalCompliance(b *evidence.Bundle, reach domain.Reachability) ([]domain.Finding, error) {
	if b.Page == nil {
		if reach.Fetchable() {
			return nil, errors.New("page evidence missing")
		}

		return nil, nil
	}
	if len(b.Page.Forms) == 0 {
		return nil, nil
	}

	var findings []domain.Finding
	for _, cl := range complianceLinks {
		found := false
		for _, link := range b.Page.Links {
			if strings.Contains(strings.ToLower(link), cl.keyword) {
				found = true

				break
			}
		}
		if !found {
			findings = append(findings, finding(cl.checkID,
				"data-collecting page without a "+cl.keyword+" link", 5, ""))
		}
	}

	return findings, nil
}
