package category

import (
	"regexp"
	"strings"
)

// Keyword lists shared across checks. Matching is done on lower-cased tokens
// split at non-alphanumeric boundaries, never on raw substrings, so that
// short brand tokens like "td" do not fire inside unrelated words.
var (
	freeHostingProviders = []string{
		"000webhostapp.com", "freehostia.com", "freehosting.com",
		"infinityfree.net", "byethost", "weebly.com", "wordpress.com",
		"blogspot.com", "github.io", "netlify.app", "vercel.app",
		"wixsite.com", "webnode.com", "yolasite.com", "webs.com",
	}

	brandKeywords = []string{
		"paypal", "amazon", "microsoft", "apple", "google",
		"norton", "mcafee", "chase", "bank", "cibc", "td", "rbc",
	}

	financialKeywords = []string{
		"bank", "banking", "payment", "wallet", "invoice", "billing",
		"refund", "transfer", "creditcard", "visa", "mastercard", "interac",
	}

	phishingPathKeywords = []string{
		"login", "signin", "verify", "secure", "account",
		"update", "confirm", "banking", "password",
	}

	urgencyPhrases = []string{
		"act now", "immediately", "urgent", "within 24 hours",
		"limited time", "expires soon", "right away", "final notice",
	}
	authorityPhrases = []string{
		"security team", "fraud department", "account services",
		"customer protection", "official notice", "support center",
	}
	fearPhrases = []string{
		"account suspended", "account locked", "unauthorized access",
		"unusual activity", "will be closed", "has been compromised",
		"permanently disabled", "legal action",
	}
	credentialPhrases = []string{
		"verify your account", "confirm your identity", "update your payment",
		"re-enter your password", "confirm your password", "validate your account",
	}
	identityPhrases = []string{
		"social security", "social insurance", "date of birth",
		"driver's license", "passport number", "mother's maiden name",
		"security question",
	}

	tokenSplitRe       = regexp.MustCompile(`[^a-z0-9]+`)
	executableExtRe    = regexp.MustCompile(`(?i)\.(exe|msi|scr|bat|cmd|apk|dmg|jar|vbs|ps1)([?#]|$)`)
	impersonatedTLDRe  = regexp.MustCompile(`^.+-(com|net|org|co|io|gov|edu)$`)
	suspiciousSchemeRe = regexp.MustCompile(`(?i)(javascript|data|vbscript):`)
	obfuscationRe      = regexp.MustCompile(`(?i)(eval\s*\(|unescape\s*\(|fromCharCode|atob\s*\(|document\.write\s*\(\s*unescape)`)
)

// BrandKeywords returns the impersonation-prone brand tokens shared with the
// feature extractor.
func BrandKeywords() []string {
	return brandKeywords
}

// tokens splits s into lower-cased alphanumeric tokens.
func tokens(s string) []string {
	return tokenSplitRe.Split(strings.ToLower(s), -1)
}

// containsToken reports whether any token of s equals any of the keywords,
// and returns the first match.
func containsToken(s string, keywords []string) (string, bool) {
	for _, tok := range tokens(s) {
		for _, kw := range keywords {
			if tok == kw {
				return kw, true
			}
		}
	}

	return "", false
}

// matchTokens returns every keyword that appears as a token of s.
func matchTokens(s string, keywords []string) []string {
	var matched []string
	toks := tokens(s)
	for _, kw := range keywords {
		for _, tok := range toks {
			if tok == kw {
				matched = append(matched, kw)

				break
			}
		}
	}

	return matched
}

// containsPhrase reports whether the lower-cased text contains any of the
// phrases, and returns the first match.
func containsPhrase(text string, phrases []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return p, true
		}
	}

	return "", false
}

// countPhrases counts how many distinct phrases occur in the text.
func countPhrases(text string, phrases []string) int {
	lower := strings.ToLower(text)
	var n int
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			n++
		}
	}

	return n
}

// freeHostingMatch reports whether the hostname sits on a known free-hosting
// provider and which one.
func freeHostingMatch(hostname string) (string, bool) {
	lower := strings.ToLower(hostname)
	for _, provider := range freeHostingProviders {
		if strings.Contains(lower, provider) {
			return provider, true
		}
	}

	return "", false
}
