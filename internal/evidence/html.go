package evidence

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"urlrisk/internal/probe"
)

// Form describes one HTML form on the page.
type Form struct {
	// Action is the resolved absolute submit URL.
	Action string
	// Method is the upper-cased HTTP method, GET when unspecified.
	Method string
	// HasPassword marks forms containing a password input.
	HasPassword bool
	// ExternalOrigin marks forms whose action resolves to a different
	// registrable domain than the page.
	ExternalOrigin bool
}

// PageSummary is the structured digest of the fetched document used by the
// scoring categories and the feature extractor.
type PageSummary struct {
	// Title is the document title.
	Title string
	// Forms lists every form element.
	Forms []Form
	// ScriptSrcs lists external script URLs.
	ScriptSrcs []string
	// InlineScript concatenates inline script bodies.
	InlineScript string
	// Links lists resolved anchor targets.
	Links []string
	// ExternalDomains is the sorted-insertion set of registrable domains other
	// than the page's own referenced by links, scripts, images or form actions.
	ExternalDomains []string
	// MetaRefresh holds the meta-refresh target when present.
	MetaRefresh string
	// AutoDownload marks pages that trigger a file download on load.
	AutoDownload bool
	// HiddenIframes counts iframes hidden via size or style.
	HiddenIframes int
	// Text is the visible text content, whitespace-collapsed.
	Text string
	// HasLoginForm marks the presence of a password form.
	HasLoginForm bool
	// ResponseHeaders preserves the final response headers for header checks.
	ResponseHeaders map[string]string
}

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	metaRefreshRe = regexp.MustCompile(`(?i)^\s*\d+\s*;\s*url\s*=\s*(.+)$`)
	downloadExtRe = regexp.MustCompile(`(?i)\.(exe|msi|scr|bat|cmd|apk|dmg|jar|vbs|ps1)([?#]|$)`)
)

// SummarizePage parses the fetched document into a PageSummary.
func SummarizePage(page *probe.Page) (*PageSummary, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("could not parse HTML: %w", err)
	}

	base, err := url.Parse(page.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse final URL: %w", err)
	}
	pageDomain := registrable(base.Hostname())

	s := &PageSummary{
		Title:           strings.TrimSpace(doc.Find("title").First().Text()),
		ResponseHeaders: map[string]string{},
	}
	for k := range page.Header {
		s.ResponseHeaders[k] = page.Header.Get(k)
	}

	externals := map[string]struct{}{}
	addExternal := func(u *url.URL) {
		d := registrable(u.Hostname())
		if d == "" || d == pageDomain {
			return
		}
		if _, ok := externals[d]; !ok {
			externals[d] = struct{}{}
			s.ExternalDomains = append(s.ExternalDomains, d)
		}
	}
	resolve := func(ref string) *url.URL {
		u, err := url.Parse(strings.TrimSpace(ref))
		if err != nil {
			return nil
		}

		return base.ResolveReference(u)
	}

	// forms
	doc.Find("form").Each(func(_ int, sel *goquery.Selection) {
		f := Form{Method: "GET"}
		if m, ok := sel.Attr("method"); ok && m != "" {
			f.Method = strings.ToUpper(m)
		}
		f.HasPassword = sel.Find(`input[type="password"]`).Length() > 0
		if action, ok := sel.Attr("action"); ok {
			if u := resolve(action); u != nil {
				f.Action = u.String()
				f.ExternalOrigin = registrable(u.Hostname()) != "" && registrable(u.Hostname()) != pageDomain
				if f.ExternalOrigin {
					addExternal(u)
				}
			}
		}
		if f.HasPassword {
			s.HasLoginForm = true
		}
		s.Forms = append(s.Forms, f)
	})

	// scripts
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok && src != "" {
			if u := resolve(src); u != nil {
				s.ScriptSrcs = append(s.ScriptSrcs, u.String())
				addExternal(u)
			}

			return
		}
		s.InlineScript += sel.Text() + "\n"
	})

	// links and other referenced resources
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		u := resolve(href)
		if u == nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		s.Links = append(s.Links, u.String())
		addExternal(u)
		if _, auto := sel.Attr("download"); auto && downloadExtRe.MatchString(u.String()) {
			s.AutoDownload = true
		}
	})
	doc.Find("img[src], iframe[src], link[href]").Each(func(_ int, sel *goquery.Selection) {
		ref, ok := sel.Attr("src")
		if !ok {
			ref, _ = sel.Attr("href")
		}
		if u := resolve(ref); u != nil {
			addExternal(u)
		}
	})

	// meta refresh; an immediate refresh to a binary counts as auto-download
	doc.Find(`meta[http-equiv]`).Each(func(_ int, sel *goquery.Selection) {
		if equiv, _ := sel.Attr("http-equiv"); !strings.EqualFold(equiv, "refresh") {
			return
		}
		content, _ := sel.Attr("content")
		if m := metaRefreshRe.FindStringSubmatch(content); m != nil {
			s.MetaRefresh = strings.Trim(m[1], `'"`)
			if downloadExtRe.MatchString(s.MetaRefresh) {
				s.AutoDownload = true
			}
		}
	})

	// hidden iframes
	doc.Find("iframe").Each(func(_ int, sel *goquery.Selection) {
		w, _ := sel.Attr("width")
		h, _ := sel.Attr("height")
		style, _ := sel.Attr("style")
		styleLower := strings.ToLower(style)
		if w == "0" || h == "0" ||
			strings.Contains(styleLower, "display:none") || strings.Contains(styleLower, "display: none") ||
			strings.Contains(styleLower, "visibility:hidden") || strings.Contains(styleLower, "visibility: hidden") {
			s.HiddenIframes++
		}
	})

	// JS-triggered downloads of binaries on load
	if downloadExtRe.MatchString(s.InlineScript) &&
		(strings.Contains(s.InlineScript, "location.href") ||
			strings.Contains(s.InlineScript, "window.location") ||
			strings.Contains(s.InlineScript, ".click()")) {
		s.AutoDownload = true
	}
	if cd := page.Header.Get("Content-Disposition"); strings.HasPrefix(strings.ToLower(cd), "attachment") {
		s.AutoDownload = true
	}

	// visible text
	doc.Find("script, style, noscript").Remove()
	s.Text = whitespaceRe.ReplaceAllString(strings.TrimSpace(doc.Find("body").Text()), " ")

	return s, nil
}

// registrable returns the eTLD+1 for a hostname, or the hostname itself when
// the public-suffix list cannot split it (IP literals, single labels).
func registrable(host string) string {
	if host == "" {
		return ""
	}
	if reg, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return reg
	}

	return host
}
