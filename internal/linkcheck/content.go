package linkcheck

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Login-page markers. URL-path markers cover the big SSO providers;
// body markers catch branded login forms served with a 200.
// English-only; a known limitation carried over from the tool this
// engine replaces.
var loginURLMarkers = []string{
	"/adfs/ls",
	"/adfs/oauth2",
	"login.microsoftonline.com",
	"login.live.com",
	"login.okta.com",
	"sts.",
	"/_login/",
	"/_layouts/15/authenticate",
	"/_layouts/authenticate",
	"/siteminderagent/",
	"/sso/",
	"/saml2/",
	"/oauth2/authorize",
	"/cas/login",
	"/signin",
	"/sign-in",
	"/login?",
	"/login/",
	"returnurl=",
	"redirect_uri=",
}

var loginBodyPhrases = []string{
	"sign in to your account",
	"sign in with your organizational account",
	"smart card log in",
	"insert your cac",
	"piv authentication",
	"single sign-on",
	"enter your password",
	"forgot your password",
	"authentication required",
}

// Soft-404 phrases: a 200 whose body says otherwise. English-only by design.
var soft404Phrases = []string{
	"page not found",
	"page cannot be found",
	"404 not found",
	"404 error",
	"this page doesn't exist",
	"this page does not exist",
	"the requested url was not found",
	"the resource you are looking for",
	"document not found",
	"file not found",
	"content no longer available",
	"has been moved or deleted",
	"we couldn't find that page",
	"we can't find the page",
	"sorry, nothing at this address",
	"item does not exist",
	"it may have been deleted",
}

// IsLoginURL reports whether a URL (final URL or a redirect Location hop)
// points at a known authentication/SSO endpoint.
func IsLoginURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, marker := range loginURLMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// IsLoginChain applies IsLoginURL across a redirect chain.
func IsLoginChain(finalURL string, hops []string) bool {
	if IsLoginURL(finalURL) {
		return true
	}
	for _, hop := range hops {
		if IsLoginURL(hop) {
			return true
		}
	}
	return false
}

// PageScan is the outcome of a single-pass body inspection.
type PageScan struct {
	HasPasswordField bool
	LoginPhrase      string
	Soft404Phrase    string
	Title            string
}

// IsLoginPage reports whether the scanned content is an authentication form
// rather than the requested resource. A password input together with a login
// phrase is conclusive; a password field alone on a page whose title
// mentions signing in also counts.
func (p PageScan) IsLoginPage() bool {
	if p.HasPasswordField && p.LoginPhrase != "" {
		return true
	}
	if p.HasPasswordField && containsAnyFold(p.Title, []string{"sign in", "log in", "login", "authenticate"}) {
		return true
	}
	return p.LoginPhrase != "" && containsAnyFold(p.Title, []string{"sign in", "log in", "login"})
}

// IsSoft404 reports whether the content claims the resource is missing.
func (p PageScan) IsSoft404() bool {
	if p.Soft404Phrase != "" {
		return true
	}
	return containsAnyFold(p.Title, []string{"page not found", "404", "not found"})
}

// ScanPage tokenizes an HTML body once, collecting the title, password
// inputs, and any login/soft-404 phrases from visible text. Tolerant of
// truncated or malformed HTML: it classifies whatever it managed to read.
func ScanPage(body io.Reader) PageScan {
	var scan PageScan
	z := html.NewTokenizer(body)
	var inTitle, inScriptOrStyle bool

	for {
		switch z.Next() {
		case html.ErrorToken:
			return scan

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := z.TagName()
			tag := string(tn)
			switch tag {
			case "title":
				inTitle = true
			case "script", "style":
				inScriptOrStyle = true
			case "input":
				if hasAttr && strings.EqualFold(tagAttr(z, "type"), "password") {
					scan.HasPasswordField = true
				}
			}

		case html.EndTagToken:
			tn, _ := z.TagName()
			switch string(tn) {
			case "title":
				inTitle = false
			case "script", "style":
				inScriptOrStyle = false
			}

		case html.TextToken:
			text := strings.ToLower(string(z.Text()))
			if inTitle {
				scan.Title += strings.TrimSpace(text)
				continue
			}
			if inScriptOrStyle || strings.TrimSpace(text) == "" {
				continue
			}
			if scan.LoginPhrase == "" {
				for _, phrase := range loginBodyPhrases {
					if strings.Contains(text, phrase) {
						scan.LoginPhrase = phrase
						break
					}
				}
			}
			if scan.Soft404Phrase == "" {
				for _, phrase := range soft404Phrases {
					if strings.Contains(text, phrase) {
						scan.Soft404Phrase = phrase
						break
					}
				}
			}
		}
	}
}

func tagAttr(z *html.Tokenizer, name string) string {
	for {
		key, val, more := z.TagAttr()
		if strings.EqualFold(string(key), name) {
			return string(val)
		}
		if !more {
			return ""
		}
	}
}

func containsAnyFold(s string, subs []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// looksLikeDownload reports whether a response is a file download rather
// than a renderable page.
func looksLikeDownload(contentType, disposition string) bool {
	if strings.HasPrefix(strings.ToLower(disposition), "attachment") {
		return true
	}
	ct := strings.ToLower(contentType)
	if ct == "" {
		return false
	}
	for _, prefix := range []string{"text/html", "text/plain", "application/xhtml", "application/json", "application/xml", "text/xml"} {
		if strings.HasPrefix(ct, prefix) {
			return false
		}
	}
	return strings.HasPrefix(ct, "application/") ||
		strings.HasPrefix(ct, "image/") ||
		strings.HasPrefix(ct, "audio/") ||
		strings.HasPrefix(ct, "video/") ||
		strings.HasPrefix(ct, "font/")
}
