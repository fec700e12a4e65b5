package linkcheck

import (
	"net/url"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func TestClassifyKinds(t *testing.T) {
	cases := []struct {
		raw  string
		kind URLKind
	}{
		{"https://example.com/page", KindHTTP},
		{"http://example.com", KindHTTP},
		{"example.com/docs", KindHTTP},
		{"mailto:reviewer@example.mil", KindMailto},
		{"mailto:not-an-address", KindInvalid},
		{`\\fileserver\share\doc.pdf`, KindUNCPath},
		{"file:///C:/docs/report.pdf", KindFilePath},
		{`C:\docs\report.pdf`, KindFilePath},
		{"#section-3.2", KindInternalRef},
		{"", KindInvalid},
		{"not a url at all", KindInvalid},
	}
	for _, tc := range cases {
		got := Classify(tc.raw)
		if got.Kind != tc.kind {
			t.Errorf("Classify(%q).Kind = %q, want %q", tc.raw, got.Kind, tc.kind)
		}
	}
}

func TestClassifyNormalization(t *testing.T) {
	c := Classify("Example.COM/page#frag")
	if c.Kind != KindHTTP {
		t.Fatalf("expected http kind, got %q (%s)", c.Kind, c.Problem)
	}
	if c.Normalized != "https://example.com/page" {
		t.Errorf("Normalized = %q, want https scheme, lowercase host, no fragment", c.Normalized)
	}
	if c.Host != "example.com" {
		t.Errorf("Host = %q", c.Host)
	}
}

func TestClassifyFragmentStripSharesDedupKey(t *testing.T) {
	a := Classify("https://example.com/page#top")
	b := Classify("https://example.com/page#bottom")
	if a.Normalized != b.Normalized {
		t.Errorf("fragments should not split dedup keys: %q vs %q", a.Normalized, b.Normalized)
	}
}

func TestIsInternalDomain(t *testing.T) {
	internal := []string{
		"docs.army.mil",
		"intranet.af.mil",
		"agency.gov",
		"team.sharepoint.com",
		"intelink.example.org",
	}
	for _, h := range internal {
		if !IsInternalDomain(h) {
			t.Errorf("IsInternalDomain(%q) = false, want true", h)
		}
	}
	public := []string{"example.com", "golang.org", "governance.example.net"}
	for _, h := range public {
		if IsInternalDomain(h) {
			t.Errorf("IsInternalDomain(%q) = true, want false", h)
		}
	}
}

func TestDomainCategory(t *testing.T) {
	cases := map[string]string{
		"docs.army.mil":      "military",
		"agency.gov":         "government",
		"team.sharepoint.com": "corporate",
		"cs.school.edu":      "education",
		"example.com":        "public",
	}
	for host, want := range cases {
		if got := DomainCategory(host); got != want {
			t.Errorf("DomainCategory(%q) = %q, want %q", host, got, want)
		}
	}
}

func TestScreenSuspicious(t *testing.T) {
	res := &ValidationResult{URL: "http://192.168.1.50/admin"}
	c := Classify(res.URL)
	u := mustParse(t, c.Normalized)
	screenSuspicious(res, u)
	if !res.IsSuspicious {
		t.Fatal("IP-literal host should be flagged suspicious")
	}

	clean := &ValidationResult{URL: "https://example.com/page"}
	cu := mustParse(t, "https://example.com/page")
	screenSuspicious(clean, cu)
	if clean.IsSuspicious {
		t.Errorf("plain URL flagged suspicious: %v", clean.SuspiciousReasons)
	}
}
