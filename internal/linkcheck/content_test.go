package linkcheck

import (
	"strings"
	"testing"
)

func TestScanPageLoginForm(t *testing.T) {
	body := `<html><head><title>Sign In</title></head><body>
		<h1>Sign in to your account</h1>
		<form><input type="text" name="user"><input type="password" name="pw"></form>
	</body></html>`
	scan := ScanPage(strings.NewReader(body))
	if !scan.HasPasswordField {
		t.Error("password field not detected")
	}
	if scan.LoginPhrase == "" {
		t.Error("login phrase not detected")
	}
	if !scan.IsLoginPage() {
		t.Error("IsLoginPage() = false for a login form")
	}
}

func TestScanPageSoft404(t *testing.T) {
	body := `<html><head><title>Oops</title></head><body>
		<p>The requested URL was not found on this server.</p>
	</body></html>`
	scan := ScanPage(strings.NewReader(body))
	if !scan.IsSoft404() {
		t.Error("IsSoft404() = false for a not-found body")
	}
}

func TestScanPageNormalContent(t *testing.T) {
	body := `<html><head><title>Maintenance Manual</title></head><body>
		<p>Refer to chapter 4 for torque specifications.</p>
		<script>var notFound = "page not found";</script>
	</body></html>`
	scan := ScanPage(strings.NewReader(body))
	if scan.IsLoginPage() {
		t.Error("normal page classified as login")
	}
	if scan.IsSoft404() {
		t.Error("script text should not trigger soft-404 detection")
	}
	if scan.Title != "maintenance manual" {
		t.Errorf("Title = %q", scan.Title)
	}
}

func TestScanPageTruncatedHTML(t *testing.T) {
	body := `<html><head><title>Partial</ti`
	scan := ScanPage(strings.NewReader(body))
	if scan.IsLoginPage() || scan.IsSoft404() {
		t.Error("truncated HTML should classify as neither login nor soft-404")
	}
}

func TestIsLoginChain(t *testing.T) {
	hops := []string{
		"https://example.mil/doc",
		"https://login.microsoftonline.com/authorize?client_id=x",
		"https://example.mil/doc?code=y",
	}
	if !IsLoginChain("https://example.mil/doc?code=y", hops) {
		t.Error("SSO hop in the middle of the chain not detected")
	}
	if IsLoginChain("https://example.com/page", []string{"https://example.com/other"}) {
		t.Error("plain redirect chain flagged as login")
	}
}

func TestLooksLikeDownload(t *testing.T) {
	cases := []struct {
		contentType string
		disposition string
		want        bool
	}{
		{"application/pdf", "", true},
		{"application/vnd.ms-excel", "", true},
		{"text/html; charset=utf-8", "", false},
		{"text/html", `attachment; filename="report.html"`, true},
		{"application/json", "", false},
		{"image/png", "", true},
		{"", "", false},
	}
	for _, tc := range cases {
		if got := looksLikeDownload(tc.contentType, tc.disposition); got != tc.want {
			t.Errorf("looksLikeDownload(%q, %q) = %v, want %v", tc.contentType, tc.disposition, got, tc.want)
		}
	}
}
