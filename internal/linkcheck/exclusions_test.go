package linkcheck

import "testing"

func TestExclusionMatcherDispositions(t *testing.T) {
	m := NewExclusionMatcher([]ExclusionRule{
		{Pattern: "legacy.example.com", PatternType: "domain", Disposition: TreatAsValid, Reason: "decommissioned but documented"},
		{Pattern: "/draft/", PatternType: "substring", Disposition: SkipSilently},
		{Pattern: `^https://archive\.example\.com/\d{4}/`, PatternType: "regex", Disposition: TreatAsValid},
	})

	valid := &ValidationResult{URL: "https://legacy.example.com/manual"}
	if !m.Apply(valid) {
		t.Fatal("domain rule did not match")
	}
	if valid.Status != StatusWorking || !valid.Excluded {
		t.Errorf("treat_as_valid rule: Status=%s Excluded=%v", valid.Status, valid.Excluded)
	}
	if valid.ExclusionReason != "decommissioned but documented" {
		t.Errorf("ExclusionReason = %q", valid.ExclusionReason)
	}

	skipped := &ValidationResult{URL: "https://example.com/draft/wip.html"}
	if !m.Apply(skipped) {
		t.Fatal("substring rule did not match")
	}
	if skipped.Status != StatusSkipped {
		t.Errorf("skip_silently rule: Status=%s", skipped.Status)
	}

	regex := &ValidationResult{URL: "https://archive.example.com/2019/spec.pdf"}
	if !m.Apply(regex) {
		t.Fatal("regex rule did not match")
	}

	unmatched := &ValidationResult{URL: "https://example.com/current/spec.pdf"}
	if m.Apply(unmatched) {
		t.Error("rule matched a URL it should not")
	}
}

func TestExclusionMatcherBadRegexDropped(t *testing.T) {
	m := NewExclusionMatcher([]ExclusionRule{
		{Pattern: "([unclosed", PatternType: "regex", Disposition: SkipSilently},
		{Pattern: "ok.example.com", PatternType: "domain", Disposition: SkipSilently},
	})
	if len(m.rules) != 1 {
		t.Errorf("expected the bad regex rule to be dropped, have %d rules", len(m.rules))
	}
}

func TestExclusionSubdomainSuffix(t *testing.T) {
	m := NewExclusionMatcher([]ExclusionRule{
		{Pattern: "example.com", PatternType: "domain", Disposition: SkipSilently},
	})
	if m.Match("https://sub.example.com/a", "sub.example.com") == nil {
		t.Error("subdomain did not match domain rule")
	}
	if m.Match("https://notexample.com/a", "notexample.com") != nil {
		t.Error("suffix match must respect label boundaries")
	}
}
