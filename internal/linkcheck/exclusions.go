package linkcheck

import (
	"fmt"
	"log"
	"regexp"
	"strings"
)

// ExclusionMatcher evaluates user-supplied skip/allow rules against a URL
// before any network call. Rules are compiled once at construction and
// evaluated read-only from worker goroutines.
type ExclusionMatcher struct {
	rules []ExclusionRule
}

// NewExclusionMatcher compiles regex-typed rules up front. A rule whose
// pattern fails to compile is dropped with a warning rather than failing the
// whole run, matching how supplemental config is treated elsewhere.
func NewExclusionMatcher(rules []ExclusionRule) *ExclusionMatcher {
	m := &ExclusionMatcher{}
	for _, r := range rules {
		if r.Pattern == "" {
			continue
		}
		if r.PatternType == "" {
			r.PatternType = "substring"
		}
		if r.Disposition != TreatAsValid && r.Disposition != SkipSilently {
			r.Disposition = SkipSilently
		}
		if strings.EqualFold(r.PatternType, "regex") {
			compiled, err := regexp.Compile(r.Pattern)
			if err != nil {
				log.Printf("WARN: ExclusionMatcher: dropping rule with bad regex %q: %v", r.Pattern, err)
				continue
			}
			r.compiled = compiled
		}
		m.rules = append(m.rules, r)
	}
	return m
}

// Match returns the first rule matching the URL, or nil.
func (m *ExclusionMatcher) Match(rawURL, host string) *ExclusionRule {
	lowerURL := strings.ToLower(rawURL)
	lowerHost := strings.ToLower(host)
	for i := range m.rules {
		r := &m.rules[i]
		switch strings.ToLower(r.PatternType) {
		case "regex":
			if r.compiled != nil && r.compiled.MatchString(rawURL) {
				return r
			}
		case "domain":
			p := strings.ToLower(r.Pattern)
			if lowerHost == p || strings.HasSuffix(lowerHost, "."+strings.TrimPrefix(p, ".")) {
				return r
			}
		default: // substring
			if strings.Contains(lowerURL, strings.ToLower(r.Pattern)) {
				return r
			}
		}
	}
	return nil
}

// Apply stamps an exclusion verdict onto a result and returns true when the
// URL should not be checked further.
func (m *ExclusionMatcher) Apply(res *ValidationResult) bool {
	rule := m.Match(res.URL, hostOf(res.URL))
	if rule == nil {
		return false
	}
	res.Excluded = true
	res.ExclusionReason = rule.Reason
	if res.ExclusionReason == "" {
		res.ExclusionReason = fmt.Sprintf("matched exclusion pattern %q", rule.Pattern)
	}
	switch rule.Disposition {
	case TreatAsValid:
		res.Status = StatusWorking
		res.Message = "Excluded from checking; treated as valid"
	default:
		res.Status = StatusSkipped
		res.Message = "Excluded from checking"
	}
	return true
}
