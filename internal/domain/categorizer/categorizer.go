// Package categorizer matches transaction descriptions against
// user-authored merchant rules to rename payees and assign categories.
//
// Matching rules:
//   - Every rule whose pattern matches the description is a candidate
//   - The highest Priority wins; ties go to the rule registered first
//   - No match returns the raw description as payee with confidence 0
//
// The matcher only reports what matched and how confident it is. Whether a
// low-confidence category is applied is the caller's decision.
//
// Example usage:
//
//	rules, err := categorizer.Compile(merchantRules)
//	m := categorizer.NewMatcher(rules)
//	match := m.Match("SQ *BLUE BOTTLE 1234")
//	if match.Matched() && match.Confidence >= threshold {
//		categoryID = match.CategoryID
//	}
package categorizer

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

// Match is the result of evaluating a description against a rule set
type Match struct {
	Rule       *model.MerchantRule `json:"rule,omitempty"`
	PayeeName  string              `json:"payee_name"`
	CategoryID string              `json:"category_id,omitempty"`
	Confidence float64             `json:"confidence"`
}

// Matched reports whether any rule matched
func (m Match) Matched() bool {
	return m.Rule != nil
}

// RuleName returns the matched rule's name, or "" when nothing matched
func (m Match) RuleName() string {
	if m.Rule == nil {
		return ""
	}
	if m.Rule.Name != "" {
		return m.Rule.Name
	}
	return m.Rule.Pattern
}

type compiledRule struct {
	rule    model.MerchantRule
	pattern string
	re      *regexp.Regexp
}

// matchedText returns the part of description the rule matched. A regex
// may match the empty string, so ok is reported separately.
func (c *compiledRule) matchedText(description, upperDescription string) (text string, ok bool) {
	if c.re != nil {
		loc := c.re.FindStringIndex(description)
		if loc == nil {
			return "", false
		}
		return description[loc[0]:loc[1]], true
	}
	if strings.Contains(upperDescription, c.pattern) {
		return c.pattern, true
	}
	return "", false
}

// RuleSet is an ordered, validated list of merchant rules
type RuleSet struct {
	rules []compiledRule
}

// Compile validates rules and precompiles their predicates. Registration
// order is preserved for tie-breaking.
func Compile(rules []model.MerchantRule) (*RuleSet, error) {
	rs := &RuleSet{rules: make([]compiledRule, 0, len(rules))}
	for i, rule := range rules {
		if strings.TrimSpace(rule.Pattern) == "" {
			return nil, model.NewSyncError(model.ErrorConfiguration,
				fmt.Sprintf("merchant rule %d (%q) has an empty pattern", i, rule.Name), nil)
		}
		if rule.Confidence < 0 || rule.Confidence > 1 {
			return nil, model.NewSyncError(model.ErrorConfiguration,
				fmt.Sprintf("merchant rule %q confidence %.2f outside [0,1]", rule.Name, rule.Confidence), nil)
		}

		cr := compiledRule{rule: rule}
		if rule.IsRegex {
			re, err := regexp.Compile("(?i)" + rule.Pattern)
			if err != nil {
				return nil, model.NewSyncError(model.ErrorConfiguration,
					fmt.Sprintf("merchant rule %q has an invalid pattern", rule.Name), err)
			}
			cr.re = re
		} else {
			cr.pattern = strings.ToUpper(strings.TrimSpace(rule.Pattern))
		}
		rs.rules = append(rs.rules, cr)
	}
	return rs, nil
}

// Len returns the number of rules
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Match evaluates all rules against description
func (rs *RuleSet) Match(description string) Match {
	noMatch := Match{PayeeName: description}
	if rs == nil || strings.TrimSpace(description) == "" {
		return noMatch
	}

	upper := strings.ToUpper(description)
	var best *compiledRule
	var bestText string
	for i := range rs.rules {
		cr := &rs.rules[i]
		text, ok := cr.matchedText(description, upper)
		if !ok {
			continue
		}
		// strictly greater keeps the earliest rule on ties
		if best == nil || cr.rule.Priority > best.rule.Priority {
			best = cr
			bestText = text
		}
	}

	if best == nil {
		return noMatch
	}

	rule := best.rule
	return Match{
		Rule:       &rule,
		PayeeName:  rule.PayeeName,
		CategoryID: rule.CategoryID,
		Confidence: confidence(rule, bestText, description),
	}
}

// confidence uses the rule's explicit confidence when set, otherwise how
// much of the description the matched text covers.
func confidence(rule model.MerchantRule, matched, description string) float64 {
	if rule.Confidence > 0 {
		return rule.Confidence
	}
	return 0.5 + 0.5*similarity(matched, description)
}

// similarity is 1 - normalized edit distance, case-insensitive
func similarity(a, b string) float64 {
	a, b = strings.ToUpper(strings.TrimSpace(a)), strings.ToUpper(strings.TrimSpace(b))
	maxLen := utf8.RuneCountInString(a)
	if l := utf8.RuneCountInString(b); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

// Matcher evaluates descriptions against one rule set. Results are
// memoized per description for the matcher's lifetime, which is one run.
// Safe for concurrent use.
type Matcher struct {
	rules *RuleSet

	mu   sync.Mutex
	memo map[string]Match
}

// NewMatcher creates a matcher over rules
func NewMatcher(rules *RuleSet) *Matcher {
	return &Matcher{
		rules: rules,
		memo:  make(map[string]Match),
	}
}

// Match returns the best rule match for description
func (m *Matcher) Match(description string) Match {
	m.mu.Lock()
	cached, found := m.memo[description]
	m.mu.Unlock()
	if found {
		return cached
	}

	result := m.rules.Match(description)

	m.mu.Lock()
	m.memo[description] = result
	m.mu.Unlock()
	return result
}
