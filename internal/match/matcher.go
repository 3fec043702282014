// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package match binds incoming recordings to templates by ordered
// first-match rule evaluation.
package match

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/mediapress/internal/cache"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// Matcher evaluates template rules. Compiled regex patterns are cached;
// the cache key includes the pattern text so rule edits take effect
// immediately.
type Matcher struct {
	patterns cache.Cache
}

// New builds a matcher with the given pattern cache (nil disables caching).
func New(c cache.Cache) *Matcher {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	return &Matcher{patterns: c}
}

// Bind selects at most one template for the recording: templates ordered
// by priority descending then creation time ascending, first template
// with any matching rule wins. Draft templates never participate.
func (m *Matcher) Bind(rec *model.Recording, sourceType string, templates []model.Template) (string, bool) {
	ordered := make([]model.Template, 0, len(templates))
	for _, tpl := range templates {
		if tpl.State == model.TemplateActive {
			ordered = append(ordered, tpl)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	for _, tpl := range ordered {
		rules := append([]model.MatchRule(nil), tpl.Rules...)
		sort.SliceStable(rules, func(i, j int) bool {
			return rules[i].Priority > rules[j].Priority
		})
		for _, rule := range rules {
			if m.ruleMatches(rule, rec, sourceType) {
				return tpl.ID, true
			}
		}
	}
	return "", false
}

func (m *Matcher) ruleMatches(rule model.MatchRule, rec *model.Recording, sourceType string) bool {
	if rule.SourceType != "" && rule.SourceType != sourceType {
		return false
	}
	if rule.SourceID != "" && rule.SourceID != rec.SourceID {
		return false
	}

	name := rec.DisplayName
	switch rule.MatchType {
	case model.MatchExact:
		return name == rule.Pattern
	case model.MatchContains:
		return strings.Contains(strings.ToLower(name), strings.ToLower(rule.Pattern))
	case model.MatchRegex:
		re, err := m.compile(rule.Pattern)
		if err != nil {
			// An invalid pattern never matches; validation catches it at
			// rule-edit time.
			return false
		}
		return re.MatchString(name)
	}
	return false
}

// ValidateRule rejects malformed rules at edit time.
func ValidateRule(rule model.MatchRule) error {
	if rule.Pattern == "" {
		return xerr.E(xerr.KindValidation, "empty rule pattern")
	}
	switch rule.MatchType {
	case model.MatchExact, model.MatchContains:
		return nil
	case model.MatchRegex:
		if _, err := regexp.Compile(anchor(rule.Pattern)); err != nil {
			return xerr.Wrap(xerr.KindValidation, "invalid regex pattern", err)
		}
		return nil
	}
	return xerr.Ef(xerr.KindValidation, "unknown match_type %q", rule.MatchType)
}

func (m *Matcher) compile(pattern string) (*regexp.Regexp, error) {
	key := "match:re:" + pattern
	if v, ok := m.patterns.Get(key); ok {
		if re, ok := v.(*regexp.Regexp); ok {
			return re, nil
		}
	}
	re, err := regexp.Compile(anchor(pattern))
	if err != nil {
		return nil, err
	}
	m.patterns.Set(key, re, time.Hour)
	return re, nil
}

// anchor forces full-string matching; redundant anchors inside the
// pattern are harmless.
func anchor(pattern string) string {
	return "^(?:" + pattern + ")$"
}
