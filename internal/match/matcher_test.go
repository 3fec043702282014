// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mediapress/internal/cache"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
)

func tpl(id string, prio int, created time.Time, rules ...model.MatchRule) model.Template {
	return model.Template{
		ID:        id,
		TenantID:  "t-1",
		Name:      id,
		State:     model.TemplateActive,
		Priority:  prio,
		Rules:     rules,
		CreatedAt: created,
	}
}

func rule(mt model.MatchType, pattern string) model.MatchRule {
	return model.MatchRule{MatchType: mt, Pattern: pattern}
}

func rec(name string) *model.Recording {
	return &model.Recording{ID: "rec-1", TenantID: "t-1", SourceID: "src-1", DisplayName: name}
}

func TestRuleMatchTypes(t *testing.T) {
	m := New(cache.NewMemoryCache(0))
	t0 := time.Now()

	tests := []struct {
		name    string
		rule    model.MatchRule
		display string
		want    bool
	}{
		{"exact hit", rule(model.MatchExact, "ML Lecture 3"), "ML Lecture 3", true},
		{"exact is case sensitive", rule(model.MatchExact, "ml lecture 3"), "ML Lecture 3", false},
		{"contains is case insensitive", rule(model.MatchContains, "lecture"), "ML Lecture 3", true},
		{"contains miss", rule(model.MatchContains, "seminar"), "ML Lecture 3", false},
		{"regex is anchored", rule(model.MatchRegex, `ML Lecture \d+`), "ML Lecture 3", true},
		{"regex partial does not match", rule(model.MatchRegex, `Lecture`), "ML Lecture 3", false},
		{"invalid regex never matches", rule(model.MatchRegex, `([`), "ML Lecture 3", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := m.Bind(rec(tc.display), "conferencing", []model.Template{tpl("tpl-1", 0, t0, tc.rule)})
			require.Equal(t, tc.want, ok)
		})
	}
}

func TestSourceConstraints(t *testing.T) {
	m := New(nil)
	t0 := time.Now()

	r := rule(model.MatchContains, "standup")
	r.SourceType = "conferencing"
	r.SourceID = "src-1"
	templates := []model.Template{tpl("tpl-1", 0, t0, r)}

	_, ok := m.Bind(rec("Daily Standup"), "conferencing", templates)
	require.True(t, ok)

	_, ok = m.Bind(rec("Daily Standup"), "cloud_drive", templates)
	require.False(t, ok, "source_type mismatch must not match")

	other := rec("Daily Standup")
	other.SourceID = "src-2"
	_, ok = m.Bind(other, "conferencing", templates)
	require.False(t, ok, "source_id mismatch must not match")
}

func TestFirstMatchOrdering(t *testing.T) {
	m := New(nil)
	t0 := time.Now()

	templates := []model.Template{
		tpl("low", 1, t0, rule(model.MatchContains, "lecture")),
		tpl("high", 9, t0.Add(time.Hour), rule(model.MatchContains, "lecture")),
		tpl("older-same-prio", 9, t0, rule(model.MatchContains, "lecture")),
	}

	id, ok := m.Bind(rec("ML Lecture 3"), "conferencing", templates)
	require.True(t, ok)
	require.Equal(t, "older-same-prio", id, "priority desc, then creation asc")
}

func TestDraftTemplatesExcluded(t *testing.T) {
	m := New(nil)
	draft := tpl("draft", 10, time.Now(), rule(model.MatchContains, "lecture"))
	draft.State = model.TemplateDraft

	_, ok := m.Bind(rec("ML Lecture 3"), "conferencing", []model.Template{draft})
	require.False(t, ok)
}

func TestBindIsDeterministic(t *testing.T) {
	m := New(cache.NewMemoryCache(0))
	t0 := time.Now()
	templates := []model.Template{
		tpl("a", 5, t0, rule(model.MatchRegex, `Sprint .*`)),
		tpl("b", 5, t0.Add(time.Minute), rule(model.MatchRegex, `Sprint Review`)),
	}

	first, ok := m.Bind(rec("Sprint Review"), "conferencing", templates)
	require.True(t, ok)
	second, ok2 := m.Bind(rec("Sprint Review"), "conferencing", templates)
	require.True(t, ok2)
	require.Equal(t, first, second, "rematch must be idempotent")
}

func TestValidateRule(t *testing.T) {
	require.NoError(t, ValidateRule(rule(model.MatchExact, "x")))
	require.NoError(t, ValidateRule(rule(model.MatchRegex, `\d+`)))
	require.Error(t, ValidateRule(rule(model.MatchRegex, `([`)))
	require.Error(t, ValidateRule(rule(model.MatchExact, "")))
	require.Error(t, ValidateRule(model.MatchRule{MatchType: "glob", Pattern: "*"}))
}
