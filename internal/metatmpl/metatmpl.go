// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metatmpl renders publish-metadata templates. The substitution
// contract for each placeholder is exact; unknown placeholders stay in
// the output verbatim so a typo is visible on the published page rather
// than silently swallowed.
package metatmpl

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/ManuGH/mediapress/internal/configres"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
)

// placeholderRe matches {name} and {name:fmt}.
var placeholderRe = regexp.MustCompile(`\{([a-z_]+)(?::([^{}]+))?\}`)

// Input carries everything a template can reference.
type Input struct {
	DisplayName string
	SourceName  string
	Topics      []model.Topic // detailed list, break entries included
	DurationS   int64
	RecordTime  time.Time
	PublishTime time.Time // now at upload moment
	Location    *time.Location
	Locale      string // "ru" renders duration as Xч Yм
	ThemesMax   int    // 0 means the default of 3
	Display     configres.TopicsDisplay
}

// Render substitutes every known placeholder in tmpl.
func Render(tmpl string, in Input) string {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(raw string) string {
		m := placeholderRe.FindStringSubmatch(raw)
		name, format := m[1], m[2]
		switch name {
		case "display_name":
			return in.DisplayName
		case "source_name":
			return in.SourceName
		case "themes":
			return renderThemes(in.Topics, in.ThemesMax)
		case "topics":
			return renderTopics(in.Topics, in.Display)
		case "topic":
			if t, ok := firstSpoken(in.Topics); ok {
				return t.Title
			}
			return ""
		case "duration":
			return humanDuration(in.DurationS, in.Locale)
		case "record_time":
			return renderTime(in.RecordTime.In(loc), format)
		case "publish_time":
			return renderTime(in.PublishTime.In(loc), format)
		}
		return raw
	})
}

func firstSpoken(topics []model.Topic) (model.Topic, bool) {
	for _, t := range topics {
		if !t.Break {
			return t, true
		}
	}
	return model.Topic{}, false
}

// renderThemes joins the first max spoken topic titles with ", ".
func renderThemes(topics []model.Topic, max int) string {
	if max <= 0 {
		max = 3
	}
	var titles []string
	for _, t := range topics {
		if t.Break {
			continue
		}
		titles = append(titles, t.Title)
		if len(titles) == max {
			break
		}
	}
	return strings.Join(titles, ", ")
}

func renderTopics(topics []model.Topic, d configres.TopicsDisplay) string {
	var items []string
	for _, t := range topics {
		if t.Break {
			continue
		}
		n := len([]rune(t.Title))
		if d.MinLength > 0 && n < d.MinLength {
			continue
		}
		if d.MaxLength > 0 && n > d.MaxLength {
			continue
		}
		item := t.Title
		if d.IncludeTimestamps {
			item = timestamp(t.StartS) + " — " + item
		}
		items = append(items, item)
		if d.MaxCount > 0 && len(items) == d.MaxCount {
			break
		}
	}
	if len(items) == 0 {
		return ""
	}

	var body string
	switch d.Format {
	case "bullet_list":
		body = joinPrefixed(items, "• ")
	case "dash_list":
		body = joinPrefixed(items, "- ")
	case "comma_separated":
		body = strings.Join(items, ", ")
	case "inline":
		sep := d.Separator
		if sep == "" {
			sep = ", "
		}
		body = strings.Join(items, sep)
	default: // numbered_list
		var b strings.Builder
		for i, item := range items {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%d. %s", i+1, item)
		}
		body = b.String()
	}
	return d.Prefix + body
}

func joinPrefixed(items []string, marker string) string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = marker + item
	}
	return strings.Join(out, "\n")
}

// timestamp renders whole seconds as HH:MM:SS.
func timestamp(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// localeMatcher resolves BCP 47 tags ("ru", "ru-RU", "ru-Cyrl") to the
// supported unit sets. Index 0 is the English fallback.
var localeMatcher = language.NewMatcher([]language.Tag{
	language.English,
	language.Russian,
})

// humanDuration renders minutes as "Xh Ym" ("Xч Yм" for Russian locales).
// The hour part is omitted below one hour.
func humanDuration(durationS int64, locale string) string {
	hUnit, mUnit := "h", "m"
	if _, idx := language.MatchStrings(localeMatcher, locale); idx == 1 {
		hUnit, mUnit = "ч", "м"
	}
	minutes := durationS / 60
	h, m := minutes/60, minutes%60
	if h == 0 {
		return fmt.Sprintf("%d%s", m, mUnit)
	}
	return fmt.Sprintf("%d%s %d%s", h, hUnit, m, mUnit)
}

// renderTime applies the inline fmt tokens. An empty fmt means datetime.
func renderTime(t time.Time, format string) string {
	if format == "" {
		format = "datetime"
	}
	// Named tokens expand to token strings before the token pass.
	format = strings.NewReplacer(
		"datetime", "DD.MM.YYYY hh:mm",
		"date", "DD.MM.YYYY",
		"time", "hh:mm",
	).Replace(format)

	return strings.NewReplacer(
		"YYYY", fmt.Sprintf("%04d", t.Year()),
		"YY", fmt.Sprintf("%02d", t.Year()%100),
		"DD", fmt.Sprintf("%02d", t.Day()),
		"MM", fmt.Sprintf("%02d", int(t.Month())),
		"hh", fmt.Sprintf("%02d", t.Hour()),
		"mm", fmt.Sprintf("%02d", t.Minute()),
		"ss", fmt.Sprintf("%02d", t.Second()),
	).Replace(format)
}
