// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metatmpl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mediapress/internal/configres"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
)

func sampleInput() Input {
	return Input{
		DisplayName: "ML Seminar",
		SourceName:  "Main Room",
		Topics: []model.Topic{
			{Title: "Gradient descent basics", StartS: 0, EndS: 600},
			{Title: "Break", StartS: 600, EndS: 1200, Break: true},
			{Title: "Regularization tricks", StartS: 1200, EndS: 2400},
			{Title: "Q and A", StartS: 2400, EndS: 3000},
		},
		DurationS:   95 * 60,
		RecordTime:  time.Date(2024, 12, 25, 18, 30, 45, 0, time.UTC),
		PublishTime: time.Date(2025, 1, 2, 9, 5, 0, 0, time.UTC),
		Locale:      "en",
		Display: configres.TopicsDisplay{
			Enabled:           true,
			Format:            "numbered_list",
			IncludeTimestamps: false,
		},
	}
}

func TestVerbatimPlaceholders(t *testing.T) {
	in := sampleInput()
	assert.Equal(t, "ML Seminar — Main Room", Render("{display_name} — {source_name}", in))
}

func TestUnknownPlaceholderPreserved(t *testing.T) {
	in := sampleInput()
	assert.Equal(t, "x {nope} y ML Seminar", Render("x {nope} y {display_name}", in))
	assert.Equal(t, "{record_time_}", Render("{record_time_}", in))
}

func TestThemes(t *testing.T) {
	in := sampleInput()
	// Break entries never count as themes; default cap is 3.
	assert.Equal(t, "Gradient descent basics, Regularization tricks, Q and A", Render("{themes}", in))

	in.ThemesMax = 1
	assert.Equal(t, "Gradient descent basics", Render("{themes}", in))
}

func TestTopicFirstTitle(t *testing.T) {
	in := sampleInput()
	assert.Equal(t, "Gradient descent basics", Render("{topic}", in))

	assert.Equal(t, "", Render("{topic}", Input{Display: in.Display}))
}

func TestTopicsFormats(t *testing.T) {
	in := sampleInput()

	tests := []struct {
		name    string
		display configres.TopicsDisplay
		want    string
	}{
		{
			"numbered list",
			configres.TopicsDisplay{Format: "numbered_list"},
			"1. Gradient descent basics\n2. Regularization tricks\n3. Q and A",
		},
		{
			"bullet list",
			configres.TopicsDisplay{Format: "bullet_list"},
			"• Gradient descent basics\n• Regularization tricks\n• Q and A",
		},
		{
			"dash list",
			configres.TopicsDisplay{Format: "dash_list"},
			"- Gradient descent basics\n- Regularization tricks\n- Q and A",
		},
		{
			"comma separated",
			configres.TopicsDisplay{Format: "comma_separated"},
			"Gradient descent basics, Regularization tricks, Q and A",
		},
		{
			"inline with separator",
			configres.TopicsDisplay{Format: "inline", Separator: " | "},
			"Gradient descent basics | Regularization tricks | Q and A",
		},
		{
			"timestamps",
			configres.TopicsDisplay{Format: "numbered_list", IncludeTimestamps: true},
			"1. 00:00:00 — Gradient descent basics\n2. 00:20:00 — Regularization tricks\n3. 00:40:00 — Q and A",
		},
		{
			"max count and prefix",
			configres.TopicsDisplay{Format: "dash_list", MaxCount: 2, Prefix: "Topics:\n"},
			"Topics:\n- Gradient descent basics\n- Regularization tricks",
		},
		{
			"length filter",
			configres.TopicsDisplay{Format: "comma_separated", MinLength: 10},
			"Gradient descent basics, Regularization tricks",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in.Display = tc.display
			require.Equal(t, tc.want, Render("{topics}", in))
		})
	}
}

func TestDurationHumanised(t *testing.T) {
	tests := []struct {
		locale    string
		durationS int64
		want      string
	}{
		{"en", 95 * 60, "1h 35m"},
		{"en", 45 * 60, "45m"},
		{"ru", 95 * 60, "1ч 35м"},
		{"ru-RU", 185 * 60, "3ч 5м"},
		{"de", 60 * 60, "1h 0m"},
	}
	for _, tc := range tests {
		in := sampleInput()
		in.Locale = tc.locale
		in.DurationS = tc.durationS
		assert.Equal(t, tc.want, Render("{duration}", in), "locale %s", tc.locale)
	}
}

func TestTimeTokens(t *testing.T) {
	in := sampleInput()

	tests := []struct {
		tmpl string
		want string
	}{
		{"{record_time:DD.MM.YYYY}", "25.12.2024"},
		{"{record_time:YYYY-MM-DD hh:mm:ss}", "2024-12-25 18:30:45"},
		{"{record_time:DD.MM.YY}", "25.12.24"},
		{"{record_time:date}", "25.12.2024"},
		{"{record_time:time}", "18:30"},
		{"{record_time:datetime}", "25.12.2024 18:30"},
		{"{record_time}", "25.12.2024 18:30"},
		{"{publish_time:date}", "02.01.2025"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Render(tc.tmpl, in), tc.tmpl)
	}
}

func TestTimeInTenantTimezone(t *testing.T) {
	in := sampleInput()
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	in.Location = loc
	// 18:30 UTC is 21:30 in Moscow.
	assert.Equal(t, "21:30", Render("{record_time:time}", in))
}
