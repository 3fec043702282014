// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/ManuGH/mediapress/internal/adapters"
	"github.com/ManuGH/mediapress/internal/configres"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
)

const (
	// breakGapS inserts a break entry where consecutive topics are this
	// far apart.
	breakGapS = 8 * 60.0
	// maxTopicSpanS splits topics longer than this into parts.
	maxTopicSpanS = 12 * 60.0

	minTopicCount = 10
	maxTopicCount = 30

	maxTitleWords = 7
	maxTitleChars = 150
)

// ExtractTopics runs the topic provider over the master transcript,
// normalizes the result and persists a new topics version. Versions are
// append-only; re-extraction never overwrites an earlier list.
func (d *Deps) ExtractTopics(ctx context.Context, t tenant.Context, rec *model.Recording, cfg configres.TranscriptionConfig) error {
	provider, err := d.Registry.Topics(model.PlatformTopics)
	if err != nil {
		return err
	}
	transcript, err := d.LoadTranscript(t, rec)
	if err != nil {
		return err
	}

	var raw []model.Topic
	err = retryTransient(ctx, d.Logger, "extract_topics", func() error {
		var err error
		raw, err = provider.ExtractTopics(ctx, t, adapters.TopicRequest{
			Transcript: transcript,
			Mode:       cfg.TopicMode,
			MinTopics:  desiredTopicCount(rec.DurationSeconds, minTopicCount),
			MaxTopics:  maxTopicCount,
		})
		return err
	})
	if err != nil {
		return err
	}

	topics := NormalizeTopics(raw, transcript.Duration())

	version := rec.TopicsVersion + 1
	path, err := d.Layout.TopicsFile(t.ID(), rec.ID, version)
	if err != nil {
		return err
	}
	if err := writeJSON(path, topics); err != nil {
		return err
	}
	rec.Topics = topics
	rec.TopicsVersion = version
	d.Logger.Info().
		Str("recording_id", rec.ID).
		Int("topics", len(topics)).
		Int("version", version).
		Msg("topics extracted")
	return nil
}

// desiredTopicCount scales the requested minimum with length: roughly
// one topic per five minutes, clamped to the global bounds.
func desiredTopicCount(durationSeconds int64, floor int) int {
	n := int(durationSeconds / (5 * 60))
	if n < floor {
		n = floor
	}
	if n > maxTopicCount {
		n = maxTopicCount
	}
	return n
}

// NormalizeTopics applies the house rules to a raw provider topic list:
// overlong titles are truncated, spans past the limit are split into
// parts, and breaks are inserted where the speech gaps.
func NormalizeTopics(raw []model.Topic, totalS float64) []model.Topic {
	var out []model.Topic
	var prevEnd float64
	for _, tp := range raw {
		if tp.Break {
			continue // the provider does not decide breaks
		}
		if tp.EndS > totalS && totalS > 0 {
			tp.EndS = totalS
		}
		if tp.EndS <= tp.StartS {
			continue
		}
		if len(out) > 0 && tp.StartS-prevEnd >= breakGapS {
			out = append(out, model.Topic{Break: true, StartS: prevEnd, EndS: tp.StartS})
		}
		tp.Title = normalizeTitle(tp.Title)
		out = append(out, splitLongSpan(tp)...)
		prevEnd = tp.EndS
	}
	return out
}

func normalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	words := strings.Fields(title)
	if len(words) > maxTitleWords {
		title = strings.Join(words[:maxTitleWords], " ") + "…"
	}
	if len([]rune(title)) > maxTitleChars {
		title = string([]rune(title)[:maxTitleChars-1]) + "…"
	}
	return title
}

// splitLongSpan divides an overlong topic into equal parts. Follow-up
// parts keep the title with a part marker so a viewer can still tell
// them apart in a numbered list.
func splitLongSpan(tp model.Topic) []model.Topic {
	span := tp.EndS - tp.StartS
	if span <= maxTopicSpanS {
		return []model.Topic{tp}
	}
	parts := int(span/maxTopicSpanS) + 1
	step := span / float64(parts)
	out := make([]model.Topic, 0, parts)
	for i := 0; i < parts; i++ {
		p := model.Topic{
			Title:  tp.Title,
			StartS: tp.StartS + float64(i)*step,
			EndS:   tp.StartS + float64(i+1)*step,
		}
		if i > 0 {
			p.Title = fmt.Sprintf("%s (%d)", tp.Title, i+1)
		}
		out = append(out, p)
	}
	out[parts-1].EndS = tp.EndS
	return out
}
