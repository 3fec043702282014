// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package stages

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ManuGH/mediapress/internal/configres"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

const (
	// subtitleLineChars is the wrap width of one subtitle line.
	subtitleLineChars = 42
	// subtitleMaxLines caps lines per cue; longer text splits into
	// multiple cues with interpolated timing.
	subtitleMaxLines = 2
)

// GenerateSubtitles renders the master transcript into the configured
// subtitle formats. Purely local work, so it carries no retry loop.
func (d *Deps) GenerateSubtitles(ctx context.Context, t tenant.Context, rec *model.Recording, cfg configres.TranscriptionConfig) error {
	transcript, err := d.LoadTranscript(t, rec)
	if err != nil {
		return err
	}
	cues := BuildCues(transcript)
	for _, format := range cfg.SubtitleFormats {
		if ctx.Err() != nil {
			return xerr.Wrap(xerr.KindCancelled, "subtitles cancelled", ctx.Err())
		}
		path, err := d.Layout.SubtitlesFile(t.ID(), rec.ID, format)
		if err != nil {
			return err
		}
		var body string
		switch format {
		case "srt":
			body = RenderSRT(cues)
		case "vtt":
			body = RenderVTT(cues)
		}
		if err := os.WriteFile(path, []byte(body), 0o640); err != nil {
			return xerr.Wrap(xerr.KindInternal, "write subtitles", err)
		}
	}
	return nil
}

// Cue is one timed subtitle block.
type Cue struct {
	StartS float64
	EndS   float64
	Lines  []string
}

// BuildCues wraps transcript segments into display cues. A segment
// whose text exceeds the cue capacity is split into consecutive cues
// with timing interpolated by text share.
func BuildCues(tr *model.Transcript) []Cue {
	var out []Cue
	for _, seg := range tr.Segments {
		lines := wrapText(seg.Text, subtitleLineChars)
		if len(lines) == 0 {
			continue
		}
		chunks := chunkLines(lines, subtitleMaxLines)
		span := seg.EndS - seg.StartS
		total := 0
		for _, c := range chunks {
			total += lineRunes(c)
		}
		cursor := seg.StartS
		for _, c := range chunks {
			share := span
			if total > 0 {
				share = span * float64(lineRunes(c)) / float64(total)
			}
			out = append(out, Cue{StartS: cursor, EndS: cursor + share, Lines: c})
			cursor += share
		}
	}
	return out
}

// RenderSRT renders cues in SubRip format.
func RenderSRT(cues []Cue) string {
	var b strings.Builder
	for i, c := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, srtTime(c.StartS), srtTime(c.EndS), strings.Join(c.Lines, "\n"))
	}
	return b.String()
}

// RenderVTT renders cues in WebVTT format.
func RenderVTT(cues []Cue) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, c := range cues {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			vttTime(c.StartS), vttTime(c.EndS), strings.Join(c.Lines, "\n"))
	}
	return b.String()
}

func srtTime(s float64) string {
	h, m, sec, ms := splitTime(s)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, sec, ms)
}

func vttTime(s float64) string {
	h, m, sec, ms := splitTime(s)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, sec, ms)
}

func splitTime(s float64) (h, m, sec, ms int) {
	if s < 0 {
		s = 0
	}
	totalMS := int(s*1000 + 0.5)
	return totalMS / 3600000, totalMS / 60000 % 60, totalMS / 1000 % 60, totalMS % 1000
}

func wrapText(text string, width int) []string {
	var lines []string
	var cur strings.Builder
	curLen := 0
	for _, word := range strings.Fields(text) {
		wl := len([]rune(word))
		if curLen > 0 && curLen+1+wl > width {
			lines = append(lines, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(word)
		curLen += wl
	}
	if curLen > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

func chunkLines(lines []string, per int) [][]string {
	var out [][]string
	for len(lines) > per {
		out = append(out, lines[:per])
		lines = lines[per:]
	}
	if len(lines) > 0 {
		out = append(out, lines)
	}
	return out
}

func lineRunes(lines []string) int {
	n := 0
	for _, l := range lines {
		n += len([]rune(l))
	}
	return n
}
