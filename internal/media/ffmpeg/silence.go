// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"regexp"
	"sort"
	"strconv"
)

// Silence is one detected silent interval in the source, in seconds.
type Silence struct {
	StartS float64
	EndS   float64
}

// DurationS returns the interval length.
func (s Silence) DurationS() float64 { return s.EndS - s.StartS }

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?\d+(?:\.\d+)?)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*(-?\d+(?:\.\d+)?)`)
)

// ParseSilences extracts silencedetect intervals from ffmpeg stderr lines.
// A trailing silence_start without a matching end is closed at totalS.
func ParseSilences(lines []string, totalS float64) []Silence {
	var out []Silence
	open := -1.0
	for _, line := range lines {
		if m := silenceStartRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				open = v
			}
			continue
		}
		if m := silenceEndRe.FindStringSubmatch(line); m != nil {
			if open < 0 {
				continue
			}
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > open {
				out = append(out, Silence{StartS: open, EndS: v})
			}
			open = -1
		}
	}
	if open >= 0 && totalS > open {
		out = append(out, Silence{StartS: open, EndS: totalS})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartS < out[j].StartS })
	return out
}

// Segment is one span of the source to keep.
type Segment struct {
	StartS float64
	EndS   float64
}

// DurationS returns the span length.
func (s Segment) DurationS() float64 { return s.EndS - s.StartS }

// PlanKeepSegments turns detected silences into the spans worth keeping.
// Silences shorter than minSilenceS stay in the output. Around every cut
// the plan keeps padBeforeS of silence ahead of resuming speech and
// padAfterS after speech stops, so cuts do not clip words. Leading and
// trailing silence is dropped entirely apart from the padding.
func PlanKeepSegments(totalS float64, silences []Silence, minSilenceS, padBeforeS, padAfterS float64) []Segment {
	if totalS <= 0 {
		return nil
	}
	var cuts []Segment
	for _, s := range silences {
		if s.DurationS() < minSilenceS {
			continue
		}
		cutStart := s.StartS + padAfterS
		cutEnd := s.EndS - padBeforeS
		if s.StartS <= 0 {
			cutStart = 0 // leading silence keeps no head padding
		}
		if s.EndS >= totalS {
			cutEnd = totalS // trailing silence keeps no tail padding
		}
		if cutEnd <= cutStart {
			continue
		}
		cuts = append(cuts, Segment{StartS: cutStart, EndS: cutEnd})
	}

	var keep []Segment
	cursor := 0.0
	for _, c := range cuts {
		if c.StartS > cursor {
			keep = append(keep, Segment{StartS: cursor, EndS: c.StartS})
		}
		if c.EndS > cursor {
			cursor = c.EndS
		}
	}
	if cursor < totalS {
		keep = append(keep, Segment{StartS: cursor, EndS: totalS})
	}
	return keep
}

// TotalDuration sums the kept spans.
func TotalDuration(segments []Segment) float64 {
	var t float64
	for _, s := range segments {
		t += s.DurationS()
	}
	return t
}
