// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"fmt"
	"os"
	"strings"
)

// SilenceDetectArgs builds the analysis pass. Audio is decoded and thrown
// away; the silencedetect filter reports intervals on stderr.
func SilenceDetectArgs(input string, thresholdDB float64, minSilenceS float64) []string {
	return []string{
		"-hide_banner", "-nostats",
		"-i", input,
		"-af", fmt.Sprintf("silencedetect=noise=%gdB:d=%g", thresholdDB, minSilenceS),
		"-f", "null", "-",
	}
}

// CutArgs extracts one keep-segment with stream copy. -ss before -i seeks
// on keyframes, which is the price of not re-encoding.
func CutArgs(input string, seg Segment, output string) []string {
	return []string{
		"-hide_banner", "-nostats", "-y",
		"-ss", formatSeconds(seg.StartS),
		"-i", input,
		"-t", formatSeconds(seg.DurationS()),
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		output,
	}
}

// ConcatArgs stitches cut segments back together with stream copy using
// the concat demuxer list file.
func ConcatArgs(listFile, output string) []string {
	return []string{
		"-hide_banner", "-nostats", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listFile,
		"-c", "copy",
		output,
	}
}

// CopyArgs remuxes the input unchanged, used when processing is disabled
// or no silence was cut.
func CopyArgs(input, output string) []string {
	return []string{
		"-hide_banner", "-nostats", "-y",
		"-i", input,
		"-c", "copy",
		output,
	}
}

// ExtractAudioArgs produces the mono 16 kHz mp3 fed to transcription.
func ExtractAudioArgs(input, output string) []string {
	return []string{
		"-hide_banner", "-nostats", "-y",
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-b:a", "64k",
		output,
	}
}

// WriteConcatList writes the concat demuxer list file. Single quotes in
// paths are escaped per the demuxer's quoting rules.
func WriteConcatList(path string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		escaped := strings.ReplaceAll(f, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}
