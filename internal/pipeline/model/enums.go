// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

// Status is the authoritative lifecycle of a recording.
// There is deliberately no FAILED status: a stage failure rolls the
// recording back to the previous completed status and raises the
// Failed flag instead.
type Status string

const (
	StatusInitialized  Status = "INITIALIZED"
	StatusDownloading  Status = "DOWNLOADING"
	StatusDownloaded   Status = "DOWNLOADED"
	StatusProcessing   Status = "PROCESSING"
	StatusProcessed    Status = "PROCESSED"
	StatusTranscribing Status = "TRANSCRIBING"
	StatusTranscribed  Status = "TRANSCRIBED"
	StatusUploading    Status = "UPLOADING"
	StatusUploaded     Status = "UPLOADED"

	// Special terminal states.
	StatusSkipped Status = "SKIPPED"
	StatusExpired Status = "EXPIRED"
)

// IsTerminal reports whether no further pipeline work applies.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusUploaded, StatusSkipped, StatusExpired:
		return true
	}
	return false
}

// Stage identifies a pipeline phase for failure tracking and resumption.
// The transcription phase covers transcribe, topic extraction and
// subtitle generation; they fail and resume as one unit.
type Stage string

const (
	StageDownloading  Stage = "DOWNLOADING"
	StageProcessing   Stage = "PROCESSING"
	StageTranscribing Stage = "TRANSCRIBING"
	StageUploading    Stage = "UPLOADING"
)

// Runner identifies one of the six stage runner functions.
type Runner string

const (
	RunnerDownload          Runner = "download"
	RunnerTrim              Runner = "trim"
	RunnerTranscribe        Runner = "transcribe"
	RunnerExtractTopics     Runner = "extract_topics"
	RunnerGenerateSubtitles Runner = "generate_subtitles"
	RunnerUpload            Runner = "upload"
)

// Phase returns the failure-tracking stage a runner belongs to.
func (r Runner) Phase() Stage {
	switch r {
	case RunnerDownload:
		return StageDownloading
	case RunnerTrim:
		return StageProcessing
	case RunnerTranscribe, RunnerExtractTopics, RunnerGenerateSubtitles:
		return StageTranscribing
	case RunnerUpload:
		return StageUploading
	}
	return ""
}

// TargetStatus is the per-platform upload sub-state.
type TargetStatus string

const (
	TargetNotUploaded TargetStatus = "NOT_UPLOADED"
	TargetUploading   TargetStatus = "UPLOADING"
	TargetUploaded    TargetStatus = "UPLOADED"
	TargetFailed      TargetStatus = "FAILED"
)

// IsTerminal reports whether the target needs no further upload work.
func (s TargetStatus) IsTerminal() bool {
	return s == TargetUploaded || s == TargetFailed
}

// Platform identifies an external provider integration.
type Platform string

const (
	PlatformConferencing Platform = "conferencing"
	PlatformHostingA     Platform = "hosting_a"
	PlatformHostingB     Platform = "hosting_b"
	PlatformCloudDrive   Platform = "cloud_drive"
	PlatformSpeech       Platform = "speech"
	PlatformTopics       Platform = "topics"
)

// MatchType selects how a rule pattern is applied to a display name.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchContains MatchType = "contains"
	MatchRegex    MatchType = "regex"
)
