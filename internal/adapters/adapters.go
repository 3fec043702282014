// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package adapters defines the provider-facing interfaces the pipeline
// depends on. Concrete wire protocols live outside the core; the in-repo
// fake package exists for tests only.
package adapters

import (
	"context"
	"time"

	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
)

// ProgressFunc reports transferred bytes out of an expected total. Total
// may be zero when the provider does not announce a size.
type ProgressFunc func(done, total int64)

// SourceRef identifies the remote account/space a source adapter reads.
type SourceRef struct {
	SourceID   string
	SourceType string
	AccountKey string         // vault lookup key
	Settings   map[string]any // provider-specific knobs
}

// SourceAdapter lists and fetches remote recordings.
type SourceAdapter interface {
	// List returns candidates recorded in [from, to).
	List(ctx context.Context, t tenant.Context, src SourceRef, from, to time.Time) ([]model.Candidate, error)
	// Fetch downloads the candidate into destPath, reporting progress.
	// Implementations must stop at the next read when ctx is cancelled.
	Fetch(ctx context.Context, t tenant.Context, src SourceRef, c model.Candidate, destPath string, progress ProgressFunc) error
}

// Capabilities declares what a sink platform supports.
type Capabilities struct {
	Subtitles bool `json:"subtitles"`
	Playlist  bool `json:"playlist"`
	Thumbnail bool `json:"thumbnail"`
	PublishAt bool `json:"publish_at"`
}

// UploadMetadata is the rendered, platform-neutral publish metadata.
type UploadMetadata struct {
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Tags          []string   `json:"tags,omitempty"`
	Category      string     `json:"category,omitempty"`
	ThumbnailPath string     `json:"thumbnail_path,omitempty"`
	SubtitlePaths []string   `json:"subtitle_paths,omitempty"`
	Playlist      string     `json:"playlist,omitempty"`
	Privacy       string     `json:"privacy,omitempty"`
	PublishAt     *time.Time `json:"publish_at,omitempty"`
}

// TargetMeta is what a sink returns about the published item.
type TargetMeta map[string]any

// SinkAdapter publishes to one platform.
type SinkAdapter interface {
	Upload(ctx context.Context, t tenant.Context, target model.OutputTarget, videoPath string, meta UploadMetadata, progress ProgressFunc) (TargetMeta, error)
	UpdateMetadata(ctx context.Context, t tenant.Context, target model.OutputTarget, remoteID string, meta UploadMetadata) (TargetMeta, error)
	Capabilities() Capabilities
}

// SpeechAdapter transcribes an audio file.
type SpeechAdapter interface {
	Transcribe(ctx context.Context, t tenant.Context, audioPath string, language, prompt string, temperature float64) (*model.Transcript, error)
}

// TopicRequest carries the topic-extraction inputs.
type TopicRequest struct {
	Transcript *model.Transcript
	Mode       string // short or long
	MinTopics  int
	MaxTopics  int
}

// TopicAdapter extracts the raw topic list from a transcript. Break
// insertion, sizing and title normalization happen in the stage runner.
type TopicAdapter interface {
	ExtractTopics(ctx context.Context, t tenant.Context, req TopicRequest) ([]model.Topic, error)
}
