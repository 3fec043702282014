// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package fake provides in-memory adapter implementations for tests.
// Nothing in here talks to a network or an ffmpeg binary.
package fake

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/mediapress/internal/adapters"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// Source is a canned source adapter. Fetch writes Content to the
// destination in fixed chunks, honoring cancellation between chunks.
type Source struct {
	mu         sync.Mutex
	Candidates []model.Candidate
	Content    []byte
	ListErr    error
	FetchErr   error
	// FailFetches makes the first N Fetch calls fail transiently.
	FailFetches int
	FetchCalls  int
}

// List filters Candidates by their start time falling in [from, to).
func (s *Source) List(_ context.Context, _ tenant.Context, _ adapters.SourceRef, from, to time.Time) ([]model.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	var out []model.Candidate
	for _, c := range s.Candidates {
		if !c.StartTime.Before(from) && c.StartTime.Before(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Fetch writes Content to destPath in 64 KiB chunks with progress calls.
func (s *Source) Fetch(ctx context.Context, _ tenant.Context, _ adapters.SourceRef, _ model.Candidate, destPath string, progress adapters.ProgressFunc) error {
	s.mu.Lock()
	s.FetchCalls++
	if s.FetchErr != nil {
		err := s.FetchErr
		s.mu.Unlock()
		return err
	}
	if s.FailFetches > 0 {
		s.FailFetches--
		s.mu.Unlock()
		return xerr.E(xerr.KindTransient, "fake source hiccup")
	}
	content := s.Content
	s.mu.Unlock()

	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()

	const chunk = 64 * 1024
	total := int64(len(content))
	for off := 0; off < len(content); off += chunk {
		if err := ctx.Err(); err != nil {
			return xerr.Wrap(xerr.KindCancelled, "fetch cancelled", err)
		}
		end := off + chunk
		if end > len(content) {
			end = len(content)
		}
		if _, err := f.Write(content[off:end]); err != nil {
			return err
		}
		if progress != nil {
			progress(int64(end), total)
		}
	}
	return nil
}

// UploadCall records one sink invocation.
type UploadCall struct {
	TargetID  string
	Platform  model.Platform
	VideoPath string
	Meta      adapters.UploadMetadata
}

// Sink is a canned sink adapter with scriptable failures.
type Sink struct {
	mu   sync.Mutex
	Caps adapters.Capabilities
	// FailUploads makes the first N Upload calls fail with FailKind.
	FailUploads int
	FailKind    xerr.Kind
	Uploads     []UploadCall
	Updates     []UploadCall
}

func (s *Sink) Upload(ctx context.Context, _ tenant.Context, target model.OutputTarget, videoPath string, meta adapters.UploadMetadata, progress adapters.ProgressFunc) (adapters.TargetMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerr.Wrap(xerr.KindCancelled, "upload cancelled", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUploads > 0 {
		s.FailUploads--
		kind := s.FailKind
		if kind == "" {
			kind = xerr.KindTransient
		}
		return nil, xerr.E(kind, "fake sink failure")
	}
	s.Uploads = append(s.Uploads, UploadCall{TargetID: target.ID, Platform: target.Platform, VideoPath: videoPath, Meta: meta})
	if progress != nil {
		progress(1, 1)
	}
	remoteID := uuid.NewString()
	return adapters.TargetMeta{
		"remote_id": remoteID,
		"url":       fmt.Sprintf("https://%s.example/%s", target.Platform, remoteID),
	}, nil
}

func (s *Sink) UpdateMetadata(_ context.Context, _ tenant.Context, target model.OutputTarget, remoteID string, meta adapters.UploadMetadata) (adapters.TargetMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Updates = append(s.Updates, UploadCall{TargetID: target.ID, Platform: target.Platform, Meta: meta})
	return adapters.TargetMeta{"remote_id": remoteID, "updated": true}, nil
}

func (s *Sink) Capabilities() adapters.Capabilities { return s.Caps }

// UploadCount returns how many uploads succeeded.
func (s *Sink) UploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Uploads)
}

// Speech returns a fixed transcript, optionally failing first.
type Speech struct {
	mu       sync.Mutex
	Result   *model.Transcript
	FailN    int
	FailKind xerr.Kind
	Calls    int
}

func (s *Speech) Transcribe(ctx context.Context, _ tenant.Context, _ string, _, _ string, _ float64) (*model.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerr.Wrap(xerr.KindCancelled, "transcription cancelled", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.FailN > 0 {
		s.FailN--
		kind := s.FailKind
		if kind == "" {
			kind = xerr.KindTransient
		}
		return nil, xerr.E(kind, "fake speech failure")
	}
	if s.Result == nil {
		return &model.Transcript{Text: "hello world", Segments: []model.Segment{{StartS: 0, EndS: 2, Text: "hello world"}}}, nil
	}
	return s.Result, nil
}

// Topics returns a fixed topic list.
type Topics struct {
	mu     sync.Mutex
	Result []model.Topic
	Err    error
	Calls  int
}

func (t *Topics) ExtractTopics(ctx context.Context, _ tenant.Context, req adapters.TopicRequest) ([]model.Topic, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerr.Wrap(xerr.KindCancelled, "topic extraction cancelled", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls++
	if t.Err != nil {
		return nil, t.Err
	}
	if t.Result != nil {
		return append([]model.Topic(nil), t.Result...), nil
	}
	// Derive a minimal plausible list from the transcript span.
	dur := req.Transcript.Duration()
	return []model.Topic{{Title: "Opening remarks", StartS: 0, EndS: dur}}, nil
}
