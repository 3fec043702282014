// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package adapters

import (
	"sync"

	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// Registry holds the adapter implementations keyed by platform id.
// Registration happens once at daemon wiring; lookups are concurrent.
type Registry struct {
	mu      sync.RWMutex
	sources map[model.Platform]SourceAdapter
	sinks   map[model.Platform]SinkAdapter
	speech  map[model.Platform]SpeechAdapter
	topics  map[model.Platform]TopicAdapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[model.Platform]SourceAdapter),
		sinks:   make(map[model.Platform]SinkAdapter),
		speech:  make(map[model.Platform]SpeechAdapter),
		topics:  make(map[model.Platform]TopicAdapter),
	}
}

// RegisterSource installs a source adapter for the platform.
func (r *Registry) RegisterSource(p model.Platform, a SourceAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[p] = a
}

// RegisterSink installs a sink adapter. Sinks are wrapped with a circuit
// breaker so a dead platform fails fast instead of eating the stage
// timeout on every target.
func (r *Registry) RegisterSink(p model.Platform, a SinkAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[p] = wrapSinkBreaker(string(p), a)
}

// RegisterSpeech installs a speech adapter.
func (r *Registry) RegisterSpeech(p model.Platform, a SpeechAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[p] = a
}

// RegisterTopics installs a topic adapter.
func (r *Registry) RegisterTopics(p model.Platform, a TopicAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics[p] = a
}

// Source resolves a source adapter.
func (r *Registry) Source(p model.Platform) (SourceAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.sources[p]
	if !ok {
		return nil, xerr.Ef(xerr.KindNotFound, "no source adapter for platform %q", p)
	}
	return a, nil
}

// Sink resolves a sink adapter.
func (r *Registry) Sink(p model.Platform) (SinkAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.sinks[p]
	if !ok {
		return nil, xerr.Ef(xerr.KindNotFound, "no sink adapter for platform %q", p)
	}
	return a, nil
}

// Speech resolves a speech adapter.
func (r *Registry) Speech(p model.Platform) (SpeechAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.speech[p]
	if !ok {
		return nil, xerr.Ef(xerr.KindNotFound, "no speech adapter for platform %q", p)
	}
	return a, nil
}

// Topics resolves a topic adapter.
func (r *Registry) Topics(p model.Platform) (TopicAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.topics[p]
	if !ok {
		return nil, xerr.Ef(xerr.KindNotFound, "no topic adapter for platform %q", p)
	}
	return a, nil
}
