// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"strings"
	"sync"
)

// LineRing captures the last N lines of process output. It implements
// io.Writer and is safe for concurrent use.
type LineRing struct {
	mu    sync.RWMutex
	lines []string
	head  int
	size  int
}

// NewLineRing creates a ring with the given capacity.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 64
	}
	return &LineRing{lines: make([]string, capacity), size: capacity}
}

// Write splits p into lines and appends the non-empty ones.
func (r *LineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range strings.Split(string(p), "\n") {
		if line == "" {
			continue
		}
		r.lines[r.head] = line
		r.head = (r.head + 1) % r.size
	}
	return len(p), nil
}

// Lines returns everything captured, oldest first.
func (r *LineRing) Lines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.size
		if r.lines[idx] != "" {
			out = append(out, r.lines[idx])
		}
	}
	return out
}

// LastN returns the newest n lines in chronological order.
func (r *LineRing) LastN(n int) []string {
	all := r.Lines()
	if len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}
