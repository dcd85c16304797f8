// SPDX-License-Identifier: MIT

package worker

import (
	"encoding/json"
	"os"

	"github.com/google/renameio/v2"
)

// ProgressWriter reports child progress through one file, atomically
// overwritten on every update so the parent never observes a torn write.
type ProgressWriter struct {
	path string
	last float64
}

// NewProgressWriter binds a writer to the progress file path.
func NewProgressWriter(path string) *ProgressWriter {
	return &ProgressWriter{path: path, last: -1}
}

// Report writes the current progress. Regressions are clamped to the last
// reported value; write failures are swallowed since progress is advisory.
func (w *ProgressWriter) Report(progress float64, status string) {
	if progress < w.last {
		progress = w.last
	}
	w.last = progress
	raw, err := json.Marshal(Progress{Progress: progress, Status: status})
	if err != nil {
		return
	}
	_ = renameio.WriteFile(w.path, raw, 0o600)
}

// ReadProgress polls the progress file from the parent. A missing file or
// malformed JSON is a non-error: ok is false and the caller skips the
// update.
func ReadProgress(path string) (Progress, bool) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path is a temp file we allocated
	if err != nil {
		return Progress{}, false
	}
	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return Progress{}, false
	}
	return p, true
}
