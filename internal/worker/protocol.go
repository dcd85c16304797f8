// SPDX-License-Identifier: MIT

// Package worker implements the parent/child protocol of the download
// subprocess: the JSON payload handed to the child, the JSON result it
// writes at exit, and the progress file it overwrites while running.
package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/unshackle-dl/unshackle/internal/apierr"
	"github.com/unshackle-dl/unshackle/internal/job"
)

// Exit codes of the worker subprocess.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// Payload is handed from parent to child through a temp file.
type Payload struct {
	JobID      string         `json:"job_id"`
	Service    string         `json:"service"`
	TitleID    string         `json:"title_id"`
	Parameters job.Parameters `json:"parameters"`
}

// Result is written by the child at exit.
type Result struct {
	Status       string   `json:"status"` // "success" or "error"
	OutputFiles  []string `json:"output_files,omitempty"`
	Message      string   `json:"message,omitempty"`
	ErrorDetails string   `json:"error_details,omitempty"`
	ErrorCode    string   `json:"error_code,omitempty"`
	Traceback    string   `json:"traceback,omitempty"`
}

// Progress is overwritten by the child on each report.
type Progress struct {
	Progress float64 `json:"progress"`
	Status   string  `json:"status"`
}

// TempFiles are the three ephemeral files of one job.
type TempFiles struct {
	Payload  string
	Result   string
	Progress string
}

const tempPrefix = "unshackle_job_"

// CreateTempFiles allocates the payload/result/progress files for a job
// under dir (the OS temp dir when empty).
func CreateTempFiles(dir, jobID string) (TempFiles, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	var tf TempFiles
	for _, part := range []struct {
		suffix string
		dst    *string
	}{
		{"payload", &tf.Payload},
		{"result", &tf.Result},
		{"progress", &tf.Progress},
	} {
		f, err := os.CreateTemp(dir, fmt.Sprintf("%s%s_*_%s.json", tempPrefix, jobID, part.suffix))
		if err != nil {
			tf.Remove()
			return TempFiles{}, fmt.Errorf("create %s temp file: %w", part.suffix, err)
		}
		*part.dst = f.Name()
		_ = f.Close()
	}
	return tf, nil
}

// Remove deletes all allocated temp files; missing files are not errors.
func (tf TempFiles) Remove() {
	for _, p := range []string{tf.Payload, tf.Result, tf.Progress} {
		if p != "" {
			_ = os.Remove(p)
		}
	}
}

// WritePayload serializes the payload for the child.
func WritePayload(path string, p Payload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := renameio.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadPayload loads a payload in the child.
func ReadPayload(path string) (Payload, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from our own argv protocol
	if err != nil {
		return Payload{}, fmt.Errorf("read payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// WriteResult atomically writes the child's result file.
func WriteResult(path string, r Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := renameio.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// ReadResult parses the child's result in the parent. A missing or
// malformed file returns an error; the caller maps that to WORKER_ERROR.
func ReadResult(path string) (Result, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path is a temp file we allocated
	if err != nil {
		return Result{}, fmt.Errorf("read result: %w", err)
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	return r, nil
}

// ErrorResult builds an error result from a categorized failure.
func ErrorResult(err error) Result {
	ae := apierr.Categorize(err)
	return Result{
		Status:       "error",
		Message:      ae.Message,
		ErrorDetails: ae.Details,
		ErrorCode:    string(ae.Code),
	}
}

// SweepLeftovers removes stale worker temp files from dir, e.g. after a
// daemon crash. Returns the number of files removed.
func SweepLeftovers(dir string) int {
	if dir == "" {
		dir = os.TempDir()
	}
	matches, err := filepath.Glob(filepath.Join(dir, tempPrefix+"*"))
	if err != nil {
		return 0
	}
	removed := 0
	for _, m := range matches {
		if os.Remove(m) == nil {
			removed++
		}
	}
	return removed
}
