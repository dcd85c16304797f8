// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/unshackle-dl/unshackle/internal/drm"
	"github.com/unshackle-dl/unshackle/internal/log"
	"github.com/unshackle-dl/unshackle/internal/service"
)

// Downloader drives the external downloader binary for a set of tracks.
// Implementations report coarse progress through the callback.
type Downloader interface {
	Download(ctx context.Context, tracks []service.Track, keys []drm.Key, destDir string, progress func(float64)) ([]string, error)
}

// Muxer drives the external muxer binary to combine downloaded tracks and
// chapters into the final container.
type Muxer interface {
	Mux(ctx context.Context, files []string, chapters []service.Chapter, outPath string) (string, error)
}

// CommandDownloader invokes a downloader binary once per track:
// <binary> [args...] --key kid:key... <url> -o <dest>.
type CommandDownloader struct {
	Binary string
	Args   []string

	// Proxy is a resolved proxy URI exported to the child through
	// HTTP_PROXY/HTTPS_PROXY. Empty means a direct connection.
	Proxy string
}

// Download runs the binary for each track and returns the produced files.
func (d *CommandDownloader) Download(ctx context.Context, tracks []service.Track, keys []drm.Key, destDir string, progress func(float64)) ([]string, error) {
	if d.Binary == "" {
		return nil, fmt.Errorf("downloader binary not configured")
	}
	var out []string
	for i, t := range tracks {
		dest := filepath.Join(destDir, fmt.Sprintf("track_%s_%d", t.Type, i))
		args := append([]string(nil), d.Args...)
		for _, k := range keys {
			args = append(args, "--key", k.KID+":"+k.Hex())
		}
		args = append(args, t.URL, "-o", dest)

		cmd := exec.CommandContext(ctx, d.Binary, args...) // #nosec G204 -- binary comes from operator config
		if d.Proxy != "" {
			cmd.Env = append(os.Environ(), "HTTP_PROXY="+d.Proxy, "HTTPS_PROXY="+d.Proxy)
		}
		var stderr strings.Builder
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("download track %s: %w: %s", t.ID, err, strings.TrimSpace(stderr.String()))
		}
		out = append(out, dest)
		if progress != nil {
			progress(float64(i+1) / float64(len(tracks)) * 90.0)
		}
	}
	return out, nil
}

// CommandMuxer invokes a muxer binary:
// <binary> [args...] -o <out> <files...> [--chapters <file>].
type CommandMuxer struct {
	Binary string
	Args   []string
}

// Mux combines the downloaded track files into outPath.
func (m *CommandMuxer) Mux(ctx context.Context, files []string, chapters []service.Chapter, outPath string) (string, error) {
	if m.Binary == "" {
		return "", fmt.Errorf("muxer binary not configured")
	}
	args := append([]string(nil), m.Args...)
	args = append(args, "-o", outPath)
	args = append(args, files...)

	var chaptersFile string
	if len(chapters) > 0 {
		f, err := os.CreateTemp("", "unshackle_chapters_*.txt")
		if err == nil {
			for i, c := range chapters {
				fmt.Fprintf(f, "CHAPTER%02d=%s\nCHAPTER%02dNAME=%s\n", i+1, formatChapterTime(c.Start), i+1, c.Title)
			}
			_ = f.Close()
			chaptersFile = f.Name()
			args = append(args, "--chapters", chaptersFile)
			defer func() { _ = os.Remove(chaptersFile) }()
		}
	}

	cmd := exec.CommandContext(ctx, m.Binary, args...) // #nosec G204 -- binary comes from operator config
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("mux: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	logger := log.WithComponent("worker")
	logger.Debug().Str("path", outPath).Msg("muxed output")
	return outPath, nil
}

func formatChapterTime(seconds float64) string {
	h := int(seconds) / 3600
	m := (int(seconds) % 3600) / 60
	s := int(seconds) % 60
	ms := int((seconds - float64(int(seconds))) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
