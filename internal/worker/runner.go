// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/unshackle-dl/unshackle/internal/apierr"
	"github.com/unshackle-dl/unshackle/internal/drm"
	"github.com/unshackle-dl/unshackle/internal/job"
	"github.com/unshackle-dl/unshackle/internal/log"
	"github.com/unshackle-dl/unshackle/internal/service"
)

// Deps holds everything the child-side runner needs. The runner has no
// cooperative cancel point: the parent terminates the process group when
// a job is cancelled.
type Deps struct {
	Registry     *service.Registry
	GlobalConfig map[string]any
	DRM          *drm.Manager // optional; nil skips key acquisition
	Downloader   Downloader
	Muxer        Muxer
	OutputDir    string

	// Proxy is the resolved proxy URI for this job, empty for a direct
	// connection. It is merged into the adapter config under "proxy".
	Proxy string

	// Debug receives per-session debug events when enabled. Nil-safe.
	Debug *log.DebugLogger
}

// Runner executes one download end-to-end inside the worker subprocess.
type Runner struct {
	deps Deps
}

// NewRunner builds a runner from its dependencies.
func NewRunner(deps Deps) *Runner {
	return &Runner{deps: deps}
}

// Run reads the payload, executes the download pipeline and writes the
// result file. The returned value is the process exit code.
func (r *Runner) Run(ctx context.Context, payloadPath, resultPath, progressPath string) int {
	payload, err := ReadPayload(payloadPath)
	if err != nil {
		_ = WriteResult(resultPath, ErrorResult(err))
		return ExitError
	}

	ctx = log.ContextWithJobID(ctx, payload.JobID)
	logger := log.WithComponentFromContext(ctx, "worker")
	progress := NewProgressWriter(progressPath)
	progress.Report(0, "starting")

	files, err := r.execute(ctx, payload, progress)
	if err != nil {
		logger.Error().Err(err).Msg("download pipeline failed")
		res := ErrorResult(err)
		res.Traceback = string(debug.Stack())
		_ = WriteResult(resultPath, res)
		return ExitError
	}

	progress.Report(100, "completed")
	if err := WriteResult(resultPath, Result{Status: "success", OutputFiles: files}); err != nil {
		logger.Error().Err(err).Msg("writing result failed")
		return ExitError
	}
	return ExitOK
}

// execute runs the title/track/chapter pipeline and drives the external
// downloader and muxer.
func (r *Runner) execute(ctx context.Context, payload Payload, progress *ProgressWriter) ([]string, error) {
	adapter, err := r.deps.Registry.Load(payload.Service, r.adapterConfig())
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidService, err.Error())
	}

	if err := adapter.Authenticate(ctx, "", nil); err != nil {
		return nil, fmt.Errorf("authenticate with %s: %w", payload.Service, err)
	}
	progress.Report(5, "authenticated")

	titles, err := adapter.GetTitles(ctx, payload.TitleID)
	if err != nil {
		return nil, fmt.Errorf("resolve title %s: %w", payload.TitleID, err)
	}
	list := titles.List()
	if len(list) == 0 {
		return nil, apierr.Newf(apierr.CodeNoContent, "title %s resolved to no content", payload.TitleID)
	}
	if payload.Parameters.LatestEpisode && titles.Kind == service.TitleKindSeries {
		list = list[len(list)-1:]
	}
	progress.Report(10, "titles resolved")

	var outputs []string
	for i, title := range list {
		out, err := r.downloadTitle(ctx, payload, adapter, title, progress)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out...)
		progress.Report(10+85*float64(i+1)/float64(len(list)), "downloading")
	}
	return outputs, nil
}

// adapterConfig is the global service config with the per-job proxy
// merged in.
func (r *Runner) adapterConfig() map[string]any {
	if r.deps.Proxy == "" {
		return r.deps.GlobalConfig
	}
	merged := make(map[string]any, len(r.deps.GlobalConfig)+1)
	for k, v := range r.deps.GlobalConfig {
		merged[k] = v
	}
	merged["proxy"] = r.deps.Proxy
	return merged
}

func (r *Runner) downloadTitle(ctx context.Context, payload Payload, adapter service.Adapter, title service.Title, progress *ProgressWriter) ([]string, error) {
	tracks, err := adapter.GetTracks(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("list tracks of %s: %w", title.TitleID(), err)
	}
	selected := selectTracks(tracks, payload.Parameters)
	if len(selected) == 0 {
		return nil, apierr.Newf(apierr.CodeNoContent, "no tracks matched the request for %s", title.TitleID())
	}

	var chapters []service.Chapter
	if !payload.Parameters.NoChapters {
		chapters, err = adapter.GetChapters(ctx, title)
		if err != nil {
			return nil, fmt.Errorf("list chapters of %s: %w", title.TitleID(), err)
		}
	}
	if payload.Parameters.ChaptersOnly {
		selected = nil
	}

	keys, err := r.acquireKeys(ctx, adapter, title, selected)
	if err != nil {
		return nil, err
	}
	if payload.Parameters.CDMOnly || payload.Parameters.SkipDL {
		return nil, nil
	}

	destDir := filepath.Join(r.deps.OutputDir, payload.JobID)
	if !payload.Parameters.NoFolder {
		destDir = filepath.Join(destDir, title.TitleID())
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	files, err := r.deps.Downloader.Download(ctx, selected, keys, destDir, func(p float64) {
		progress.Report(10+p*0.8, "downloading")
	})
	if err != nil {
		return nil, apierr.Categorize(err)
	}

	if payload.Parameters.NoMux {
		return files, nil
	}
	outPath := filepath.Join(destDir, title.TitleName()+".mkv")
	muxed, err := r.deps.Muxer.Mux(ctx, files, chapters, outPath)
	if err != nil {
		return nil, apierr.Categorize(err)
	}
	return []string{muxed}, nil
}

// acquireKeys collects the KIDs of the selected tracks and runs the DRM
// session flow, forwarding a license challenge to the adapter when the
// vault and remote cache do not already cover every KID.
func (r *Runner) acquireKeys(ctx context.Context, adapter service.Adapter, title service.Title, tracks []service.Track) ([]drm.Key, error) {
	if r.deps.DRM == nil {
		return nil, nil
	}
	var kids []string
	var pssh []byte
	for _, t := range tracks {
		if t.KID != "" {
			kids = append(kids, t.KID)
		}
		if len(t.PSSH) > 0 && pssh == nil {
			pssh = t.PSSH
		}
	}
	if len(kids) == 0 {
		return nil, nil
	}

	sessionID, err := r.deps.DRM.Open()
	if err != nil {
		return nil, apierr.Categorize(err)
	}
	defer func() { _ = r.deps.DRM.Close(sessionID) }()

	if wv, ok := adapter.(service.WidevineLicenser); ok {
		cert, err := wv.GetWidevineServiceCertificate(ctx, title.TitleID())
		if err == nil && cert != nil {
			if _, err := r.deps.DRM.SetServiceCertificate(sessionID, cert); err != nil {
				return nil, err
			}
		}
	}
	if err := r.deps.DRM.SetRequiredKIDs(sessionID, kids); err != nil {
		return nil, err
	}

	challenge, err := r.deps.DRM.GetLicenseChallenge(ctx, sessionID, pssh, "STREAMING", false)
	if err != nil {
		r.deps.Debug.Log("ERROR", "get_license_challenge", err.Error(), map[string]any{
			"kid_count": len(kids),
		})
		return nil, err
	}
	r.deps.Debug.Log("DEBUG", "get_license_challenge", "challenge obtained", map[string]any{
		"kid_count":       len(kids),
		"challenge_bytes": len(challenge),
	})
	if len(challenge) > 0 {
		wv, ok := adapter.(service.WidevineLicenser)
		if !ok {
			return nil, apierr.Newf(apierr.CodeDRMError, "service %s cannot retrieve licenses", adapter.Tag())
		}
		license, err := wv.GetWidevineLicense(ctx, service.LicenseRequest{Challenge: challenge, TitleID: title.TitleID()})
		if err != nil {
			return nil, apierr.Categorize(err)
		}
		if err := r.deps.DRM.ParseLicense(ctx, sessionID, license); err != nil {
			return nil, err
		}
	}

	kind := drm.KeyKindContent
	return r.deps.DRM.GetKeys(sessionID, &kind)
}

// selectTracks applies the request's selection and exclusivity filters.
func selectTracks(tracks *service.Tracks, p job.Parameters) []service.Track {
	var out []service.Track
	includeVideo := !p.AudioOnly && !p.SubsOnly && !p.ChaptersOnly
	includeAudio := !p.VideoOnly && !p.SubsOnly && !p.ChaptersOnly && !p.NoAudio
	includeSubs := !p.VideoOnly && !p.AudioOnly && !p.ChaptersOnly && !p.NoSubs

	if includeVideo {
		for _, t := range tracks.Video {
			if p.VCodec != "" && !strings.EqualFold(t.Codec, p.VCodec) {
				continue
			}
			if p.VBitrate > 0 && t.Bitrate > p.VBitrate {
				continue
			}
			if len(p.Quality) > 0 && !containsInt(p.Quality, t.Height) {
				continue
			}
			out = append(out, t)
		}
	}
	if includeAudio {
		for _, t := range tracks.Audio {
			if p.NoAtmos && t.Atmos {
				continue
			}
			if p.ABitrate > 0 && t.Bitrate > p.ABitrate {
				continue
			}
			out = append(out, t)
		}
	}
	if includeSubs {
		for _, t := range tracks.Subtitles {
			if p.ForcedSubs && !t.Forced {
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

func containsInt(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
