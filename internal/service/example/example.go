// SPDX-License-Identifier: MIT

// Package example provides the EX adapter: a deterministic in-process
// service with fixture content, used for development and end-to-end
// exercises without touching a real streaming service.
package example

import (
	"context"
	"fmt"
	"time"

	"github.com/unshackle-dl/unshackle/internal/service"
)

// Tag is the registry alias of this adapter.
const Tag = "EX"

// Register adds the adapter to a registry.
func Register(r *service.Registry) {
	r.Register(Tag, func() service.Adapter { return &Adapter{} })
}

// Adapter serves fixture titles. Configure recognizes:
//
//	episodes: int  — serve a series with that many episodes instead of a movie
//	delay_ms: int  — artificial latency per call
type Adapter struct {
	episodes int
	delay    time.Duration
}

// Tag implements service.Adapter.
func (a *Adapter) Tag() string { return Tag }

// Configure implements service.Adapter.
func (a *Adapter) Configure(params map[string]any) error {
	if v, ok := params["episodes"]; ok {
		n, ok := toInt(v)
		if !ok || n < 0 {
			return fmt.Errorf("example: episodes must be a non-negative integer")
		}
		a.episodes = n
	}
	if v, ok := params["delay_ms"]; ok {
		n, ok := toInt(v)
		if !ok || n < 0 {
			return fmt.Errorf("example: delay_ms must be a non-negative integer")
		}
		a.delay = time.Duration(n) * time.Millisecond
	}
	return nil
}

// Authenticate implements service.Adapter. The fixture service is
// anonymous.
func (a *Adapter) Authenticate(ctx context.Context, cookiesPath string, credential *service.Credential) error {
	return a.sleep(ctx)
}

// Search implements service.Adapter.
func (a *Adapter) Search(ctx context.Context, query string) (<-chan service.SearchResult, error) {
	if err := a.sleep(ctx); err != nil {
		return nil, err
	}
	out := make(chan service.SearchResult, 1)
	out <- service.SearchResult{ID: "TT001", Title: "Example Feature", Year: 2021}
	close(out)
	return out, nil
}

// GetTitles implements service.Adapter.
func (a *Adapter) GetTitles(ctx context.Context, titleID string) (*service.Titles, error) {
	if err := a.sleep(ctx); err != nil {
		return nil, err
	}
	if a.episodes > 0 {
		t := &service.Titles{Kind: service.TitleKindSeries, Name: "Example Series"}
		for i := 1; i <= a.episodes; i++ {
			t.Episodes = append(t.Episodes, service.Episode{
				ID:      fmt.Sprintf("%s-e%d", titleID, i),
				Name:    fmt.Sprintf("Episode %d", i),
				Season:  1,
				Episode: i,
				Series:  "Example Series",
			})
		}
		return t, nil
	}
	return &service.Titles{
		Kind:   service.TitleKindMovies,
		Name:   "Example Feature",
		Movies: []service.Movie{{ID: titleID, Name: "Example Feature", Year: 2021}},
	}, nil
}

// GetTracks implements service.Adapter.
func (a *Adapter) GetTracks(ctx context.Context, title service.Title) (*service.Tracks, error) {
	if err := a.sleep(ctx); err != nil {
		return nil, err
	}
	id := title.TitleID()
	return &service.Tracks{
		Video: []service.Track{{
			ID:      id + "-v1",
			Type:    "video",
			Codec:   "H264",
			Bitrate: 4800,
			Width:   1920,
			Height:  1080,
			Range:   "SDR",
			URL:     fmt.Sprintf("https://example.invalid/%s/video.mpd", id),
		}},
		Audio: []service.Track{{
			ID:       id + "-a1",
			Type:     "audio",
			Codec:    "AAC",
			Language: "en",
			Bitrate:  128,
			Channels: 2,
			URL:      fmt.Sprintf("https://example.invalid/%s/audio.mpd", id),
		}},
		Subtitles: []service.Track{{
			ID:       id + "-s1",
			Type:     "subtitle",
			Language: "en",
			URL:      fmt.Sprintf("https://example.invalid/%s/subs.vtt", id),
		}},
	}, nil
}

// GetChapters implements service.Adapter.
func (a *Adapter) GetChapters(ctx context.Context, title service.Title) ([]service.Chapter, error) {
	if err := a.sleep(ctx); err != nil {
		return nil, err
	}
	return []service.Chapter{
		{Title: "Opening", Start: 0},
		{Title: "Main", Start: 120.5},
		{Title: "Credits", Start: 5130},
	}, nil
}

func (a *Adapter) sleep(ctx context.Context) error {
	if a.delay <= 0 {
		return nil
	}
	t := time.NewTimer(a.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
