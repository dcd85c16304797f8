// SPDX-License-Identifier: MIT

package job

import (
	"regexp"
	"strings"

	"golang.org/x/text/language"

	"github.com/unshackle-dl/unshackle/internal/apierr"
	"github.com/unshackle-dl/unshackle/internal/proxy"
)

// Recognized enum values for download parameters.
var (
	VideoCodecs = []string{"H264", "H265", "VP9", "AV1"}
	AudioCodecs = []string{"AAC", "AC3", "EC3", "EAC3", "DD", "DD+", "AC4", "OPUS", "FLAC", "ALAC", "VORBIS", "OGG", "DTS"}
	VideoRanges = []string{"SDR", "HDR10", "HDR10+", "DV", "HLG"}
	SubFormats  = []string{"SRT", "VTT", "ASS", "SSA"}
)

// wantedTokenRe matches one season/episode scoping token: "3", "1-4",
// "S01", "S01E02", "S01-S03".
var wantedTokenRe = regexp.MustCompile(`(?i)^s?\d+(e\d+)?(-s?\d+(e\d+)?)?$`)

// Parameters are the recognized download options of a request. Service and
// title id live on the Job itself; everything here is optional.
type Parameters struct {
	// Identification
	Profile string `json:"profile,omitempty"`

	// Selection
	Quality  []int    `json:"quality,omitempty"`
	VCodec   string   `json:"vcodec,omitempty"`
	ACodec   string   `json:"acodec,omitempty"` // single or comma-list
	VBitrate int      `json:"vbitrate,omitempty"`
	ABitrate int      `json:"abitrate,omitempty"`
	Range    []string `json:"range,omitempty"` // default [SDR]
	Channels float64  `json:"channels,omitempty"`
	NoAtmos  bool     `json:"no_atmos,omitempty"`

	// Scoping
	Wanted        string   `json:"wanted,omitempty"`
	LatestEpisode bool     `json:"latest_episode,omitempty"`
	Lang          []string `json:"lang,omitempty"`
	VLang         []string `json:"v_lang,omitempty"`
	ALang         []string `json:"a_lang,omitempty"`
	SLang         []string `json:"s_lang,omitempty"`
	RequireSubs   []string `json:"require_subs,omitempty"`
	ForcedSubs    bool     `json:"forced_subs,omitempty"`
	ExactLang     bool     `json:"exact_lang,omitempty"`
	SubFormat     string   `json:"sub_format,omitempty"`

	// Exclusivity
	VideoOnly    bool `json:"video_only,omitempty"`
	AudioOnly    bool `json:"audio_only,omitempty"`
	SubsOnly     bool `json:"subs_only,omitempty"`
	ChaptersOnly bool `json:"chapters_only,omitempty"`

	// Output
	NoSubs           bool   `json:"no_subs,omitempty"`
	NoAudio          bool   `json:"no_audio,omitempty"`
	NoChapters       bool   `json:"no_chapters,omitempty"`
	AudioDescription bool   `json:"audio_description,omitempty"`
	SkipDL           bool   `json:"skip_dl,omitempty"`
	Export           string `json:"export,omitempty"`
	CDMOnly          bool   `json:"cdm_only,omitempty"`
	NoFolder         bool   `json:"no_folder,omitempty"`
	NoSource         bool   `json:"no_source,omitempty"`
	NoMux            bool   `json:"no_mux,omitempty"`
	Workers          int    `json:"workers,omitempty"`
	Downloads        int    `json:"downloads,omitempty"` // default 1
	BestAvailable    bool   `json:"best_available,omitempty"`

	// Transport
	Proxy    string `json:"proxy,omitempty"`
	NoProxy  bool   `json:"no_proxy,omitempty"`
	Slow     bool   `json:"slow,omitempty"`
	Tag      string `json:"tag,omitempty"`
	TMDBID   string `json:"tmdb_id,omitempty"`
	TMDBName string `json:"tmdb_name,omitempty"`
	TMDBYear int    `json:"tmdb_year,omitempty"`
}

// ApplyDefaults fills defaulted fields: range [SDR], downloads 1.
func (p *Parameters) ApplyDefaults() {
	if len(p.Range) == 0 {
		p.Range = []string{"SDR"}
	}
	if p.Downloads == 0 {
		p.Downloads = 1
	}
}

// Validate checks every recognized option and the cross-option exclusivity
// rules. All violations surface as INVALID_PARAMETERS before any job is
// created.
func (p *Parameters) Validate() *apierr.Error {
	if p.VCodec != "" && !containsFold(VideoCodecs, p.VCodec) {
		return apierr.Newf(apierr.CodeInvalidParameters,
			"vcodec %q is not supported (allowed: %s)", p.VCodec, strings.Join(VideoCodecs, ", "))
	}
	if p.ACodec != "" {
		for _, c := range strings.Split(p.ACodec, ",") {
			if !containsFold(AudioCodecs, strings.TrimSpace(c)) {
				return apierr.Newf(apierr.CodeInvalidParameters,
					"acodec %q is not supported (allowed: %s)", strings.TrimSpace(c), strings.Join(AudioCodecs, ", "))
			}
		}
	}
	for _, r := range p.Range {
		if !containsFold(VideoRanges, r) {
			return apierr.Newf(apierr.CodeInvalidParameters,
				"range %q is not supported (allowed: %s)", r, strings.Join(VideoRanges, ", "))
		}
	}
	if p.SubFormat != "" && !containsFold(SubFormats, p.SubFormat) {
		return apierr.Newf(apierr.CodeInvalidParameters,
			"sub_format %q is not supported (allowed: %s)", p.SubFormat, strings.Join(SubFormats, ", "))
	}

	for _, q := range p.Quality {
		if q <= 0 {
			return apierr.Newf(apierr.CodeInvalidParameters, "quality %d must be a positive integer", q)
		}
	}
	if p.VBitrate < 0 {
		return apierr.New(apierr.CodeInvalidParameters, "vbitrate must be a positive integer")
	}
	if p.ABitrate < 0 {
		return apierr.New(apierr.CodeInvalidParameters, "abitrate must be a positive integer")
	}
	if p.Channels < 0 {
		return apierr.New(apierr.CodeInvalidParameters, "channels must be positive")
	}
	if p.Workers < 0 {
		return apierr.New(apierr.CodeInvalidParameters, "workers must be a positive integer")
	}
	if p.Downloads < 0 {
		return apierr.New(apierr.CodeInvalidParameters, "downloads must be a positive integer")
	}

	if p.Wanted != "" {
		for _, token := range strings.Split(p.Wanted, ",") {
			if !wantedTokenRe.MatchString(strings.TrimSpace(token)) {
				return apierr.Newf(apierr.CodeInvalidParameters,
					"wanted token %q is not a valid season/episode range", strings.TrimSpace(token))
			}
		}
	}

	for _, set := range []struct {
		name string
		tags []string
	}{
		{"lang", p.Lang}, {"v_lang", p.VLang}, {"a_lang", p.ALang},
		{"s_lang", p.SLang}, {"require_subs", p.RequireSubs},
	} {
		for _, tag := range set.tags {
			if _, err := language.Parse(tag); err != nil {
				return apierr.Newf(apierr.CodeInvalidLanguage,
					"%s tag %q is not a valid language tag", set.name, tag)
			}
		}
	}

	exclusive := 0
	for _, b := range []bool{p.VideoOnly, p.AudioOnly, p.SubsOnly, p.ChaptersOnly} {
		if b {
			exclusive++
		}
	}
	if exclusive > 1 {
		return apierr.New(apierr.CodeInvalidParameters,
			"at most one of video_only, audio_only, subs_only, chapters_only may be set")
	}
	if p.NoSubs && p.SubsOnly {
		return apierr.New(apierr.CodeInvalidParameters, "no_subs is incompatible with subs_only")
	}
	if p.NoAudio && p.AudioOnly {
		return apierr.New(apierr.CodeInvalidParameters, "no_audio is incompatible with audio_only")
	}
	if len(p.SLang) > 0 && len(p.RequireSubs) > 0 {
		return apierr.New(apierr.CodeInvalidParameters, "s_lang is incompatible with require_subs")
	}

	if p.Proxy != "" && proxy.ClassifyQuery(p.Proxy) == proxy.QueryInvalid {
		return apierr.Newf(apierr.CodeInvalidProxy,
			"proxy %q is not a URI, provider:country, or country code", p.Proxy)
	}
	return nil
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
