// SPDX-License-Identifier: MIT

// Package service defines the contract every streaming-service adapter
// implements and the registry the core loads adapters from. The core never
// reinterprets adapter output: tracks go to the downloader and chapters to
// the muxer verbatim.
package service

import (
	"context"
)

// Credential is an optional username/password pair for adapters that
// authenticate with an account.
type Credential struct {
	Username string
	Password string
}

// SearchResult is one hit from an adapter's catalogue search.
type SearchResult struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Year        int    `json:"year,omitempty"`
}

// LicenseRequest carries the context an adapter needs to retrieve a
// license from its service. Challenge and the returned license are opaque
// byte strings.
type LicenseRequest struct {
	Challenge []byte
	TitleID   string
	TrackID   string
}

// Adapter is the capability set every streaming-service plugin provides.
// Adapters parse their own parameters through Configure; the core supplies
// the merged service configuration and never introspects further.
type Adapter interface {
	// Tag returns the short uppercase alias the adapter registers under.
	Tag() string

	// Configure hands the adapter its merged configuration before use.
	Configure(params map[string]any) error

	// Authenticate establishes a session from cookies and/or credentials.
	// Both may be empty for services with anonymous access.
	Authenticate(ctx context.Context, cookiesPath string, credential *Credential) error

	// Search streams catalogue hits for a query until the channel closes.
	Search(ctx context.Context, query string) (<-chan SearchResult, error)

	// GetTitles resolves the configured title id into titles.
	GetTitles(ctx context.Context, titleID string) (*Titles, error)

	// GetTracks lists the tracks of one title.
	GetTracks(ctx context.Context, title Title) (*Tracks, error)

	// GetChapters lists the chapters of one title. May be empty.
	GetChapters(ctx context.Context, title Title) ([]Chapter, error)
}

// WidevineLicenser is implemented by adapters whose service issues
// Widevine licenses.
type WidevineLicenser interface {
	GetWidevineLicense(ctx context.Context, req LicenseRequest) ([]byte, error)
	GetWidevineServiceCertificate(ctx context.Context, titleID string) ([]byte, error)
}

// PlayReadyLicenser is implemented by adapters whose service issues
// PlayReady licenses.
type PlayReadyLicenser interface {
	GetPlayReadyLicense(ctx context.Context, req LicenseRequest) ([]byte, error)
}
