// SPDX-License-Identifier: MIT

// Package update checks GitHub for a newer release. Results are cached on
// disk so restarts and frequent health polls do not hammer the API; any
// failure degrades to "unknown" rather than an error.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/unshackle-dl/unshackle/internal/cache"
	"github.com/unshackle-dl/unshackle/internal/log"
	"github.com/unshackle-dl/unshackle/internal/version"
)

// cacheVersion invalidates older on-disk entries when the stored shape
// changes.
const cacheVersion = 1

// Status is the update information surfaced by the health endpoint.
// UpdateAvailable is nil when the last check failed or checking is
// disabled.
type Status struct {
	CurrentVersion  string `json:"current_version"`
	LatestVersion   string `json:"latest_version,omitempty"`
	UpdateAvailable *bool  `json:"update_available"`
}

// Checker queries the GitHub releases API for the configured repository.
type Checker struct {
	repo     string // owner/name
	ttl      time.Duration
	disabled bool
	store    *cache.Store
	http     *http.Client
	baseURL  string
}

// NewChecker builds a checker. A nil store disables caching; disabled
// short-circuits Check entirely.
func NewChecker(repo string, ttl time.Duration, disabled bool, store *cache.Store) *Checker {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Checker{
		repo:     repo,
		ttl:      ttl,
		disabled: disabled,
		store:    store,
		http:     &http.Client{Timeout: 10 * time.Second},
		baseURL:  "https://api.github.com",
	}
}

// Check returns the update status, preferring a fresh cached answer over a
// network round trip. Never returns an error: failures yield a Status with
// UpdateAvailable nil.
func (c *Checker) Check(ctx context.Context) Status {
	st := Status{CurrentVersion: version.Version}
	if c.disabled || c.repo == "" {
		return st
	}

	if latest, ok := c.cachedLatest(); ok {
		return c.compare(st, latest)
	}

	latest, err := c.fetchLatest(ctx)
	if err != nil {
		logger := log.WithComponent("update")
		logger.Warn().Err(err).Msg("update check failed")
		return st
	}
	c.storeLatest(latest)
	return c.compare(st, latest)
}

func (c *Checker) compare(st Status, latest string) Status {
	st.LatestVersion = latest
	newer := versionLess(version.Version, latest)
	st.UpdateAvailable = &newer
	return st
}

func (c *Checker) cachedLatest() (string, bool) {
	if c.store == nil {
		return "", false
	}
	entry, err := c.store.Get("unshackle", "update_check", cacheVersion)
	if err != nil {
		if errors.Is(err, cache.ErrChecksumMismatch) || errors.Is(err, cache.ErrVersionMismatch) {
			_ = c.store.Delete("unshackle", "update_check")
		}
		return "", false
	}
	if entry.Expired() || entry.Data() == nil {
		return "", false
	}
	m, ok := entry.Data().(map[string]any)
	if !ok {
		return "", false
	}
	latest, ok := m["latest_version"].(string)
	return latest, ok && latest != ""
}

func (c *Checker) storeLatest(latest string) {
	if c.store == nil {
		return
	}
	entry, err := c.store.Get("unshackle", "update_check", cacheVersion)
	if err != nil {
		return
	}
	_, _ = entry.Set(map[string]any{"latest_version": latest}, time.Now().Add(c.ttl))
}

// fetchLatest asks the GitHub releases API for the newest release tag.
func (c *Checker) fetchLatest(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", c.baseURL, c.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("github responded %d", resp.StatusCode)
	}

	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", err
	}
	if release.TagName == "" {
		return "", fmt.Errorf("release has no tag")
	}
	return release.TagName, nil
}

// versionLess reports whether a is an older release than b, comparing
// dotted numeric segments after stripping a leading "v". Missing segments
// count as 0, so "2.0" and "2.0.0" compare equal. Non-numeric segments
// compare lexically.
func versionLess(a, b string) bool {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		sa, sb := "0", "0"
		if i < len(as) && as[i] != "" {
			sa = as[i]
		}
		if i < len(bs) && bs[i] != "" {
			sb = bs[i]
		}
		na, errA := strconv.Atoi(sa)
		nb, errB := strconv.Atoi(sb)
		switch {
		case errA == nil && errB == nil:
			if na != nb {
				return na < nb
			}
		default:
			if sa != sb {
				return sa < sb
			}
		}
	}
	return false
}
