// Package upgrade checks the release feed for a newer gateway version.
// Results are cached on disk so repeated status calls stay offline.
package upgrade

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	releasesURL   = "https://api.github.com/repos/openclaw/openclaw/releases/latest"
	cacheTTL      = 6 * time.Hour
	requestBudget = 10 * time.Second
)

// Status is the outcome of an update check.
type Status struct {
	CurrentVersion  string    `json:"currentVersion"`
	LatestVersion   string    `json:"latestVersion,omitempty"`
	UpdateAvailable bool      `json:"updateAvailable"`
	ReleaseURL      string    `json:"releaseUrl,omitempty"`
	CheckedAt       time.Time `json:"checkedAt"`
}

// Checker queries the release feed with an on-disk cache.
type Checker struct {
	cachePath string
	client    *http.Client
	now       func() time.Time
	feedURL   string
}

// NewChecker builds a checker caching under stateDir.
func NewChecker(stateDir string) *Checker {
	return &Checker{
		cachePath: filepath.Join(stateDir, "update-check.json"),
		client:    &http.Client{Timeout: requestBudget},
		now:       time.Now,
		feedURL:   releasesURL,
	}
}

// Check returns the update status for currentVersion, reusing a cached
// result younger than the cache TTL. Dev builds never report an update.
func (c *Checker) Check(ctx context.Context, currentVersion string) (*Status, error) {
	if currentVersion == "" || currentVersion == "dev" {
		return &Status{CurrentVersion: currentVersion, CheckedAt: c.now()}, nil
	}

	if cached := c.readCache(); cached != nil && c.now().Sub(cached.CheckedAt) < cacheTTL {
		cached.CurrentVersion = currentVersion
		cached.UpdateAvailable = versionLess(currentVersion, cached.LatestVersion)
		return cached, nil
	}

	latest, url, err := c.fetchLatest(ctx)
	if err != nil {
		return nil, err
	}
	status := &Status{
		CurrentVersion:  currentVersion,
		LatestVersion:   latest,
		UpdateAvailable: versionLess(currentVersion, latest),
		ReleaseURL:      url,
		CheckedAt:       c.now(),
	}
	c.writeCache(status)
	return status, nil
}

func (c *Checker) fetchLatest(ctx context.Context) (version, url string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch release feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("release feed returned %d", resp.StatusCode)
	}

	var release struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", "", fmt.Errorf("decode release feed: %w", err)
	}
	return release.TagName, release.HTMLURL, nil
}

func (c *Checker) readCache() *Status {
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return nil
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil
	}
	return &status
}

func (c *Checker) writeCache(status *Status) {
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(c.cachePath), 0o755)
	_ = os.WriteFile(c.cachePath, data, 0o644)
}

// versionLess reports whether a is an older release than b. Versions are
// dotted numerics with an optional leading v; unparseable segments compare
// as strings.
func versionLess(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aErr := strconv.Atoi(as[i])
		bn, bErr := strconv.Atoi(bs[i])
		if aErr != nil || bErr != nil {
			if as[i] != bs[i] {
				return as[i] < bs[i]
			}
			continue
		}
		if an != bn {
			return an < bn
		}
	}
	return len(as) < len(bs)
}
