/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries build metadata and looks up newer releases.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

// Set at build time via ldflags:
//
//	-X github.com/friendsincode/guildplay/internal/version.Version=X.Y.Z
var (
	Version   = "0.4.0"
	Commit    = "dev"
	BuildDate = ""
)

// Repo is the GitHub repository releases are published to.
const Repo = "friendsincode/guildplay"

// Build describes the running binary.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
}

// Current returns the running build.
func Current() Build {
	return Build{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}

func (b Build) String() string {
	return fmt.Sprintf("guildplay %s (%s, %s)", b.Version, b.Commit, b.GoVersion)
}

// UpdateInfo is the result of a release lookup.
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version"`
	UpdateAvailable bool      `json:"update_available"`
	ReleaseURL      string    `json:"release_url"`
	CheckedAt       time.Time `json:"checked_at"`
}

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Checker queries the latest published release.
type Checker struct {
	BaseURL string
	Client  *http.Client
}

// NewChecker returns a checker for the public GitHub API.
func NewChecker() *Checker {
	return &Checker{
		BaseURL: "https://api.github.com",
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Latest fetches the newest release and compares it to the running version.
func (c *Checker) Latest(ctx context.Context) (UpdateInfo, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", strings.TrimRight(c.BaseURL, "/"), Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return UpdateInfo{}, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "guildplay/"+Version)

	resp, err := c.Client.Do(req)
	if err != nil {
		return UpdateInfo{}, fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return UpdateInfo{}, fmt.Errorf("fetch latest release: unexpected status %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return UpdateInfo{}, fmt.Errorf("decode release: %w", err)
	}
	latest := strings.TrimPrefix(rel.TagName, "v")
	return UpdateInfo{
		CurrentVersion:  Version,
		LatestVersion:   latest,
		UpdateAvailable: Compare(Version, latest) < 0,
		ReleaseURL:      rel.HTMLURL,
		CheckedAt:       time.Now().UTC(),
	}, nil
}

// Compare orders two semver strings: -1 if a < b, 0 if equal, 1 if a > b.
// Pre-release suffixes are ignored.
func Compare(a, b string) int {
	pa, pb := parse(a), parse(b)
	for i := range pa {
		switch {
		case pa[i] < pb[i]:
			return -1
		case pa[i] > pb[i]:
			return 1
		}
	}
	return 0
}

func parse(v string) [3]int {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	var out [3]int
	for i, part := range strings.SplitN(v, ".", 3) {
		fmt.Sscanf(part, "%d", &out[i])
	}
	return out
}
