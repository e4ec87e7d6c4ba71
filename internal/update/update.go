// Package update watches GitHub for newer silentjack releases.
//
// A Checker polls the latest release of a repository on a fixed interval,
// remembers the ETag so unchanged answers cost nothing against the rate
// limit, and tells its observers when a newer stable release shows up.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/njh/silentjack/internal/util"
)

const (
	// DefaultBaseURL is the GitHub REST API root.
	DefaultBaseURL = "https://api.github.com"

	startDelay     = 30 * time.Second
	requestTimeout = 30 * time.Second
	retryDelay     = 1 * time.Minute
	maxBodySize    = 1 << 20
)

// ErrTransient marks a failed check that is worth retrying soon: network
// errors, rate limiting and server errors.
var ErrTransient = errors.New("transient release check failure")

// Release is the result of the most recent successful check.
type Release struct {
	Current   string    `json:"current"`
	Latest    string    `json:"latest,omitempty"`
	Available bool      `json:"update_available"`
	CheckedAt time.Time `json:"checked_at,omitzero"`
}

// Observer is told when a newer release than the running one is found.
// It is called once per new tag, from the checker goroutine.
type Observer interface {
	OnUpdate(r Release)
}

// Options configures a Checker.
type Options struct {
	Repo     string        // owner/name on GitHub
	Current  string        // running version, "dev" for local builds
	Interval time.Duration // time between checks; zero disables Run
	BaseURL  string        // defaults to DefaultBaseURL
	Client   *http.Client  // defaults to http.DefaultClient
}

// Checker polls for releases. It is safe for concurrent use.
type Checker struct {
	opts       Options
	observers  []Observer
	startDelay time.Duration
	backoff    *util.Backoff

	mu      sync.RWMutex
	latest  string
	etag    string
	checked time.Time
}

// New returns a Checker for opts. Call Run to start polling.
func New(opts Options, observers ...Observer) *Checker {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	opts.Current = Normalize(opts.Current)

	return &Checker{
		opts:       opts,
		observers:  observers,
		startDelay: startDelay,
		backoff:    util.NewBackoff(retryDelay, max(opts.Interval, retryDelay)),
	}
}

// Run checks after a short start delay and then every interval until ctx
// ends. Transient failures are retried sooner with exponential backoff.
func (c *Checker) Run(ctx context.Context) {
	if c.opts.Interval <= 0 || c.opts.Repo == "" {
		slog.Debug("release check disabled")
		return
	}

	timer := time.NewTimer(c.startDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := c.opts.Interval
		switch err := c.Check(ctx); {
		case err == nil:
			c.backoff.Reset()
		case errors.Is(err, ErrTransient):
			next = c.backoff.Next()
			slog.Debug("release check failed, retrying", "repo", c.opts.Repo, "in", next, "error", err)
		default:
			slog.Warn("release check failed", "repo", c.opts.Repo, "error", err)
		}
		timer.Reset(next)
	}
}

// githubRelease is the part of the GitHub release object we read.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// Check asks GitHub for the latest release once. A repository without
// releases is not an error.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	url := c.opts.BaseURL + "/repos/" + c.opts.Repo + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return util.WrapError("create release request", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "silentjack/"+c.opts.Current)

	c.mu.RLock()
	if c.etag != "" {
		req.Header.Set("If-None-Match", c.etag)
	}
	c.mu.RUnlock()

	resp, err := c.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer util.SafeCloseFunc(resp.Body, "release response body")()

	switch code := resp.StatusCode; {
	case code == http.StatusNotModified, code == http.StatusNotFound:
		c.touch()
		return nil
	case code == http.StatusForbidden, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("%w: github returned %s", ErrTransient, resp.Status)
	case code != http.StatusOK:
		return fmt.Errorf("github returned %s", resp.Status)
	}

	var rel githubRelease
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&rel); err != nil {
		return util.WrapError("decode release", err)
	}

	c.record(rel, resp.Header.Get("ETag"))
	return nil
}

// record stores a fetched release and notifies observers the first time a
// newer stable tag is seen.
func (c *Checker) record(rel githubRelease, etag string) {
	tag := Normalize(rel.TagName)
	stable := !rel.Draft && !rel.Prerelease && semver.IsValid(canonical(tag))
	if !stable {
		slog.Debug("ignoring release", "tag", rel.TagName, "draft", rel.Draft, "prerelease", rel.Prerelease)
	}

	c.mu.Lock()
	c.checked = time.Now()
	if etag != "" {
		c.etag = etag
	}
	changed := stable && tag != c.latest
	if changed {
		c.latest = tag
	}
	c.mu.Unlock()

	if !changed {
		return
	}
	r := c.Release()
	if !r.Available {
		return
	}
	slog.Info("newer release available", "current", r.Current, "latest", r.Latest, "repo", c.opts.Repo)
	for _, o := range c.observers {
		o.OnUpdate(r)
	}
}

func (c *Checker) touch() {
	c.mu.Lock()
	c.checked = time.Now()
	c.mu.Unlock()
}

// Release returns the outcome of the last check. A nil Checker reports
// only that nothing is known.
func (c *Checker) Release() Release {
	if c == nil {
		return Release{}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return Release{
		Current:   c.opts.Current,
		Latest:    c.latest,
		Available: c.latest != "" && IsNewer(c.latest, c.opts.Current),
		CheckedAt: c.checked,
	}
}

// Normalize strips surrounding space and a leading "v".
func Normalize(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

func canonical(v string) string {
	return "v" + Normalize(v)
}

// IsNewer reports whether latest is a newer semantic version than current.
// Development builds are never out of date.
func IsNewer(latest, current string) bool {
	cur := canonical(current)
	if !semver.IsValid(cur) {
		return false
	}
	return semver.Compare(canonical(latest), cur) > 0
}
