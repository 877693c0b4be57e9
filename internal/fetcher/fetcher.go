// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package fetcher implements the Fetcher (C1): it retrieves one upstream
// URL into one destination path, verifying a declared digest when given
// one, retrying transient failures, and publishing the result atomically
// so a concurrent reader of destination never observes a partial file.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/google/reposync/internal/hashext"
	"github.com/google/reposync/internal/httpx"
	"github.com/google/reposync/internal/logging"
)

// DownloadError reports that a URL could not be fetched after retry
// exhaustion, or that the upstream response was not 200 OK.
type DownloadError struct {
	URL        string
	StatusCode int // 0 if the failure was a transport error, not an HTTP status.
	Cause      error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Cause)
}

func (e *DownloadError) Unwrap() error { return e.Cause }

const (
	maxRetries   = 10
	retryBackoff = 10 * time.Second
)

// Options configures a single Fetch call.
type Options struct {
	// Replace, when false, short-circuits the fetch if destination already
	// exists as a regular file. Metadata files are always fetched with
	// Replace true; content-addressed package blobs use Replace false so a
	// blob already mirrored under a prior sync is never re-downloaded.
	Replace bool

	// Checksum/HashAlgo, if both set, are verified against the downloaded
	// bytes before publish; a mismatch is retried like a transport error
	// and surfaces as a DownloadError after retry exhaustion.
	Checksum string
	HashAlgo string

	// TolerateMissing treats an upstream 404 as "this object does not
	// exist here", returning (false, nil) instead of a DownloadError; used
	// for optional files (Release.gpg, Release-indexed files, .treeinfo).
	TolerateMissing bool
}

// Fetcher downloads URLs into a scratch directory before publishing them
// atomically into place, with per-repository transport settings.
type Fetcher struct {
	Client  httpx.BasicClient
	Scratch string // directory for temporary download targets; must share a filesystem with every destination.
	Log     *logging.Logger
}

// New builds a Fetcher. scratch is created if it does not already exist.
func New(client httpx.BasicClient, scratch string, log *logging.Logger) (*Fetcher, error) {
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating scratch dir %s", scratch)
	}
	if log == nil {
		log = logging.Default()
	}
	return &Fetcher{Client: client, Scratch: scratch, Log: log}, nil
}

// RetryLimiter paces retry attempts; exposed so tests can inject a faster
// limiter than the 10s wall-clock backoff.
var RetryLimiter = rate.NewLimiter(rate.Every(retryBackoff), 1)

// Fetch retrieves url into destination. It returns (true, nil) on a
// successful fetch or a short-circuited skip, and (false, nil) when
// opts.TolerateMissing absorbed a 404.
func (f *Fetcher) Fetch(ctx context.Context, url, destination string, opts Options) (bool, error) {
	if !opts.Replace {
		if fi, err := os.Stat(destination); err == nil && fi.Mode().IsRegular() {
			f.Log.Printf("already present, skipping: %s", destination)
			return true, nil
		}
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			f.Log.Printf("retrying %s (attempt %d/%d)", url, attempt, maxRetries)
			if err := RetryLimiter.Wait(ctx); err != nil {
				return false, err
			}
		}
		ok, err := f.attempt(ctx, url, destination, opts)
		if err == nil {
			f.Log.Printf("fetched: %s", destination)
			return ok, nil
		}
		if errors.Is(err, errMissingTolerated) {
			return false, nil
		}
		var statusErr *DownloadError
		if errors.As(err, &statusErr) && statusErr.StatusCode != 0 {
			return false, statusErr
		}
		lastErr = err
		f.Log.Printf("fetch failed: %v", err)
	}
	return false, &DownloadError{URL: url, Cause: lastErr}
}

var errMissingTolerated = errors.New("missing object tolerated")

func (f *Fetcher) attempt(ctx context.Context, url, destination string, opts Options) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound && opts.TolerateMissing {
		return false, errMissingTolerated
	}
	if resp.StatusCode != http.StatusOK {
		return false, &DownloadError{URL: url, StatusCode: resp.StatusCode}
	}
	scratchPath, err := f.scratchFile()
	if err != nil {
		return false, err
	}
	defer os.Remove(scratchPath)
	if err := writeBody(scratchPath, resp.Body); err != nil {
		return false, err
	}
	if opts.Checksum != "" && opts.HashAlgo != "" {
		if err := hashext.Verify(scratchPath, opts.Checksum, opts.HashAlgo); err != nil {
			return false, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return false, errors.Wrapf(err, "creating directory for %s", destination)
	}
	if err := os.Rename(scratchPath, destination); err != nil {
		return false, errors.Wrapf(err, "publishing %s", destination)
	}
	return true, nil
}

func (f *Fetcher) scratchFile() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Wrap(err, "generating scratch filename")
	}
	return filepath.Join(f.Scratch, id.String()), nil
}

func writeBody(path string, body io.Reader) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "creating scratch file %s", path)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		return errors.Wrap(err, "writing response body")
	}
	return out.Close()
}
