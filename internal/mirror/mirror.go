// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package mirror implements the mirror engine (C5): for one repository, it
// drives metadata fetch, then package fetch, then auxiliary fetch, in the
// order the content-addressed layout requires.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/google/reposync/internal/config"
	"github.com/google/reposync/internal/fetcher"
	"github.com/google/reposync/internal/hashext"
	"github.com/google/reposync/internal/layout"
	"github.com/google/reposync/internal/logging"
	"github.com/google/reposync/pkg/registry/deb"
	"github.com/google/reposync/pkg/registry/rpm"
)

// debianReleaseFiles are fetched for every Debian suite, regardless of signing
// method; Release.gpg alone is allowed to be missing (some suites publish
// only an InRelease clearsigned document).
var debianReleaseFiles = []string{"InRelease", "Release", "Release.gpg"}

// Engine drives Sync for one repository.
type Engine struct {
	Repo  *config.Repository
	Fetch *fetcher.Fetcher
	Dest  string
	Log   *logging.Logger
}

// New builds an Engine for repo, rooted at destination and using f to
// retrieve URLs.
func New(repo *config.Repository, f *fetcher.Fetcher, destination string, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	return &Engine{Repo: repo, Fetch: f, Dest: destination, Log: log.ForRepo(repo.Name)}
}

func (e *Engine) syncRoot() string { return layout.SyncRoot(e.Dest, e.Repo.Name) }

// Sync mirrors the repository's current upstream state, per flavor.
func (e *Engine) Sync(ctx context.Context) error {
	switch e.Repo.Flavor {
	case config.FlavorRPM:
		return e.syncRPM(ctx)
	case config.FlavorDeb:
		return e.syncDeb(ctx)
	default:
		return errors.Errorf("unknown repository flavor %q", e.Repo.Flavor)
	}
}

func (e *Engine) syncRPM(ctx context.Context) error {
	root := e.syncRoot()
	repodataDir := filepath.Join(root, "repodata")
	if err := os.RemoveAll(repodataDir); err != nil {
		return errors.Wrapf(err, "removing stale repodata %s", repodataDir)
	}
	repomdPath := filepath.Join(repodataDir, "repomd.xml")
	if _, err := e.Fetch.Fetch(ctx, e.Repo.BaseURL+"repodata/repomd.xml", repomdPath, fetcher.Options{Replace: true}); err != nil {
		return errors.Wrap(err, "fetching repomd.xml")
	}
	repomdFiles, err := rpm.RepomdFiles(repomdPath)
	if err != nil {
		return err
	}
	for _, f := range repomdFiles {
		dest := filepath.Join(root, f.Location)
		if _, err := e.Fetch.Fetch(ctx, e.Repo.BaseURL+f.Location, dest, fetcher.Options{
			Replace: true, Checksum: f.HashSum, HashAlgo: f.HashAlgo,
		}); err != nil {
			return errors.Wrapf(err, "fetching repomd-referenced file %s", f.Location)
		}
	}
	primaryLoc, err := rpm.PrimaryLocation(repomdFiles)
	if err != nil {
		return err
	}
	packages, err := rpm.Packages(filepath.Join(root, primaryLoc))
	if err != nil {
		return err
	}
	if err := e.fetchPackages(ctx, packages); err != nil {
		return err
	}
	return e.syncTreeinfo(ctx)
}

func (e *Engine) fetchPackages(ctx context.Context, packages []rpm.File) error {
	root := e.syncRoot()
	for _, p := range packages {
		dest := filepath.Join(root, blobName(p.Location, p.HashAlgo, p.HashSum))
		_, err := e.Fetch.Fetch(ctx, e.Repo.BaseURL+p.Location, dest, fetcher.Options{
			Replace: false, Checksum: p.HashSum, HashAlgo: p.HashAlgo,
		})
		if err != nil {
			if e.Repo.AllowMissingPackages {
				e.Log.Printf("warning: package fetch failed, allow_missing_packages is set: %v", err)
				continue
			}
			return errors.Wrapf(err, "fetching package %s", p.Location)
		}
	}
	return nil
}

func (e *Engine) syncTreeinfo(ctx context.Context) error {
	root := e.syncRoot()
	dest := filepath.Join(root, e.Repo.Treeinfo)
	ok, err := e.Fetch.Fetch(ctx, e.Repo.BaseURL+e.Repo.Treeinfo, dest, fetcher.Options{
		Replace: true, TolerateMissing: true,
	})
	if err != nil {
		return errors.Wrap(err, "fetching treeinfo")
	}
	if !ok {
		// Missing treeinfo stops rpm sync silently (§4.5 step 5).
		return nil
	}
	files, err := rpm.TreeinfoFiles(dest)
	if err != nil {
		return err
	}
	for _, f := range files {
		fileDest := filepath.Join(root, f.Path)
		if _, err := e.Fetch.Fetch(ctx, e.Repo.BaseURL+f.Path, fileDest, fetcher.Options{
			Replace: true, Checksum: f.HashSum, HashAlgo: f.HashAlgo,
		}); err != nil {
			return errors.Wrapf(err, "fetching treeinfo file %s", f.Path)
		}
	}
	return nil
}

func (e *Engine) syncDeb(ctx context.Context) error {
	for _, suite := range e.Repo.Suites {
		if err := e.syncSuite(ctx, suite); err != nil {
			return errors.Wrapf(err, "suite %s", suite)
		}
	}
	return nil
}

func (e *Engine) syncSuite(ctx context.Context, suite string) error {
	root := e.syncRoot()
	suiteDir := filepath.Join(root, "dists", suite)
	suiteURL := fmt.Sprintf("%sdists/%s/", e.Repo.BaseURL, suite)
	for _, name := range debianReleaseFiles {
		_, err := e.Fetch.Fetch(ctx, suiteURL+name, filepath.Join(suiteDir, name), fetcher.Options{
			Replace: true, TolerateMissing: name == "Release.gpg",
		})
		if err != nil {
			return errors.Wrapf(err, "fetching %s", name)
		}
	}
	releasePath := filepath.Join(suiteDir, "Release")
	releaseFiles, err := deb.ParseRelease(releasePath)
	if err != nil {
		return err
	}
	for _, f := range releaseFiles {
		_, err := e.Fetch.Fetch(ctx, suiteURL+f.Path, filepath.Join(suiteDir, f.Path), fetcher.Options{
			Replace: true, TolerateMissing: true, Checksum: f.SHA256, HashAlgo: "sha256",
		})
		if err != nil {
			return errors.Wrapf(err, "fetching indexed file %s", f.Path)
		}
	}
	for _, arch := range e.Repo.BinaryArchs {
		if err := e.syncBinaryArch(ctx, suite, "main", arch); err != nil {
			return errors.Wrapf(err, "arch %s", arch)
		}
	}
	return nil
}

func (e *Engine) syncBinaryArch(ctx context.Context, suite, component, arch string) error {
	root := e.syncRoot()
	packagesPath := filepath.Join(root, "dists", suite, component, fmt.Sprintf("binary-%s", arch), "Packages.gz")
	packages, err := deb.ParsePackages(packagesPath)
	if err != nil {
		return err
	}
	for _, p := range packages {
		dest := filepath.Join(root, blobName(p.Filename, "sha256", p.SHA256))
		_, err := e.Fetch.Fetch(ctx, e.Repo.BaseURL+p.Filename, dest, fetcher.Options{
			Replace: false, Checksum: p.SHA256, HashAlgo: "sha256",
		})
		if err != nil {
			if e.Repo.AllowMissingPackages {
				e.Log.Printf("warning: package fetch failed, allow_missing_packages is set: %v", err)
				continue
			}
			return errors.Wrapf(err, "fetching package %s", p.Filename)
		}
	}
	return nil
}

// blobName appends the content-addressed suffix to an upstream-declared
// path (I1), using the canonical algorithm name ("sha" becomes "sha1").
func blobName(path, algo, hex string) string {
	if h, err := hashext.Lookup(algo); err == nil {
		algo = hashext.CanonicalName(h)
	}
	return fmt.Sprintf("%s.%s.%s", path, algo, hex)
}
