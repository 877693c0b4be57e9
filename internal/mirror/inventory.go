// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/reposync/internal/config"
	"github.com/google/reposync/internal/snapshot"
	"github.com/google/reposync/pkg/registry/deb"
	"github.com/google/reposync/pkg/registry/rpm"
)

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// MetadataFiles returns the repository-relative paths of every metadata
// file currently on disk (repomd.xml + its referenced files + treeinfo for
// rpm; the release documents + indexed files for deb), for Snap to copy
// verbatim into a new snapshot.
func (e *Engine) MetadataFiles() ([]string, error) {
	switch e.Repo.Flavor {
	case config.FlavorRPM:
		return e.rpmMetadataFiles()
	case config.FlavorDeb:
		return e.debMetadataFiles()
	default:
		return nil, nil
	}
}

// PackageEntries returns every package declared by current metadata, as
// snapshot.Entry values ready to be symlinked by Snap.
func (e *Engine) PackageEntries() ([]snapshot.Entry, error) {
	switch e.Repo.Flavor {
	case config.FlavorRPM:
		return e.rpmPackageEntries()
	case config.FlavorDeb:
		return e.debPackageEntries()
	default:
		return nil, nil
	}
}

func (e *Engine) rpmMetadataFiles() ([]string, error) {
	root := e.syncRoot()
	files := []string{"repodata/repomd.xml"}
	repomdFiles, err := rpm.RepomdFiles(filepath.Join(root, "repodata", "repomd.xml"))
	if err != nil {
		return nil, err
	}
	for _, f := range repomdFiles {
		files = append(files, f.Location)
	}
	treeinfoPath := filepath.Join(root, e.Repo.Treeinfo)
	if fileExists(treeinfoPath) {
		files = append(files, e.Repo.Treeinfo)
		treeinfoFiles, err := rpm.TreeinfoFiles(treeinfoPath)
		if err != nil {
			return nil, err
		}
		for _, f := range treeinfoFiles {
			files = append(files, f.Path)
		}
	}
	return files, nil
}

func (e *Engine) rpmPackageEntries() ([]snapshot.Entry, error) {
	root := e.syncRoot()
	repomdFiles, err := rpm.RepomdFiles(filepath.Join(root, "repodata", "repomd.xml"))
	if err != nil {
		return nil, err
	}
	primaryLoc, err := rpm.PrimaryLocation(repomdFiles)
	if err != nil {
		return nil, err
	}
	packages, err := rpm.Packages(filepath.Join(root, primaryLoc))
	if err != nil {
		return nil, err
	}
	entries := make([]snapshot.Entry, 0, len(packages))
	for _, p := range packages {
		entries = append(entries, snapshot.Entry{
			Path:     p.Location,
			BlobPath: blobName(p.Location, p.HashAlgo, p.HashSum),
		})
	}
	return entries, nil
}

func (e *Engine) debMetadataFiles() ([]string, error) {
	var files []string
	for _, suite := range e.Repo.Suites {
		suiteRel := filepath.Join("dists", suite)
		for _, name := range debianReleaseFiles {
			path := filepath.Join(suiteRel, name)
			if fileExists(filepath.Join(e.syncRoot(), path)) {
				files = append(files, path)
			}
		}
		releaseFiles, err := deb.ParseRelease(filepath.Join(e.syncRoot(), suiteRel, "Release"))
		if err != nil {
			return nil, err
		}
		for _, f := range releaseFiles {
			path := filepath.Join(suiteRel, f.Path)
			if fileExists(filepath.Join(e.syncRoot(), path)) {
				files = append(files, path)
			}
		}
	}
	return files, nil
}

func (e *Engine) debPackageEntries() ([]snapshot.Entry, error) {
	var entries []snapshot.Entry
	for _, suite := range e.Repo.Suites {
		for _, arch := range e.Repo.BinaryArchs {
			packagesPath := filepath.Join(e.syncRoot(), "dists", suite, "main", fmt.Sprintf("binary-%s", arch), "Packages.gz")
			packages, err := deb.ParsePackages(packagesPath)
			if err != nil {
				return nil, err
			}
			for _, p := range packages {
				entries = append(entries, snapshot.Entry{
					Path:     p.Filename,
					BlobPath: blobName(p.Filename, "sha256", p.SHA256),
				})
			}
		}
	}
	return entries, nil
}
