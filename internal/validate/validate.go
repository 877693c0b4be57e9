// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package validate implements the validate verb: it re-walks a
// repository's current sync tree against the metadata it already fetched
// and confirms every content-addressed package blob still hashes to the
// name it is stored under, without re-fetching anything from upstream.
package validate

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"

	"github.com/google/reposync/internal/hashext"
	"github.com/google/reposync/internal/layout"
	"github.com/google/reposync/internal/mirror"
)

// blobSuffix matches the ".<algo>.<hex>" suffix blobName appends (I1).
var blobSuffix = regexp.MustCompile(`\.(md5|sha1|sha256|sha512)\.([0-9a-fA-F]+)$`)

// Finding is one non-fatal problem discovered in a repository's sync tree.
type Finding struct {
	Reponame string `yaml:"reponame"`
	Path     string `yaml:"path"`
	Problem  string `yaml:"problem"`
}

// Run checks that every metadata file e currently declares is present,
// and that every package blob still hashes to its content-addressed name.
// A bad file is recorded as a Finding rather than aborting the scan (§7:
// a single mismatch must not stop the rest of the check).
func Run(e *mirror.Engine, destination, reponame string) ([]Finding, error) {
	var findings []Finding
	root := layout.SyncRoot(destination, reponame)

	metadataFiles, err := e.MetadataFiles()
	if err != nil {
		return nil, errors.Wrap(err, "listing metadata files")
	}
	for _, rel := range metadataFiles {
		if !fileExists(filepath.Join(root, rel)) {
			findings = append(findings, Finding{Reponame: reponame, Path: rel, Problem: "missing"})
		}
	}

	entries, err := e.PackageEntries()
	if err != nil {
		return nil, errors.Wrap(err, "listing package entries")
	}
	for _, entry := range entries {
		m := blobSuffix.FindStringSubmatch(entry.BlobPath)
		if m == nil {
			findings = append(findings, Finding{Reponame: reponame, Path: entry.Path, Problem: "blob path missing content-address suffix"})
			continue
		}
		algo, want := m[1], m[2]
		path := filepath.Join(root, entry.BlobPath)
		if err := hashext.Verify(path, want, algo); err != nil {
			findings = append(findings, Finding{Reponame: reponame, Path: entry.Path, Problem: err.Error()})
		}
	}
	return findings, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
