// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package migrate implements the one-shot migrator (C8): it converts a
// pre-content-addressed sync tree (where package blobs lived directly at
// their upstream path) into the current content-addressed layout, and
// repoints every existing snapshot's package links at the migrated blobs.
package migrate

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/google/reposync/internal/layout"
	"github.com/google/reposync/internal/logging"
	"github.com/google/reposync/internal/snapshot"
)

const sentinelName = "migrated"

// AlreadyMigrated reports whether the sentinel file is present; Migrate is
// a no-op in that case.
func AlreadyMigrated(destination, reponame string) bool {
	_, err := os.Stat(filepath.Join(layout.SyncRoot(destination, reponame), sentinelName))
	return err == nil
}

// Migrate renames every package in entries from its pre-content-addressed
// path to its content-addressed blob name, then repoints the matching
// file in every timestamp directory under snap/<reponame>/ into a symlink
// at the new blob. Individual file failures are logged and skipped, not
// fatal. It writes the sentinel file on completion so a rerun no-ops.
func Migrate(destination, reponame string, entries []snapshot.Entry, log *logging.Logger) error {
	if log == nil {
		log = logging.Default()
	}
	log = log.ForRepo(reponame)
	if AlreadyMigrated(destination, reponame) {
		log.Printf("migration already done")
		return nil
	}
	syncRoot := layout.SyncRoot(destination, reponame)
	for _, e := range entries {
		oldPath := filepath.Join(syncRoot, e.Path)
		newPath := filepath.Join(syncRoot, e.BlobPath)
		if err := os.Rename(oldPath, newPath); err != nil {
			log.Printf("could not migrate %s: %v", e.Path, err)
			continue
		}
	}
	store := snapshot.New(destination, reponame, log)
	timestamps, err := store.Timestamps()
	if err != nil {
		return errors.Wrap(err, "listing snapshots")
	}
	for _, ts := range timestamps {
		log.Printf("migrating snapshot %s", ts)
		root := layout.SnapPath(destination, reponame, ts)
		for _, e := range entries {
			dst := filepath.Join(root, e.Path)
			src := filepath.Join(syncRoot, e.BlobPath)
			if _, err := os.Lstat(dst); err != nil {
				continue // this snapshot never declared the package; nothing to repoint.
			}
			if err := os.Remove(dst); err != nil {
				log.Printf("could not migrate %s in snapshot %s: %v", e.Path, ts, err)
				continue
			}
			if err := os.Symlink(src, dst); err != nil {
				log.Printf("could not relink %s in snapshot %s: %v", e.Path, ts, err)
			}
		}
	}
	sentinel := filepath.Join(syncRoot, sentinelName)
	if err := os.WriteFile(sentinel, []byte("migrated\n"), 0o644); err != nil {
		return errors.Wrapf(err, "writing sentinel %s", sentinel)
	}
	return nil
}
